package storage

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

type WorkbookInfo struct {
	Sheets []string
	Rows   int
}

// ProbeWorkbook opens an .xlsx artifact and counts the rows of its first
// sheet. It only reads.
func ProbeWorkbook(path string) (WorkbookInfo, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return WorkbookInfo{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	info := WorkbookInfo{Sheets: f.GetSheetList()}
	if len(info.Sheets) == 0 {
		return info, nil
	}
	rows, err := f.Rows(info.Sheets[0])
	if err != nil {
		return info, fmt.Errorf("read sheet %s: %w", info.Sheets[0], err)
	}
	defer rows.Close()
	for rows.Next() {
		info.Rows++
	}
	return info, rows.Error()
}
