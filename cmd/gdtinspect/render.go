package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/osvaldoandrade/gdtrelay/internal/client"
	"github.com/schollz/progressbar/v3"
)

func printSummary(v client.SummaryView, inspectionID string, ui *ui) {
	fmt.Println(ui.title("Inspection Complete"))
	if inspectionID != "" {
		fmt.Println(ui.dim("inspection " + inspectionID))
	}
	for _, r := range v.Rows {
		fmt.Printf("  %-18s %s\n", r.Label, r.Value)
	}
	fmt.Printf("  %-18s %s\n", "Overall Risk", ui.risk(v.RiskClass)(v.Risk))
	fmt.Printf("\n  Compliance Status  %s  %s\n", ui.title(v.Compliance), string(v.Grade))

	if len(v.Issues) > 0 {
		fmt.Println()
		fmt.Println(ui.warn("Identified Issues"))
		for _, is := range v.Issues {
			fmt.Printf("  %s %s\n", ui.err("Rule"), is.RuleID)
			fmt.Printf("    Reason:         %s\n", is.Reason)
			fmt.Printf("    Recommendation: %s\n", is.Recommendation)
		}
	}
	fmt.Printf("\n%s %s\n", ui.info("[REPORT]"), v.DownloadURL)
}

func statusLabel(status string, ui *ui) string {
	switch status {
	case "SUCCEEDED":
		return ui.ok(status)
	case "FAILED":
		return ui.err(status)
	}
	return ui.warn(status)
}

func describeFailure(err error, ui *ui) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	fmt.Fprintln(os.Stderr, ui.err("[FAILED]"), apiErr.Message)
	if apiErr.Details != "" {
		fmt.Fprintln(os.Stderr, ui.dim(apiErr.Details))
	}
	if apiErr.Raw != "" {
		fmt.Fprintln(os.Stderr, ui.dim("analyzer output: "+apiErr.Raw))
	}
	if apiErr.RetryAfter > 0 {
		fmt.Fprintf(os.Stderr, "%s retry in %s\n", ui.warn("[BUSY]"), apiErr.RetryAfter)
	}
	if apiErr.InspectionID != "" {
		fmt.Fprintln(os.Stderr, ui.dim("inspection "+apiErr.InspectionID))
	}
	return fmt.Errorf("inspection failed (%d)", apiErr.Status)
}

func fetchArtifact(ctx context.Context, c *client.Client, name, dir string, ui *ui) error {
	dl, err := c.Download(ctx, name)
	if err != nil {
		return err
	}
	defer dl.Body.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.Base(dl.Name))
	f, err := os.Create(dst)
	if err != nil {
		return err
	}

	var w io.Writer = f
	if ui.tty {
		bar := progressbar.NewOptions64(dl.Size,
			progressbar.OptionSetDescription("Downloading "+dl.Name),
			progressbar.OptionSetWidth(18),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		w = io.MultiWriter(f, bar)
	}
	n, err := io.Copy(w, dl.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("download %s: %w", name, err)
	}
	fmt.Printf("%s Saved %s (%s)\n", ui.ok("[OK]"), dst, client.FormatSize(n))
	return nil
}
