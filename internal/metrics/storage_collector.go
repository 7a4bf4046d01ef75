package metrics

import (
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type storageCollector struct {
	dirs   map[string]string
	logger *slog.Logger

	bytesDesc   *prometheus.Desc
	entriesDesc *prometheus.Desc
}

func newStorageCollector(dirs map[string]string, logger *slog.Logger) *storageCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &storageCollector{
		dirs:   dirs,
		logger: logger,
		bytesDesc: prometheus.NewDesc(
			"gdtrelay_storage_bytes",
			"Bytes currently held on disk by area (staging, output).",
			[]string{"area"},
			nil,
		),
		entriesDesc: prometheus.NewDesc(
			"gdtrelay_storage_entries",
			"Per-inspection directories currently present by area.",
			[]string{"area"},
			nil,
		),
	}
}

func (c *storageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesDesc
	ch <- c.entriesDesc
}

func (c *storageCollector) Collect(ch chan<- prometheus.Metric) {
	for area, root := range c.dirs {
		size, entries, err := usage(root)
		if err != nil {
			c.logger.Warn("prometheus storage collector failed", "area", area, "err", err)
			continue
		}
		emitGauge(ch, c.bytesDesc, float64(size), area)
		emitGauge(ch, c.entriesDesc, float64(entries), area)
	}
}

// usage sums regular file sizes below root and counts its direct children.
func usage(root string) (int64, int, error) {
	var size int64
	entries := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		if filepath.Dir(path) == filepath.Clean(root) {
			entries++
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size, entries, err
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerStorageCollectorOnce sync.Once

// RegisterStorageCollector exposes disk usage of the given directories,
// keyed by area name.
func RegisterStorageCollector(dirs map[string]string, logger *slog.Logger) {
	registerStorageCollectorOnce.Do(func() {
		prometheus.MustRegister(newStorageCollector(dirs, logger))
	})
}
