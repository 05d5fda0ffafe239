// Package analyze summarizes the size of the build output.
package analyze

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Asset is a single file in the build output.
type Asset struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// Report is the bundle size breakdown of one build output directory.
type Report struct {
	Root        string           `json:"root"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Files       int              `json:"files"`
	TotalBytes  int64            `json:"totalBytes"`
	ByExtension map[string]int64 `json:"byExtension"`
	Largest     []Asset          `json:"largest"`
}

// Options controls what a scan reports.
type Options struct {
	// TopN caps the largest-assets list; zero keeps every asset.
	TopN int
	// SourceMaps includes *.map files. When false they are skipped entirely
	// so the report does not reveal paths the static handler hides.
	SourceMaps bool
}

// Scan walks fsys and returns a report. Files without an extension are
// grouped under "(none)".
func Scan(fsys fs.FS, root string, opts Options, now time.Time) (Report, error) {
	report := Report{
		Root:        root,
		GeneratedAt: now,
		ByExtension: make(map[string]int64),
	}

	var assets []Asset
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(path.Ext(p))
		if ext == ".map" && !opts.SourceMaps {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		size := info.Size()
		if ext == "" {
			ext = "(none)"
		}
		report.Files++
		report.TotalBytes += size
		report.ByExtension[ext] += size
		assets = append(assets, Asset{Path: p, Bytes: size})
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(assets, func(i, j int) bool {
		if assets[i].Bytes != assets[j].Bytes {
			return assets[i].Bytes > assets[j].Bytes
		}
		return assets[i].Path < assets[j].Path
	})
	if opts.TopN > 0 && len(assets) > opts.TopN {
		assets = assets[:opts.TopN]
	}
	report.Largest = assets
	if report.Largest == nil {
		report.Largest = []Asset{}
	}

	return report, nil
}

// ScanDir is Scan over a directory on disk.
func ScanDir(dir string, opts Options) (Report, error) {
	return Scan(os.DirFS(dir), filepath.Clean(dir), opts, time.Now().UTC())
}

// Log writes a one-line summary plus the largest assets.
func (r Report) Log(logger *zap.Logger) {
	logger.Info("bundle analysis",
		zap.String("root", r.Root),
		zap.Int("files", r.Files),
		zap.Int64("total_bytes", r.TotalBytes),
	)
	for _, a := range r.Largest {
		logger.Info("bundle asset", zap.String("path", a.Path), zap.Int64("bytes", a.Bytes))
	}
}

// Handler serves the report as JSON.
func (r Report) Handler() http.Handler {
	body, err := json.Marshal(r)
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(body)
	})
}
