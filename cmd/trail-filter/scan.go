package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fpang/cloudtrail-notifier/internal/archive"
	"github.com/fpang/cloudtrail-notifier/internal/filterconfig"
	"github.com/fpang/cloudtrail-notifier/internal/notify"
	"github.com/fpang/cloudtrail-notifier/internal/pipeline"
	"github.com/fpang/cloudtrail-notifier/internal/scratch"
	"github.com/fpang/cloudtrail-notifier/internal/trail"
)

func loadLocalConfig(path string) (*filterconfig.FilterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return filterconfig.Parse(data)
}

// scanFile filters a local log. Compressed logs are copied into a scratch
// workspace and decompressed there so the input is never modified.
func scanFile(path string, cfg *filterconfig.FilterConfig, scratchRoot string) (*trail.Result, error) {
	if !strings.HasSuffix(path, archive.Suffix) {
		return trail.FilterFile(path, cfg.Predicates())
	}

	ws, err := scratch.New(scratchRoot, "")
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup()

	local := filepath.Join(ws.Dir, filepath.Base(path))
	if err := copyFile(path, local); err != nil {
		return nil, err
	}
	jsonPath, err := archive.Gunzip(local)
	if err != nil {
		return nil, err
	}
	return trail.FilterFile(jsonPath, cfg.Predicates())
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func publishMatches(ctx context.Context, p notify.Publisher, cfg *filterconfig.FilterConfig, matched []trail.LogRecord, concurrency int) (*notify.Report, error) {
	return notify.New(p, pipeline.Destination(cfg), concurrency).NotifyAll(ctx, matched)
}
