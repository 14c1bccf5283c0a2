package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const downloadPollInterval = 500 * time.Millisecond

// WaitForDownload polls dir until a file with the given prefix, modified
// after since, finishes downloading. Chrome writes a .crdownload alongside
// the target until the transfer completes, so a candidate counts only once
// its size is stable across two polls and no partial marker remains.
func WaitForDownload(ctx context.Context, dir, prefix string, since time.Time) (string, error) {
	var lastSize int64 = -1
	var lastPath string

	ticker := time.NewTicker(downloadPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for %s* in %s: %w", prefix, dir, ctx.Err())
		case <-ticker.C:
		}

		path, size, ok := newestMatch(dir, prefix, since)
		if !ok {
			continue
		}
		if path == lastPath && size == lastSize {
			return path, nil
		}
		lastPath, lastSize = path, size
	}
}

func newestMatch(dir, prefix string, since time.Time) (string, int64, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, false
	}

	var bestPath string
	var bestSize int64
	var bestMod time.Time

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if strings.HasSuffix(name, ".crdownload") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(since) {
			continue
		}
		if info.ModTime().After(bestMod) {
			bestPath = filepath.Join(dir, name)
			bestSize = info.Size()
			bestMod = info.ModTime()
		}
	}

	return bestPath, bestSize, bestPath != ""
}
