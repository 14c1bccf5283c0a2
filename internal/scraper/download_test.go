package scraper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForDownload_FindsCompletedFile(t *testing.T) {
	dir := t.TempDir()
	since := time.Now().Add(-time.Second)

	target := filepath.Join(dir, "CONSULTA_TLP_20260830.xlsx")
	require.NoError(t, os.WriteFile(target, []byte("report-bytes"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	path, err := WaitForDownload(ctx, dir, "CONSULTA_TLP", since)
	require.NoError(t, err)
	assert.Equal(t, target, path)
}

func TestWaitForDownload_IgnoresPartialAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	since := time.Now().Add(-time.Second)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "CONSULTA_TLP_x.xlsx.crdownload"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.xlsx"), []byte("other"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := WaitForDownload(ctx, dir, "CONSULTA_TLP", since)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForDownload_IgnoresStaleFiles(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "CONSULTA_TLP_old.xlsx")
	require.NoError(t, os.WriteFile(stale, []byte("yesterday"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := WaitForDownload(ctx, dir, "CONSULTA_TLP", time.Now())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForDownload_FileLandsLate(t *testing.T) {
	dir := t.TempDir()
	since := time.Now().Add(-time.Second)
	target := filepath.Join(dir, "CONSULTA_TLP_late.xlsx")

	go func() {
		time.Sleep(700 * time.Millisecond)
		_ = os.WriteFile(target, []byte("late arrival"), 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path, err := WaitForDownload(ctx, dir, "CONSULTA_TLP", since)
	require.NoError(t, err)
	assert.Equal(t, target, path)
}
