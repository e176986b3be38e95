//go:build linux

package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCaptureCap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		limit    int64
		fallback int64
		want     int64
	}{
		{"per-run cap wins", 1024, 65536, 1024},
		{"per-run cap above default still wins", 1 << 20, 65536, 1 << 20},
		{"zero falls back", 0, 65536, 65536},
		{"negative falls back", -1, 65536, 65536},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := captureCap(tt.limit, tt.fallback); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestReadLimitedFileTruncates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "stdout")
	payload := strings.Repeat("x", 100)
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatalf("write stdout file: %v", err)
	}

	got := readLimitedFile(path, 10)
	if !strings.HasPrefix(got, payload[:10]) {
		t.Fatalf("expected the first 10 bytes, got %q", got)
	}
	if !strings.HasSuffix(got, truncationMarker) {
		t.Fatalf("truncated output must carry the tail marker, got %q", got)
	}

	full := readLimitedFile(path, 200)
	if full != payload {
		t.Fatalf("output under the cap must be returned whole, got %q", full)
	}
	if strings.Contains(full, truncationMarker) {
		t.Fatal("untruncated output must not carry the marker")
	}
}
