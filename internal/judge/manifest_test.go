package judge_test

import (
	"os"
	"path/filepath"
	"testing"

	"chainjudge/internal/judge"
	"chainjudge/pkg/errors"
)

func TestLoadManifest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "tests"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mustWrite(t, filepath.Join(dir, "tests", "1.in"), "1 2\n")
	mustWrite(t, filepath.Join(dir, "tests", "1.out"), "3\n")
	mustWrite(t, filepath.Join(dir, "tests", "2.in"), "4 5\n")
	mustWrite(t, filepath.Join(dir, "tests", "2.out"), "9\n")
	mustWrite(t, filepath.Join(dir, judge.ManifestFileName), `id: p-sum
title_en: Sum of Two
difficulty: easy
base_points: 1000
time_limit_ms: 1000
memory_limit_kib: 262144
stdout_cap_bytes: 1048576
languages_allowed: [python, cpp]
samples:
  - in: tests/1.in
    out: tests/1.out
tests:
  - in: tests/1.in
    out: tests/1.out
  - in: tests/2.in
    out: tests/2.out
`)

	m, err := judge.LoadManifest(dir)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if m.ID != "p-sum" || m.BasePoints != 1000 || m.TimeLimitMs != 1000 {
		t.Fatalf("unexpected header: %+v", m)
	}
	if len(m.Tests) != 2 || len(m.Samples) != 1 {
		t.Fatalf("unexpected case counts: %d tests, %d samples", len(m.Tests), len(m.Samples))
	}
	if len(m.LanguagesAllowed) != 2 {
		t.Fatalf("unexpected languages: %v", m.LanguagesAllowed)
	}

	in, out, err := m.TestPaths(dir, m.Tests[0])
	if err != nil {
		t.Fatalf("test paths: %v", err)
	}
	if in != filepath.Join(dir, "tests", "1.in") || out != filepath.Join(dir, "tests", "1.out") {
		t.Fatalf("unexpected paths: %s %s", in, out)
	}
}

func TestLoadManifestMissing(t *testing.T) {
	t.Parallel()
	if _, err := judge.LoadManifest(t.TempDir()); !errors.Is(err, errors.TestDataMissing) {
		t.Fatalf("expected TestDataMissing, got %v", err)
	}
}

func TestLoadManifestInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		manifest string
		files    map[string]string
		wantCode errors.ErrorCode
	}{
		{
			name:     "not yaml",
			manifest: "{{{",
			wantCode: errors.ManifestInvalid,
		},
		{
			name:     "no tests",
			manifest: "id: p\ntests: []\n",
			wantCode: errors.ManifestInvalid,
		},
		{
			name:     "test missing output field",
			manifest: "id: p\ntests:\n  - in: 1.in\n",
			files:    map[string]string{"1.in": ""},
			wantCode: errors.ManifestInvalid,
		},
		{
			name:     "missing data file",
			manifest: "id: p\ntests:\n  - in: 1.in\n    out: 1.out\n",
			files:    map[string]string{"1.in": ""},
			wantCode: errors.TestDataMissing,
		},
		{
			name:     "missing checker program",
			manifest: "id: p\nchecker: checker/check\ntests:\n  - in: 1.in\n    out: 1.out\n",
			files:    map[string]string{"1.in": "", "1.out": ""},
			wantCode: errors.TestDataMissing,
		},
		{
			name:     "path escapes pack",
			manifest: "id: p\ntests:\n  - in: ../../etc/passwd\n    out: 1.out\n",
			files:    map[string]string{"1.out": ""},
			wantCode: errors.ManifestInvalid,
		},
		{
			name:     "absolute path rejected",
			manifest: "id: p\ntests:\n  - in: /etc/passwd\n    out: 1.out\n",
			files:    map[string]string{"1.out": ""},
			wantCode: errors.ManifestInvalid,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			for name, content := range tt.files {
				mustWrite(t, filepath.Join(dir, name), content)
			}
			mustWrite(t, filepath.Join(dir, judge.ManifestFileName), tt.manifest)

			if _, err := judge.LoadManifest(dir); !errors.Is(err, tt.wantCode) {
				t.Fatalf("expected code %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestManifestCustomChecker(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "1.in"), "")
	mustWrite(t, filepath.Join(dir, "1.out"), "")
	mustWrite(t, filepath.Join(dir, "check"), "#!/bin/sh\nexit 0\n")
	_ = os.Chmod(filepath.Join(dir, "check"), 0755)
	mustWrite(t, filepath.Join(dir, judge.ManifestFileName),
		"id: p\nchecker: check\ntests:\n  - in: 1.in\n    out: 1.out\n")

	m, err := judge.LoadManifest(dir)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if m.Checker != "check" {
		t.Fatalf("unexpected checker: %q", m.Checker)
	}
}
