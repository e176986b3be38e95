// Package language defines the closed set of supported judging languages
// and how each one compiles, runs, and scales resource limits.
package language

import (
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"

	"chainjudge/internal/sandbox/spec"
	"chainjudge/pkg/errors"
)

// Spec defines how to compile and run one language.
type Spec struct {
	ID             string
	Name           string
	Version        string
	SourceFile     string
	BinaryFile     string
	CompileEnabled bool
	CompileCmdTpl  string
	RunCmdTpl      string
	Env            []string

	// TimeMultiplier scales the problem's CPU and wall caps so that
	// interpreted languages get a fair budget.
	TimeMultiplier float64

	// MemoryGraceKiB is added to the problem's memory cap to cover
	// fixed runtime overhead (interpreter, GC arenas).
	MemoryGraceKiB int64

	// PIDs bounds the process count; runtimes with worker threads
	// need more than the single-process default.
	PIDs int64
}

const (
	defaultPIDs        int64 = 4
	compileTimeFactor        = 6
	compileMemoryKiB   int64 = 2 * 1024 * 1024
	compileFileSizeCap int64 = 256 * 1024 * 1024
	compilePIDs        int64 = 32
)

var registry = map[string]Spec{
	"python": {
		ID:             "python",
		Name:           "Python",
		Version:        "3.12",
		SourceFile:     "main.py",
		CompileEnabled: false,
		RunCmdTpl:      "/usr/bin/python3 {src}",
		Env:            []string{"PYTHONIOENCODING=utf-8", "PYTHONDONTWRITEBYTECODE=1"},
		TimeMultiplier: 3.0,
		MemoryGraceKiB: 768,
	},
	"cpp": {
		ID:             "cpp",
		Name:           "C++",
		Version:        "g++ 13 (C++17)",
		SourceFile:     "main.cpp",
		BinaryFile:     "main",
		CompileEnabled: true,
		CompileCmdTpl:  "/usr/bin/g++ -O2 -std=c++17 -o {bin} {src}",
		RunCmdTpl:      "{bin}",
		TimeMultiplier: 1.0,
		MemoryGraceKiB: 64,
	},
	"rust": {
		ID:             "rust",
		Name:           "Rust",
		Version:        "1.79",
		SourceFile:     "main.rs",
		BinaryFile:     "main",
		CompileEnabled: true,
		CompileCmdTpl:  "/usr/bin/rustc -O -o {bin} {src}",
		RunCmdTpl:      "{bin}",
		TimeMultiplier: 1.0,
		MemoryGraceKiB: 64,
	},
	"javascript": {
		ID:             "javascript",
		Name:           "JavaScript",
		Version:        "Node 20",
		SourceFile:     "main.js",
		CompileEnabled: false,
		RunCmdTpl:      "/usr/bin/node {src}",
		Env:            []string{"NODE_OPTIONS=--stack-size=8192"},
		TimeMultiplier: 2.0,
		MemoryGraceKiB: 8 * 1024,
		PIDs:           16,
	},
	"go": {
		ID:             "go",
		Name:           "Go",
		Version:        "1.22",
		SourceFile:     "main.go",
		BinaryFile:     "main",
		CompileEnabled: true,
		CompileCmdTpl:  "/usr/local/go/bin/go build -o {bin} {src}",
		RunCmdTpl:      "{bin}",
		Env:            []string{"GOMAXPROCS=2", "GOCACHE=/tmp/gocache", "HOME=/tmp"},
		TimeMultiplier: 1.5,
		MemoryGraceKiB: 8 * 1024,
		PIDs:           16,
	},
}

// Lookup returns the spec for a language ID.
func Lookup(id string) (Spec, bool) {
	s, ok := registry[id]
	return s, ok
}

// IDs returns the supported language IDs in stable order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunLimits scales the problem's base limits for this language: CPU and
// wall caps grow by TimeMultiplier, memory by the fixed grace. If the
// base carries no wall cap, it defaults to twice the scaled CPU cap plus
// one second of slack.
func (s Spec) RunLimits(base spec.ResourceLimit) spec.ResourceLimit {
	out := base
	out.CPUTimeMs = scale(base.CPUTimeMs, s.TimeMultiplier)
	if base.WallTimeMs > 0 {
		out.WallTimeMs = scale(base.WallTimeMs, s.TimeMultiplier)
	} else {
		out.WallTimeMs = 2*out.CPUTimeMs + 1000
	}
	if base.MemoryKiB > 0 {
		out.MemoryKiB = base.MemoryKiB + s.MemoryGraceKiB
	}
	out.PIDs = s.PIDs
	if out.PIDs <= 0 {
		out.PIDs = defaultPIDs
	}
	return out
}

// CompileLimits derives generous compiler limits from the problem's base
// limits. Compilers legitimately need far more time and memory than the
// compiled program.
func (s Spec) CompileLimits(base spec.ResourceLimit) spec.ResourceLimit {
	cpu := base.CPUTimeMs
	if cpu <= 0 {
		cpu = 1000
	}
	cpu *= compileTimeFactor
	return spec.ResourceLimit{
		CPUTimeMs:        cpu,
		WallTimeMs:       2*cpu + 2000,
		MemoryKiB:        compileMemoryKiB,
		FileSizeCapBytes: compileFileSizeCap,
		PIDs:             compilePIDs,
	}
}

// CompileCommand expands the compile template for a workspace directory.
func (s Spec) CompileCommand(workDir string) ([]string, error) {
	if !s.CompileEnabled {
		return nil, errors.Newf(errors.InvalidParams, "language %s does not compile", s.ID)
	}
	return s.expand(s.CompileCmdTpl, workDir)
}

// RunCommand expands the run template for a workspace directory.
func (s Spec) RunCommand(workDir string) ([]string, error) {
	return s.expand(s.RunCmdTpl, workDir)
}

func (s Spec) expand(tpl, workDir string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, errors.New(errors.InvalidParams).WithMessage("command template is required")
	}
	expanded := tpl
	expanded = strings.ReplaceAll(expanded, "{src}", filepath.Join(workDir, s.SourceFile))
	expanded = strings.ReplaceAll(expanded, "{bin}", filepath.Join(workDir, s.BinaryFile))
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, errors.New(errors.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func scale(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}
