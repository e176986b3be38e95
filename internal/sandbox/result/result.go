// Package result defines sandbox execution results and kill classification.
package result

// KillReason classifies why the sandbox terminated a process early.
// An empty reason means the process exited on its own.
type KillReason string

const (
	KillNone       KillReason = ""
	KillCPUTime    KillReason = "TO"
	KillWallTime   KillReason = "WT"
	KillSignal     KillReason = "SG"
	KillMemory     KillReason = "ML"
	KillSandboxErr KillReason = "XX"
)

// killPrecedence orders reasons when several apply to the same run.
// CPU overrun dominates: a process that burned past its CPU cap is a
// time-limit case even if the OOM killer or wall timer also fired.
var killPrecedence = map[KillReason]int{
	KillCPUTime:  4,
	KillMemory:   3,
	KillWallTime: 2,
	KillSignal:   1,
	KillNone:     0,
}

// Stronger returns the higher-precedence of two kill reasons.
// KillSandboxErr always wins: it marks an unusable measurement.
func Stronger(a, b KillReason) KillReason {
	if a == KillSandboxErr || b == KillSandboxErr {
		return KillSandboxErr
	}
	if killPrecedence[a] >= killPrecedence[b] {
		return a
	}
	return b
}

// RunResult captures raw sandbox execution data for one run.
type RunResult struct {
	ExitCode      int
	Signal        int
	CPUTimeMs     int64
	WallTimeMs    int64
	PeakMemoryKiB int64

	// Stdout and Stderr are read back from the workspace files,
	// truncated to the configured caps.
	Stdout string
	Stderr string

	KillReason KillReason
}

// Clean reports whether the run finished without sandbox intervention
// and with a zero exit code.
func (r RunResult) Clean() bool {
	return r.KillReason == KillNone && r.ExitCode == 0
}
