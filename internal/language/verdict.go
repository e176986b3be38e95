package language

import (
	"chainjudge/internal/model"
	"chainjudge/internal/sandbox/result"
)

// VerdictFor maps a raw sandbox run onto a verdict. An AC return means
// the run itself was clean; the output comparison decides AC versus WA
// afterwards.
func VerdictFor(r result.RunResult) model.Verdict {
	switch r.KillReason {
	case result.KillCPUTime, result.KillWallTime:
		return model.VerdictTLE
	case result.KillMemory:
		return model.VerdictMLE
	case result.KillSignal:
		return model.VerdictRE
	case result.KillSandboxErr:
		return model.VerdictIE
	}
	if r.ExitCode != 0 {
		return model.VerdictRE
	}
	return model.VerdictAC
}
