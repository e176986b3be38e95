package model

// Verdict is the final outcome of judging a submission.
type Verdict string

const (
	VerdictPending Verdict = "PENDING"
	VerdictAC      Verdict = "AC"
	VerdictWA      Verdict = "WA"
	VerdictTLE     Verdict = "TLE"
	VerdictMLE     Verdict = "MLE"
	VerdictRE      Verdict = "RE"
	VerdictCE      Verdict = "CE"
	VerdictIE      Verdict = "IE"
)

// Final reports whether the verdict is terminal.
func (v Verdict) Final() bool {
	return v != VerdictPending && v != ""
}

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPending, VerdictAC, VerdictWA, VerdictTLE, VerdictMLE, VerdictRE, VerdictCE, VerdictIE:
		return true
	}
	return false
}
