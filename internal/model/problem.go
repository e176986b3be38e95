package model

// Problem status values. Only approved problems are judgeable.
const (
	ProblemStatusDraft    = "draft"
	ProblemStatusPending  = "pending"
	ProblemStatusApproved = "approved"
	ProblemStatusRetired  = "retired"
)

// Checker modes for output comparison.
const (
	CheckerDiff    = "diff"
	CheckerNumeric = "numeric"
	CheckerCustom  = "custom"
)

// Problem carries the judgeable view of a problem row. CurrentPoints and
// SolvedCount are cached columns maintained on first acceptance so the
// decayed value can be displayed without recomputing.
type Problem struct {
	ProblemID  string `json:"problem_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Difficulty string `json:"difficulty"`

	BasePoints    float64 `json:"base_points"`
	CurrentPoints float64 `json:"current_points"`
	SolvedCount   int64   `json:"solved_count"`

	TimeLimitMs    int64 `json:"time_limit_ms"`
	MemoryLimitKiB int64 `json:"memory_limit_kib"`
	StdoutCapBytes int64 `json:"stdout_cap_bytes"`

	// DataPath locates the test data pack (local directory or object key).
	DataPath string `json:"data_path"`

	// Checker selects the comparison mode; CheckerCustom runs the
	// pack-provided checker binary under the sandbox.
	Checker string `json:"checker"`

	// LanguagesAllowed restricts submissions; empty means all languages.
	LanguagesAllowed []string `json:"languages_allowed,omitempty"`
}

// Approved reports whether the problem accepts judging.
func (p *Problem) Approved() bool {
	return p.Status == ProblemStatusApproved
}

// AllowsLanguage reports whether the language may be used for this problem.
func (p *Problem) AllowsLanguage(langID string) bool {
	if len(p.LanguagesAllowed) == 0 {
		return true
	}
	for _, l := range p.LanguagesAllowed {
		if l == langID {
			return true
		}
	}
	return false
}
