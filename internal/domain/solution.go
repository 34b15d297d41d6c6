package domain

// SolveStatus is the outcome of a challenge solver invocation.
type SolveStatus string

// Solver statuses. SolveSkip means no solver is configured.
const (
	SolveOK    SolveStatus = "ok"
	SolveFail  SolveStatus = "fail"
	SolveError SolveStatus = "error"
	SolveSkip  SolveStatus = "skip"
)

// Cookie is one cookie from a challenge solution, injected into the
// replacement browsing session during mitigation.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
	Expires  float64 `json:"expires"`
	SameSite string  `json:"sameSite"`
}

// ChallengeSolution is the ephemeral result of the solver adapter. It is
// never persisted.
type ChallengeSolution struct {
	Status    SolveStatus
	UserAgent string
	Cookies   []Cookie
	// ResponseHTML is the raw page content the solver fetched past the
	// challenge, used as a last-resort content fallback.
	ResponseHTML string
}

// Solved reports whether the solver produced usable mitigation material.
func (s *ChallengeSolution) Solved() bool {
	return s != nil && s.Status == SolveOK
}
