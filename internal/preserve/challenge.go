package preserve

import (
	"context"
	"strings"

	"github.com/linkhaven/preserver/internal/browser"
	"github.com/linkhaven/preserver/internal/logger"
)

// challengePhrases mark a page title as an anti-automation interstitial.
// Matching is case-insensitive substring.
var challengePhrases = []string{
	"just a moment",
	"attention required",
	"verify you are human",
	"checking your browser",
	"cloudflare",
}

// IsChallengeTitle reports whether a page title looks like an
// anti-automation challenge page rather than real content.
func IsChallengeTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, phrase := range challengePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// clearChallenge navigates the link and runs the challenge state machine
// over that one attempt: detect a challenge by title, invoke the solver,
// apply its solution through a replacement session, and verify. The session
// is recreated at most once per run; if the replacement still shows the
// challenge, the solver's raw HTML fallback is substituted and the page is
// treated as clear. Returns the session to continue on and the final title.
func (p *Preserver) clearChallenge(ctx context.Context, r *run, sess Session) (Session, string, error) {
	link := r.link

	if err := sess.Navigate(link.URL); err != nil {
		return sess, "", err
	}
	title, err := sess.Title()
	if err != nil {
		return sess, "", err
	}

	if !IsChallengeTitle(title) {
		return sess, title, nil
	}

	p.log.Warn("challenge page detected",
		logger.Int64("link_id", link.ID),
		logger.String("url", link.URL),
		logger.String("title", title),
	)

	solution := p.solver.Solve(ctx, link.URL)
	if !solution.Solved() {
		p.metrics.ChallengesTotal.WithLabelValues(string(solution.Status)).Inc()
		p.log.Warn("proceeding without challenge mitigation",
			logger.Int64("link_id", link.ID),
			logger.String("solver_status", string(solution.Status)),
		)
		return sess, title, nil
	}
	p.metrics.ChallengesTotal.WithLabelValues(string(solution.Status)).Inc()

	// Mitigation: replace the session with one carrying the solved
	// identity and try the page again.
	sess.Close()
	next, err := p.sessions.NewSession(ctx, &browser.Identity{
		UserAgent: solution.UserAgent,
		Cookies:   solution.Cookies,
	})
	if err != nil {
		return sess, title, err
	}
	r.track(next)

	if err := next.Navigate(link.URL); err != nil {
		if solution.ResponseHTML == "" {
			return next, title, err
		}
		// The solver already fetched the page past the challenge; use
		// its content instead of the live DOM.
		if err := next.SetContent(solution.ResponseHTML, link.URL); err != nil {
			return next, title, err
		}
	}

	title, err = next.Title()
	if err != nil {
		return next, "", err
	}

	if IsChallengeTitle(title) && solution.ResponseHTML != "" {
		p.log.Warn("challenge persists after mitigation, using solver content fallback",
			logger.Int64("link_id", link.ID),
		)
		if err := next.SetContent(solution.ResponseHTML, link.URL); err != nil {
			return next, title, err
		}
		if fallbackTitle, err := next.Title(); err == nil {
			title = fallbackTitle
		}
	}

	return next, title, nil
}
