// Package preserve implements the preservation pipeline orchestrator: it
// sequences classification, browser navigation, challenge recovery, artifact
// capture and final-state reconciliation for one link, bounded by a
// wall-clock deadline.
package preserve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linkhaven/preserver/internal/browser"
	"github.com/linkhaven/preserver/internal/config"
	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/files"
	"github.com/linkhaven/preserver/internal/logger"
	"github.com/linkhaven/preserver/internal/metrics"
)

// ErrDeadline reports that a run exceeded its wall-clock budget.
var ErrDeadline = errors.New("preservation deadline exceeded")

// Store is the persistence surface the orchestrator needs. The store is
// the single point of truth across concurrent runs; the finalizer re-reads
// it rather than trusting in-memory state.
type Store interface {
	GetLink(ctx context.Context, id int64) (*domain.Link, error)
	UpdateLink(ctx context.Context, id int64, upd domain.LinkUpdate) error
	SetKind(ctx context.Context, id int64, kind domain.LinkKind) error
}

// Session is one exclusively-owned browsing session. It serves exactly one
// link's run and is never shared.
type Session interface {
	Navigate(url string) error
	Title() (string, error)
	SetContent(html, baseURL string) error
	HTML() (string, error)
	Location() (string, error)
	Screenshot(opts browser.ScreenshotOptions) ([]byte, error)
	PDF() ([]byte, error)
	Fetch(ctx context.Context, fetchURL, referrer string) (*browser.FetchResult, error)
	Close()
}

// SessionFactory opens new browsing sessions, optionally with an identity
// obtained from a challenge solution.
type SessionFactory interface {
	NewSession(ctx context.Context, identity *browser.Identity) (Session, error)
}

// SessionFactoryFunc adapts a function to the SessionFactory interface.
type SessionFactoryFunc func(ctx context.Context, identity *browser.Identity) (Session, error)

// NewSession calls f.
func (f SessionFactoryFunc) NewSession(ctx context.Context, identity *browser.Identity) (Session, error) {
	return f(ctx, identity)
}

// Solver attempts to pass an anti-automation challenge. Failures surface
// through the solution status, never as an error.
type Solver interface {
	Solve(ctx context.Context, targetURL string) *domain.ChallengeSolution
}

// FileStore is the artifact filesystem surface the orchestrator needs.
type FileStore interface {
	EnsureLinkFolders(collectionID int64) error
	ReadFile(locator string) (files.File, error)
	RemoveAll(linkID, collectionID int64) error
}

// Tagger derives and attaches AI tags for a link. A nil Tagger means no
// tagging provider is configured.
type Tagger interface {
	Tag(ctx context.Context, link *domain.Link, description string) error
}

// Waybacker accepts fire-and-forget submissions to an external archive.
type Waybacker interface {
	Submit(url string)
}

// Producers are the per-artifact capture collaborators, invoked by the
// coordinator in a fixed order.
type Producers struct {
	Preview  func(ctx context.Context, sess Session, link *domain.Link, html, pageURL string) error
	Readable func(ctx context.Context, link *domain.Link, html string) error
	Export   func(ctx context.Context, sess Session, link *domain.Link, settings domain.ArchivalSettings) error
	Image    func(ctx context.Context, sess Session, link *domain.Link, ext domain.ImageExtension) error
	PDF      func(ctx context.Context, sess Session, link *domain.Link) error
	Monolith func(ctx context.Context, link *domain.Link, html string) error
}

// Deps are the orchestrator's collaborators. Tagger and Wayback may be nil
// when the corresponding capability is not configured.
type Deps struct {
	Store     Store
	Files     FileStore
	Sessions  SessionFactory
	Solver    Solver
	Producers Producers
	Tagger    Tagger
	Wayback   Waybacker
	Metrics   *metrics.Metrics
	Logger    logger.Logger
}

// Preserver runs the preservation pipeline for single links. It is safe
// for concurrent use; each run owns its session exclusively.
type Preserver struct {
	cfg        config.ServiceConfig
	store      Store
	files      FileStore
	sessions   SessionFactory
	solver     Solver
	classifier *Classifier
	producers  Producers
	tagger     Tagger
	wayback    Waybacker
	metrics    *metrics.Metrics
	log        logger.Logger
}

// New creates a Preserver.
func New(cfg config.ServiceConfig, deps Deps) *Preserver {
	return &Preserver{
		cfg:        cfg,
		store:      deps.Store,
		files:      deps.Files,
		sessions:   deps.Sessions,
		solver:     deps.Solver,
		classifier: NewClassifier(deps.Store, deps.Logger),
		producers:  deps.Producers,
		tagger:     deps.Tagger,
		wayback:    deps.Wayback,
		metrics:    deps.Metrics,
		log:        deps.Logger,
	}
}

// run is the mutable state of one pipeline invocation. Sessions and the
// observed page title are written by the capture goroutine and read by the
// finalizer after the deadline race settles, so both are guarded.
type run struct {
	link     *domain.Link
	settings domain.ArchivalSettings

	mu       sync.Mutex
	sessions []Session
	title    string
}

func (r *run) track(sess Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sess)
}

func (r *run) setTitle(title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.title = title
}

func (r *run) freshTitle() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.title
}

// release closes every session opened during the run, swallowing close
// errors since the run is already settling.
func (r *run) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.sessions {
		sess.Close()
	}
	r.sessions = nil
}

// Preserve runs the full pipeline for one link. It always leaves the link
// in a fully determined state: every artifact field resolved to a locator
// or unavailable, never pending. A non-nil return is a pipeline-fatal
// failure, surfaced after finalization.
func (p *Preserver) Preserve(ctx context.Context, link *domain.Link) error {
	start := time.Now()
	defer func() {
		p.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	if p.cfg.DisablePreservation || !isHTTPURL(link.URL) {
		p.metrics.RunsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return p.shortCircuit(ctx, link)
	}

	if err := p.files.EnsureLinkFolders(link.CollectionID); err != nil {
		p.metrics.RunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return err
	}

	r := &run{
		link:     link,
		settings: domain.ResolveArchivalSettings(link),
	}

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.BrowserTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.sequence(runCtx, r)
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-runCtx.Done():
		// Collaborators that ignore the signal may still finish late;
		// their results are discarded because the finalizer re-reads
		// persisted state.
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			runErr = fmt.Errorf("%w: browser open longer than %s", ErrDeadline, p.cfg.BrowserTimeout)
		} else {
			runErr = fmt.Errorf("preservation run cancelled: %w", runCtx.Err())
		}
	}

	p.finalize(r)
	r.release()

	switch {
	case runErr == nil:
		p.metrics.RunsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	case errors.Is(runErr, ErrDeadline):
		p.metrics.RunsTotal.WithLabelValues(metrics.OutcomeTimeout).Inc()
	default:
		p.metrics.RunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
	}
	if runErr != nil {
		p.log.Error("preservation run failed",
			logger.Int64("link_id", link.ID),
			logger.String("url", link.URL),
			logger.Error(runErr),
		)
	}
	return runErr
}

// shortCircuit resolves a link without running the pipeline: preservation
// is globally disabled or the URL is not preservable. Pending artifact
// fields become unavailable and tagging is pre-marked done when a provider
// is configured, so the link is never picked up again.
func (p *Preserver) shortCircuit(ctx context.Context, link *domain.Link) error {
	now := time.Now().UTC()
	upd := domain.LinkUpdate{LastPreserve: &now}

	markUnavailable(&upd, link)

	if link.Owner.AiTaggingMethod != domain.AiTaggingDisabled && !link.AiTagged && p.tagger != nil {
		upd.AiTagged = domain.BoolPtr(true)
	}

	if err := p.store.UpdateLink(ctx, link.ID, upd); err != nil {
		if errors.Is(err, domain.ErrLinkNotFound) {
			return nil
		}
		return fmt.Errorf("short-circuit link %d: %w", link.ID, err)
	}
	return nil
}

// sequence is the raced capture pipeline: classify, branch by kind, clear
// challenges and produce artifacts.
func (p *Preserver) sequence(ctx context.Context, r *run) error {
	link := r.link

	sess, err := p.sessions.NewSession(ctx, nil)
	if err != nil {
		return err
	}
	r.track(sess)

	cls, err := p.classifier.Classify(ctx, link)
	if err != nil {
		return err
	}

	if r.settings.Wayback && link.URL != "" && p.wayback != nil {
		p.wayback.Submit(link.URL)
	}

	switch {
	case cls.Kind == domain.KindImage && !domain.HasArtifact(link.Image):
		return p.producers.Image(ctx, sess, link, cls.Extension)
	case cls.Kind == domain.KindPDF && !domain.HasArtifact(link.PDF):
		return p.producers.PDF(ctx, sess, link)
	case cls.Kind != domain.KindPage:
		// Non-page kind with its artifact already present. Nothing to
		// capture; the finalizer resolves the remaining fields.
		return nil
	}

	sess, title, err := p.clearChallenge(ctx, r, sess)
	if err != nil {
		return err
	}
	r.setTitle(title)

	return p.capture(ctx, r, sess)
}

// finalize reconciles persisted state after the race settles. It runs on
// every exit path and must not mask the sequence's own error, so its
// failures are logged rather than returned.
func (p *Preserver) finalize(r *run) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	link := r.link

	final, err := p.store.GetLink(ctx, link.ID)
	if errors.Is(err, domain.ErrLinkNotFound) {
		// Deleted mid-run; drop the partial output instead of updating.
		if err := p.files.RemoveAll(link.ID, link.CollectionID); err != nil {
			p.log.Error("failed to remove orphaned artifacts",
				logger.Int64("link_id", link.ID),
				logger.Error(err),
			)
		}
		return
	}
	if err != nil {
		p.log.Error("finalizer could not re-read link",
			logger.Int64("link_id", link.ID),
			logger.Error(err),
		)
		return
	}

	now := time.Now().UTC()
	upd := domain.LinkUpdate{LastPreserve: &now}

	// Correct a stored challenge-placeholder title once a real one was
	// observed. A title the user edited is never clobbered.
	if fresh := r.freshTitle(); fresh != "" && fresh != final.Name &&
		IsChallengeTitle(final.Name) && !IsChallengeTitle(fresh) {
		upd.Name = &fresh
	}

	markUnavailable(&upd, final)

	if link.Owner.AiTaggingMethod != domain.AiTaggingDisabled && !final.AiTagged {
		upd.AiTagged = domain.BoolPtr(true)
	}

	if err := p.store.UpdateLink(ctx, link.ID, upd); err != nil {
		if errors.Is(err, domain.ErrLinkNotFound) {
			_ = p.files.RemoveAll(link.ID, link.CollectionID)
			return
		}
		p.log.Error("finalizer update failed",
			logger.Int64("link_id", link.ID),
			logger.Error(err),
		)
	}
}

// markUnavailable resolves every still-pending artifact field to
// unavailable. Fields already holding a locator are left alone.
func markUnavailable(upd *domain.LinkUpdate, link *domain.Link) {
	unavailable := domain.StatusUnavailable
	if !domain.HasArtifact(link.Preview) {
		upd.Preview = &unavailable
	}
	if !domain.HasArtifact(link.Image) {
		upd.Image = &unavailable
	}
	if !domain.HasArtifact(link.PDF) {
		upd.PDF = &unavailable
	}
	if !domain.HasArtifact(link.Readable) {
		upd.Readable = &unavailable
	}
	if !domain.HasArtifact(link.Monolith) {
		upd.Monolith = &unavailable
	}
}

func isHTTPURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
