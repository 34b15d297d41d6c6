// Package worker drives the preservation pipeline: it polls the store for
// links that have never been preserved and fans them out to concurrent
// pipeline runs.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linkhaven/preserver/internal/config"
	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/logger"
)

// Queue lists links awaiting preservation.
type Queue interface {
	ListQueued(ctx context.Context, limit int) ([]domain.Link, error)
}

// Pipeline preserves one link.
type Pipeline interface {
	Preserve(ctx context.Context, link *domain.Link) error
}

// Worker polls for queued links and processes them with bounded
// concurrency. Each link run is independent; a failed run never stops the
// loop.
type Worker struct {
	cfg      config.ServiceConfig
	queue    Queue
	pipeline Pipeline
	log      logger.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

// New creates a Worker.
func New(cfg config.ServiceConfig, queue Queue, pipeline Pipeline, log logger.Logger) *Worker {
	return &Worker{
		cfg:      cfg,
		queue:    queue,
		pipeline: pipeline,
		log:      log,
		sem:      make(chan struct{}, cfg.Concurrency),
		inFlight: make(map[int64]struct{}),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight runs.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	links, err := w.queue.ListQueued(ctx, w.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("failed to list queued links", logger.Error(err))
		}
		return
	}
	if len(links) == 0 {
		return
	}

	w.log.Debug("picked up queued links", logger.Int("count", len(links)))

	for i := range links {
		link := links[i]

		// A link stays listed until its run stamps last_preserved, so
		// later poll ticks see it again while the run is in flight.
		if !w.claim(link.ID) {
			continue
		}

		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			w.release(link.ID)
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			defer w.release(link.ID)
			w.process(ctx, &link)
		}()
	}
}

func (w *Worker) claim(linkID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inFlight[linkID]; busy {
		return false
	}
	w.inFlight[linkID] = struct{}{}
	return true
}

func (w *Worker) release(linkID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, linkID)
}

func (w *Worker) process(ctx context.Context, link *domain.Link) {
	runID := uuid.NewString()
	log := w.log.With(
		logger.String("run_id", runID),
		logger.Int64("link_id", link.ID),
	)

	log.Info("preserving link", logger.String("url", link.URL))
	start := time.Now()

	if err := w.pipeline.Preserve(ctx, link); err != nil {
		// Already logged with its cause by the pipeline; record the
		// run boundary here.
		log.Warn("preservation run ended with error",
			logger.Duration("elapsed", time.Since(start)))
		return
	}

	log.Info("link preserved", logger.Duration("elapsed", time.Since(start)))
}
