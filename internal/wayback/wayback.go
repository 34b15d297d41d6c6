// Package wayback submits preserved URLs to an external web archive in
// the background. Submission is fire and forget: the pipeline never
// waits on it and a full queue drops the URL rather than block.
package wayback

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/linkhaven/preserver/internal/config"
	"github.com/linkhaven/preserver/internal/logger"
	"github.com/linkhaven/preserver/internal/retry"
)

// Submitter queues URLs for archival by an external save endpoint and
// processes them with a fixed pool of workers.
type Submitter struct {
	endpoint string
	client   *http.Client
	queue    chan string
	log      logger.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSubmitter starts the worker pool. Call Close to drain and stop it.
func NewSubmitter(cfg config.WaybackConfig, log logger.Logger) *Submitter {
	s := &Submitter{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		queue:    make(chan string, cfg.QueueSize),
		log:      log,
	}

	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

// Submit enqueues a URL for background submission. It never blocks; when
// the queue is full the URL is dropped and a warning is logged.
func (s *Submitter) Submit(url string) {
	select {
	case s.queue <- url:
	default:
		s.log.Warn("wayback queue full, dropping URL",
			logger.String("url", url))
	}
}

// Close stops accepting submissions and waits for in-flight work.
func (s *Submitter) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
}

func (s *Submitter) worker() {
	defer s.wg.Done()

	for url := range s.queue {
		if err := s.submit(url); err != nil {
			s.log.Warn("wayback submission failed",
				logger.String("url", url),
				logger.Error(err))
			continue
		}
		s.log.Debug("submitted to wayback",
			logger.String("url", url))
	}
}

func (s *Submitter) submit(url string) error {
	retryCfg := retry.DefaultConfig()
	retryCfg.InitialDelay = time.Second

	return retry.Retry(context.Background(), retryCfg, func() error {
		req, err := http.NewRequest(http.MethodGet, s.endpoint+url, nil)
		if err != nil {
			return err
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("save endpoint returned status %d", resp.StatusCode)
		}
		return nil
	})
}
