package wayback

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/linkhaven/preserver/internal/config"
	"github.com/linkhaven/preserver/internal/logger"
)

func testConfig(endpoint string) config.WaybackConfig {
	return config.WaybackConfig{
		Endpoint:  endpoint,
		Workers:   2,
		QueueSize: 8,
		Timeout:   time.Second,
	}
}

func TestSubmitter_SubmitsQueuedURLs(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSubmitter(testConfig(srv.URL+"/save/"), logger.NewNop())
	s.Submit("https://example.com/a")
	s.Submit("https://example.com/b")
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2)
	assert.Contains(t, seen, "/save/https://example.com/a")
	assert.Contains(t, seen, "/save/https://example.com/b")
}

func TestSubmitter_DropsWhenQueueFull(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0/save/")
	cfg.Workers = 0
	cfg.QueueSize = 1

	s := NewSubmitter(cfg, logger.NewNop())

	// No workers drain the queue, so the second submit must be dropped
	// rather than block.
	s.Submit("https://example.com/a")
	done := make(chan struct{})
	go func() {
		s.Submit("https://example.com/b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
	s.Close()
}

func TestSubmitter_ServerErrorDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSubmitter(testConfig(srv.URL+"/save/"), logger.NewNop())
	s.Submit("https://example.com/a")
	s.Close()
}

func TestSubmitter_CloseIsIdempotent(t *testing.T) {
	s := NewSubmitter(testConfig("http://127.0.0.1:0/save/"), logger.NewNop())
	s.Close()
	s.Close()
}
