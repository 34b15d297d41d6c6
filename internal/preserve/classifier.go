package preserve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/logger"
)

// KindStore persists a link's classified resource kind.
type KindStore interface {
	SetKind(ctx context.Context, id int64, kind domain.LinkKind) error
}

// Classification is the outcome of the resource probe.
type Classification struct {
	Kind      domain.LinkKind
	Extension domain.ImageExtension
}

// Classifier decides how a link should be captured before any rendering is
// committed: a header-only probe against the URL sorts it into page, pdf
// or image.
type Classifier struct {
	store  KindStore
	client *http.Client
	log    logger.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(store KindStore, log logger.Logger) *Classifier {
	return &Classifier{
		store:  store,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log,
	}
}

// Classify probes the link's URL and persists the resulting kind. A failed
// probe never aborts the run; classification degrades to page. Links
// without a URL classify as page without a store write.
func (c *Classifier) Classify(ctx context.Context, link *domain.Link) (Classification, error) {
	cls := Classification{Kind: domain.KindPage, Extension: domain.ExtensionPNG}
	if link.URL == "" {
		return cls, nil
	}

	if contentType, ok := c.probe(ctx, link.URL); ok {
		switch {
		case strings.Contains(contentType, "application/pdf"):
			cls.Kind = domain.KindPDF
		case strings.HasPrefix(contentType, "image"):
			cls.Kind = domain.KindImage
			if strings.Contains(contentType, "image/jpeg") {
				cls.Extension = domain.ExtensionJPEG
			}
		}
	}

	if err := c.store.SetKind(ctx, link.ID, cls.Kind); err != nil {
		return cls, err
	}
	link.Kind = cls.Kind
	return cls, nil
}

// probe issues a header-only request and returns the content type.
func (c *Classifier) probe(ctx context.Context, url string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug("classification probe failed, assuming page",
			logger.String("url", url),
			logger.Error(err),
		)
		return "", false
	}
	defer resp.Body.Close()

	return strings.ToLower(resp.Header.Get("Content-Type")), true
}
