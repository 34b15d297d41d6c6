package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/url"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/PuerkitoBio/goquery"

	"github.com/linkhaven/preserver/internal/browser"
	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/files"
	"github.com/linkhaven/preserver/internal/logger"
)

// previewMetaSelectors are the document metadata tags consulted for a
// preview image, in preference order.
var previewMetaSelectors = []string{
	`meta[property="og:image"]`,
	`meta[property="og:image:secure_url"]`,
	`meta[name="og:image"]`,
	`meta[name="twitter:image"]`,
	`meta[name="twitter:image:src"]`,
	`meta[name="image"]`,
	`meta[itemprop="image"]`,
}

const (
	screenshotPreviewQuality = 20
	metaPreviewQuality       = 80
)

// PreviewSession is the slice of a browsing session the preview producer
// needs.
type PreviewSession interface {
	Fetch(ctx context.Context, fetchURL, referrer string) (*browser.FetchResult, error)
	Screenshot(opts browser.ScreenshotOptions) ([]byte, error)
}

// PreviewProducer generates the small preview image for a link, preferring
// the page's own social-card image over a screenshot.
type PreviewProducer struct {
	store    LinkUpdater
	files    FileStore
	maxBytes int
	log      logger.Logger
}

// NewPreviewProducer creates a PreviewProducer. maxBytes bounds the
// screenshot fallback; oversized screenshots are discarded.
func NewPreviewProducer(store LinkUpdater, fileStore FileStore, maxBytes int, log logger.Logger) *PreviewProducer {
	return &PreviewProducer{store: store, files: fileStore, maxBytes: maxBytes, log: log}
}

// Produce resolves a preview image for the link from the captured document
// html. pageURL is the page's current location, used to resolve relative
// image URLs and as the fetch referrer.
func (p *PreviewProducer) Produce(ctx context.Context, sess PreviewSession, link *domain.Link, html, pageURL string) error {
	if imageURL := metaImageURL(html, pageURL); imageURL != "" {
		if err := p.fromMetaImage(ctx, sess, link, imageURL, pageURL); err == nil {
			return nil
		} else {
			p.log.Debug("preview from page metadata failed, falling back to screenshot",
				logger.Int64("link_id", link.ID),
				logger.Error(err),
			)
		}
	}

	return p.fromScreenshot(ctx, sess, link)
}

func (p *PreviewProducer) fromMetaImage(ctx context.Context, sess PreviewSession, link *domain.Link, imageURL, pageURL string) error {
	result, err := sess.Fetch(ctx, imageURL, pageURL)
	if err != nil {
		return err
	}
	if result.Status < 200 || result.Status >= 300 {
		return fmt.Errorf("preview image fetch returned status %d", result.Status)
	}
	if !strings.HasPrefix(result.ContentType, "image") {
		return fmt.Errorf("preview fetch returned %q, not an image", result.ContentType)
	}

	data, err := previewJPEG(result.ContentType, result.Body)
	if err != nil {
		return err
	}
	return p.persist(ctx, link, data)
}

// previewJPEG returns the fetched image in JPEG form, matching the preview
// locator's fixed extension. JPEG bytes pass through; PNG and GIF are
// re-encoded; other formats are rejected so the screenshot fallback takes
// over.
func previewJPEG(contentType string, body []byte) ([]byte, error) {
	switch {
	case strings.Contains(contentType, "jpeg"):
		return body, nil
	case strings.Contains(contentType, "png"), strings.Contains(contentType, "gif"):
		img, _, err := image.Decode(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("decode preview image: %w", err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: metaPreviewQuality}); err != nil {
			return nil, fmt.Errorf("encode preview image: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported preview image type %q", contentType)
	}
}

func (p *PreviewProducer) fromScreenshot(ctx context.Context, sess PreviewSession, link *domain.Link) error {
	shot, err := sess.Screenshot(browser.ScreenshotOptions{Quality: screenshotPreviewQuality})
	if err != nil {
		return fmt.Errorf("preview screenshot: %w", err)
	}
	if len(shot) > p.maxBytes {
		// Leave the field pending; the finalizer resolves it to
		// unavailable.
		p.log.Warn("preview screenshot exceeds size ceiling, discarded",
			logger.Int64("link_id", link.ID),
			logger.Int("bytes", len(shot)),
			logger.Int("max_bytes", p.maxBytes),
		)
		return nil
	}

	return p.persist(ctx, link, shot)
}

func (p *PreviewProducer) persist(ctx context.Context, link *domain.Link, data []byte) error {
	locator := files.PreviewPath(link.CollectionID, link.ID)
	if err := p.files.CreateFile(locator, data); err != nil {
		return err
	}
	if err := p.store.UpdateLink(ctx, link.ID, domain.LinkUpdate{Preview: &locator}); err != nil {
		return err
	}
	link.Preview = locator
	return nil
}

// metaImageURL extracts the first preview image URL from the document's
// metadata tags, resolved against pageURL. Returns "" when none is present
// or the document cannot be parsed.
func metaImageURL(html, pageURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var content string
	for _, selector := range previewMetaSelectors {
		if value, ok := doc.Find(selector).First().Attr("content"); ok && value != "" {
			content = value
			break
		}
	}
	if content == "" {
		return ""
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return content
	}
	resolved, err := base.Parse(content)
	if err != nil {
		return ""
	}
	return resolved.String()
}
