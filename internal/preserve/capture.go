package preserve

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/logger"
)

// capture produces the page-kind artifacts in their fixed order. Later
// steps depend on page state established earlier, so the order is not
// reorderable. Per-artifact failures are isolated: they are logged and
// the remaining artifacts still run.
func (p *Preserver) capture(ctx context.Context, r *run, sess Session) error {
	link := r.link
	settings := r.settings

	// A single-file snapshot produced by an earlier run replaces the live
	// DOM so every artifact below reflects the preserved content.
	if strings.HasSuffix(link.Monolith, ".html") {
		if err := p.substituteMonolith(sess, link); err != nil {
			p.log.Warn("could not substitute stored snapshot content",
				logger.Int64("link_id", link.ID),
				logger.Error(err),
			)
		}
	}

	html, err := sess.HTML()
	if err != nil {
		return err
	}
	description := metaDescription(html)

	pageURL, err := sess.Location()
	if err != nil || pageURL == "" {
		pageURL = link.URL
	}

	if !domain.HasArtifact(link.Preview) {
		p.produce(ctx, link, "preview", func() error {
			return p.producers.Preview(ctx, sess, link, html, pageURL)
		})
	}

	if settings.Readable && !domain.HasArtifact(link.Readable) {
		p.produce(ctx, link, "readable", func() error {
			return p.producers.Readable(ctx, link, html)
		})
	}

	if (settings.Screenshot && !domain.HasArtifact(link.Image)) ||
		(settings.PDF && !domain.HasArtifact(link.PDF)) {
		p.produce(ctx, link, "export", func() error {
			return p.producers.Export(ctx, sess, link, settings)
		})
	}

	if settings.AiTag && link.Owner.AiTaggingMethod != domain.AiTaggingDisabled &&
		!link.AiTagged && p.tagger != nil {
		p.produce(ctx, link, "tags", func() error {
			return p.tagger.Tag(ctx, link, description)
		})
	}

	if settings.Monolith && !domain.HasArtifact(link.Monolith) && link.URL != "" {
		p.produce(ctx, link, "monolith", func() error {
			return p.producers.Monolith(ctx, link, html)
		})
	}

	return nil
}

// produce runs one artifact step, logging and counting its outcome. Errors
// never propagate; a failed artifact stays pending for the finalizer.
func (p *Preserver) produce(ctx context.Context, link *domain.Link, kind string, fn func() error) {
	if ctx.Err() != nil {
		return
	}
	if err := fn(); err != nil {
		p.metrics.ArtifactsTotal.WithLabelValues(kind, "error").Inc()
		p.log.Warn("artifact capture failed",
			logger.Int64("link_id", link.ID),
			logger.String("artifact", kind),
			logger.String("url", link.URL),
			logger.Error(err),
		)
		return
	}
	p.metrics.ArtifactsTotal.WithLabelValues(kind, "ok").Inc()
}

// substituteMonolith loads the stored single-file snapshot into the live
// page in place of the fetched DOM.
func (p *Preserver) substituteMonolith(sess Session, link *domain.Link) error {
	file, err := p.files.ReadFile(link.Monolith)
	if err != nil {
		return err
	}
	if file.ContentType != "text/html" {
		return nil
	}
	return sess.SetContent(string(file.Data), link.URL)
}

// metaDescription extracts the document's meta description, or "".
func metaDescription(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	content, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	return strings.TrimSpace(content)
}
