package artifacts

import (
	"context"

	"github.com/linkhaven/preserver/internal/browser"
	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/files"
	"github.com/linkhaven/preserver/internal/logger"
)

// ExportSession is the slice of a browsing session the export producer
// needs.
type ExportSession interface {
	Screenshot(opts browser.ScreenshotOptions) ([]byte, error)
	PDF() ([]byte, error)
}

// ExportProducer captures the rendered page as a full-page screenshot
// and/or a printed PDF, per the run's archival settings.
type ExportProducer struct {
	store LinkUpdater
	files FileStore
	log   logger.Logger
}

// NewExportProducer creates an ExportProducer.
func NewExportProducer(store LinkUpdater, fileStore FileStore, log logger.Logger) *ExportProducer {
	return &ExportProducer{store: store, files: fileStore, log: log}
}

// Produce writes whichever of the two exports is enabled and still pending.
// The two are independent: a screenshot failure does not block the PDF.
func (p *ExportProducer) Produce(ctx context.Context, sess ExportSession, link *domain.Link, settings domain.ArchivalSettings) error {
	var firstErr error

	if settings.Screenshot && !domain.HasArtifact(link.Image) {
		if err := p.screenshot(ctx, sess, link); err != nil {
			firstErr = err
			p.log.Warn("screenshot export failed",
				logger.Int64("link_id", link.ID),
				logger.Error(err),
			)
		}
	}

	if settings.PDF && !domain.HasArtifact(link.PDF) {
		if err := p.pdf(ctx, sess, link); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			p.log.Warn("pdf export failed",
				logger.Int64("link_id", link.ID),
				logger.Error(err),
			)
		}
	}

	return firstErr
}

func (p *ExportProducer) screenshot(ctx context.Context, sess ExportSession, link *domain.Link) error {
	shot, err := sess.Screenshot(browser.ScreenshotOptions{FullPage: true})
	if err != nil {
		return err
	}

	locator := files.ArtifactPath(link.CollectionID, link.ID, "png")
	if err := p.files.CreateFile(locator, shot); err != nil {
		return err
	}
	if err := p.store.UpdateLink(ctx, link.ID, domain.LinkUpdate{Image: &locator}); err != nil {
		return err
	}
	link.Image = locator
	return nil
}

func (p *ExportProducer) pdf(ctx context.Context, sess ExportSession, link *domain.Link) error {
	data, err := sess.PDF()
	if err != nil {
		return err
	}

	locator := files.ArtifactPath(link.CollectionID, link.ID, "pdf")
	if err := p.files.CreateFile(locator, data); err != nil {
		return err
	}
	if err := p.store.UpdateLink(ctx, link.ID, domain.LinkUpdate{PDF: &locator}); err != nil {
		return err
	}
	link.PDF = locator
	return nil
}
