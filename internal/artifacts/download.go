package artifacts

import (
	"context"
	"fmt"

	"github.com/linkhaven/preserver/internal/browser"
	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/files"
	"github.com/linkhaven/preserver/internal/logger"
)

// DownloadSession is the slice of a browsing session the download producers
// need.
type DownloadSession interface {
	Fetch(ctx context.Context, fetchURL, referrer string) (*browser.FetchResult, error)
}

// DownloadProducer preserves non-page resources (direct image and PDF
// links) by fetching their bytes instead of rendering them.
type DownloadProducer struct {
	store LinkUpdater
	files FileStore
	log   logger.Logger
}

// NewDownloadProducer creates a DownloadProducer.
func NewDownloadProducer(store LinkUpdater, fileStore FileStore, log logger.Logger) *DownloadProducer {
	return &DownloadProducer{store: store, files: fileStore, log: log}
}

// Image downloads an image resource and stores it under the classified
// extension.
func (p *DownloadProducer) Image(ctx context.Context, sess DownloadSession, link *domain.Link, ext domain.ImageExtension) error {
	data, err := p.download(ctx, sess, link)
	if err != nil {
		return err
	}

	locator := files.ArtifactPath(link.CollectionID, link.ID, string(ext))
	if err := p.files.CreateFile(locator, data); err != nil {
		return err
	}
	if err := p.store.UpdateLink(ctx, link.ID, domain.LinkUpdate{Image: &locator}); err != nil {
		return err
	}
	link.Image = locator
	return nil
}

// PDF downloads a PDF resource.
func (p *DownloadProducer) PDF(ctx context.Context, sess DownloadSession, link *domain.Link) error {
	data, err := p.download(ctx, sess, link)
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

func (p *DownloadProducer) download(ctx context.Context, sess DownloadSession, link *domain.Link) ([]byte, error) {
	result, err := sess.Fetch(ctx, link.URL, "")
	if err != nil {
		return nil, err
	}
	if result.Status < 200 || result.Status >= 300 {
		return nil, fmt.Errorf("download %s: status %d", link.URL, result.Status)
	}
	return result.Body, nil
}
