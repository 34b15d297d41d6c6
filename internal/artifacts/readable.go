// Package artifacts implements the per-artifact capture collaborators: each
// producer writes one artifact file and persists its locator on the link.
// Producers are invoked by the capture coordinator and never recompute an
// artifact that is already present.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/files"
	"github.com/linkhaven/preserver/internal/logger"
)

// LinkUpdater persists artifact locators on a link record.
type LinkUpdater interface {
	UpdateLink(ctx context.Context, id int64, upd domain.LinkUpdate) error
}

// FileStore reads and writes artifact files by relative locator.
type FileStore interface {
	CreateFile(locator string, data []byte) error
	ReadFile(locator string) (files.File, error)
}

// readableDocument is the persisted readable-extract shape.
type readableDocument struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	TextContent string `json:"textContent"`
	Excerpt     string `json:"excerpt,omitempty"`
	Byline      string `json:"byline,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
	Length      int    `json:"length"`
}

// ReadableProducer extracts the readable article view from captured HTML.
type ReadableProducer struct {
	store LinkUpdater
	files FileStore
	log   logger.Logger
}

// NewReadableProducer creates a ReadableProducer.
func NewReadableProducer(store LinkUpdater, fileStore FileStore, log logger.Logger) *ReadableProducer {
	return &ReadableProducer{store: store, files: fileStore, log: log}
}

// Produce runs readability extraction over html and stores the result.
func (p *ReadableProducer) Produce(ctx context.Context, link *domain.Link, html string) error {
	pageURL, err := url.Parse(link.URL)
	if err != nil {
		return fmt.Errorf("parse link url: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return fmt.Errorf("readability extraction: %w", err)
	}

	doc := readableDocument{
		Title:       strings.TrimSpace(article.Title),
		Content:     article.Content,
		TextContent: article.TextContent,
		Excerpt:     article.Excerpt,
		Byline:      article.Byline,
		SiteName:    article.SiteName,
		Length:      article.Length,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode readable document: %w", err)
	}

	locator := files.ReadablePath(link.CollectionID, link.ID)
	if err := p.files.CreateFile(locator, data); err != nil {
		return err
	}

	if err := p.store.UpdateLink(ctx, link.ID, domain.LinkUpdate{Readable: &locator}); err != nil {
		return err
	}
	link.Readable = locator

	p.log.Debug("readable artifact stored",
		logger.Int64("link_id", link.ID),
		logger.Int("length", article.Length),
	)
	return nil
}
