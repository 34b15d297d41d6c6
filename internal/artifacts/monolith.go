package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/files"
	"github.com/linkhaven/preserver/internal/logger"
)

// MonolithProducer builds the single-file HTML snapshot by piping the
// captured document through the external monolith binary. The run context
// is passed through so deadline expiry kills the process.
type MonolithProducer struct {
	binary string
	store  LinkUpdater
	files  FileStore
	log    logger.Logger
}

// NewMonolithProducer creates a MonolithProducer using the given binary.
func NewMonolithProducer(binary string, store LinkUpdater, fileStore FileStore, log logger.Logger) *MonolithProducer {
	return &MonolithProducer{binary: binary, store: store, files: fileStore, log: log}
}

// Produce snapshots html into a self-contained document. The base URL is
// taken from the link so the binary can inline relative resources.
func (p *MonolithProducer) Produce(ctx context.Context, link *domain.Link, html string) error {
	// -: read the document from stdin; -I: isolate the result;
	// -b: resolve relative resources against the original URL;
	// -o -: write the result to stdout.
	cmd := exec.CommandContext(ctx, p.binary, "-", "-I", "-b", link.URL, "-o", "-")
	cmd.Stdin = strings.NewReader(html)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("monolith snapshot for %s: %w (%s)",
			link.URL, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return fmt.Errorf("monolith snapshot for %s: empty output", link.URL)
	}

	locator := files.ArtifactPath(link.CollectionID, link.ID, "html")
	if err := p.files.CreateFile(locator, stdout.Bytes()); err != nil {
		return err
	}
	if err := p.store.UpdateLink(ctx, link.ID, domain.LinkUpdate{Monolith: &locator}); err != nil {
		return err
	}
	link.Monolith = locator

	p.log.Debug("monolith artifact stored",
		logger.Int64("link_id", link.ID),
		logger.Int("bytes", stdout.Len()),
	)
	return nil
}
