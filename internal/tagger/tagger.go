// Package tagger derives tags for a preserved link with an AI provider.
package tagger

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linkhaven/preserver/internal/config"
	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/logger"
)

// TagStore persists derived tags against a link.
type TagStore interface {
	AttachTags(ctx context.Context, linkID, ownerID int64, names []string) error
}

// Tagger asks the AI provider for tags describing a link and persists them.
type Tagger struct {
	client  anthropic.Client
	model   string
	maxTags int
	store   TagStore
	log     logger.Logger
}

// New creates a Tagger from the tagging configuration.
func New(cfg config.TaggingConfig, store TagStore, log logger.Logger) *Tagger {
	return &Tagger{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
		model:   cfg.Model,
		maxTags: cfg.MaxTags,
		store:   store,
		log:     log,
	}
}

// Tag derives up to maxTags tags from the link's metadata and attaches them.
func (t *Tagger) Tag(ctx context.Context, link *domain.Link, description string) error {
	prompt := t.buildPrompt(link, description)

	msg, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(t.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return fmt.Errorf("tagging request for link %d: %w", link.ID, err)
	}

	tags := parseTags(responseText(msg), t.maxTags)
	if len(tags) == 0 {
		return fmt.Errorf("tagging for link %d produced no tags", link.ID)
	}

	if err := t.store.AttachTags(ctx, link.ID, link.Owner.ID, tags); err != nil {
		return err
	}
	link.AiTagged = true

	t.log.Info("link auto-tagged",
		logger.Int64("link_id", link.ID),
		logger.Any("tags", tags),
	)
	return nil
}

func (t *Tagger) buildPrompt(link *domain.Link, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest up to %d short topical tags for the bookmarked page below.\n", t.maxTags)
	b.WriteString("Reply with the tags only, comma-separated, no commentary.\n\n")
	fmt.Fprintf(&b, "URL: %s\n", link.URL)
	if link.Name != "" {
		fmt.Fprintf(&b, "Title: %s\n", link.Name)
	}
	if description != "" {
		fmt.Fprintf(&b, "Description: %s\n", description)
	}
	return b.String()
}

func responseText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		b.WriteString(block.Text)
	}
	return b.String()
}

// parseTags splits a comma- or newline-separated tag list, trimming
// whitespace and list markers.
func parseTags(raw string, limit int) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n'
	})

	var tags []string
	for _, field := range fields {
		tag := strings.Trim(strings.TrimSpace(field), "-*# ")
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
		if len(tags) == limit {
			break
		}
	}
	return tags
}
