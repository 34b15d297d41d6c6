// Package storage provides the PostgreSQL link store. The store is the
// single point of truth across concurrent preservation runs: finalizers
// re-read from it rather than trusting in-memory state.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/logger"
)

// LinkStore persists links and their artifact state in PostgreSQL.
type LinkStore struct {
	db  *sqlx.DB
	log logger.Logger
}

// NewLinkStore creates a LinkStore.
func NewLinkStore(db *sqlx.DB, log logger.Logger) *LinkStore {
	return &LinkStore{db: db, log: log}
}

// linkRow mirrors the links table with nullable artifact columns.
type linkRow struct {
	ID           int64          `db:"id"`
	URL          sql.NullString `db:"url"`
	Name         string         `db:"name"`
	Kind         sql.NullString `db:"type"`
	Preview      sql.NullString `db:"preview"`
	Image        sql.NullString `db:"image"`
	PDF          sql.NullString `db:"pdf"`
	Readable     sql.NullString `db:"readable"`
	Monolith     sql.NullString `db:"monolith"`
	AiTagged     bool           `db:"ai_tagged"`
	LastPreserve sql.NullTime   `db:"last_preserved"`
	CollectionID int64          `db:"collection_id"`
}

func (r *linkRow) toDomain() *domain.Link {
	link := &domain.Link{
		ID:           r.ID,
		URL:          r.URL.String,
		Name:         r.Name,
		Kind:         domain.LinkKind(r.Kind.String),
		Preview:      r.Preview.String,
		Image:        r.Image.String,
		PDF:          r.PDF.String,
		Readable:     r.Readable.String,
		Monolith:     r.Monolith.String,
		AiTagged:     r.AiTagged,
		CollectionID: r.CollectionID,
	}
	if r.LastPreserve.Valid {
		t := r.LastPreserve.Time
		link.LastPreserve = &t
	}
	return link
}

const selectLinkColumns = `id, url, name, type, preview, image, pdf, readable, monolith,
	ai_tagged, last_preserved, collection_id`

// GetLink loads a link with its tags and owning user.
// Returns domain.ErrLinkNotFound if the record does not exist.
func (s *LinkStore) GetLink(ctx context.Context, id int64) (*domain.Link, error) {
	var row linkRow
	query := `SELECT ` + selectLinkColumns + ` FROM links WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrLinkNotFound
		}
		return nil, fmt.Errorf("get link %d: %w", id, err)
	}

	link := row.toDomain()

	if err := s.loadOwner(ctx, link); err != nil {
		return nil, err
	}
	if err := s.loadTags(ctx, link); err != nil {
		return nil, err
	}

	return link, nil
}

func (s *LinkStore) loadOwner(ctx context.Context, link *domain.Link) error {
	query := `SELECT u.id, u.archive_as_screenshot, u.archive_as_monolith, u.archive_as_pdf,
		u.archive_as_readable, u.archive_as_wayback, u.ai_tagging_method
		FROM users u
		JOIN collections c ON c.owner_id = u.id
		WHERE c.id = $1`
	if err := s.db.GetContext(ctx, &link.Owner, query, link.CollectionID); err != nil {
		return fmt.Errorf("load owner for link %d: %w", link.ID, err)
	}
	return nil
}

func (s *LinkStore) loadTags(ctx context.Context, link *domain.Link) error {
	query := `SELECT t.id, t.name, t.archive_as_screenshot, t.archive_as_monolith,
		t.archive_as_pdf, t.archive_as_readable, t.archive_as_wayback, t.ai_tag
		FROM tags t
		JOIN link_tags lt ON lt.tag_id = t.id
		WHERE lt.link_id = $1`
	if err := s.db.SelectContext(ctx, &link.Tags, query, link.ID); err != nil {
		return fmt.Errorf("load tags for link %d: %w", link.ID, err)
	}
	return nil
}

// UpdateLink applies a partial update. Nil fields in upd are left untouched.
// Updating a missing record returns domain.ErrLinkNotFound.
func (s *LinkStore) UpdateLink(ctx context.Context, id int64, upd domain.LinkUpdate) error {
	assignments, args := buildAssignments(upd)
	if len(assignments) == 0 {
		return nil
	}

	args = append(args, id)
	query := "UPDATE links SET " + strings.Join(assignments, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update link %d: %w", id, err)
	}
	if n, rowsErr := res.RowsAffected(); rowsErr == nil && n == 0 {
		return domain.ErrLinkNotFound
	}
	return nil
}

func buildAssignments(upd domain.LinkUpdate) (assignments []string, args []any) {
	add := func(column string, value any) {
		args = append(args, value)
		assignments = append(assignments, column+" = $"+strconv.Itoa(len(args)))
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Kind != nil {
		add("type", string(*upd.Kind))
	}
	if upd.Preview != nil {
		add("preview", *upd.Preview)
	}
	if upd.Image != nil {
		add("image", *upd.Image)
	}
	if upd.PDF != nil {
		add("pdf", *upd.PDF)
	}
	if upd.Readable != nil {
		add("readable", *upd.Readable)
	}
	if upd.Monolith != nil {
		add("monolith", *upd.Monolith)
	}
	if upd.AiTagged != nil {
		add("ai_tagged", *upd.AiTagged)
	}
	if upd.LastPreserve != nil {
		add("last_preserved", *upd.LastPreserve)
	}
	return assignments, args
}

// SetKind persists the classified resource kind.
func (s *LinkStore) SetKind(ctx context.Context, id int64, kind domain.LinkKind) error {
	k := kind
	return s.UpdateLink(ctx, id, domain.LinkUpdate{Kind: &k})
}

// ListQueued returns links that have never been preserved, oldest first.
func (s *LinkStore) ListQueued(ctx context.Context, limit int) ([]domain.Link, error) {
	var rows []linkRow
	query := `SELECT ` + selectLinkColumns + ` FROM links
		WHERE last_preserved IS NULL
		ORDER BY id
		LIMIT $1`
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list queued links: %w", err)
	}

	links := make([]domain.Link, 0, len(rows))
	for i := range rows {
		link := rows[i].toDomain()
		if err := s.loadOwner(ctx, link); err != nil {
			return nil, err
		}
		if err := s.loadTags(ctx, link); err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, nil
}

// AttachTags creates any missing tags for the link's owner, associates them
// with the link and marks the link as AI-tagged, all in one transaction.
func (s *LinkStore) AttachTags(ctx context.Context, linkID int64, ownerID int64, names []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attach tags: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		var tagID int64
		insert := `INSERT INTO tags (name, owner_id) VALUES ($1, $2)
			ON CONFLICT (name, owner_id) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`
		if err := tx.GetContext(ctx, &tagID, insert, name, ownerID); err != nil {
			return fmt.Errorf("upsert tag %q: %w", name, err)
		}

		assoc := `INSERT INTO link_tags (link_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, assoc, linkID, tagID); err != nil {
			return fmt.Errorf("associate tag %q: %w", name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE links SET ai_tagged = TRUE WHERE id = $1`, linkID); err != nil {
		return fmt.Errorf("mark link %d tagged: %w", linkID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attach tags: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *LinkStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
