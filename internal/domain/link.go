// Package domain defines the core types for link preservation.
package domain

import "time"

// LinkKind classifies a preserved resource by its content type.
type LinkKind string

// Link kinds.
const (
	KindPage  LinkKind = "page"
	KindPDF   LinkKind = "pdf"
	KindImage LinkKind = "image"
)

// ImageExtension is the file extension used for image-kind links.
type ImageExtension string

// Supported image extensions.
const (
	ExtensionPNG  ImageExtension = "png"
	ExtensionJPEG ImageExtension = "jpeg"
)

// StatusUnavailable marks an artifact that could not be produced.
// An empty artifact field means the artifact is still pending.
const StatusUnavailable = "unavailable"

// AiTaggingDisabled is the tagging method value for users who opted out.
const AiTaggingDisabled = "disabled"

// Link is one preserved resource and the state of its artifacts.
// Each artifact field holds a storage locator, StatusUnavailable, or is
// empty while the artifact is pending.
type Link struct {
	ID           int64      `db:"id"`
	URL          string     `db:"url"`
	Name         string     `db:"name"`
	Kind         LinkKind   `db:"type"`
	Preview      string     `db:"preview"`
	Image        string     `db:"image"`
	PDF          string     `db:"pdf"`
	Readable     string     `db:"readable"`
	Monolith     string     `db:"monolith"`
	AiTagged     bool       `db:"ai_tagged"`
	LastPreserve *time.Time `db:"last_preserved"`
	CollectionID int64      `db:"collection_id"`

	Tags  []Tag
	Owner User
}

// HasArtifact reports whether field already resolved to a locator or
// unavailable. Pending fields are empty.
func HasArtifact(field string) bool {
	return field != ""
}

// Tag is a user tag. A tag carrying at least one archival policy flag is an
// archival tag and participates in settings resolution.
type Tag struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`

	AsScreenshot *bool `db:"archive_as_screenshot"`
	AsMonolith   *bool `db:"archive_as_monolith"`
	AsPDF        *bool `db:"archive_as_pdf"`
	AsReadable   *bool `db:"archive_as_readable"`
	AsWayback    *bool `db:"archive_as_wayback"`
	AiTag        *bool `db:"ai_tag"`
}

// IsArchival reports whether the tag carries any archival policy flag.
func (t *Tag) IsArchival() bool {
	return t.AsScreenshot != nil || t.AsMonolith != nil || t.AsPDF != nil ||
		t.AsReadable != nil || t.AsWayback != nil || t.AiTag != nil
}

// User holds the owning user's archival defaults.
type User struct {
	ID              int64  `db:"id"`
	AsScreenshot    bool   `db:"archive_as_screenshot"`
	AsMonolith      bool   `db:"archive_as_monolith"`
	AsPDF           bool   `db:"archive_as_pdf"`
	AsReadable      bool   `db:"archive_as_readable"`
	AsWayback       bool   `db:"archive_as_wayback"`
	AiTaggingMethod string `db:"ai_tagging_method"`
}

// ArchivalSettings is the resolved per-run artifact configuration.
type ArchivalSettings struct {
	Screenshot bool
	Monolith   bool
	PDF        bool
	Readable   bool
	Wayback    bool
	AiTag      bool
}

// ResolveArchivalSettings derives the run settings for a link. If the link
// carries one or more archival tags, each field is the logical OR across
// those tags and the user's defaults are ignored entirely. Otherwise the
// owner's defaults apply.
func ResolveArchivalSettings(link *Link) ArchivalSettings {
	var archival []Tag
	for _, tag := range link.Tags {
		if tag.IsArchival() {
			archival = append(archival, tag)
		}
	}

	if len(archival) == 0 {
		return ArchivalSettings{
			Screenshot: link.Owner.AsScreenshot,
			Monolith:   link.Owner.AsMonolith,
			PDF:        link.Owner.AsPDF,
			Readable:   link.Owner.AsReadable,
			Wayback:    link.Owner.AsWayback,
			AiTag:      link.Owner.AiTaggingMethod != AiTaggingDisabled,
		}
	}

	var settings ArchivalSettings
	for _, tag := range archival {
		settings.Screenshot = settings.Screenshot || boolVal(tag.AsScreenshot)
		settings.Monolith = settings.Monolith || boolVal(tag.AsMonolith)
		settings.PDF = settings.PDF || boolVal(tag.AsPDF)
		settings.Readable = settings.Readable || boolVal(tag.AsReadable)
		settings.Wayback = settings.Wayback || boolVal(tag.AsWayback)
		settings.AiTag = settings.AiTag || boolVal(tag.AiTag)
	}
	return settings
}

func boolVal(b *bool) bool {
	return b != nil && *b
}

// LinkUpdate is a partial update of a link record. Nil fields are left
// untouched by the store.
type LinkUpdate struct {
	Name         *string
	Kind         *LinkKind
	Preview      *string
	Image        *string
	PDF          *string
	Readable     *string
	Monolith     *string
	AiTagged     *bool
	LastPreserve *time.Time
}

// StringPtr is a convenience helper for building LinkUpdate values.
func StringPtr(s string) *string { return &s }

// BoolPtr is a convenience helper for building LinkUpdate values.
func BoolPtr(b bool) *bool { return &b }
