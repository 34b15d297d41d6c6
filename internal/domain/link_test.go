package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func archivalTag(name string, set func(*Tag)) Tag {
	tag := Tag{Name: name}
	set(&tag)
	return tag
}

func TestResolveArchivalSettings_UserDefaults(t *testing.T) {
	link := &Link{
		Owner: User{
			AsScreenshot:    true,
			AsReadable:      true,
			AiTaggingMethod: "anthropic",
		},
		Tags: []Tag{{Name: "golang"}, {Name: "networking"}},
	}

	settings := ResolveArchivalSettings(link)

	assert.True(t, settings.Screenshot)
	assert.True(t, settings.Readable)
	assert.False(t, settings.Monolith)
	assert.False(t, settings.PDF)
	assert.False(t, settings.Wayback)
	assert.True(t, settings.AiTag)
}

func TestResolveArchivalSettings_TaggingDisabled(t *testing.T) {
	link := &Link{Owner: User{AiTaggingMethod: AiTaggingDisabled}}

	settings := ResolveArchivalSettings(link)

	assert.False(t, settings.AiTag)
}

func TestResolveArchivalSettings_TagsIgnoreUserDefaults(t *testing.T) {
	// The owner wants everything, but an archival tag is present, so the
	// tag alone decides.
	link := &Link{
		Owner: User{
			AsScreenshot:    true,
			AsMonolith:      true,
			AsPDF:           true,
			AsReadable:      true,
			AsWayback:       true,
			AiTaggingMethod: "anthropic",
		},
		Tags: []Tag{
			archivalTag("archive-pdf", func(tag *Tag) { tag.AsPDF = BoolPtr(true) }),
		},
	}

	settings := ResolveArchivalSettings(link)

	assert.True(t, settings.PDF)
	assert.False(t, settings.Screenshot)
	assert.False(t, settings.Monolith)
	assert.False(t, settings.Readable)
	assert.False(t, settings.Wayback)
	assert.False(t, settings.AiTag)
}

func TestResolveArchivalSettings_MultipleTagsOr(t *testing.T) {
	link := &Link{
		Tags: []Tag{
			archivalTag("screenshots", func(tag *Tag) {
				tag.AsScreenshot = BoolPtr(true)
				tag.AsPDF = BoolPtr(false)
			}),
			archivalTag("readables", func(tag *Tag) {
				tag.AsReadable = BoolPtr(true)
				tag.AsScreenshot = BoolPtr(false)
			}),
			{Name: "plain"},
		},
	}

	settings := ResolveArchivalSettings(link)

	assert.True(t, settings.Screenshot, "OR across tags, a false flag never wins")
	assert.True(t, settings.Readable)
	assert.False(t, settings.PDF)
}

func TestTagIsArchival(t *testing.T) {
	plain := Tag{Name: "golang"}
	assert.False(t, plain.IsArchival())

	disabled := archivalTag("no-pdf", func(tag *Tag) { tag.AsPDF = BoolPtr(false) })
	assert.True(t, disabled.IsArchival(), "an explicit false flag still makes the tag archival")
}

func TestHasArtifact(t *testing.T) {
	assert.False(t, HasArtifact(""))
	assert.True(t, HasArtifact("archives/1/2.pdf"))
	assert.True(t, HasArtifact(StatusUnavailable))
}
