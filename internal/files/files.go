// Package files implements filesystem storage for preservation artifacts.
// Locators persisted on links are paths relative to the store root, so the
// archive directory can be relocated without rewriting records.
package files

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Store reads and writes artifact files under a root directory.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// ArtifactPath returns the relative locator for a link artifact.
func ArtifactPath(collectionID, linkID int64, ext string) string {
	return filepath.Join("archives", strconv.FormatInt(collectionID, 10),
		strconv.FormatInt(linkID, 10)+"."+ext)
}

// ReadablePath returns the relative locator for a link's readable extract.
func ReadablePath(collectionID, linkID int64) string {
	return filepath.Join("archives", strconv.FormatInt(collectionID, 10),
		strconv.FormatInt(linkID, 10)+"_readability.json")
}

// PreviewPath returns the relative locator for a link preview image.
func PreviewPath(collectionID, linkID int64) string {
	return filepath.Join("archives", "preview", strconv.FormatInt(collectionID, 10),
		strconv.FormatInt(linkID, 10)+".jpeg")
}

// EnsureLinkFolders creates the artifact and preview directories for a
// collection.
func (s *Store) EnsureLinkFolders(collectionID int64) error {
	cid := strconv.FormatInt(collectionID, 10)
	for _, dir := range []string{
		filepath.Join(s.root, "archives", cid),
		filepath.Join(s.root, "archives", "preview", cid),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create folder %s: %w", dir, err)
		}
	}
	return nil
}

// File is the content of a stored artifact.
type File struct {
	ContentType string
	Data        []byte
}

// ReadFile reads an artifact by its relative locator.
func (s *Store) ReadFile(locator string) (File, error) {
	data, err := os.ReadFile(filepath.Join(s.root, locator))
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", locator, err)
	}
	return File{ContentType: detectContentType(locator, data), Data: data}, nil
}

// CreateFile writes an artifact at its relative locator, creating parent
// directories as needed.
func (s *Store) CreateFile(locator string, data []byte) error {
	full := filepath.Join(s.root, locator)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create folder for %s: %w", locator, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", locator, err)
	}
	return nil
}

// RemoveAll deletes every artifact file belonging to a link, including its
// preview. Used when the link record vanished mid-run.
func (s *Store) RemoveAll(linkID, collectionID int64) error {
	cid := strconv.FormatInt(collectionID, 10)
	lid := strconv.FormatInt(linkID, 10)

	var matches []string
	for _, pattern := range []string{
		filepath.Join(s.root, "archives", cid, lid+".*"),
		filepath.Join(s.root, "archives", cid, lid+"_*"),
	} {
		found, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("glob %s: %w", pattern, err)
		}
		matches = append(matches, found...)
	}
	matches = append(matches, filepath.Join(s.root, "archives", "preview", cid, lid+".jpeg"))

	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}

// detectContentType resolves a content type from the file extension,
// falling back to content sniffing.
func detectContentType(locator string, data []byte) string {
	if typ := mime.TypeByExtension(filepath.Ext(locator)); typ != "" {
		return strings.Split(typ, ";")[0]
	}
	return strings.Split(http.DetectContentType(data), ";")[0]
}
