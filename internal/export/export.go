// Package export renders a board as a portable YAML document.
package export

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/pinboard/internal/board"
)

// Document is the exported form of a board. Ids are omitted: records get
// fresh ids when imported into a store.
type Document struct {
	User       string    `yaml:"user"`
	ExportedAt time.Time `yaml:"exported_at"`
	Lists      []List    `yaml:"lists"`
}

// List is an exported list.
type List struct {
	Name  string  `yaml:"name"`
	Index float64 `yaml:"index"`
	Notes []Note  `yaml:"notes"`
}

// Note is an exported note.
type Note struct {
	Content string  `yaml:"content"`
	Index   float64 `yaml:"index"`
}

// FromBoard builds the export document for b.
func FromBoard(user string, b board.Board, at time.Time) Document {
	doc := Document{User: user, ExportedAt: at.UTC(), Lists: make([]List, len(b.Lists))}
	for i, l := range b.Lists {
		notes := make([]Note, len(l.Notes))
		for j, n := range l.Notes {
			notes[j] = Note{Content: n.Content, Index: n.Index}
		}
		doc.Lists[i] = List{Name: l.Name, Index: l.Index, Notes: notes}
	}
	return doc
}

// Marshal encodes doc as YAML.
func Marshal(doc Document) ([]byte, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("export: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a YAML export.
func Unmarshal(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("export: unmarshal: %w", err)
	}
	return doc, nil
}

// FileName returns the default export file name for t.
func FileName(t time.Time) string {
	return fmt.Sprintf("board-%s.yaml", t.UTC().Format("20060102T150405Z"))
}

// Checksum returns the hex-encoded SHA-256 digest of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
