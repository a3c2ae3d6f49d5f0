package workspace

import (
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/docstore"
	"github.com/starford/pinboard/internal/models"
)

// Record field names shared by both document kinds.
const (
	fieldName       = "name"
	fieldContent    = "content"
	fieldIsEditable = "isEditable"
	fieldIndex      = "index"
)

const notesColl = "notes"

// User ids become a store path segment and an export folder name.
var userPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@+-]{0,127}$`)

// ErrInvalidUser is returned for user ids that cannot name a board.
var ErrInvalidUser = fmt.Errorf("workspace: invalid user id: %w", apperr.ErrInvalidArgument)

// ValidateUser rejects ids that are not a single safe path segment, such
// as "../other".
func ValidateUser(user string) error {
	if err := validation.Validate(user, validation.Required, validation.Match(userPattern)); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidUser, user, err)
	}
	return nil
}

func listsPath(user string) string {
	return docstore.Join("users", user, "lists")
}

func listPath(user, listID string) string {
	return docstore.Join(listsPath(user), listID)
}

func notesPath(user, listID string) string {
	return docstore.Join(listPath(user, listID), notesColl)
}

func notePath(user, listID, noteID string) string {
	return docstore.Join(notesPath(user, listID), noteID)
}

func listFields(l models.List) docstore.Fields {
	return docstore.Fields{
		fieldName:       l.Name,
		fieldIsEditable: l.IsEditable,
		fieldIndex:      l.Index,
	}
}

func noteFields(n models.Note) docstore.Fields {
	return docstore.Fields{
		fieldContent:    n.Content,
		fieldIsEditable: n.IsEditable,
		fieldIndex:      n.Index,
	}
}

func listFromDoc(d docstore.Document) models.List {
	return models.List{
		ID:         d.ID,
		Name:       d.Fields.String(fieldName),
		IsEditable: d.Fields.Bool(fieldIsEditable),
		Index:      d.Fields.Float(fieldIndex),
	}
}

func noteFromDoc(d docstore.Document) models.Note {
	return models.Note{
		ID:         d.ID,
		Content:    d.Fields.String(fieldContent),
		IsEditable: d.Fields.Bool(fieldIsEditable),
		Index:      d.Fields.Float(fieldIndex),
	}
}
