// Package conversation owns the streaming question/answer session: the turn
// model, incremental source/citation merging, trailing-table extraction, the
// per-turn state machine, and the post-commit enrichment dispatcher.
package conversation

import (
	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/provider"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Table is a structured comparison table extracted from the end of an answer.
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Image is one discovered illustration for a committed turn.
type Image struct {
	ImageURL  string `json:"imageUrl"`
	SourceURL string `json:"sourceUrl"`
	Title     string `json:"title,omitempty"`
}

// Turn is one half of a question/answer exchange. While a model turn streams
// it is mutable and exclusively owned by the Manager; after commit it is
// read-only except for the enrichment patch fields (Images, Related).
type Turn struct {
	ID         uuid.UUID
	Role       Role
	Content    string
	Sources    []provider.Source
	Citations  []provider.Citation
	Table      *Table
	Attachment *provider.Attachment

	// Images distinguishes three states: not yet attempted
	// (ImagesResolved false), attempted and found none (resolved, empty),
	// and populated.
	Images         []Image
	ImagesResolved bool

	// Related holds follow-up query suggestions patched in after commit.
	// RelatedResolved marks the attempt as finished, even when it produced
	// nothing, so waiters don't block on an empty result.
	Related         []string
	RelatedResolved bool
}

// clone returns an independent copy safe to hand outside the Manager's lock.
func (t *Turn) clone() Turn {
	cp := *t
	cp.Sources = append([]provider.Source(nil), t.Sources...)
	cp.Citations = append([]provider.Citation(nil), t.Citations...)
	cp.Images = append([]Image(nil), t.Images...)
	cp.Related = append([]string(nil), t.Related...)
	if t.Table != nil {
		tbl := Table{
			Headers: append([]string(nil), t.Table.Headers...),
			Rows:    make([][]string, len(t.Table.Rows)),
		}
		for i, row := range t.Table.Rows {
			tbl.Rows[i] = append([]string(nil), row...)
		}
		cp.Table = &tbl
	}
	return cp
}
