// Package history persists committed conversation turns to PostgreSQL.
//
// Each record holds one question/answer exchange: the query, the committed
// model turn as JSONB, and enrichment results that arrive after the commit.
// Workspaces carry a rolling summary of recent activity.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/log"
)

// ErrNotFound indicates the requested record or workspace does not exist.
// Check with errors.Is().
var ErrNotFound = errors.New("record not found")

// DBTX is the subset of pgx operations the store needs. Both *pgxpool.Pool
// and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Record is one persisted exchange.
type Record struct {
	ID          uuid.UUID         `json:"id"`
	WorkspaceID uuid.UUID         `json:"workspace_id"`
	Provider    string            `json:"provider"`
	Deep        bool              `json:"deep"`
	Query       string            `json:"query"`
	Turn        conversation.Turn `json:"turn"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Store manages record persistence.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     DBTX
	logger log.Logger
}

// New creates a Store.
func New(db DBTX, logger log.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

var _ conversation.HistoryStore = (*Store)(nil)

// Insert stores a freshly committed exchange.
func (s *Store) Insert(ctx context.Context, entry conversation.HistoryEntry) error {
	turnJSON, err := json.Marshal(entry.Turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO records (id, workspace_id, provider, deep, query, turn)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuidToPg(entry.ID), uuidToPg(entry.WorkspaceID),
		entry.Provider, entry.Deep, entry.Query, turnJSON)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", entry.ID, err)
	}

	s.logger.Debug("inserted record", "id", entry.ID, "provider", entry.Provider)
	return nil
}

// SetEnrichment attaches late enrichment results to a record. A nil images or
// related slice leaves the stored value untouched, so the two enrichment
// paths can persist independently without clobbering each other.
func (s *Store) SetEnrichment(ctx context.Context, id uuid.UUID, images []conversation.Image, related []string) error {
	var imagesJSON, relatedJSON []byte
	var err error
	if images != nil {
		if imagesJSON, err = json.Marshal(images); err != nil {
			return fmt.Errorf("failed to marshal images: %w", err)
		}
	}
	if related != nil {
		if relatedJSON, err = json.Marshal(related); err != nil {
			return fmt.Errorf("failed to marshal related: %w", err)
		}
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE records
		SET images = COALESCE($2, images),
		    related = COALESCE($3, related),
		    updated_at = now()
		WHERE id = $1`,
		uuidToPg(id), imagesJSON, relatedJSON)
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return nil
}

const recordColumns = `id, workspace_id, provider, deep, query, turn, images, related, created_at, updated_at`

// Get retrieves one record by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = $1`, uuidToPg(id))

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, nil
}

// ListRecent lists records across all workspaces, newest first.
func (s *Store) ListRecent(ctx context.Context, limit, offset int32) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM records ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// RecentWorkspaceTurns lists a workspace's records, newest first. Used to
// build the workspace summary prompt.
func (s *Store) RecentWorkspaceTurns(ctx context.Context, workspaceID uuid.UUID, limit int32) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM records WHERE workspace_id = $1 ORDER BY created_at DESC LIMIT $2`,
		uuidToPg(workspaceID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// Delete removes one record.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM records WHERE id = $1`, uuidToPg(id))
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}

	s.logger.Debug("deleted record", "id", id)
	return nil
}

// WorkspaceSummary returns the stored summary for a workspace.
func (s *Store) WorkspaceSummary(ctx context.Context, workspaceID uuid.UUID) (string, error) {
	var summary string
	err := s.db.QueryRow(ctx,
		`SELECT summary FROM workspaces WHERE id = $1`, uuidToPg(workspaceID)).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("workspace %s: %w", workspaceID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get workspace summary: %w", err)
	}
	return summary, nil
}

// UpsertWorkspaceSummary stores or replaces a workspace summary.
func (s *Store) UpsertWorkspaceSummary(ctx context.Context, workspaceID uuid.UUID, summary string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO workspaces (id, summary)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET summary = EXCLUDED.summary, updated_at = now()`,
		uuidToPg(workspaceID), summary)
	if err != nil {
		return fmt.Errorf("failed to upsert workspace summary: %w", err)
	}
	return nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return records, nil
}

// scanRecord reads one row. The stored turn JSONB is the turn as committed;
// the images and related columns overlay enrichment that landed later.
func scanRecord(row pgx.Row) (Record, error) {
	var (
		id, workspaceID      pgtype.UUID
		turnJSON             []byte
		imagesJSON           []byte
		relatedJSON          []byte
		createdAt, updatedAt pgtype.Timestamptz
		rec                  Record
	)

	err := row.Scan(&id, &workspaceID, &rec.Provider, &rec.Deep, &rec.Query,
		&turnJSON, &imagesJSON, &relatedJSON, &createdAt, &updatedAt)
	if err != nil {
		return Record{}, err
	}

	rec.ID = pgToUUID(id)
	rec.WorkspaceID = pgToUUID(workspaceID)
	rec.CreatedAt = createdAt.Time
	rec.UpdatedAt = updatedAt.Time

	if err := json.Unmarshal(turnJSON, &rec.Turn); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal turn: %w", err)
	}
	if imagesJSON != nil {
		if err := json.Unmarshal(imagesJSON, &rec.Turn.Images); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal images: %w", err)
		}
		rec.Turn.ImagesResolved = true
	}
	if relatedJSON != nil {
		if err := json.Unmarshal(relatedJSON, &rec.Turn.Related); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal related: %w", err)
		}
		rec.Turn.RelatedResolved = true
	}
	return rec, nil
}

func uuidToPg(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgToUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
