package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ------------------------------------------------------------------
// Responses

func (s *PostgresStore) ListResponses(ctx context.Context, userID string, step, variant int) ([]ResponseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, step_number, variant_number, section_title, question_key, response_text, created_at, updated_at
		FROM responses
		WHERE user_id=$1 AND step_number=$2 AND variant_number=$3
		ORDER BY section_title, question_key
	`, userID, step, variant)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	items := make([]ResponseRecord, 0)
	for rows.Next() {
		var item ResponseRecord
		if err := rows.Scan(&item.ID, &item.UserID, &item.Step, &item.Variant, &item.Section, &item.Question, &item.Text, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetResponse(ctx context.Context, userID string, step, variant int, section, question string) (ResponseRecord, error) {
	var item ResponseRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, step_number, variant_number, section_title, question_key, response_text, created_at, updated_at
		FROM responses
		WHERE user_id=$1 AND step_number=$2 AND variant_number=$3 AND section_title=$4 AND question_key=$5
	`, userID, step, variant, section, question).Scan(
		&item.ID, &item.UserID, &item.Step, &item.Variant, &item.Section, &item.Question, &item.Text, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return ResponseRecord{}, err
	}
	return item, nil
}

// UpsertResponse commits one answer by its five-part key. Committing the same
// value twice yields the same row, so retries are safe.
func (s *PostgresStore) UpsertResponse(ctx context.Context, item ResponseRecord) (ResponseRecord, error) {
	var saved ResponseRecord
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO responses (id, user_id, step_number, variant_number, section_title, question_key, response_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, step_number, variant_number, section_title, question_key)
		DO UPDATE SET response_text=EXCLUDED.response_text, updated_at=NOW()
		RETURNING id, user_id, step_number, variant_number, section_title, question_key, response_text, created_at, updated_at
	`, item.ID, item.UserID, item.Step, item.Variant, item.Section, item.Question, item.Text).Scan(
		&saved.ID, &saved.UserID, &saved.Step, &saved.Variant, &saved.Section, &saved.Question, &saved.Text, &saved.CreatedAt, &saved.UpdatedAt,
	)
	if err != nil {
		return ResponseRecord{}, fmt.Errorf("upsert response: %w", err)
	}
	return saved, nil
}

// UpsertResponseBatch commits a migration batch in a single transaction so
// legacy-cache deletion can be gated on the whole batch.
func (s *PostgresStore) UpsertResponseBatch(ctx context.Context, items []ResponseRecord) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO responses (id, user_id, step_number, variant_number, section_title, question_key, response_text)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, step_number, variant_number, section_title, question_key)
			DO UPDATE SET response_text=EXCLUDED.response_text, updated_at=NOW()
		`, item.ID, item.UserID, item.Step, item.Variant, item.Section, item.Question, item.Text); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("batch upsert response: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteResponse(ctx context.Context, userID string, step, variant int, section, question string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM responses
		WHERE user_id=$1 AND step_number=$2 AND variant_number=$3 AND section_title=$4 AND question_key=$5
	`, userID, step, variant, section, question)
	if err != nil {
		return fmt.Errorf("delete response: %w", err)
	}
	return nil
}

// ------------------------------------------------------------------
// Completion marks

func (s *PostgresStore) ListCompletions(ctx context.Context, userID string) ([]CompletionMark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, step_number, variant_number, section_title, created_at
		FROM completion_marks
		WHERE user_id=$1
		ORDER BY step_number, variant_number, section_title
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	items := make([]CompletionMark, 0)
	for rows.Next() {
		var item CompletionMark
		if err := rows.Scan(&item.UserID, &item.Step, &item.Variant, &item.Section, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completions: %w", err)
	}
	return items, nil
}

// MarkComplete is idempotent: marking an already-marked section is a no-op.
func (s *PostgresStore) MarkComplete(ctx context.Context, mark CompletionMark) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO completion_marks (user_id, step_number, variant_number, section_title)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, step_number, variant_number, section_title) DO NOTHING
	`, mark.UserID, mark.Step, mark.Variant, mark.Section)
	if err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnmarkComplete(ctx context.Context, mark CompletionMark) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM completion_marks
		WHERE user_id=$1 AND step_number=$2 AND variant_number=$3 AND section_title=$4
	`, mark.UserID, mark.Step, mark.Variant, mark.Section)
	if err != nil {
		return fmt.Errorf("unmark complete: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsMarkedComplete(ctx context.Context, mark CompletionMark) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM completion_marks
			WHERE user_id=$1 AND step_number=$2 AND variant_number=$3 AND section_title=$4
		)
	`, mark.UserID, mark.Step, mark.Variant, mark.Section).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check completion: %w", err)
	}
	return exists, nil
}

// ------------------------------------------------------------------
// Transcripts

const transcriptColumns = `id, user_id, title, content, status, object_key, extracted, created_at, updated_at`

func scanTranscript(row interface{ Scan(...any) error }) (Transcript, error) {
	var item Transcript
	var extracted sql.NullString
	err := row.Scan(&item.ID, &item.UserID, &item.Title, &item.Content, &item.Status, &item.ObjectKey, &extracted, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Transcript{}, err
	}
	if extracted.Valid {
		item.Extracted = json.RawMessage(extracted.String)
	}
	return item, nil
}

func (s *PostgresStore) ListTranscripts(ctx context.Context, userID string) ([]Transcript, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transcriptColumns+`
		FROM transcripts
		WHERE user_id=$1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	items := make([]Transcript, 0)
	for rows.Next() {
		item, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTranscript(ctx context.Context, id string) (Transcript, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transcriptColumns+`
		FROM transcripts
		WHERE id=$1
	`, id)
	return scanTranscript(row)
}

func (s *PostgresStore) InsertTranscript(ctx context.Context, item Transcript) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, user_id, title, content, status, object_key)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.UserID, item.Title, item.Content, item.Status, item.ObjectKey)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTranscriptContent(ctx context.Context, id, title, content string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transcripts
		SET title=$2, content=$3, updated_at=NOW()
		WHERE id=$1
	`, id, title, content)
	if err != nil {
		return fmt.Errorf("update transcript content: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTranscript(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM transcripts
		WHERE id=$1
	`, id)
	if err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	return nil
}

// BeginProcessing persists the processing status before the slow external call
// is issued, so a reload during processing still shows processing. Returns
// false when the transcript is not in a processable state.
func (s *PostgresStore) BeginProcessing(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transcripts
		SET status='processing', updated_at=NOW()
		WHERE id=$1 AND status IN ('draft', 'updated')
	`, id)
	if err != nil {
		return false, fmt.Errorf("begin processing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("begin processing rows: %w", err)
	}
	return n > 0, nil
}

// FinishProcessing records extracted results and moves processing → processed.
// Returns false when the row is no longer processing (e.g. a watchdog reverted it).
func (s *PostgresStore) FinishProcessing(ctx context.Context, id string, extracted json.RawMessage) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transcripts
		SET status='processed', extracted=$2, updated_at=NOW()
		WHERE id=$1 AND status='processing'
	`, id, string(extracted))
	if err != nil {
		return false, fmt.Errorf("finish processing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish processing rows: %w", err)
	}
	return n > 0, nil
}

// RevertProcessing moves processing → draft on confirmed failure. Reverting a
// row that is not processing is a no-op, so concurrent watchdogs are safe.
func (s *PostgresStore) RevertProcessing(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transcripts
		SET status='draft', updated_at=NOW()
		WHERE id=$1 AND status='processing'
	`, id)
	if err != nil {
		return false, fmt.Errorf("revert processing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revert processing rows: %w", err)
	}
	return n > 0, nil
}

// MarkUpdated moves processed → updated when a processed transcript is edited.
func (s *PostgresStore) MarkUpdated(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transcripts
		SET status='updated', updated_at=NOW()
		WHERE id=$1 AND status='processed'
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark updated: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark updated rows: %w", err)
	}
	return n > 0, nil
}

// ResetStaleProcessing reverts every processing transcript untouched since the
// cutoff back to draft. Best-effort watchdog; racing callers both succeed.
func (s *PostgresStore) ResetStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transcripts
		SET status='draft', updated_at=NOW()
		WHERE status='processing' AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale processing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset stale rows: %w", err)
	}
	return n, nil
}

// CountProcessing reports how many of the user's transcripts are still
// processing. Used by the recovery check before reverting on failure.
func (s *PostgresStore) CountProcessing(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transcripts WHERE user_id=$1 AND status='processing'
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count processing: %w", err)
	}
	return count, nil
}
