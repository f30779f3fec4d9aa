package memory

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ─── Turn archive ────────────────────────────────────────────────────────────

// Tier is the storage tier of a turn record.
type Tier string

const (
	TierActive   Tier = "active"
	TierArchived Tier = "archived"
)

// TurnEntry is the stored form of one turn. Record holds the full turn
// record as JSON; the other fields form the summary index that stays in
// place after the record moves to cold storage.
type TurnEntry struct {
	UserID        string          `json:"user_id"`
	Number        int64           `json:"number"`
	TraceID       string          `json:"trace_id"`
	Outcome       string          `json:"outcome"`
	Query         string          `json:"query"`
	ResolvedQuery string          `json:"resolved_query,omitempty"`
	Answer        string          `json:"answer,omitempty"`
	Summary       string          `json:"summary"`
	Record        json.RawMessage `json:"record,omitempty"`
	Tier          Tier            `json:"tier"`
	CreatedAt     time.Time       `json:"created_at"`
	ArchivedAt    *time.Time      `json:"archived_at,omitempty"`
}

// TurnDocumentID returns the ID of the turn-record document indexed for
// a turn.
func TurnDocumentID(traceID string) string {
	return "turn-" + traceID
}

// NextTurnNumber allocates the next turn number for a user. Numbers are
// strictly increasing per user and never reused.
func (s *Store) NextTurnNumber(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("memory: next turn number: user id is required")
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO turn_counters (user_id, last_number) VALUES (?, 1)
		ON CONFLICT(user_id) DO UPDATE SET last_number = last_number + 1
		RETURNING last_number`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("memory: next turn number: %w", err)
	}
	return n, nil
}

// SaveTurn stores a turn in the active tier. Saving the same user and
// number twice keeps the first write.
func (s *Store) SaveTurn(ctx context.Context, e TurnEntry) error {
	if e.UserID == "" || e.Number <= 0 || e.TraceID == "" {
		return fmt.Errorf("memory: save turn: user, number and trace id are required")
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.execHook(ctx, s.db, `
		INSERT INTO turns (user_id, number, trace_id, outcome, query, resolved_query,
			answer, summary, record, tier, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?)
		ON CONFLICT DO NOTHING`,
		e.UserID, e.Number, e.TraceID, e.Outcome, e.Query, e.ResolvedQuery,
		Truncate(e.Answer, 1000), e.Summary, string(e.Record), formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("memory: save turn: %w", err)
	}
	return nil
}

// LoadTurn returns a turn with its full record, reading cold storage for
// archived turns.
func (s *Store) LoadTurn(ctx context.Context, userID string, number int64) (*TurnEntry, error) {
	rows, err := s.queryItHook(ctx, s.db, `
		SELECT user_id, number, trace_id, outcome, query, resolved_query, answer, summary,
		       record, tier, created_at, archived_at
		FROM turns WHERE user_id = ? AND number = ?`, userID, number)
	if err != nil {
		return nil, fmt.Errorf("memory: load turn: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: turn %s#%d", ErrNotFound, userID, number)
	}
	e, record, err := scanTurn(rows)
	if err != nil {
		return nil, err
	}
	_ = rows.Close()

	if e.Tier == TierActive {
		e.Record = json.RawMessage(record.String)
		return &e, nil
	}

	var blob []byte
	err = s.db.QueryRowContext(ctx, "SELECT record FROM turn_cold WHERE trace_id = ?", e.TraceID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cold record for turn %s", ErrNotFound, e.TraceID)
	}
	if err != nil {
		return nil, fmt.Errorf("memory: read cold record: %w", err)
	}
	raw, err := gunzip(blob)
	if err != nil {
		return nil, fmt.Errorf("memory: decompress cold record: %w", err)
	}
	e.Record = raw
	return &e, nil
}

// RecentTurns returns the summary index of a user's most recent turns,
// newest first. Records are not included.
func (s *Store) RecentTurns(ctx context.Context, userID string, limit int) ([]TurnEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.queryItHook(ctx, s.db, `
		SELECT user_id, number, trace_id, outcome, query, resolved_query, answer, summary,
		       NULL, tier, created_at, archived_at
		FROM turns WHERE user_id = ?
		ORDER BY number DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: recent turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TurnEntry
	for rows.Next() {
		e, _, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanTurn(rows rowScanner) (TurnEntry, sql.NullString, error) {
	var (
		e                  TurnEntry
		record, archivedAt sql.NullString
		tier, createdAt    string
	)
	if err := rows.Scan(&e.UserID, &e.Number, &e.TraceID, &e.Outcome, &e.Query, &e.ResolvedQuery,
		&e.Answer, &e.Summary, &record, &tier, &createdAt, &archivedAt); err != nil {
		return TurnEntry{}, record, fmt.Errorf("memory: scan turn: %w", err)
	}
	e.Tier = Tier(tier)
	e.CreatedAt = parseTime(createdAt)
	if archivedAt.Valid {
		t := parseTime(archivedAt.String)
		e.ArchivedAt = &t
	}
	return e, record, nil
}

// ArchiveTurnsOlderThan moves active turns older than horizon to the
// archived tier. Each turn is moved in its own transaction: the full
// record is compressed into cold storage, the summary index stays, and
// the turn-record document is rewritten to the summary. Nothing is
// deleted. It returns the number of turns archived.
func (s *Store) ArchiveTurnsOlderThan(ctx context.Context, horizon time.Duration) (int, error) {
	now := s.now().UTC()
	cutoff := formatTime(now.Add(-horizon))

	rows, err := s.queryItHook(ctx, s.db, `
		SELECT trace_id, summary, record FROM turns
		WHERE tier = 'active' AND created_at < ?
		ORDER BY created_at`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("memory: list turns to archive: %w", err)
	}
	type pending struct {
		traceID, summary string
		record           sql.NullString
	}
	var batch []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.traceID, &p.summary, &p.record); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("memory: scan turn to archive: %w", err)
		}
		batch = append(batch, p)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	archived := 0
	for _, p := range batch {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		if err := s.archiveTurn(ctx, p.traceID, p.summary, p.record.String, now); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}

func (s *Store) archiveTurn(ctx context.Context, traceID, summary, record string, now time.Time) error {
	blob, err := gzipBytes([]byte(record))
	if err != nil {
		return fmt.Errorf("memory: compress turn %s: %w", traceID, err)
	}

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return fmt.Errorf("memory: begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stamp := formatTime(now)
	if _, err := s.execHook(ctx, tx,
		"INSERT OR REPLACE INTO turn_cold (trace_id, record, archived_at) VALUES (?, ?, ?)",
		traceID, blob, stamp,
	); err != nil {
		return fmt.Errorf("memory: write cold record: %w", err)
	}
	if _, err := s.execHook(ctx, tx,
		"UPDATE turns SET record = NULL, tier = 'archived', archived_at = ? WHERE trace_id = ?",
		stamp, traceID,
	); err != nil {
		return fmt.Errorf("memory: mark turn archived: %w", err)
	}
	if _, err := s.execHook(ctx, tx,
		"UPDATE documents SET content = ?, updated_at = ?, version = version + 1 WHERE id = ?",
		summary, stamp, TurnDocumentID(traceID),
	); err != nil {
		return fmt.Errorf("memory: summarize turn document: %w", err)
	}
	if err := s.commitHook(tx); err != nil {
		return fmt.Errorf("memory: commit archive: %w", err)
	}
	return nil
}

// ─── Checkpoints ─────────────────────────────────────────────────────────────

// Checkpoint is the in-flight state of a turn, saved after each stage so
// the turn can resume from storage alone.
type Checkpoint struct {
	TraceID   string          `json:"trace_id"`
	UserID    string          `json:"user_id"`
	Number    int64           `json:"number"`
	Stage     string          `json:"stage"`
	Record    json.RawMessage `json:"record"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SaveCheckpoint upserts the checkpoint for a trace.
func (s *Store) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := s.execHook(ctx, s.db, `
		INSERT INTO checkpoints (trace_id, user_id, number, stage, record, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id) DO UPDATE SET
			stage = excluded.stage, record = excluded.record, updated_at = excluded.updated_at`,
		cp.TraceID, cp.UserID, cp.Number, cp.Stage, string(cp.Record), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("memory: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the checkpoint for a trace.
func (s *Store) LoadCheckpoint(ctx context.Context, traceID string) (*Checkpoint, error) {
	var (
		cp              Checkpoint
		record, updated string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT trace_id, user_id, number, stage, record, updated_at FROM checkpoints WHERE trace_id = ?",
		traceID,
	).Scan(&cp.TraceID, &cp.UserID, &cp.Number, &cp.Stage, &record, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: checkpoint %s", ErrNotFound, traceID)
	}
	if err != nil {
		return nil, fmt.Errorf("memory: load checkpoint: %w", err)
	}
	cp.Record = json.RawMessage(record)
	cp.UpdatedAt = parseTime(updated)
	return &cp, nil
}

// DeleteCheckpoint removes a trace's checkpoint. Missing checkpoints are
// not an error.
func (s *Store) DeleteCheckpoint(ctx context.Context, traceID string) error {
	if _, err := s.execHook(ctx, s.db, "DELETE FROM checkpoints WHERE trace_id = ?", traceID); err != nil {
		return fmt.Errorf("memory: delete checkpoint: %w", err)
	}
	return nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()
	return io.ReadAll(zr)
}
