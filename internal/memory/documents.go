package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ─── Documents ───────────────────────────────────────────────────────────────

const docColumns = `d.id, d.topic, d.keywords, d.purpose, d.content, d.scope, d.quality,
	d.owner, d.origin, d.created_at, d.updated_at, d.expires_at, d.version,
	d.positive_streak, d.negative_streak`

// Commit writes a document atomically. An expectedVersion of zero inserts
// a new document; any other value updates the stored document only if its
// version still matches, otherwise ErrVersionConflict is returned. The
// committed document, with its new version, is returned.
func (s *Store) Commit(ctx context.Context, doc Document, expectedVersion int64) (Document, error) {
	doc = s.normalize(doc)
	if err := doc.validate(); err != nil {
		return Document{}, err
	}
	if expectedVersion == 0 {
		return s.insert(ctx, doc)
	}
	return s.update(ctx, doc, expectedVersion)
}

// CommitCandidate inserts doc at scope new unless a document with the same
// ID already exists. It reports whether a row was written, which makes
// re-running a turn's commit step harmless.
func (s *Store) CommitCandidate(ctx context.Context, doc Document) (bool, error) {
	doc.Scope = ScopeNew
	doc = s.normalize(doc)
	if doc.ID == "" {
		return false, fmt.Errorf("%w: candidate needs a deterministic id", ErrInvalidDocument)
	}
	if err := doc.validate(); err != nil {
		return false, err
	}

	_, err := s.insert(ctx, doc)
	if errors.Is(err, ErrVersionConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) normalize(doc Document) Document {
	doc.Topic = NormalizeTopic(doc.Topic)
	doc.Content = stripPrivateTags(strings.TrimSpace(doc.Content))
	if s.cfg.MaxContentLength > 0 {
		doc.Content = Truncate(doc.Content, s.cfg.MaxContentLength)
	}
	if doc.Scope == "" {
		doc.Scope = ScopeNew
	}
	if doc.Origin == "" {
		doc.Origin = doc.Owner
	}
	doc.ContentTypes = dedupeTypes(doc.ContentTypes)
	return doc
}

func (s *Store) insert(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	doc.Version = 1

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("memory: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = s.execHook(ctx, tx, `
		INSERT INTO documents (id, topic, keywords, purpose, content, scope, quality,
			owner, origin, created_at, updated_at, expires_at, version,
			positive_streak, negative_streak)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Topic, joinKeywords(doc.Keywords), doc.Purpose, doc.Content,
		string(doc.Scope), doc.Quality, nullableString(doc.Owner), doc.Origin,
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt), formatTimePtr(doc.ExpiresAt),
		doc.Version, doc.PositiveStreak, doc.NegativeStreak,
	)
	if isUniqueViolation(err) {
		return Document{}, fmt.Errorf("%w: document %s already exists", ErrVersionConflict, doc.ID)
	}
	if err != nil {
		return Document{}, fmt.Errorf("memory: insert document: %w", err)
	}

	if err := s.writeTypes(ctx, tx, doc.ID, doc.ContentTypes); err != nil {
		return Document{}, err
	}
	if err := s.commitHook(tx); err != nil {
		return Document{}, fmt.Errorf("memory: commit document: %w", err)
	}
	return doc, nil
}

func (s *Store) update(ctx context.Context, doc Document, expectedVersion int64) (Document, error) {
	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("memory: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		storedScope   string
		storedVersion int64
		createdAt     string
	)
	err = tx.QueryRowContext(ctx,
		"SELECT scope, version, created_at FROM documents WHERE id = ?", doc.ID,
	).Scan(&storedScope, &storedVersion, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: document %s", ErrNotFound, doc.ID)
	}
	if err != nil {
		return Document{}, fmt.Errorf("memory: read document: %w", err)
	}
	if storedVersion != expectedVersion {
		return Document{}, fmt.Errorf("%w: document %s is at version %d, commit expected %d",
			ErrVersionConflict, doc.ID, storedVersion, expectedVersion)
	}
	if err := CheckTransition(Scope(storedScope), doc.Scope); err != nil {
		return Document{}, err
	}

	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = s.now().UTC()
	doc.Version = expectedVersion + 1

	res, err := s.execHook(ctx, tx, `
		UPDATE documents
		SET topic = ?, keywords = ?, purpose = ?, content = ?, scope = ?, quality = ?,
		    owner = ?, origin = ?, updated_at = ?, expires_at = ?, version = ?,
		    positive_streak = ?, negative_streak = ?
		WHERE id = ? AND version = ?`,
		doc.Topic, joinKeywords(doc.Keywords), doc.Purpose, doc.Content, string(doc.Scope),
		doc.Quality, nullableString(doc.Owner), doc.Origin, formatTime(doc.UpdatedAt),
		formatTimePtr(doc.ExpiresAt), doc.Version, doc.PositiveStreak, doc.NegativeStreak,
		doc.ID, expectedVersion,
	)
	if err != nil {
		return Document{}, fmt.Errorf("memory: update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Document{}, fmt.Errorf("%w: document %s changed during commit", ErrVersionConflict, doc.ID)
	}

	if _, err := s.execHook(ctx, tx, "DELETE FROM document_types WHERE doc_id = ?", doc.ID); err != nil {
		return Document{}, fmt.Errorf("memory: reset content types: %w", err)
	}
	if err := s.writeTypes(ctx, tx, doc.ID, doc.ContentTypes); err != nil {
		return Document{}, err
	}
	if err := s.commitHook(tx); err != nil {
		return Document{}, fmt.Errorf("memory: commit document: %w", err)
	}
	return doc, nil
}

func (s *Store) writeTypes(ctx context.Context, tx *sql.Tx, id string, types []ContentType) error {
	for _, ct := range types {
		if _, err := s.execHook(ctx, tx,
			"INSERT INTO document_types (doc_id, content_type) VALUES (?, ?)", id, string(ct),
		); err != nil {
			return fmt.Errorf("memory: tag document %s as %s: %w", id, ct, err)
		}
	}
	return nil
}

// Get returns a single document by ID.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	docs, err := s.queryDocuments(ctx, "SELECT "+docColumns+" FROM documents d WHERE d.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return &docs[0], nil
}

// Delete removes a document and its content-type tags.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.execHook(ctx, s.db, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("memory: delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return nil
}

// RecordOutcome applies one downstream outcome to a document's scope
// counters and commits the result. Concurrent writers are retried a few
// times before the conflict is surfaced.
func (s *Store) RecordOutcome(ctx context.Context, id string, positive bool) (Document, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		doc, err := s.Get(ctx, id)
		if err != nil {
			return Document{}, err
		}
		next := ApplyOutcome(*doc, positive, s.cfg.PromoteAfter, s.cfg.DemoteAfter)
		committed, err := s.update(ctx, next, doc.Version)
		if err == nil {
			return committed, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Document{}, err
		}
		lastErr = err
	}
	return Document{}, lastErr
}

// ToolDocumentID is the id of the reliability document kept for a tool.
func ToolDocumentID(tool string) string {
	return "tools/" + tool
}

// RecordToolUse adds ok successes out of total calls to the tool's
// reliability tally. The tally is one global document per tool, created
// on first use and updated with a version check; concurrent writers are
// retried like RecordOutcome.
func (s *Store) RecordToolUse(ctx context.Context, tool string, ok, total int) (Document, error) {
	if tool == "" || total <= 0 || ok < 0 || ok > total {
		return Document{}, fmt.Errorf("%w: tool tally %d/%d for %q", ErrInvalidDocument, ok, total, tool)
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		var (
			doc      Document
			expected int64
		)
		cur, err := s.Get(ctx, ToolDocumentID(tool))
		switch {
		case errors.Is(err, ErrNotFound):
			doc = Document{
				ID:           ToolDocumentID(tool),
				Topic:        "tools/" + tool,
				Keywords:     []string{tool},
				Purpose:      "tool reliability",
				ContentTypes: []ContentType{ContentToolReliability},
				Scope:        ScopeGlobal,
			}
		case err != nil:
			return Document{}, err
		default:
			doc, expected = *cur, cur.Version
		}

		prevOK, prevTotal := ParseToolTally(doc.Content)
		okN, totalN := prevOK+ok, prevTotal+total
		doc.Content = fmt.Sprintf("%s succeeded %d of %d calls", tool, okN, totalN)
		doc.Quality = float64(okN) / float64(totalN)

		committed, err := s.Commit(ctx, doc, expected)
		if err == nil {
			return committed, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Document{}, err
		}
		lastErr = err
	}
	return Document{}, lastErr
}

// ParseToolTally reads the success and call counts back out of a tool
// reliability document's content. Unrecognized content counts as zero.
func ParseToolTally(content string) (ok, total int) {
	i := strings.Index(content, " succeeded ")
	if i < 0 {
		return 0, 0
	}
	if _, err := fmt.Sscanf(content[i:], " succeeded %d of %d calls", &ok, &total); err != nil {
		return 0, 0
	}
	return ok, total
}

// Stats returns aggregate store statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByScope:       map[Scope]int{},
		ByContentType: map[ContentType]int{},
	}
	now := formatTime(s.now().UTC())

	_ = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&stats.Documents)
	_ = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE expires_at IS NOT NULL AND expires_at <= ?", now,
	).Scan(&stats.Expired)
	_ = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM turns WHERE tier = 'active'").Scan(&stats.ActiveTurns)
	_ = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM turns WHERE tier = 'archived'").Scan(&stats.ArchivedTurns)

	rows, err := s.queryItHook(ctx, s.db, "SELECT scope, COUNT(*) FROM documents GROUP BY scope")
	if err != nil {
		return nil, fmt.Errorf("memory: stats by scope: %w", err)
	}
	for rows.Next() {
		var (
			sc string
			n  int
		)
		if err := rows.Scan(&sc, &n); err == nil {
			stats.ByScope[Scope(sc)] = n
		}
	}
	_ = rows.Close()

	rows, err = s.queryItHook(ctx, s.db, "SELECT content_type, COUNT(*) FROM document_types GROUP BY content_type")
	if err != nil {
		return nil, fmt.Errorf("memory: stats by type: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			ct string
			n  int
		)
		if err := rows.Scan(&ct, &n); err == nil {
			stats.ByContentType[ContentType(ct)] = n
		}
	}
	return stats, rows.Err()
}

// ─── Scanning ────────────────────────────────────────────────────────────────

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.queryItHook(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadTypes(ctx, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func scanDocument(rows rowScanner, extra ...any) (Document, error) {
	var (
		d                   Document
		keywords, scope     string
		owner, expiresAt    sql.NullString
		createdAt, updateAt string
	)
	dest := []any{
		&d.ID, &d.Topic, &keywords, &d.Purpose, &d.Content, &scope, &d.Quality,
		&owner, &d.Origin, &createdAt, &updateAt, &expiresAt, &d.Version,
		&d.PositiveStreak, &d.NegativeStreak,
	}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return Document{}, fmt.Errorf("memory: scan document: %w", err)
	}
	d.Keywords = splitKeywords(keywords)
	d.Scope = Scope(scope)
	d.Owner = owner.String
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updateAt)
	if expiresAt.Valid {
		t := parseTime(expiresAt.String)
		d.ExpiresAt = &t
	}
	return d, nil
}

// loadTypes fills ContentTypes for docs with a single query.
func (s *Store) loadTypes(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	idx := make(map[string]int, len(docs))
	args := make([]any, 0, len(docs))
	for i, d := range docs {
		idx[d.ID] = i
		args = append(args, d.ID)
	}

	rows, err := s.queryItHook(ctx, s.db,
		"SELECT doc_id, content_type FROM document_types WHERE doc_id IN ("+placeholders(len(args))+") ORDER BY content_type",
		args...,
	)
	if err != nil {
		return fmt.Errorf("memory: load content types: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, ct string
		if err := rows.Scan(&id, &ct); err != nil {
			return err
		}
		if i, ok := idx[id]; ok {
			docs[i].ContentTypes = append(docs[i].ContentTypes, ContentType(ct))
		}
	}
	return rows.Err()
}
