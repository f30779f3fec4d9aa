package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ─── Search (FTS5) ───────────────────────────────────────────────────────────

// relevanceWeight is the share of Score taken by text relevance; quality
// takes the rest.
const relevanceWeight = 0.7

// Search performs full-text search across documents with structured
// filters. Results are ordered by Score. If the text is empty or only
// stopwords, it falls back to the most recent matching documents.
func (s *Store) Search(ctx context.Context, q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > s.cfg.MaxSearchResults {
		limit = s.cfg.MaxSearchResults
	}

	where, args := s.filterClause(q)
	ftsQuery := sanitizeFTS(q.Text)

	var sqlStr string
	if ftsQuery == "" {
		sqlStr = "SELECT " + docColumns + `, 0 AS rank
			FROM documents d
			WHERE 1 = 1` + where + `
			ORDER BY d.created_at DESC LIMIT ?`
	} else {
		sqlStr = "SELECT " + docColumns + `, fts.rank
			FROM documents_fts fts
			JOIN documents d ON d.seq = fts.rowid
			WHERE documents_fts MATCH ?` + where + `
			ORDER BY fts.rank LIMIT ?`
		args = append([]any{ftsQuery}, args...)
	}
	// Over-fetch so quality can reorder near-ties before the cut.
	args = append(args, limit*2)

	rows, err := s.queryItHook(ctx, s.db, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Result
	for rows.Next() {
		var rank float64
		d, err := scanDocument(rows, &rank)
		if err != nil {
			return nil, err
		}
		rel := relevanceFromRank(rank)
		results = append(results, Result{
			Document:  d,
			Relevance: rel,
			Score:     relevanceWeight*rel + (1-relevanceWeight)*d.Quality,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}

	docs := make([]Document, len(results))
	for i := range results {
		docs[i] = results[i].Document
	}
	if err := s.loadTypes(ctx, docs); err != nil {
		return nil, err
	}
	for i := range results {
		results[i].ContentTypes = docs[i].ContentTypes
	}
	return results, nil
}

func (s *Store) filterClause(q Query) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)

	if q.TopicPrefix != "" {
		topic := NormalizeTopic(q.TopicPrefix)
		b.WriteString(" AND (d.topic = ? OR d.topic LIKE ?)")
		args = append(args, topic, topic+"/%")
	}
	if len(q.ContentTypes) > 0 {
		b.WriteString(" AND EXISTS (SELECT 1 FROM document_types t WHERE t.doc_id = d.id AND t.content_type IN (" +
			placeholders(len(q.ContentTypes)) + "))")
		for _, ct := range q.ContentTypes {
			args = append(args, string(ct))
		}
	}
	if len(q.Scopes) > 0 {
		b.WriteString(" AND d.scope IN (" + placeholders(len(q.Scopes)) + ")")
		for _, sc := range q.Scopes {
			args = append(args, string(sc))
		}
	}
	if q.MinQuality > 0 {
		b.WriteString(" AND d.quality >= ?")
		args = append(args, q.MinQuality)
	}
	now := s.now().UTC()
	if q.MaxAge > 0 {
		b.WriteString(" AND d.created_at >= ?")
		args = append(args, formatTime(now.Add(-q.MaxAge)))
	}
	if q.Owner != "" {
		b.WriteString(" AND (d.scope = 'global' OR d.owner = ?)")
		args = append(args, q.Owner)
	}
	if !q.IncludeExpired {
		b.WriteString(" AND (d.expires_at IS NULL OR d.expires_at > ?)")
		args = append(args, formatTime(now))
	}
	return b.String(), args
}

// relevanceFromRank maps an FTS5 bm25 rank (negative, lower is better)
// onto [0,1).
func relevanceFromRank(rank float64) float64 {
	r := -rank
	if r <= 0 {
		return 0
	}
	return r / (1 + r)
}
