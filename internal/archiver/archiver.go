// Package archiver persists finished turns and applies their outcome to
// memory: approved turns commit their candidates and reward the documents
// they used, failed turns are kept for audit only.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/turnloop/internal/memory"
	"github.com/HendryAvila/turnloop/internal/turn"
)

// Store is the part of the document store the archiver writes to.
type Store interface {
	SaveTurn(ctx context.Context, e memory.TurnEntry) error
	LoadTurn(ctx context.Context, userID string, number int64) (*memory.TurnEntry, error)
	CommitCandidate(ctx context.Context, doc memory.Document) (bool, error)
	Commit(ctx context.Context, doc memory.Document, expectedVersion int64) (memory.Document, error)
	RecordOutcome(ctx context.Context, id string, positive bool) (memory.Document, error)
	RecordToolUse(ctx context.Context, tool string, ok, total int) (memory.Document, error)
	ArchiveTurnsOlderThan(ctx context.Context, horizon time.Duration) (int, error)
}

// Report summarizes what archiving a turn changed.
type Report struct {
	// Already is set when the turn's record had been stored before. Only
	// the idempotent candidate and index writes run the second time.
	Already   bool     `json:"already,omitempty"`
	Committed []string `json:"committed,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
	Indexed   bool     `json:"indexed"`
	Rewarded  []string `json:"rewarded,omitempty"`
	Penalized []string `json:"penalized,omitempty"`
	Tools     []string `json:"tools,omitempty"`
}

// Archiver writes finished turns to the store.
type Archiver struct {
	store   Store
	horizon time.Duration
	logger  *zap.Logger
}

// New creates an Archiver. horizon is how long a turn stays in the
// active tier.
func New(store Store, horizon time.Duration, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, horizon: horizon, logger: logger.Named("archiver")}
}

// Archive dispatches on the sealed outcome of rec.
func (a *Archiver) Archive(ctx context.Context, rec *turn.Record) (Report, error) {
	if rec.Outcome == nil {
		return Report{}, fmt.Errorf("archiver: turn %s is not sealed", rec.TraceID)
	}
	switch rec.Outcome.Status {
	case turn.OutcomeApproved:
		return a.Commit(ctx, rec)
	case turn.OutcomeFailed:
		return a.Discard(ctx, rec)
	default:
		return a.Clarify(ctx, rec)
	}
}

// Commit archives an approved turn: its memory candidates at scope new,
// the turn-record document, the record itself, a positive outcome for
// every document the answer cited and the reliability tally of every tool
// it called.
//
// The record is written after the candidates and the index document, and
// those two writes are idempotent. A commit interrupted part way is
// completed by archiving the turn again.
func (a *Archiver) Commit(ctx context.Context, rec *turn.Record) (Report, error) {
	used := citedDocuments(rec)
	rec.UsedDocuments = used
	rec.UnusedClaims = uncitedClaims(rec)

	already, err := a.stored(ctx, rec)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Already: already}

	for _, c := range candidates(rec) {
		doc := candidateDocument(rec, c)
		wrote, err := a.store.CommitCandidate(ctx, doc)
		if err != nil {
			return rep, fmt.Errorf("archiver: commit candidate %s: %w", c.ID, err)
		}
		if wrote {
			rep.Committed = append(rep.Committed, c.ID)
		} else {
			rep.Skipped = append(rep.Skipped, c.ID)
		}
	}

	if err := a.index(ctx, rec); err != nil {
		return rep, err
	}
	rep.Indexed = true

	if already {
		return rep, nil
	}
	if err := a.save(ctx, rec); err != nil {
		return rep, err
	}

	rep.Rewarded = a.outcomes(ctx, rec, used, true)
	rep.Tools = a.tallyTools(ctx, rec)
	a.logger.Info("turn committed",
		zap.String("trace_id", rec.TraceID),
		zap.String("user_id", rec.UserID),
		zap.Int64("turn", rec.Number),
		zap.Int("committed", len(rep.Committed)),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("rewarded", len(rep.Rewarded)),
		zap.Int("tools", len(rep.Tools)),
	)
	return rep, nil
}

// Discard archives a failed turn for audit. No candidate is committed,
// every claim is recorded as unused and cited documents get a negative
// outcome.
func (a *Archiver) Discard(ctx context.Context, rec *turn.Record) (Report, error) {
	used := citedDocuments(rec)
	rec.UsedDocuments = used
	rec.UnusedClaims = nil
	for _, c := range rec.AllClaims() {
		rec.UnusedClaims = append(rec.UnusedClaims, c.ID)
	}

	already, err := a.stored(ctx, rec)
	if err != nil || already {
		return Report{Already: already}, err
	}
	if err := a.save(ctx, rec); err != nil {
		return Report{}, err
	}

	var rep Report
	for _, c := range candidates(rec) {
		rep.Skipped = append(rep.Skipped, c.ID)
	}
	rep.Penalized = a.outcomes(ctx, rec, used, false)
	a.logger.Info("turn discarded",
		zap.String("trace_id", rec.TraceID),
		zap.String("user_id", rec.UserID),
		zap.Int64("turn", rec.Number),
		zap.Int("discarded_candidates", len(rep.Skipped)),
		zap.Int("penalized", len(rep.Penalized)),
	)
	return rep, nil
}

// Clarify archives a turn that ended without an answer, such as a
// clarification request. Only the record is written.
func (a *Archiver) Clarify(ctx context.Context, rec *turn.Record) (Report, error) {
	already, err := a.stored(ctx, rec)
	if err != nil || already {
		return Report{Already: already}, err
	}
	return Report{}, a.save(ctx, rec)
}

// Age moves turns older than the horizon to the archived tier.
func (a *Archiver) Age(ctx context.Context) (int, error) {
	n, err := a.store.ArchiveTurnsOlderThan(ctx, a.horizon)
	if err != nil {
		return n, fmt.Errorf("archiver: age turns: %w", err)
	}
	if n > 0 {
		a.logger.Info("turns archived", zap.Int("count", n), zap.Duration("horizon", a.horizon))
	}
	return n, nil
}

// stored reports whether the turn's record is already in the store. A
// stored record means outcomes were applied, so they are not applied
// again.
func (a *Archiver) stored(ctx context.Context, rec *turn.Record) (bool, error) {
	_, err := a.store.LoadTurn(ctx, rec.UserID, rec.Number)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, memory.ErrNotFound) {
		return false, fmt.Errorf("archiver: check turn %s: %w", rec.TraceID, err)
	}
	return false, nil
}

// save writes the turn entry.
func (a *Archiver) save(ctx context.Context, rec *turn.Record) error {
	data, err := rec.Marshal()
	if err != nil {
		return err
	}
	e := memory.TurnEntry{
		UserID:        rec.UserID,
		Number:        rec.Number,
		TraceID:       rec.TraceID,
		Query:         rec.RawQuery,
		ResolvedQuery: rec.ResolvedQuery(),
		Summary:       rec.Summary(),
		Record:        data,
		CreatedAt:     rec.CreatedAt,
	}
	if rec.Outcome != nil {
		e.Outcome = string(rec.Outcome.Status)
		e.Answer = rec.Outcome.Answer
	}
	if err := a.store.SaveTurn(ctx, e); err != nil {
		return fmt.Errorf("archiver: save turn %s: %w", rec.TraceID, err)
	}
	return nil
}

// index writes the turn-record document future turns retrieve as context.
func (a *Archiver) index(ctx context.Context, rec *turn.Record) error {
	doc := memory.Document{
		ID:           memory.TurnDocumentID(rec.TraceID),
		Topic:        "turns/" + rec.UserID + "/" + strconv.FormatInt(rec.Number, 10),
		Purpose:      "turn record",
		Content:      rec.Summary(),
		ContentTypes: []memory.ContentType{memory.ContentTurnRecord},
		Scope:        memory.ScopeUser,
		Quality:      0.5,
		Owner:        rec.UserID,
	}
	if rec.Resolution != nil {
		doc.Keywords = rec.Resolution.Qualifiers
	}
	_, err := a.store.Commit(ctx, doc, 0)
	if errors.Is(err, memory.ErrVersionConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archiver: index turn %s: %w", rec.TraceID, err)
	}
	return nil
}

// outcomes applies one outcome per document and returns the ids it was
// applied to. Documents deleted since the turn started are skipped.
func (a *Archiver) outcomes(ctx context.Context, rec *turn.Record, ids []string, positive bool) []string {
	var done []string
	for _, id := range ids {
		doc, err := a.store.RecordOutcome(ctx, id, positive)
		if err != nil {
			a.logger.Warn("outcome not recorded",
				zap.String("trace_id", rec.TraceID),
				zap.String("doc_id", id),
				zap.Bool("positive", positive),
				zap.Error(err),
			)
			continue
		}
		a.logger.Debug("outcome recorded",
			zap.String("doc_id", id),
			zap.String("scope", string(doc.Scope)),
			zap.Bool("positive", positive),
		)
		done = append(done, id)
	}
	return done
}

// tallyTools adds the turn's tool calls to each tool's reliability
// document and returns the tools that were updated.
func (a *Archiver) tallyTools(ctx context.Context, rec *turn.Record) []string {
	type tally struct{ ok, total int }
	perTool := map[string]*tally{}
	for _, p := range rec.Plans {
		for _, r := range p.Results {
			t := perTool[r.Tool]
			if t == nil {
				t = &tally{}
				perTool[r.Tool] = t
			}
			t.total++
			if r.Success {
				t.ok++
			}
		}
	}
	names := make([]string, 0, len(perTool))
	for n := range perTool {
		names = append(names, n)
	}
	sort.Strings(names)

	var done []string
	for _, n := range names {
		t := perTool[n]
		if _, err := a.store.RecordToolUse(ctx, n, t.ok, t.total); err != nil {
			a.logger.Warn("tool tally not recorded",
				zap.String("trace_id", rec.TraceID),
				zap.String("tool", n),
				zap.Error(err),
			)
			continue
		}
		done = append(done, n)
	}
	return done
}

// candidates returns the candidates of every plan, first occurrence of
// each id winning.
func candidates(rec *turn.Record) []turn.MemoryCandidate {
	seen := map[string]bool{}
	var out []turn.MemoryCandidate
	for _, p := range rec.Plans {
		for _, c := range p.Candidates {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	return out
}

func candidateDocument(rec *turn.Record, c turn.MemoryCandidate) memory.Document {
	types := make([]memory.ContentType, 0, len(c.ContentTypes))
	for _, ct := range c.ContentTypes {
		types = append(types, memory.ContentType(ct))
	}
	return memory.Document{
		ID:           c.ID,
		Topic:        c.Topic,
		Keywords:     c.Keywords,
		Purpose:      c.Purpose,
		Content:      c.Content,
		ContentTypes: types,
		Scope:        memory.ScopeNew,
		Quality:      c.Quality,
		Owner:        rec.UserID,
		Origin:       rec.UserID,
		ExpiresAt:    c.ExpiresAt,
	}
}

func citedDocuments(rec *turn.Record) []string {
	ans := rec.LatestAnswer()
	if ans == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, c := range ans.Citations {
		if c.DocID != "" && !seen[c.DocID] {
			seen[c.DocID] = true
			out = append(out, c.DocID)
		}
	}
	return out
}

func uncitedClaims(rec *turn.Record) []string {
	cited := map[string]bool{}
	if ans := rec.LatestAnswer(); ans != nil {
		for _, id := range ans.CitedClaims {
			cited[id] = true
		}
	}
	var out []string
	for _, c := range rec.AllClaims() {
		if !cited[c.ID] {
			out = append(out, c.ID)
		}
	}
	return out
}
