package turn

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// --- Tool calls ---

// ErrorCode classifies a failed tool call.
type ErrorCode string

const (
	ErrCodeNone              ErrorCode = ""
	ErrCodeTimeout           ErrorCode = "timeout"
	ErrCodePermissionDenied  ErrorCode = "permission_denied"
	ErrCodeDependencyMissing ErrorCode = "dependency_missing"
	ErrCodeSandboxViolation  ErrorCode = "sandbox_violation"
	ErrCodeInvalidArgs       ErrorCode = "invalid_args"
	ErrCodeNotFound          ErrorCode = "not_found"
	ErrCodeCancelled         ErrorCode = "cancelled"
	ErrCodeGeneric           ErrorCode = "error"
)

// Call is one tool invocation requested by the coordinator.
type Call struct {
	ID      string         `json:"id"`
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args,omitempty"`
	GoalID  string         `json:"goal_id,omitempty"`
	Attempt int            `json:"attempt"`
}

// Result is the normalized outcome of a Call.
type Result struct {
	CallID       string        `json:"call_id"`
	Tool         string        `json:"tool"`
	GoalID       string        `json:"goal_id,omitempty"`
	Success      bool          `json:"success"`
	Payload      string        `json:"payload,omitempty"`
	ErrorCode    ErrorCode     `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// --- Stage outputs ---

// Resolution is the Query Resolver's output.
type Resolution struct {
	Original   string           `json:"original"`
	Resolved   string           `json:"resolved"`
	Type       QueryType        `json:"type"`
	Status     ResolutionStatus `json:"status"`
	References []string         `json:"references,omitempty"`
	Anchor     string           `json:"anchor,omitempty"`
	AnchorTurn int64            `json:"anchor_turn,omitempty"`
	// Qualifiers are priority phrases copied verbatim from the raw query.
	Qualifiers []string `json:"qualifiers,omitempty"`
}

// Admission is the Reflection Gate's output.
type Admission struct {
	Decision   Decision `json:"decision"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`
	Question   string   `json:"question,omitempty"`
}

// BundleItem is one stored document surfaced by context assembly.
type BundleItem struct {
	DocID        string   `json:"doc_id"`
	Topic        string   `json:"topic"`
	Content      string   `json:"content"`
	ContentTypes []string `json:"content_types"`
	Relevance    float64  `json:"relevance"`
	Quality      float64  `json:"quality"`
	AgeHours     float64  `json:"age_hours"`
	Freshness    string   `json:"freshness,omitempty"`
	Stale        bool     `json:"stale,omitempty"`
}

// Bundle is the Context Assembler's output.
type Bundle struct {
	Query       string       `json:"query"`
	Qualifiers  []string     `json:"qualifiers,omitempty"`
	PriorTurns  []BundleItem `json:"prior_turns,omitempty"`
	Preferences []BundleItem `json:"preferences,omitempty"`
	Research    []BundleItem `json:"research,omitempty"`
	Sufficient  bool         `json:"sufficient"`
	Sufficiency string       `json:"sufficiency"`
	Tokens      int          `json:"tokens"`
}

// Items returns every item in the bundle.
func (b *Bundle) Items() []BundleItem {
	if b == nil {
		return nil
	}
	out := make([]BundleItem, 0, len(b.PriorTurns)+len(b.Preferences)+len(b.Research))
	out = append(out, b.PriorTurns...)
	out = append(out, b.Preferences...)
	return append(out, b.Research...)
}

// Plan is the record of one planning attempt.
type Plan struct {
	Attempt    int               `json:"attempt"`
	Route      Route             `json:"route"`
	Reason     string            `json:"reason,omitempty"`
	Feedback   string            `json:"feedback,omitempty"`
	Goals      []Goal            `json:"goals,omitempty"`
	Calls      []Call            `json:"calls,omitempty"`
	Results    []Result          `json:"results,omitempty"`
	Claims     []Claim           `json:"claims,omitempty"`
	Candidates []MemoryCandidate `json:"candidates,omitempty"`
	Iterations int               `json:"iterations"`
	Error      string            `json:"error,omitempty"`
}

// Citation links a numbered marker in the answer to its evidence.
type Citation struct {
	N       int    `json:"n"`
	ClaimID string `json:"claim_id,omitempty"`
	DocID   string `json:"doc_id,omitempty"`
	Locator string `json:"locator,omitempty"`
	Title   string `json:"title,omitempty"`
}

// CheckItem is one self-check the Synthesizer reports.
type CheckItem struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Answer is one synthesis attempt.
type Answer struct {
	Attempt     int         `json:"attempt"`
	Text        string      `json:"text"`
	Citations   []Citation  `json:"citations,omitempty"`
	CitedClaims []string    `json:"cited_claims,omitempty"`
	Checklist   []CheckItem `json:"checklist"`
	Compact     bool        `json:"compact,omitempty"`
}

// Check returns the checklist item with name, if present.
func (a Answer) Check(name string) (CheckItem, bool) {
	for _, c := range a.Checklist {
		if c.Name == name {
			return c, true
		}
	}
	return CheckItem{}, false
}

// Validation is one Validator decision.
type Validation struct {
	Verdict   Verdict  `json:"verdict"`
	Reasons   []string `json:"reasons,omitempty"`
	Feedback  string   `json:"feedback,omitempty"`
	Retries   int      `json:"retries"`
	Revisions int      `json:"revisions"`
}

// Outcome is how the turn ended.
type Outcome struct {
	Status   OutcomeStatus `json:"status"`
	Answer   string        `json:"answer,omitempty"`
	Question string        `json:"question,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// --- Record ---

// Record is the full, append-only account of one turn. Each stage adds
// its output and never rewrites what an earlier stage wrote.
type Record struct {
	TraceID       string       `json:"trace_id"`
	UserID        string       `json:"user_id"`
	Number        int64        `json:"number"`
	RawQuery      string       `json:"raw_query"`
	Mode          Mode         `json:"mode"`
	Stage         Stage        `json:"stage"`
	Resolution    *Resolution  `json:"resolution,omitempty"`
	Admission     *Admission   `json:"admission,omitempty"`
	Bundle        *Bundle      `json:"bundle,omitempty"`
	Plans         []Plan       `json:"plans,omitempty"`
	Answers       []Answer     `json:"answers,omitempty"`
	Validations   []Validation `json:"validations,omitempty"`
	Outcome       *Outcome     `json:"outcome,omitempty"`
	UsedDocuments []string     `json:"used_documents,omitempty"`
	UnusedClaims  []string     `json:"unused_claims,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	SealedAt      *time.Time   `json:"sealed_at,omitempty"`
}

// NewRecord starts a record for a turn.
func NewRecord(traceID, userID string, number int64, query string, mode Mode) *Record {
	return &Record{
		TraceID:   traceID,
		UserID:    userID,
		Number:    number,
		RawQuery:  query,
		Mode:      mode,
		Stage:     StageCreated,
		CreatedAt: timeNow().UTC(),
	}
}

// Advance marks stage as the last completed stage. Stages may repeat
// (planning, synthesis, validation) but never move backwards past
// assembly.
func (r *Record) Advance(stage Stage) error {
	if r.SealedAt != nil {
		return fmt.Errorf("turn %s is sealed", r.TraceID)
	}
	cur, next := StageIndex(r.Stage), StageIndex(stage)
	if next < 0 {
		return fmt.Errorf("unknown stage %q", stage)
	}
	if next < cur && next <= StageIndex(StageAssembled) {
		return fmt.Errorf("turn %s cannot return to %s from %s", r.TraceID, stage, r.Stage)
	}
	r.Stage = stage
	return nil
}

// Seal closes the record with its outcome.
func (r *Record) Seal(o Outcome) error {
	if r.SealedAt != nil {
		return fmt.Errorf("turn %s is already sealed", r.TraceID)
	}
	now := timeNow().UTC()
	r.Outcome = &o
	r.Stage = StageArchived
	r.SealedAt = &now
	return nil
}

// LatestPlan returns the most recent plan, or nil.
func (r *Record) LatestPlan() *Plan {
	if len(r.Plans) == 0 {
		return nil
	}
	return &r.Plans[len(r.Plans)-1]
}

// LatestAnswer returns the most recent answer, or nil.
func (r *Record) LatestAnswer() *Answer {
	if len(r.Answers) == 0 {
		return nil
	}
	return &r.Answers[len(r.Answers)-1]
}

// AllClaims returns the claims of every plan in order.
func (r *Record) AllClaims() []Claim {
	var out []Claim
	for _, p := range r.Plans {
		out = append(out, p.Claims...)
	}
	return out
}

// Retries counts validations that asked for a retry.
func (r *Record) Retries() int {
	return r.countVerdict(VerdictRetry)
}

// Revisions counts validations that asked for a revision.
func (r *Record) Revisions() int {
	return r.countVerdict(VerdictRevise)
}

func (r *Record) countVerdict(v Verdict) int {
	n := 0
	for _, val := range r.Validations {
		if val.Verdict == v {
			n++
		}
	}
	return n
}

// ResolvedQuery returns the resolved query, falling back to the raw one.
func (r *Record) ResolvedQuery() string {
	if r.Resolution != nil && r.Resolution.Resolved != "" {
		return r.Resolution.Resolved
	}
	return r.RawQuery
}

// Summary is the short text kept in the summary index after archiving.
func (r *Record) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Q: %s", r.ResolvedQuery())
	if r.Outcome != nil {
		switch {
		case r.Outcome.Answer != "":
			fmt.Fprintf(&b, "\nA: %s", truncate(firstLine(r.Outcome.Answer), 240))
		case r.Outcome.Question != "":
			fmt.Fprintf(&b, "\nClarify: %s", r.Outcome.Question)
		}
		fmt.Fprintf(&b, "\nOutcome: %s", r.Outcome.Status)
	}
	return b.String()
}

// Marshal encodes the record as indented JSON.
func (r *Record) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal turn %s: %w", r.TraceID, err)
	}
	return data, nil
}

// UnmarshalRecord decodes a record produced by Marshal.
func UnmarshalRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal turn record: %w", err)
	}
	return &r, nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
