// Package turn holds the domain types of a single turn: the record that
// every pipeline stage appends to, goals and their state machine, claims,
// tool calls and results, and memory candidates.
package turn

import "fmt"

// --- Mode ---

// Mode says whether a turn may run mutating tools.
type Mode string

const (
	ModeReadOnly  Mode = "read_only"
	ModeReadWrite Mode = "read_write"
)

// ValidateMode returns an error if the mode is not recognized.
func ValidateMode(m Mode) error {
	if m != ModeReadOnly && m != ModeReadWrite {
		return fmt.Errorf("invalid mode %q: must be one of: read_only, read_write", m)
	}
	return nil
}

// --- Query classification ---

// QueryType is the Resolver's classification of the query.
type QueryType string

const (
	QuerySpecificContent QueryType = "specific_content"
	QueryGeneralQuestion QueryType = "general_question"
	QueryFollowUp        QueryType = "follow_up"
	QueryNewTopic        QueryType = "new_topic"
)

// ResolutionStatus reports what the Resolver did with references.
type ResolutionStatus string

const (
	ResolutionNotNeeded ResolutionStatus = "not_needed"
	ResolutionResolved  ResolutionStatus = "resolved"
	ResolutionFailed    ResolutionStatus = "failed"
)

// --- Admission ---

// Decision is the Reflection Gate's binary output.
type Decision string

const (
	DecisionProceed Decision = "PROCEED"
	DecisionClarify Decision = "CLARIFY"
)

// --- Routing ---

// Route is the Planner's first decision for a turn.
type Route string

const (
	RouteCoordinator Route = "coordinator"
	RouteSynthesis   Route = "synthesis"
	RouteClarify     Route = "clarify"
)

var validRoutes = map[Route]bool{
	RouteCoordinator: true,
	RouteSynthesis:   true,
	RouteClarify:     true,
}

// ValidateRoute returns an error if the route is not recognized.
func ValidateRoute(r Route) error {
	if !validRoutes[r] {
		return fmt.Errorf("invalid route %q: must be one of: coordinator, synthesis, clarify", r)
	}
	return nil
}

// --- Validation ---

// Verdict is the Validator's decision on a synthesized answer.
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictRevise  Verdict = "REVISE"
	VerdictRetry   Verdict = "RETRY"
	VerdictFail    Verdict = "FAIL"
)

// --- Stages ---

// Stage is the last pipeline stage a record has completed.
type Stage string

const (
	StageCreated     Stage = "created"
	StageResolved    Stage = "resolved"
	StageAdmitted    Stage = "admitted"
	StageAssembled   Stage = "assembled"
	StagePlanned     Stage = "planned"
	StageSynthesized Stage = "synthesized"
	StageValidated   Stage = "validated"
	StageArchived    Stage = "archived"
)

// StageOrder is the fixed order every turn moves through. Planning,
// synthesis and validation may repeat, but never run out of order.
var StageOrder = []Stage{
	StageCreated,
	StageResolved,
	StageAdmitted,
	StageAssembled,
	StagePlanned,
	StageSynthesized,
	StageValidated,
	StageArchived,
}

// StageIndex returns the ordinal of s in StageOrder, or -1.
func StageIndex(s Stage) int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// --- Outcome ---

// OutcomeStatus is how a turn ended.
type OutcomeStatus string

const (
	OutcomeApproved  OutcomeStatus = "approved"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeClarify   OutcomeStatus = "clarify"
	OutcomeCancelled OutcomeStatus = "cancelled"
)
