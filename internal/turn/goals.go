package turn

import "fmt"

// --- Goals ---

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalPending    GoalStatus = "pending"
	GoalInProgress GoalStatus = "in_progress"
	GoalCompleted  GoalStatus = "completed"
	GoalBlocked    GoalStatus = "blocked"
	GoalFailed     GoalStatus = "failed"
)

// Goal is one unit of work the coordinator pursues.
type Goal struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      GoalStatus `json:"status"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
}

// goalTransitions lists the allowed moves. Statuses only move forward,
// except blocked -> pending when a retry re-opens the goal.
var goalTransitions = map[GoalStatus][]GoalStatus{
	GoalPending:    {GoalInProgress, GoalBlocked, GoalFailed},
	GoalInProgress: {GoalCompleted, GoalBlocked, GoalFailed},
	GoalBlocked:    {GoalPending, GoalFailed},
}

// CanTransition returns an error if a goal may not move from one status
// to another.
func CanTransition(from, to GoalStatus) error {
	for _, allowed := range goalTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("goal cannot move from %s to %s", from, to)
}

// IsTerminal reports whether a goal status needs no more work this cycle.
func (s GoalStatus) IsTerminal() bool {
	return s == GoalCompleted || s == GoalBlocked || s == GoalFailed
}

// FindGoal returns the index of the goal with id, or -1.
func FindGoal(goals []Goal, id string) int {
	for i := range goals {
		if goals[i].ID == id {
			return i
		}
	}
	return -1
}

// DependenciesMet reports whether every dependency of g is completed.
func DependenciesMet(g Goal, goals []Goal) bool {
	for _, dep := range g.DependsOn {
		i := FindGoal(goals, dep)
		if i < 0 || goals[i].Status != GoalCompleted {
			return false
		}
	}
	return true
}

// DependencyStuck reports whether some dependency of g is blocked or
// failed, so g cannot start this cycle.
func DependencyStuck(g Goal, goals []Goal) bool {
	for _, dep := range g.DependsOn {
		i := FindGoal(goals, dep)
		if i < 0 || goals[i].Status == GoalBlocked || goals[i].Status == GoalFailed {
			return true
		}
	}
	return false
}

// Transition moves the goal with id to status to, enforcing the allowed
// moves and that a goal only starts once its dependencies are completed.
func Transition(goals []Goal, id string, to GoalStatus) error {
	i := FindGoal(goals, id)
	if i < 0 {
		return fmt.Errorf("unknown goal %q", id)
	}
	g := &goals[i]
	if err := CanTransition(g.Status, to); err != nil {
		return fmt.Errorf("goal %q: %w", id, err)
	}
	if to == GoalInProgress && !DependenciesMet(*g, goals) {
		return fmt.Errorf("goal %q: dependencies %v are not completed", id, g.DependsOn)
	}
	g.Status = to
	return nil
}

// ValidateGoals checks that goal IDs are unique and dependencies refer to
// known goals without cycles.
func ValidateGoals(goals []Goal) error {
	seen := make(map[string]bool, len(goals))
	for _, g := range goals {
		if g.ID == "" {
			return fmt.Errorf("goal with empty id")
		}
		if seen[g.ID] {
			return fmt.Errorf("duplicate goal id %q", g.ID)
		}
		seen[g.ID] = true
	}
	for _, g := range goals {
		for _, dep := range g.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("goal %q depends on unknown goal %q", g.ID, dep)
			}
		}
	}

	// Depth-first cycle check.
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(goals))
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("goal dependency cycle through %q", id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, dep := range goals[FindGoal(goals, id)].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for _, g := range goals {
		if err := visit(g.ID); err != nil {
			return err
		}
	}
	return nil
}

// Settled reports whether every goal is completed, blocked or failed.
func Settled(goals []Goal) bool {
	for _, g := range goals {
		if !g.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// CountStatus returns how many goals are in status s.
func CountStatus(goals []Goal, s GoalStatus) int {
	n := 0
	for _, g := range goals {
		if g.Status == s {
			n++
		}
	}
	return n
}

// Reopen moves every blocked goal back to pending and clears its attempt
// count. It returns the IDs it re-opened.
func Reopen(goals []Goal) []string {
	var ids []string
	for i := range goals {
		if goals[i].Status == GoalBlocked {
			goals[i].Status = GoalPending
			goals[i].Attempts = 0
			ids = append(ids, goals[i].ID)
		}
	}
	return ids
}
