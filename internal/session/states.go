// Package session drives the per-user confirmation workflow: searching the
// inbox, extracting records, staging them for review and persisting them.
package session

import (
	"fmt"
	"slices"

	"gitlab.com/yelinaung/finmail/internal/models"
)

var states = []models.SessionState{
	models.StateIdle,
	models.StateSearching,
	models.StateExtracting,
	models.StatePresenting,
	models.StateAwaitingConfirmation,
	models.StatePersisting,
	models.StateError,
}

// transitions lists the legal targets for each state. Every non-error state
// may additionally move to StateError.
var transitions = map[models.SessionState][]models.SessionState{
	models.StateIdle:                 {models.StateSearching},
	models.StateSearching:            {models.StateExtracting, models.StateIdle},
	models.StateExtracting:           {models.StatePresenting, models.StatePersisting, models.StateIdle},
	models.StatePresenting:           {models.StateAwaitingConfirmation},
	models.StateAwaitingConfirmation: {models.StatePresenting, models.StatePersisting, models.StateIdle},
	models.StatePersisting:           {models.StateIdle, models.StateExtracting, models.StateAwaitingConfirmation},
	models.StateError:                {models.StateIdle},
}

func init() {
	if err := validateTransitions(transitions); err != nil {
		panic(err)
	}
}

// validateTransitions checks that the table covers every state, names only
// known states, and lets every state reach idle.
func validateTransitions(table map[models.SessionState][]models.SessionState) error {
	for _, s := range states {
		if _, ok := table[s]; !ok {
			return fmt.Errorf("session: state %q has no transition entry", s)
		}
	}
	for from, targets := range table {
		if !slices.Contains(states, from) {
			return fmt.Errorf("session: unknown state %q in transition table", from)
		}
		for _, to := range targets {
			if !slices.Contains(states, to) {
				return fmt.Errorf("session: %q lists unknown target %q", from, to)
			}
			if to == from {
				return fmt.Errorf("session: %q lists itself as a target", from)
			}
		}
	}

	for _, s := range states {
		if !reachesIdle(table, s) {
			return fmt.Errorf("session: state %q cannot return to idle", s)
		}
	}
	return nil
}

func reachesIdle(table map[models.SessionState][]models.SessionState, from models.SessionState) bool {
	seen := map[models.SessionState]bool{from: true}
	queue := []models.SessionState{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == models.StateIdle {
			return true
		}
		next := table[cur]
		if cur != models.StateError {
			next = append(slices.Clone(next), models.StateError)
		}
		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to models.SessionState) bool {
	if to == models.StateError {
		return from != models.StateError && slices.Contains(states, from)
	}
	return slices.Contains(transitions[from], to)
}

// transition moves s to the target state or returns ErrIllegalTransition.
func transition(s *models.Session, to models.SessionState) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, s.State, to)
	}
	s.State = to
	return nil
}

// inFlight reports whether a run or confirmation step is currently executing.
func inFlight(state models.SessionState) bool {
	switch state {
	case models.StateSearching, models.StateExtracting, models.StatePresenting, models.StatePersisting:
		return true
	default:
		return false
	}
}
