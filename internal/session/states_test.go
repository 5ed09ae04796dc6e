package session

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"gitlab.com/yelinaung/finmail/internal/models"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to models.SessionState
		want     bool
	}{
		{models.StateIdle, models.StateSearching, true},
		{models.StateIdle, models.StatePersisting, false},
		{models.StateIdle, models.StateExtracting, false},
		{models.StateSearching, models.StateIdle, true},
		{models.StateExtracting, models.StatePersisting, true},
		{models.StateExtracting, models.StateAwaitingConfirmation, false},
		{models.StatePresenting, models.StateAwaitingConfirmation, true},
		{models.StateAwaitingConfirmation, models.StatePersisting, true},
		{models.StateAwaitingConfirmation, models.StateSearching, false},
		{models.StatePersisting, models.StateExtracting, true},
		{models.StatePersisting, models.StateError, true},
		{models.StateAwaitingConfirmation, models.StateError, true},
		{models.StateError, models.StateError, false},
		{models.StateError, models.StateIdle, true},
		{models.StateError, models.StateSearching, false},
		{"bogus", models.StateError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	t.Parallel()

	s := &models.Session{State: models.StateIdle}
	err := transition(s, models.StatePersisting)
	require.ErrorIs(t, err, models.ErrIllegalTransition)
	assert.Equal(t, models.StateIdle, s.State)

	require.NoError(t, transition(s, models.StateSearching))
	assert.Equal(t, models.StateSearching, s.State)
}

func TestValidateTransitions(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateTransitions(transitions))

	clone := func() map[models.SessionState][]models.SessionState {
		out := make(map[models.SessionState][]models.SessionState, len(transitions))
		for k, v := range transitions {
			out[k] = slices.Clone(v)
		}
		return out
	}

	t.Run("missing state", func(t *testing.T) {
		t.Parallel()
		table := clone()
		delete(table, models.StatePresenting)
		require.ErrorContains(t, validateTransitions(table), "no transition entry")
	})

	t.Run("unknown target", func(t *testing.T) {
		t.Parallel()
		table := clone()
		table[models.StateIdle] = append(table[models.StateIdle], "archived")
		require.ErrorContains(t, validateTransitions(table), "unknown target")
	})

	t.Run("self loop", func(t *testing.T) {
		t.Parallel()
		table := clone()
		table[models.StateSearching] = append(table[models.StateSearching], models.StateSearching)
		require.ErrorContains(t, validateTransitions(table), "itself")
	})

	t.Run("error cannot recover", func(t *testing.T) {
		t.Parallel()
		table := clone()
		table[models.StateError] = []models.SessionState{models.StateSearching}
		table[models.StateSearching] = []models.SessionState{models.StateExtracting}
		table[models.StateExtracting] = []models.SessionState{models.StatePresenting}
		table[models.StatePresenting] = []models.SessionState{models.StateAwaitingConfirmation}
		table[models.StateAwaitingConfirmation] = []models.SessionState{models.StatePersisting}
		table[models.StatePersisting] = []models.SessionState{models.StateExtracting}
		require.ErrorContains(t, validateTransitions(table), "cannot return to idle")
	})
}

func TestTransitions_PersistingRequiresExtraction(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		state := models.StateIdle
		extracted := false
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := range steps {
			next := rapid.SampledFrom(states).Draw(rt, "next")
			if !CanTransition(state, next) {
				continue
			}
			if next == models.StatePersisting && !extracted {
				rt.Fatalf("step %d reached persisting from %s without extracting", i, state)
			}
			if next == models.StateExtracting {
				extracted = true
			}
			if next == models.StateIdle {
				extracted = false
			}
			state = next
		}
	})
}

func TestTransitions_AwaitingOnlyReachedThroughPresenting(t *testing.T) {
	t.Parallel()

	for _, from := range states {
		if CanTransition(from, models.StateAwaitingConfirmation) {
			assert.Contains(t, []models.SessionState{models.StatePresenting, models.StatePersisting}, from)
		}
	}
}
