package progress

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

var allStatuses = []Status{StatusPending, StatusExtracting, StatusInserting, StatusCompleted, StatusFailed}

// TestTransitionTerminalAbsorbs checks that no input leaves a terminal state.
func TestTransitionTerminalAbsorbs(t *testing.T) {
	t.Parallel()

	for _, from := range []Status{StatusCompleted, StatusFailed} {
		for _, to := range allStatuses {
			require.Equal(t, from, Transition(from, to), "%s -> %s", from, to)
		}
	}
}

// TestTransitionNeverReturnsToPending covers the lower bound of the state machine.
func TestTransitionNeverReturnsToPending(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusExtracting, Transition(StatusExtracting, StatusPending))
	require.Equal(t, StatusInserting, Transition(StatusInserting, StatusPending))
	require.Equal(t, StatusPending, Transition(StatusPending, StatusPending))
}

// TestTransitionForwardSteps covers the legal forward edges.
func TestTransitionForwardSteps(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusExtracting, Transition(StatusPending, StatusExtracting))
	require.Equal(t, StatusInserting, Transition(StatusExtracting, StatusInserting))
	require.Equal(t, StatusExtracting, Transition(StatusInserting, StatusExtracting))
	require.Equal(t, StatusCompleted, Transition(StatusPending, StatusCompleted))
	require.Equal(t, StatusFailed, Transition(StatusInserting, StatusFailed))
	require.True(t, ValidStep(StatusPending, StatusFailed))
	require.False(t, ValidStep(StatusCompleted, StatusFailed))
	require.False(t, ValidStep(StatusInserting, StatusPending))
}

func TestStatusTextRoundTrip(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(map[string]Status{"s": StatusInserting})
	require.NoError(t, err)
	require.JSONEq(t, `{"s":"inserting"}`, string(raw))

	var decoded map[string]Status
	require.NoError(t, json.Unmarshal([]byte(`{"s":"FAILED"}`), &decoded))
	require.Equal(t, StatusFailed, decoded["s"])

	_, err = ParseStatus("paused")
	require.Error(t, err)
	require.Equal(t, "status(9)", Status(9).String())
}
