package bt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusValidate(t *testing.T) {
	valid := []Status{StatusInvalid, StatusSuccess, StatusFailure, StatusRunning, StatusError}
	for _, s := range valid {
		require.NoError(t, s.Validate())
	}
	require.Error(t, Status("BOGUS").Validate())
}

func TestStatusIsTerminal(t *testing.T) {
	require.True(t, StatusSuccess.IsTerminal())
	require.True(t, StatusFailure.IsTerminal())
	require.True(t, StatusError.IsTerminal())
	require.False(t, StatusRunning.IsTerminal())
	require.False(t, StatusInvalid.IsTerminal())
}

func TestEventKindValidate(t *testing.T) {
	require.NoError(t, EventInitialized.Validate())
	require.NoError(t, EventShutdown.Validate())
	require.Error(t, EventKind("NOPE").Validate())
}
