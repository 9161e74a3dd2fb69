package bt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTreeErrorWrapping(t *testing.T) {
	cause := errors.New("boom")
	err := newError(ErrTickError, "leaf failed", cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "TICK_ERROR")
	require.Contains(t, err.Error(), "leaf failed")
	require.Contains(t, err.Error(), "boom")
}

func TestTreeErrorSentinelMatching(t *testing.T) {
	err := newError(ErrKeyNotFound, "battery/level", nil)
	require.True(t, errors.Is(err, SentinelKeyNotFound))
	require.False(t, errors.Is(err, SentinelAccessDenied))
}
