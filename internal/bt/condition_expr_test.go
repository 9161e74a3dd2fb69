package bt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConditionExprEvaluatesAgainstBlackboard(t *testing.T) {
	bus := NewEventBus()
	n, err := NewConditionExpr(bus, "battery-ok", `perception.battery > 20`, ClientScope{})
	require.NoError(t, err)

	bb := NewBlackboard(0)
	bb.Set("perception", "battery", 80, "test")

	status, err := n.Tick(context.Background(), bb)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)

	bb.Set("perception", "battery", 5, "test")
	status, err = n.Tick(context.Background(), bb)
	require.NoError(t, err)
	require.Equal(t, StatusFailure, status)
}

func TestConditionExprSupportsMembershipOperators(t *testing.T) {
	bus := NewEventBus()
	n, err := NewConditionExpr(bus, "in-zone", `planning.zone in ["dock", "charge"]`, ClientScope{})
	require.NoError(t, err)

	bb := NewBlackboard(0)
	bb.Set("planning", "zone", "dock", "test")

	status, err := n.Tick(context.Background(), bb)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)
}

func TestConditionExprRejectsInvalidSource(t *testing.T) {
	bus := NewEventBus()
	_, err := NewConditionExpr(bus, "broken", `this is not valid expr syntax {{{`, ClientScope{})
	require.Error(t, err)
	require.ErrorIs(t, err, SentinelConfigInvalid)
}
