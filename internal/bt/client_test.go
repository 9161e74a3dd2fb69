package bt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientScopeRestrictsNamespace(t *testing.T) {
	bb := NewBlackboard(16)
	bb.Set("perception", "battery", 80, "test")
	bb.Set("planning", "goal", "dock", "test")

	client := NewClient(bb, ClientScope{
		ActorID:           "battery-guard",
		AllowedNamespaces: []string{"perception"},
	})

	v, err := client.Get("perception", "battery")
	require.NoError(t, err)
	require.Equal(t, 80, v)

	_, err = client.Get("planning", "goal")
	require.Error(t, err)
	require.ErrorIs(t, err, SentinelAccessDenied)
}

func TestClientScopeRestrictsKeys(t *testing.T) {
	bb := NewBlackboard(16)
	client := NewClient(bb, ClientScope{
		ActorID:           "writer",
		AllowedNamespaces: []string{"planning"},
		WriteKeys:         []string{"planning/goal"},
	})

	require.NoError(t, client.Set("planning", "goal", "dock"))

	err := client.Set("planning", "other", "value")
	require.Error(t, err)
	require.ErrorIs(t, err, SentinelAccessDenied)
}

func TestClientGetDefault(t *testing.T) {
	bb := NewBlackboard(16)
	client := NewClient(bb, ClientScope{})

	v, err := client.GetDefault("ns", "missing", "fallback")
	require.NoError(t, err)
	require.Equal(t, "fallback", v)
}

func TestClientKeyNotFound(t *testing.T) {
	bb := NewBlackboard(16)
	client := NewClient(bb, ClientScope{})

	_, err := client.Get("ns", "missing")
	require.Error(t, err)
	require.ErrorIs(t, err, SentinelKeyNotFound)
}
