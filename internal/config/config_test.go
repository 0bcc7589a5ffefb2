package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1", cfg.Server.Bind)
	assert.Equal(t, 37707, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:37707", cfg.ListenAddr())

	assert.Equal(t, 0.1, cfg.Graph.LearningRate)
	assert.Equal(t, 30*time.Second, cfg.Graph.CoactivationWindow)
	assert.False(t, cfg.Graph.AutoCoactivate)
	assert.Equal(t, 0.99, cfg.Graph.DecayFactor)
	assert.Equal(t, time.Hour, cfg.Graph.DecayInterval)
	assert.Equal(t, 0.05, cfg.Graph.MinEdgeWeight)
	assert.Equal(t, 0.1, cfg.Graph.MinNodeScore)
	assert.Equal(t, []string{"conversation", "perch_tick", "research", "reflection"}, cfg.Graph.Sources)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYNAPSE_PORT", "9999")
	t.Setenv("SYNAPSE_LEARNING_RATE", "0.25")
	t.Setenv("SYNAPSE_SOURCES", "conversation,dream")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 0.25, cfg.Graph.LearningRate)
	assert.Equal(t, []string{"conversation", "dream"}, cfg.Graph.Sources)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SYNAPSE_LEARNING_RATE", "1.5")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("SYNAPSE_LEARNING_RATE", "0.1")
	t.Setenv("SYNAPSE_DECAY_FACTOR", "0")
	_, err = Load()
	assert.Error(t, err)
}
