package api

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/dao-analytics/internal/runner"
)

func TestHub_PublishRunEvent(t *testing.T) {
	logger := zerolog.Nop()
	hub := NewHub(nil, &logger)

	hub.PublishRunEvent(runner.Event{RunID: "r1", Kind: runner.KindCluster, Stage: "fitting"})

	var msg struct {
		Type  string       `json:"type"`
		Event runner.Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal(<-hub.broadcast, &msg))
	assert.Equal(t, "run_event", msg.Type)
	assert.Equal(t, "r1", msg.Event.RunID)
	assert.Equal(t, "fitting", msg.Event.Stage)
}

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	logger := zerolog.Nop()
	hub := NewHub(nil, &logger)

	for i := 0; i < cap(hub.broadcast)+5; i++ {
		hub.Broadcast([]byte("x"))
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}
