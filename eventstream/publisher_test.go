package eventstream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ragline/batch"
)

func TestBatchEnvelopeMarshalsType(t *testing.T) {
	env := batchEnvelope{
		Type: batch.EventBatchComplete,
		Event: batch.Event{
			Type:       batch.EventBatchComplete,
			BatchIndex: 2,
			BatchSize:  50,
			Duration:   120 * time.Millisecond,
		},
		At: time.Now(),
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "batch_complete", decoded["type"])

	event, ok := decoded["event"].(map[string]any)
	require.True(t, ok)
	assert.NotNil(t, event)
}
