package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestArrivalPayload(t *testing.T) {
	at := time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)
	b, err := Arrival{Name: "Alice", GuestCount: 3, FrameSeq: 42, At: at}.Payload()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "Alice", got["name"])
	assert.Equal(t, float64(3), got["guest_count"])
	assert.Equal(t, float64(42), got["frame_seq"])
	assert.Equal(t, "2024-05-01T18:30:00Z", got["at"])
}

func TestNewMQTTUnreachableBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	_, err := NewMQTT("tcp://127.0.0.1:1", "attendant-test", "attendant/arrivals", zap.NewNop())
	assert.Error(t, err)
}
