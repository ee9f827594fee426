package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorSnapshotMarshalsErrorOnly(t *testing.T) {
	raw, err := json.Marshal(PlayerSnapshot{Error: "No video player found"})
	require.NoError(t, err)
	// Stale numeric fields must never leak alongside an error.
	assert.JSONEq(t, `{"error":"No video player found"}`, string(raw))
}

func TestHealthySnapshotMarshalsAllFields(t *testing.T) {
	raw, err := json.Marshal(PlayerSnapshot{CurrentTime: 1.5, PlayState: PlayStatePlaying})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NotContains(t, decoded, "error")
	assert.Equal(t, 1.5, decoded["currentTime"])
}

func TestRepeatTargetOmittedMeansAdvance(t *testing.T) {
	target, err := NewCommand(CmdLoop).RepeatTarget()
	require.NoError(t, err)
	assert.Nil(t, target)

	target, err = NewLoop(RepeatSingle).RepeatTarget()
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, RepeatSingle, *target)
}

func TestRepeatTargetRangeChecked(t *testing.T) {
	cmd := Command{Kind: CmdLoop, Value: json.RawMessage("7")}
	_, err := cmd.RepeatTarget()
	assert.Error(t, err)

	cmd = Command{Kind: CmdLoop, Value: json.RawMessage("-1")}
	_, err = cmd.RepeatTarget()
	assert.Error(t, err)
}

func TestPlayItemRoundTrip(t *testing.T) {
	raw, err := json.Marshal(NewPlayItem("abc123"))
	require.NoError(t, err)

	var cmd Command
	require.NoError(t, json.Unmarshal(raw, &cmd))
	assert.Equal(t, CmdPlayItem, cmd.Kind)

	id, err := cmd.MediaID()
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestEventCarriesSinglePayload(t *testing.T) {
	raw, err := json.Marshal(NewAudioFrameEvent([]int{1, 2, 3}))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, string(EventAudioFrame), decoded["type"])
	assert.Contains(t, decoded, "frame")
	assert.NotContains(t, decoded, "snapshot")
	assert.NotContains(t, decoded, "playlist")
}
