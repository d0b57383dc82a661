package relay

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"happy-acp/internal/acp"
	"happy-acp/internal/turns"
)

func TestStdoutSink_PushEnvelopeWritesOneJSONLinePerCall(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStdoutSink(&buf)

	err := sink.PushEnvelope(turns.Envelope{ID: "e1", Time: 1, Kind: turns.EvTurnStart})
	require.NoError(t, err)
	err = sink.PushEnvelope(turns.Envelope{ID: "e2", Time: 2, Kind: turns.EvTurnEnd})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first envelopeLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "envelope", first.Type)
	require.Equal(t, "e1", first.Envelope.ID)
}

func TestStdoutSink_UpdateMetadataWritesMetadataLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStdoutSink(&buf)

	err := sink.UpdateMetadata(acp.Metadata{CurrentModelCode: "opus"})
	require.NoError(t, err)

	var line metadataLine
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "metadata", line.Type)
	require.Equal(t, "opus", line.Metadata.CurrentModelCode)
}
