// Package relay defines the narrow interface the core pushes session
// envelopes and metadata through, without depending on any concrete
// transport to the outside world.
package relay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"happy-acp/internal/acp"
	"happy-acp/internal/turns"
)

// Sink is the contract a real relay client satisfies. PushEnvelope
// delivers one ordered session envelope; UpdateMetadata delivers the
// canonical config-metadata snapshot whenever it changes.
type Sink interface {
	PushEnvelope(turns.Envelope) error
	UpdateMetadata(acp.Metadata) error
}

// StdoutSink writes envelopes and metadata updates as ndJSON to a
// writer, standing in for a real relay connection during local runs.
type StdoutSink struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
}

// NewStdoutSink wraps w in a buffered, line-flushing writer.
func NewStdoutSink(w io.Writer) *StdoutSink {
	bw := bufio.NewWriter(w)
	return &StdoutSink{w: bw, enc: json.NewEncoder(bw)}
}

type envelopeLine struct {
	Type     string         `json:"type"`
	Envelope turns.Envelope `json:"envelope"`
}

type metadataLine struct {
	Type     string       `json:"type"`
	Metadata acp.Metadata `json:"metadata"`
}

func (s *StdoutSink) PushEnvelope(e turns.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(envelopeLine{Type: "envelope", Envelope: e}); err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return s.w.Flush()
}

func (s *StdoutSink) UpdateMetadata(m acp.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(metadataLine{Type: "metadata", Metadata: m}); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return s.w.Flush()
}
