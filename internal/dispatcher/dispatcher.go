// Package dispatcher consumes segment items, extracts speech clips from
// the ring buffer, submits them for transcription with cross-segment
// prompt continuity, and emits ordered transcript records to the
// client.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rapidaai/speechgw/internal/audio"
	"github.com/rapidaai/speechgw/internal/logging"
	"github.com/rapidaai/speechgw/internal/segment"
)

// TranscriptItem is emitted to the client once per Speech segment.
type TranscriptItem struct {
	Begin float32 `json:"begin"`
	End   float32 `json:"end"`
	Text  string  `json:"text"`
}

// Transcriber submits a clip for transcription, carrying the optional
// client-selected language and the previous segment's text as a
// continuity prompt.
type Transcriber interface {
	Transcribe(ctx context.Context, clip []byte, language, prompt string) (string, error)
}

// ClientSink receives one newline-terminated JSON record per Speech
// segment, in strict upstream order.
type ClientSink interface {
	WriteText(ctx context.Context, line []byte) error
}

// Dispatcher drives the consume loop over a session's item channel.
type Dispatcher struct {
	logger      logging.Logger
	ring        *audio.Ring
	meter       *audio.Meter
	transcriber Transcriber
	sink        ClientSink
	language    string

	prevText string
}

// New creates a Dispatcher. language is the client-selected optional
// language tag; empty means unspecified.
func New(logger logging.Logger, ring *audio.Ring, meter *audio.Meter, transcriber Transcriber, sink ClientSink, language string) *Dispatcher {
	return &Dispatcher{
		logger:      logger,
		ring:        ring,
		meter:       meter,
		transcriber: transcriber,
		sink:        sink,
		language:    language,
	}
}

// Run consumes items until the channel closes, the context is
// canceled, or a failed clip transcription terminates the dispatcher.
func (d *Dispatcher) Run(ctx context.Context, items <-chan segment.Item) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-items:
			if !ok {
				return nil
			}
			if err := d.handle(ctx, item); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, item segment.Item) error {
	if !item.IsSpeech() {
		d.meter.Advance(float64(item.End))
		return nil
	}

	clip := d.ring.ExtractWAV(float64(item.Begin), float64(item.End))
	d.meter.Advance(float64(item.End))

	text, err := d.transcriber.Transcribe(ctx, clip, d.language, d.prevText)
	if err != nil {
		return fmt.Errorf("dispatcher: transcription failed: %w", err)
	}
	d.prevText = text

	record := TranscriptItem{Begin: item.Begin, End: item.End, Text: text}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("dispatcher: failed to marshal transcript item: %w", err)
	}
	line = append(line, '\n')

	if err := d.sink.WriteText(ctx, line); err != nil {
		return fmt.Errorf("dispatcher: client write failed: %w", err)
	}
	return nil
}
