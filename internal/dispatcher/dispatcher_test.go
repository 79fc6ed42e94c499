package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/speechgw/internal/audio"
	"github.com/rapidaai/speechgw/internal/segment"
)

type fakeTranscriber struct {
	text string
	err  error

	gotPrompt string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, clip []byte, language, prompt string) (string, error) {
	f.gotPrompt = prompt
	return f.text, f.err
}

type fakeSink struct {
	lines [][]byte
}

func (f *fakeSink) WriteText(ctx context.Context, line []byte) error {
	f.lines = append(f.lines, line)
	return nil
}

func newTestDispatcher(tr Transcriber, sink ClientSink) (*Dispatcher, *audio.Ring, *audio.Meter) {
	ring := audio.NewRing(audio.SampleRate)
	meter := audio.NewMeter()
	ring.PushBatch(make([]int16, audio.SampleRate))
	return New(nil, ring, meter, tr, sink, ""), ring, meter
}

func TestVoidSegmentAdvancesWatermarkOnly(t *testing.T) {
	tr := &fakeTranscriber{}
	sink := &fakeSink{}
	d, _, meter := newTestDispatcher(tr, sink)

	err := d.handle(context.Background(), segment.Item{Kind: segment.KindVoid, Begin: 0, End: 0.5})
	require.NoError(t, err)
	assert.Equal(t, int64(0.5*audio.SampleRate), meter.ConsumedSamples())
	assert.Empty(t, sink.lines)
}

func TestSpeechSegmentEmitsTranscriptAndCarriesPrompt(t *testing.T) {
	tr := &fakeTranscriber{text: "hello"}
	sink := &fakeSink{}
	d, _, meter := newTestDispatcher(tr, sink)

	err := d.handle(context.Background(), segment.Item{Kind: segment.KindSpeech, Begin: 0, End: 0.2})
	require.NoError(t, err)
	require.Len(t, sink.lines, 1)

	var got TranscriptItem
	require.NoError(t, json.Unmarshal(sink.lines[0][:len(sink.lines[0])-1], &got))
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, float32(0.2), got.End)
	assert.Equal(t, int64(0.2*audio.SampleRate), meter.ConsumedSamples())

	tr.text = "world"
	require.NoError(t, d.handle(context.Background(), segment.Item{Kind: segment.KindSpeech, Begin: 0.2, End: 0.4}))
	assert.Equal(t, "hello", tr.gotPrompt)
	require.Len(t, sink.lines, 2)
}

func TestFailedTranscriptionTerminatesDispatcher(t *testing.T) {
	tr := &fakeTranscriber{err: errors.New("worker unavailable")}
	sink := &fakeSink{}
	d, _, _ := newTestDispatcher(tr, sink)

	err := d.handle(context.Background(), segment.Item{Kind: segment.KindSpeech, Begin: 0, End: 0.1})
	assert.Error(t, err)
	assert.Empty(t, sink.lines)
}
