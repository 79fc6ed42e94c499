package audio

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaturateI16ClampsAtBounds(t *testing.T) {
	assert.Equal(t, int16(32767), saturateI16(2.0))
	assert.Equal(t, int16(-32768), saturateI16(-2.0))
	assert.Equal(t, int16(0), saturateI16(0))
}

func TestMergeChannelsAveragesStereoToMono(t *testing.T) {
	p := &Processor{}
	// Two frames of stereo: (1.0, -1.0) and (0.5, 0.5)
	p.mergeChannels([]float32{1.0, -1.0, 0.5, 0.5}, 2)
	require.Len(t, p.merged, 2)
	assert.InDelta(t, 0.0, p.merged[0], 1e-6)
	assert.InDelta(t, 0.5, p.merged[1], 1e-6)
}

func TestResamplePassthroughAtNativeRate(t *testing.T) {
	p := &Processor{}
	p.merged = []float32{0.1, 0.2, 0.3}
	out := p.resample(SampleRate)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, out)
	assert.Empty(t, p.merged)
}

func TestResampleBuffersPartialChunk(t *testing.T) {
	p := &Processor{resampler: newResampler(SampleRate * 2)}
	p.merged = make([]float32, ResampleChunkSize-1)
	out := p.resample(SampleRate * 2)
	assert.Empty(t, out)
	assert.Len(t, p.merged, ResampleChunkSize-1)
}

type fakeSink struct {
	chunks [][]byte
}

func (f *fakeSink) Send(ctx context.Context, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.chunks = append(f.chunks, cp)
	return nil
}

func TestMeterAndPushFillsRingAndForwardsPCM(t *testing.T) {
	ring := NewRing(4)
	meter := NewMeter()
	sink := &fakeSink{}
	p := &Processor{}

	err := p.meterAndPush(context.Background(), []float32{0.5, -0.5, 0.25}, sink, ring, meter)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), ring.Pushed())
	require.Len(t, sink.chunks, 1)
	assert.Equal(t, 6, len(sink.chunks[0]))
}

func TestMeterAndPushSuspendsUntilHeadroom(t *testing.T) {
	ring := NewRing(2)
	meter := NewMeter()
	sink := &fakeSink{}
	p := &Processor{}

	// Fill the ring to capacity first so head-room starts at zero.
	ring.PushBatch([]int16{1, 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.meterAndPush(ctx, []float32{0.1, 0.2}, sink, ring, meter)
	}()

	select {
	case <-done:
		t.Fatal("meterAndPush should not complete before head-room is advanced")
	default:
	}

	meter.Advance(1.0) // consumedSamples >= capacity, unblocks
	require.NoError(t, <-done)
	cancel()
}

func TestMeterAndPushReturnsContextError(t *testing.T) {
	ring := NewRing(1)
	ring.PushBatch([]int16{1})
	meter := NewMeter()
	sink := &fakeSink{}
	p := &Processor{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.meterAndPush(ctx, []float32{0.1}, sink, ring, meter)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeClientSource struct {
	messages []ClientMessage
	i        int
}

func (f *fakeClientSource) ReadMessage() (ClientMessage, error) {
	if f.i >= len(f.messages) {
		return ClientMessage{}, io.EOF
	}
	msg := f.messages[f.i]
	f.i++
	return msg, nil
}

func TestPumpClientFramesStripsAndFlagsTerminator(t *testing.T) {
	terminator := []byte{0xFF, 0xFE}
	p := &Processor{terminator: terminator}
	src := &fakeClientSource{messages: []ClientMessage{
		{Kind: ClientBinary, Data: append([]byte("audio-bytes"), terminator...)},
	}}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- p.pumpClientFrames(src, pw) }()

	written, err := io.ReadAll(pr)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, []byte("audio-bytes"), written)
	assert.True(t, p.sawTerminator)
}

func TestForwardTerminatorSendsOnlyWhenSeen(t *testing.T) {
	terminator := []byte{0xFF, 0xFE}

	sink := &fakeSink{}
	p := &Processor{terminator: terminator, sawTerminator: true}
	require.NoError(t, p.forwardTerminator(context.Background(), sink))
	require.Len(t, sink.chunks, 1)
	assert.True(t, bytes.Equal(terminator, sink.chunks[0]))

	sink2 := &fakeSink{}
	p2 := &Processor{terminator: terminator}
	require.NoError(t, p2.forwardTerminator(context.Background(), sink2))
	assert.Empty(t, sink2.chunks)
}
