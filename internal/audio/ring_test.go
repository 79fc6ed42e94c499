package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingPushEvictsOldestWhenFull(t *testing.T) {
	r := NewRing(4)
	for i := int16(1); i <= 6; i++ {
		r.Push(i)
	}
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, uint64(6), r.Pushed())
	assert.Equal(t, []int16{3, 4, 5, 6}, drain(r))
}

func drain(r *Ring) []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int16, r.len)
	for i := 0; i < r.len; i++ {
		out[i] = r.at(i)
	}
	return out
}

func TestExtractWAVHeaderOnlyWhenBeginAfterEnd(t *testing.T) {
	r := NewRing(RingCapacitySamples)
	for i := 0; i < SampleRate; i++ {
		r.Push(int16(i))
	}
	blob := r.ExtractWAV(2.0, 1.0)
	assert.Equal(t, WAVHeaderSize, len(blob))
	assert.Equal(t, "RIFF", string(blob[0:4]))
	assert.Equal(t, "WAVE", string(blob[8:12]))
}

func TestExtractWAVLengthInvariant(t *testing.T) {
	r := NewRing(RingCapacitySamples)
	for i := 0; i < 3*SampleRate; i++ {
		r.Push(int16(i % 100))
	}
	blob := r.ExtractWAV(0.5, 1.5)
	require.GreaterOrEqual(t, len(blob), WAVHeaderSize)
	sampleCount := (len(blob) - WAVHeaderSize) / 2
	assert.InDelta(t, SampleRate, sampleCount, 2)
}

func TestExtractWAVClampsToRetainedWindow(t *testing.T) {
	r := NewRing(SampleRate) // 1 second of retention
	for i := 0; i < 3*SampleRate; i++ {
		r.Push(int16(i % 7))
	}
	// Only the last second is retained; asking for [0, 10] clamps to it.
	blob := r.ExtractWAV(0, 10)
	sampleCount := (len(blob) - WAVHeaderSize) / 2
	assert.Equal(t, SampleRate, sampleCount)
}

func TestExtractWAVSamplesRoundTrip(t *testing.T) {
	r := NewRing(RingCapacitySamples)
	want := []int16{100, -200, 300, -400, 500}
	for _, s := range want {
		r.Push(s)
	}
	blob := r.ExtractWAV(0, float64(len(want))/SampleRate)
	got := make([]int16, 0, len(want))
	for i := WAVHeaderSize; i < len(blob); i += 2 {
		got = append(got, int16(binary.LittleEndian.Uint16(blob[i:i+2])))
	}
	assert.Equal(t, want, got)
}
