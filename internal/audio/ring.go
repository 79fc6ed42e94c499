package audio

import (
	"encoding/binary"
	"sync"
)

// Ring is a fixed-capacity, time-indexed window of the most recently pushed
// mono 16-bit PCM samples at SampleRate. Once full, each push evicts the
// oldest retained sample. It is shared between the ingest stage (producer)
// and the segment dispatcher (consumer, for clip extraction) under a single
// mutex — mutation and extraction never run concurrently against it.
type Ring struct {
	mu       sync.Mutex
	samples  []int16 // circular storage, length == capacity once full
	head     int     // index of the oldest retained sample
	len      int     // number of samples currently retained
	capacity int
	pushed   uint64 // lifetime count of samples ever pushed
}

// NewRing creates a Ring with the given capacity in samples.
func NewRing(capacity int) *Ring {
	return &Ring{
		samples:  make([]int16, capacity),
		capacity: capacity,
	}
}

// Push appends a sample, evicting the oldest retained sample if full.
func (r *Ring) Push(sample int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushSampleLocked(sample)
}

// PushBatch appends a batch of samples, evicting as needed. It is
// equivalent to calling Push for each element but takes the mutex once.
func (r *Ring) PushBatch(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		r.pushSampleLocked(s)
	}
}

func (r *Ring) pushSampleLocked(sample int16) {
	if r.len < r.capacity {
		idx := (r.head + r.len) % r.capacity
		r.samples[idx] = sample
		r.len++
	} else {
		r.samples[r.head] = sample
		r.head = (r.head + 1) % r.capacity
	}
	r.pushed++
}

// Pushed returns the lifetime number of samples appended to the ring.
func (r *Ring) Pushed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushed
}

// Len returns the number of samples currently retained.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.len
}

// at returns the sample at logical index i (0-based from oldest retained).
// Caller must hold r.mu.
func (r *Ring) at(i int) int16 {
	return r.samples[(r.head+i)%r.capacity]
}

// timeIndex converts a time offset in seconds (relative to session start)
// into a logical ring index, clamped into [0, len-1] (or 0 if the ring is
// empty). Caller must hold r.mu.
func (r *Ring) timeIndex(seconds float64) int {
	if r.len == 0 {
		return 0
	}
	frameOffset := int64(r.pushed) - int64(r.len)
	sampleOffset := int64(seconds * SampleRate)
	if sampleOffset < frameOffset {
		sampleOffset = frameOffset
	}
	idx := int(sampleOffset - frameOffset)
	if idx > r.len-1 {
		idx = r.len - 1
	}
	return idx
}

// ExtractWAV materializes the requested [beginS, endS) interval (seconds
// from session start) as a self-describing mono 16kHz 16-bit PCM WAV blob.
// beginS is clamped up to the oldest retained time and endS is clamped down
// to the newest retained time; if begin >= end after clamping, the result is
// a header-only empty clip. The returned length always equals
// WAVHeaderSize + 2*sampleCount — checked as an invariant.
func (r *Ring) ExtractWAV(beginS, endS float64) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.timeIndex(beginS)
	to := r.timeIndex(endS)
	if from >= to {
		from, to = 0, 0
	}

	sampleCount := to - from
	capacityBytes := WAVHeaderSize + sampleCount*2
	out := make([]byte, 0, capacityBytes)
	out = appendWAVHeader(out, sampleCount)
	for i := from; i < to; i++ {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(r.at(i)))
		out = append(out, b[:]...)
	}

	if len(out) != capacityBytes {
		panic("audio: extracted wav length invariant violated")
	}
	return out
}

// appendWAVHeader appends a canonical 44-byte mono 16kHz 16-bit PCM WAV
// header for sampleCount samples.
func appendWAVHeader(buf []byte, sampleCount int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
		bytesPerSample = bitsPerSample / 8
	)
	dataLen := sampleCount * bytesPerSample * channels
	byteRate := SampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample

	buf = append(buf, "RIFF"...)
	buf = appendUint32LE(buf, uint32(36+dataLen))
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	buf = appendUint32LE(buf, 16)
	buf = appendUint16LE(buf, 1) // PCM
	buf = appendUint16LE(buf, channels)
	buf = appendUint32LE(buf, SampleRate)
	buf = appendUint32LE(buf, uint32(byteRate))
	buf = appendUint16LE(buf, uint16(blockAlign))
	buf = appendUint16LE(buf, bitsPerSample)

	buf = append(buf, "data"...)
	buf = appendUint32LE(buf, uint32(dataLen))
	return buf
}

func appendUint32LE(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint16LE(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}
