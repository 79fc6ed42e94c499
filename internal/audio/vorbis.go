package audio

import (
	"io"

	"github.com/jfreymuth/oggvorbis"
)

// vorbisStream decodes an Ogg/Vorbis bitstream into interleaved F32 PCM,
// exposing the decoded channel count and native sample rate needed by
// Processor's mono-mix/resample stage.
type vorbisStream struct {
	reader *oggvorbis.Reader
}

// newVorbisStream wraps r, which must yield a single-track Ogg/Vorbis
// bitstream: identification header, comment header, setup header, then
// audio pages.
func newVorbisStream(r io.Reader) (*vorbisStream, error) {
	decoder, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &vorbisStream{reader: decoder}, nil
}

func (v *vorbisStream) channels() int   { return v.reader.Channels() }
func (v *vorbisStream) sampleRate() int { return v.reader.SampleRate() }

// readInto reads up to len(buf) interleaved F32 samples, returning the
// number of samples read. Returns io.EOF when the stream is exhausted.
func (v *vorbisStream) readInto(buf []float32) (int, error) {
	return v.reader.Read(buf)
}
