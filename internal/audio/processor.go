package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"

	"github.com/rapidaai/speechgw/internal/logging"
)

// BinaryMessageKind distinguishes the websocket frame types Processor cares
// about; control frames are ignored.
type BinaryMessageKind int

const (
	// ClientBinary is a binary data frame carrying encoded audio bytes.
	ClientBinary BinaryMessageKind = iota
	// ClientOther is any non-binary frame (ping/pong/text/close); ignored
	// until the terminator or a graceful close.
	ClientOther
)

// ClientMessage is one frame read from the client socket.
type ClientMessage struct {
	Kind BinaryMessageKind
	Data []byte
}

// ClientSource yields frames from the client's upstream socket. Returns
// io.EOF (wrapped or bare) when the client disconnects.
type ClientSource interface {
	ReadMessage() (ClientMessage, error)
}

// SegmenterSink accepts outbound PCM/terminator messages bound for the
// segmenter worker.
type SegmenterSink interface {
	Send(ctx context.Context, data []byte) error
}

// Processor decodes the client's Ogg/Vorbis container, mixes channels to
// mono, resamples to SampleRate, meters-and-pushes into the ring buffer,
// and forwards the same samples as i16le PCM to the segmenter.
type Processor struct {
	logger     logging.Logger
	terminator []byte // optional; nil if the client didn't negotiate one

	resampler     *resampler
	merged        []float32 // growing mono scratch buffer (pre-resample)
	sawTerminator bool      // set once pumpClientFrames strips the terminator off the final frame
}

// NewProcessor creates a Processor. terminator may be nil.
func NewProcessor(logger logging.Logger, terminator []byte) *Processor {
	return &Processor{logger: logger, terminator: terminator}
}

// ErrUnsupportedSampleFormat is returned when the decoded stream isn't F32
// samples; the session is aborted in this case.
var ErrUnsupportedSampleFormat = errors.New("audio: unsupported decoded sample format")

// Run drives the full decode → mix → resample → meter-and-push pipeline
// until the client stream ends, the context is canceled, or a fatal error
// occurs. It reads ClientBinary frames from src, ignoring everything else,
// and writes PCM (and, if present, the terminator) to sink.
func (p *Processor) Run(ctx context.Context, src ClientSource, sink SegmenterSink, ring *Ring, meter *Meter) error {
	pr, pw := io.Pipe()
	readErrCh := make(chan error, 1)

	go func() {
		readErrCh <- p.pumpClientFrames(src, pw)
	}()

	stream, err := newVorbisStream(pr)
	if err != nil {
		pr.CloseWithError(err)
		<-readErrCh
		p.logger.Debugf("audio: failed to initialize vorbis decoder: %v", err)
		return err
	}

	if err := p.decodeLoop(ctx, stream, sink, ring, meter); err != nil {
		pr.CloseWithError(err)
		<-readErrCh
		return err
	}

	pr.Close()
	if err := <-readErrCh; err != nil {
		return err
	}

	return p.forwardTerminator(ctx, sink)
}

// forwardTerminator sends the negotiated terminator sequence to sink as
// one final message, after the last PCM chunk, if the client's trailing
// frame actually carried one.
func (p *Processor) forwardTerminator(ctx context.Context, sink SegmenterSink) error {
	if !p.sawTerminator {
		return nil
	}
	return sink.Send(ctx, p.terminator)
}

// pumpClientFrames reads frames from src, ignoring control frames, writing
// binary payloads to w, and detecting/stripping a trailing terminator on
// the final frame. The terminator itself is not written to w (it belongs
// to the wire protocol, not the Vorbis bitstream); Run forwards it to the
// segmenter separately, after the last PCM chunk, once decoding drains.
func (p *Processor) pumpClientFrames(src ClientSource, w *io.PipeWriter) error {
	defer w.Close()
	for {
		msg, err := src.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if msg.Kind != ClientBinary {
			continue
		}

		data := msg.Data
		if len(p.terminator) > 0 && bytes.HasSuffix(data, p.terminator) {
			data = data[:len(data)-len(p.terminator)]
			if _, err := w.Write(data); err != nil {
				return err
			}
			p.sawTerminator = true
			return nil
		}

		if _, err := w.Write(data); err != nil {
			return err
		}
	}
}

// decodeLoop reads decoded F32 frames from stream and feeds each buffer
// through mono-mix/resample/meter-and-push.
func (p *Processor) decodeLoop(ctx context.Context, stream *vorbisStream, sink SegmenterSink, ring *Ring, meter *Meter) error {
	channels := stream.channels()
	if p.resampler == nil {
		p.resampler = newResampler(stream.sampleRate())
	}

	const readFrames = 2048
	buf := make([]float32, readFrames*channels)

	for {
		n, err := stream.readInto(buf)
		if n > 0 {
			if err := p.processBuffer(ctx, buf[:n], channels, stream.sampleRate(), sink, ring, meter); err != nil {
				return err
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// processBuffer mixes one decoded buffer to mono, resamples it, and
// meters-and-pushes the result.
func (p *Processor) processBuffer(ctx context.Context, interleaved []float32, channels, nativeRate int, sink SegmenterSink, ring *Ring, meter *Meter) error {
	p.mergeChannels(interleaved, channels)

	resampled := p.resample(nativeRate)

	return p.meterAndPush(ctx, resampled, sink, ring, meter)
}

// mergeChannels mixes an interleaved multi-channel buffer to mono using a
// streaming mean update, appending to p.merged.
func (p *Processor) mergeChannels(interleaved []float32, channels int) {
	frames := len(interleaved) / channels
	offset := len(p.merged)
	p.merged = append(p.merged, make([]float32, frames)...)

	for f := 0; f < frames; f++ {
		var m float32
		for c := 0; c < channels; c++ {
			s := interleaved[f*channels+c]
			m += (s - m) / float32(c+1)
		}
		p.merged[offset+f] = m
	}
}

// resample drains p.merged in fixed ResampleChunkSize chunks through the
// resampler (or passes it through unchanged when already at SampleRate),
// returning the produced samples and leaving any unconsumed remainder in
// p.merged for the next call.
func (p *Processor) resample(nativeRate int) []float32 {
	if nativeRate == SampleRate {
		out := p.merged
		p.merged = nil
		return out
	}

	var out []float32
	consumed := 0
	for len(p.merged)-consumed >= ResampleChunkSize {
		chunk := p.merged[consumed : consumed+ResampleChunkSize]
		out = p.resampler.process(chunk, out)
		consumed += ResampleChunkSize
	}
	p.merged = append(p.merged[:0], p.merged[consumed:]...)
	return out
}

// meterAndPush slices resampled into admissible chunks bounded by ring
// head-room, pushing each slice into the ring buffer and forwarding it as
// i16le PCM to the segmenter, suspending on the meter whenever head-room
// is exhausted.
func (p *Processor) meterAndPush(ctx context.Context, resampled []float32, sink SegmenterSink, ring *Ring, meter *Meter) error {
	offset := 0
	for offset < len(resampled) {
		headroom, err := meter.WaitHeadroom(ctx, ring.Pushed(), ring.capacity)
		if err != nil {
			return err
		}

		end := offset + headroom
		if end > len(resampled) {
			end = len(resampled)
		}
		slice := resampled[offset:end]

		pcm := make([]byte, 2*len(slice))
		samples := make([]int16, len(slice))
		for i, f32 := range slice {
			samples[i] = saturateI16(f32)
			binary.LittleEndian.PutUint16(pcm[2*i:], uint16(samples[i]))
		}
		ring.PushBatch(samples)

		if err := sink.Send(ctx, pcm); err != nil {
			return err
		}
		offset = end
	}
	return nil
}

// saturateI16 converts an F32 sample in [-1,1] to i16 via saturating
// multiply by i16 max.
func saturateI16(f32 float32) int16 {
	v := f32 * 32767.0
	if v > 32767.0 {
		return 32767
	}
	if v < -32768.0 {
		return -32768
	}
	return int16(v)
}
