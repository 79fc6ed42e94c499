package audio

// SampleRate is the canonical internal sample rate, in Hz.
const SampleRate = 16000

// MaxSegmentDuration is the maximum duration, in seconds, of any speech
// segment the segmenter worker may emit.
const MaxSegmentDuration = 30.0

// RingCapacitySamples is the ring buffer capacity: MaxSegmentDuration seconds
// at SampleRate.
const RingCapacitySamples = int(MaxSegmentDuration * SampleRate)

// WAVHeaderSize is the byte size of the canonical mono 16-bit PCM WAV header
// written by ExtractWAV.
const WAVHeaderSize = 44

// VorbisContentType is the required Content-Type header for the client
// transcribe socket upgrade request.
const VorbisContentType = "audio/ogg; codecs=vorbis"

// ResampleChunkSize is the number of input samples fed to the resampler
// per call.
const ResampleChunkSize = 1024
