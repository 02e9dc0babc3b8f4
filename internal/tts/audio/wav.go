// Package audio turns raw model waveforms into WAV containers for job results.
package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Output format of every synthesized clip.
const (
	SAMPLE_RATE = 24000
	BIT_DEPTH   = 16
	CHANNELS    = 1
)

const (
	MAX_SAMPLE_RATE = 192000
	pcmAudioFormat  = 1
)

// Constants for error messages and formats.
const (
	ERR_FMT_SAMPLE_RATE_RANGE = "%w: sample rate must be between 1 and %d Hz, got %d"
	ERR_FMT_ENCODE            = "failed to encode wav: %w"
	ERR_FMT_FINALIZE          = "failed to finalize wav header: %w"
	ERR_FMT_NOT_WAV           = "%w: %v"
)

// Common errors for the audio package.
var (
	ErrInvalidFormat = errors.New("invalid audio format")
	ErrEmptyWaveform = errors.New("waveform contains no samples")
	ErrInvalidWAV    = errors.New("not a valid wav container")
)

// Format represents supported audio container formats.
type Format string

const (
	FORMAT_WAV Format = "wav"
)

// Info describes a decoded WAV header.
type Info struct {
	Format     Format
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// EncodeWAV writes samples as a mono 16-bit PCM WAV container and returns the bytes.
// Samples are expected in [-1, 1]; values outside that range are clipped.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyWaveform
	}

	rateErr := validateSampleRate(sampleRate)
	if rateErr != nil {
		return nil, rateErr
	}

	out := &writeSeeker{}
	encoder := wav.NewEncoder(out, sampleRate, BIT_DEPTH, CHANNELS, pcmAudioFormat)

	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: CHANNELS,
			SampleRate:  sampleRate,
		},
		Data:           toPCM16(samples),
		SourceBitDepth: BIT_DEPTH,
	}

	writeErr := encoder.Write(buffer)
	if writeErr != nil {
		return nil, fmt.Errorf(ERR_FMT_ENCODE, writeErr)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return nil, fmt.Errorf(ERR_FMT_FINALIZE, closeErr)
	}

	return out.Bytes(), nil
}

// EncodeBase64 returns the standard base64 encoding of data.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Duration returns the playback length of numSamples mono samples.
func Duration(numSamples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}

	return time.Duration(numSamples) * time.Second / time.Duration(sampleRate)
}

// Inspect decodes the header of a WAV container.
func Inspect(data []byte) (Info, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return Info{}, fmt.Errorf(ERR_FMT_NOT_WAV, ErrInvalidWAV, decoder.Err())
	}

	duration, err := decoder.Duration()
	if err != nil {
		return Info{}, fmt.Errorf(ERR_FMT_NOT_WAV, ErrInvalidWAV, err)
	}

	return Info{
		Format:     FORMAT_WAV,
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
		Duration:   duration,
	}, nil
}

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MAX_SAMPLE_RATE {
		return fmt.Errorf(
			ERR_FMT_SAMPLE_RATE_RANGE,
			ErrInvalidFormat,
			MAX_SAMPLE_RATE,
			sampleRate,
		)
	}

	return nil
}

func toPCM16(samples []float32) []int {
	pcm := make([]int, len(samples))

	for i, sample := range samples {
		value := float64(sample)
		if math.IsNaN(value) {
			value = 0
		}

		value = math.Max(-1, math.Min(1, value))
		pcm[i] = int(math.Round(value * math.MaxInt16))
	}

	return pcm
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch the RIFF and data chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}

	copy(w.buf[w.pos:end], p)
	w.pos = end

	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64

	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(w.pos)
	case io.SeekEnd:
		base = int64(len(w.buf))
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}

	next := base + offset
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}

	w.pos = int(next)

	return next, nil
}

func (w *writeSeeker) Bytes() []byte {
	return w.buf
}
