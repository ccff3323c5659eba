package myaudio

import (
	"bytes"
	"errors"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// seekableBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back
// to patch its header after writing the samples.
type seekableBuffer struct {
	buf []byte
	pos int
}

func (s *seekableBuffer) Write(p []byte) (int, error) {
	if end := s.pos + len(p); end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	n := copy(s.buf[s.pos:], p)
	s.pos += n
	return n, nil
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("seekableBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seekableBuffer: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}

// EncodeWAV encodes a mono window as 16-bit PCM WAV.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	var sb seekableBuffer
	if err := WriteWAV(&sb, [][]float32{samples}, sampleRate, 16); err != nil {
		return nil, err
	}
	return bytes.Clone(sb.buf), nil
}

// WriteWAV writes one slice per channel as interleaved PCM of the given bit
// depth. All channels must have the same length.
func WriteWAV(w io.WriteSeeker, channels [][]float32, sampleRate, bitDepth int) error {
	if len(channels) == 0 {
		return audioError(errors.New("no channels to encode"))
	}
	scale, err := divisorFor(bitDepth)
	if err != nil {
		return err
	}
	frames := len(channels[0])
	for _, ch := range channels[1:] {
		if len(ch) != frames {
			return audioError(errors.New("channels differ in length"))
		}
	}

	numCh := len(channels)
	data := make([]int, frames*numCh)
	maxVal := float64(scale) - 1
	for i := range frames {
		for c, ch := range channels {
			v := math.Round(float64(ch[i]) * float64(scale))
			data[i*numCh+c] = int(min(max(v, -float64(scale)), maxVal))
		}
	}

	enc := wav.NewEncoder(w, sampleRate, bitDepth, numCh, 1)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: numCh},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return audioError(err)
	}
	if err := enc.Close(); err != nil {
		return audioError(err)
	}
	return nil
}

// Downmix averages the channels into one mono signal.
func Downmix(channels [][]float32) []float32 {
	switch len(channels) {
	case 0:
		return nil
	case 1:
		return channels[0]
	}
	out := make([]float32, len(channels[0]))
	scale := 1 / float32(len(channels))
	for _, ch := range channels {
		for i := range out {
			if i < len(ch) {
				out[i] += ch[i] * scale
			}
		}
	}
	return out
}
