// Package myaudio reads recordings and cuts them into analysis windows,
// and encodes windows for transport.
package myaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/tphakala/flac"

	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

// GetLogger returns the myaudio logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("audio")
}

// AudioInfo describes a recording.
type AudioInfo struct {
	SampleRate   int
	NumChannels  int
	BitDepth     int
	TotalSamples int // per channel, 0 when unknown
}

// readBufferFrames is the number of sample frames decoded per read.
const readBufferFrames = 48000

// ReadInfo returns the format of a WAV or FLAC file.
func ReadInfo(path string) (AudioInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return AudioInfo{}, fileError(err, path)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		return readWAVInfo(f)
	case ".flac":
		return readFLACInfo(f)
	default:
		return AudioInfo{}, unsupportedFormat(ext)
	}
}

// ReadFile decodes a WAV or FLAC file and hands every analysis window to fn.
// The framer configuration takes its sample rate and channel count from the
// file; windowSeconds and overlap come from the caller.
func ReadFile(ctx context.Context, path string, windowSeconds, overlap float64, fn FrameFunc) (AudioInfo, error) {
	info, err := ReadInfo(path)
	if err != nil {
		return info, err
	}

	framer, err := NewFramer(FramerConfig{
		SampleRate:    info.SampleRate,
		Channels:      info.NumChannels,
		WindowSeconds: windowSeconds,
		Overlap:       overlap,
	})
	if err != nil {
		return info, err
	}

	f, err := os.Open(path)
	if err != nil {
		return info, fileError(err, path)
	}
	defer f.Close()

	GetLogger().Debug("reading audio file",
		logger.String("path", path),
		logger.Int("sample_rate", info.SampleRate),
		logger.Int("channels", info.NumChannels),
		logger.Int("bit_depth", info.BitDepth))

	write := func(interleaved []float32) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return framer.Write(interleaved, fn)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		err = decodeWAV(f, write)
	default:
		err = decodeFLAC(f, write)
	}
	if err != nil {
		return info, err
	}
	return info, framer.Flush(fn)
}

func readWAVInfo(r io.ReadSeeker) (AudioInfo, error) {
	decoder := wav.NewDecoder(r)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return AudioInfo{}, audioError(fmt.Errorf("invalid WAV file format"))
	}
	info := AudioInfo{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
		BitDepth:    int(decoder.BitDepth),
	}
	if err := checkFormat(info); err != nil {
		return AudioInfo{}, err
	}
	if d, err := decoder.Duration(); err == nil {
		info.TotalSamples = int(d.Seconds() * float64(info.SampleRate))
	}
	return info, nil
}

func readFLACInfo(r io.Reader) (AudioInfo, error) {
	decoder, err := flac.NewDecoder(r)
	if err != nil {
		return AudioInfo{}, audioError(err)
	}
	info := AudioInfo{
		SampleRate:   decoder.SampleRate,
		NumChannels:  decoder.NChannels,
		BitDepth:     decoder.BitsPerSample,
		TotalSamples: int(decoder.TotalSamples),
	}
	return info, checkFormat(info)
}

func checkFormat(info AudioInfo) error {
	if info.NumChannels != 1 && info.NumChannels != 2 {
		return audioError(fmt.Errorf("unsupported number of channels: %d", info.NumChannels))
	}
	if _, err := divisorFor(info.BitDepth); err != nil {
		return err
	}
	if info.SampleRate <= 0 {
		return audioError(fmt.Errorf("invalid sample rate: %d", info.SampleRate))
	}
	return nil
}

// divisorFor returns the scale that maps integer PCM onto [-1, 1).
func divisorFor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, audioError(fmt.Errorf("unsupported audio file bit depth: %d", bitDepth))
	}
}

func decodeWAV(r io.ReadSeeker, write func([]float32) error) error {
	decoder := wav.NewDecoder(r)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return audioError(fmt.Errorf("input is not a valid WAV audio file"))
	}
	divisor, err := divisorFor(int(decoder.BitDepth))
	if err != nil {
		return err
	}

	channels := int(decoder.NumChans)
	buf := &audio.IntBuffer{
		Data:   make([]int, readBufferFrames*channels),
		Format: &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: channels},
	}
	floats := make([]float32, len(buf.Data))

	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return audioError(err)
		}
		if n == 0 {
			return nil
		}
		// drop a trailing partial sample frame
		n -= n % channels
		for i, s := range buf.Data[:n] {
			floats[i] = float32(s) / divisor
		}
		if err := write(floats[:n]); err != nil {
			return err
		}
	}
}

func decodeFLAC(r io.Reader, write func([]float32) error) error {
	decoder, err := flac.NewDecoder(r)
	if err != nil {
		return audioError(err)
	}
	divisor, err := divisorFor(decoder.BitsPerSample)
	if err != nil {
		return err
	}
	width := decoder.BitsPerSample / 8

	var floats []float32
	for {
		frame, err := decoder.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return audioError(err)
		}

		floats = floats[:0]
		for i := 0; i+width <= len(frame); i += width {
			floats = append(floats, float32(pcmSample(frame[i:], width))/divisor)
		}
		if err := write(floats); err != nil {
			return err
		}
	}
}

// pcmSample decodes one little-endian signed sample of the given byte width.
func pcmSample(b []byte, width int) int32 {
	switch width {
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		return (v << 8) >> 8 // sign extend
	default:
		return int32(binary.LittleEndian.Uint32(b)) //nolint:gosec // G115: reinterpretation of PCM bits
	}
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("myaudio").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}

func audioError(err error) error {
	return errors.New(err).
		Component("myaudio").
		Category(errors.CategoryAudio).
		Build()
}

func unsupportedFormat(ext string) error {
	return errors.Newf("unsupported audio format %q, expected .wav or .flac", ext).
		Component("myaudio").
		Category(errors.CategoryConfiguration).
		Build()
}
