package myaudio

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

// ramp returns n interleaved frames where channel c of frame i is
// (i + c*0.5) / scale, so every sample identifies its position.
func ramp(n, channels int, scale float32) []float32 {
	out := make([]float32, 0, n*channels)
	for i := range n {
		for c := range channels {
			out = append(out, (float32(i)+float32(c)*0.5)/scale)
		}
	}
	return out
}

func collect(frames *[]Frame) FrameFunc {
	return func(f Frame) error {
		*frames = append(*frames, f)
		return nil
	}
}

func TestFramerOverlap(t *testing.T) {
	t.Parallel()
	f, err := NewFramer(FramerConfig{SampleRate: 10, Channels: 2, WindowSeconds: 1, Overlap: 0.4})
	require.NoError(t, err)
	assert.Equal(t, 10, f.WindowSamples())

	var frames []Frame
	// feed in uneven pieces to exercise staging
	in := ramp(31, 2, 1)
	for _, size := range []int{6, 14, 2, 40} {
		require.NoError(t, f.Write(in[:size], collect(&frames)))
		in = in[size:]
	}
	require.NoError(t, f.Flush(collect(&frames)))

	// windows start at 0, 6, 12, 18; the tail 24..30 is flushed padded
	require.Len(t, frames, 5)
	for i, fr := range frames {
		start := i * 6
		require.Len(t, fr.Left(), 10)
		require.Len(t, fr.Right(), 10)
		assert.InDelta(t, float32(start), fr.Left()[0], 1e-6, "frame %d", i)
		assert.InDelta(t, float32(start)+0.5, fr.Right()[0], 1e-6, "frame %d", i)
		assert.Equal(t, time.Duration(start)*100*time.Millisecond, fr.Offset)
		assert.Equal(t, 10, fr.SampleRate)
	}
	last := frames[4].Left()
	assert.InDelta(t, 30, last[6], 1e-6)
	assert.Equal(t, []float32{0, 0, 0}, last[7:], "zero padded")
}

func TestFramerFlushRules(t *testing.T) {
	t.Parallel()
	cfg := FramerConfig{SampleRate: 10, Channels: 1, WindowSeconds: 1}

	t.Run("short tail dropped", func(t *testing.T) {
		t.Parallel()
		f, err := NewFramer(cfg)
		require.NoError(t, err)
		var frames []Frame
		require.NoError(t, f.Write(ramp(14, 1, 1), collect(&frames)))
		require.NoError(t, f.Flush(collect(&frames)))
		assert.Len(t, frames, 1)
	})

	t.Run("half window kept", func(t *testing.T) {
		t.Parallel()
		f, err := NewFramer(cfg)
		require.NoError(t, err)
		var frames []Frame
		require.NoError(t, f.Write(ramp(15, 1, 1), collect(&frames)))
		require.NoError(t, f.Flush(collect(&frames)))
		require.Len(t, frames, 2)
		assert.InDelta(t, 14, frames[1].Left()[4], 1e-6)
	})

	t.Run("nothing new after last frame", func(t *testing.T) {
		t.Parallel()
		f, err := NewFramer(FramerConfig{SampleRate: 10, Channels: 1, WindowSeconds: 1, Overlap: 0.5})
		require.NoError(t, err)
		var frames []Frame
		require.NoError(t, f.Write(ramp(15, 1, 1), collect(&frames)))
		require.Len(t, frames, 2)
		require.NoError(t, f.Flush(collect(&frames)))
		assert.Len(t, frames, 2)
		assert.Nil(t, frames[0].Right())
	})
}

func TestFramerRejectsBadInput(t *testing.T) {
	t.Parallel()
	for _, cfg := range []FramerConfig{
		{SampleRate: 0, Channels: 1, WindowSeconds: 1},
		{SampleRate: 10, Channels: 0, WindowSeconds: 1},
		{SampleRate: 10, Channels: 1, WindowSeconds: 1, Overlap: 1},
		{SampleRate: 10, Channels: 1, WindowSeconds: 1, Overlap: -0.1},
	} {
		_, err := NewFramer(cfg)
		assert.ErrorIs(t, err, errors.ConfigurationError, "%+v", cfg)
	}

	f, err := NewFramer(FramerConfig{SampleRate: 10, Channels: 2, WindowSeconds: 1})
	require.NoError(t, err)
	err = f.Write(make([]float32, 3), func(Frame) error { return nil })
	assert.True(t, errors.IsCategory(err, errors.CategoryAudio))
}

func TestFramerStopsOnCallbackError(t *testing.T) {
	t.Parallel()
	f, err := NewFramer(FramerConfig{SampleRate: 10, Channels: 1, WindowSeconds: 1})
	require.NoError(t, err)

	stop := errors.NewStd("stop")
	calls := 0
	err = f.Write(ramp(50, 1, 1), func(Frame) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func writeStereoWAV(t *testing.T, path string, left, right []float32, rate int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, WriteWAV(f, [][]float32{left, right}, rate, 16))
}

func tone(n, rate int, freq, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestReadFileStereoWAV(t *testing.T) {
	t.Parallel()
	const rate = 8000
	path := filepath.Join(t.TempDir(), "stereo.wav")
	left := tone(rate*7, rate, 440, 0.5)
	right := tone(rate*7, rate, 440, 0.25)
	writeStereoWAV(t, path, left, right, rate)

	info, err := ReadInfo(path)
	require.NoError(t, err)
	assert.Equal(t, rate, info.SampleRate)
	assert.Equal(t, 2, info.NumChannels)
	assert.Equal(t, 16, info.BitDepth)
	assert.InDelta(t, rate*7, info.TotalSamples, 1)

	var frames []Frame
	info, err = ReadFile(context.Background(), path, 3, 0, collect(&frames))
	require.NoError(t, err)
	assert.Equal(t, 2, info.NumChannels)

	// 7 s = two full windows plus a 1 s tail, which is under half a window
	require.Len(t, frames, 2)
	assert.Equal(t, 3*time.Second, frames[1].Offset)
	for i := range 100 {
		assert.InDelta(t, left[rate*3+i], frames[1].Left()[i], 1.0/16384)
		assert.InDelta(t, right[rate*3+i], frames[1].Right()[i], 1.0/16384)
	}
}

func TestReadFileCancelled(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeStereoWAV(t, path, tone(8000, 8000, 440, 0.5), tone(8000, 8000, 440, 0.5), 8000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadFile(ctx, path, 0.5, 0, func(Frame) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadFileRejectsUnsupportedFormat(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	mp3 := filepath.Join(dir, "clip.mp3")
	require.NoError(t, os.WriteFile(mp3, []byte("ID3"), 0o600))
	_, err := ReadInfo(mp3)
	assert.ErrorIs(t, err, errors.ConfigurationError)

	_, err = ReadInfo(filepath.Join(dir, "missing.wav"))
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))

	bogus := filepath.Join(dir, "bogus.wav")
	require.NoError(t, os.WriteFile(bogus, bytes.Repeat([]byte{1}, 64), 0o600))
	_, err = ReadInfo(bogus)
	assert.True(t, errors.IsCategory(err, errors.CategoryAudio))
}

func TestEncodeWAV(t *testing.T) {
	t.Parallel()
	samples := []float32{0, 0.5, -0.5, 1, -1}
	data, err := EncodeWAV(samples, 48000)
	require.NoError(t, err)

	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)
	assert.Equal(t, []int{0, 16384, -16384, 32767, -32768}, buf.Data)
}

func TestDownmix(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Downmix(nil))
	mono := []float32{1, 2}
	assert.Equal(t, mono, Downmix([][]float32{mono}))
	assert.Equal(t, []float32{0.5, 0}, Downmix([][]float32{{1, 1}, {0, -1}}))
}

func TestPCMSampleSignExtension(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int32(-1), pcmSample([]byte{0xff, 0xff}, 2))
	assert.Equal(t, int32(-8388608), pcmSample([]byte{0x00, 0x00, 0x80}, 3))
	assert.Equal(t, int32(8388607), pcmSample([]byte{0xff, 0xff, 0x7f}, 3))
	assert.Equal(t, int32(math.MinInt32), pcmSample([]byte{0, 0, 0, 0x80}, 4))
}
