package myaudio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

const bytesPerSample = 4 // float32

// Frame is one fixed-length analysis window, one slice per channel.
type Frame struct {
	Channels   [][]float32
	SampleRate int
	Offset     time.Duration // start of the window relative to the stream start
}

// Left returns the first channel.
func (f Frame) Left() []float32 { return f.Channels[0] }

// Right returns the second channel, or nil for mono frames.
func (f Frame) Right() []float32 {
	if len(f.Channels) < 2 {
		return nil
	}
	return f.Channels[1]
}

// FrameFunc receives frames in stream order.
type FrameFunc func(Frame) error

// FramerConfig describes the window cut.
type FramerConfig struct {
	SampleRate    int
	Channels      int
	WindowSeconds float64
	Overlap       float64 // seconds shared by consecutive windows
}

// Framer cuts an interleaved sample stream into overlapping windows. Incoming
// samples are staged per channel in ring buffers sized to one window.
type Framer struct {
	cfg    FramerConfig
	window int // samples per channel per frame
	step   int
	rings  []*ringbuffer.RingBuffer
	carry  [][]float32 // overlap kept from the previous frame
	need   int         // samples to read before the next frame is complete
	frames int
	tmp    []byte
}

// NewFramer validates cfg and allocates the staging buffers.
func NewFramer(cfg FramerConfig) (*Framer, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.WindowSeconds <= 0 {
		return nil, framerConfigError("sample rate, channel count and window length must be positive")
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.WindowSeconds {
		return nil, framerConfigError(fmt.Sprintf("overlap %.2fs must be within [0, %.2fs)", cfg.Overlap, cfg.WindowSeconds))
	}

	window := int(math.Round(cfg.WindowSeconds * float64(cfg.SampleRate)))
	step := window - int(math.Round(cfg.Overlap*float64(cfg.SampleRate)))
	if window <= 0 || step <= 0 {
		return nil, framerConfigError("window too short for the sample rate")
	}

	f := &Framer{
		cfg:    cfg,
		window: window,
		step:   step,
		rings:  make([]*ringbuffer.RingBuffer, cfg.Channels),
		carry:  make([][]float32, cfg.Channels),
		need:   window,
		tmp:    make([]byte, window*bytesPerSample),
	}
	for i := range f.rings {
		f.rings[i] = ringbuffer.New(window * bytesPerSample)
	}
	return f, nil
}

func framerConfigError(msg string) error {
	return errors.Newf("invalid framer configuration: %s", msg).
		Component("myaudio").
		Category(errors.CategoryConfiguration).
		Build()
}

// WindowSamples returns the number of samples per channel in each frame.
func (f *Framer) WindowSamples() int { return f.window }

// Write stages interleaved samples and emits every frame that becomes complete.
func (f *Framer) Write(interleaved []float32, emit FrameFunc) error {
	ch := f.cfg.Channels
	if len(interleaved)%ch != 0 {
		return errors.Newf("interleaved buffer of %d samples is not a multiple of %d channels", len(interleaved), ch).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Build()
	}

	for len(interleaved) > 0 {
		n := min(f.rings[0].Free()/bytesPerSample, len(interleaved)/ch)
		if n == 0 {
			return errors.Newf("frame staging buffer is full").
				Component("myaudio").
				Category(errors.CategoryAudio).
				Build()
		}
		for c := range ch {
			buf := f.tmp[:n*bytesPerSample]
			for i := range n {
				binary.LittleEndian.PutUint32(buf[i*bytesPerSample:], math.Float32bits(interleaved[i*ch+c]))
			}
			if _, err := f.rings[c].Write(buf); err != nil {
				return errors.New(err).Component("myaudio").Category(errors.CategoryAudio).Build()
			}
		}
		interleaved = interleaved[n*ch:]

		if err := f.drain(emit); err != nil {
			return err
		}
	}
	return nil
}

func (f *Framer) staged() int {
	return f.rings[0].Length() / bytesPerSample
}

func (f *Framer) drain(emit FrameFunc) error {
	for f.staged() >= f.need {
		frame, err := f.take(f.need)
		if err != nil {
			return err
		}
		if err := f.emit(frame, emit); err != nil {
			return err
		}
	}
	return nil
}

// take reads n samples per channel and prepends the carried overlap.
func (f *Framer) take(n int) ([][]float32, error) {
	out := make([][]float32, f.cfg.Channels)
	for c := range out {
		buf := f.tmp[:n*bytesPerSample]
		if _, err := f.rings[c].Read(buf); err != nil {
			return nil, errors.New(err).Component("myaudio").Category(errors.CategoryAudio).Build()
		}
		samples := make([]float32, 0, len(f.carry[c])+n)
		samples = append(samples, f.carry[c]...)
		for i := range n {
			samples = append(samples, math.Float32frombits(binary.LittleEndian.Uint32(buf[i*bytesPerSample:])))
		}
		out[c] = samples
	}
	return out, nil
}

func (f *Framer) emit(channels [][]float32, emit FrameFunc) error {
	for c := range channels {
		f.carry[c] = append(f.carry[c][:0], channels[c][f.step:]...)
	}
	f.need = f.step

	start, rate := f.frames*f.step, f.cfg.SampleRate
	offset := time.Duration(start/rate)*time.Second + time.Duration(start%rate)*time.Second/time.Duration(rate)
	f.frames++
	return emit(Frame{Channels: channels, SampleRate: f.cfg.SampleRate, Offset: offset})
}

// Flush emits the trailing partial window, zero padded, when it contains new
// samples and, together with the overlap, fills at least half a window.
func (f *Framer) Flush(emit FrameFunc) error {
	rest := f.staged()
	if rest == 0 || len(f.carry[0])+rest < f.window/2 {
		return nil
	}
	channels, err := f.take(rest)
	if err != nil {
		return err
	}
	for c := range channels {
		channels[c] = append(channels[c], make([]float32, f.window-len(channels[c]))...)
	}
	return f.emit(channels, emit)
}
