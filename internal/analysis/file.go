package analysis

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/engine"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
	"github.com/tphakala/birdnet-hybrid/internal/myaudio"
	"github.com/tphakala/birdnet-hybrid/internal/observation"
)

// Processor runs analysis windows. *engine.Engine implements it.
type Processor interface {
	ProcessWindow(ctx context.Context, w engine.StereoWindow) (engine.Result, error)
	ProcessMono(ctx context.Context, w engine.MonoWindow) (engine.Result, error)
}

// FileOptions describes one recording replay.
type FileOptions struct {
	Path          string
	WindowSeconds float64
	Overlap       float64
	Bearing       bool // estimate a bearing for stereo recordings
	Location      *detection.Location
	StartTime     time.Time // capture time of the first sample, zero uses the file modification time
	Progress      io.Writer // receives a progress line per window when set
}

// AnalyzeFile replays path through the service engine using the configured
// window cut and station location, and writes the notes to out.
func (s *Services) AnalyzeFile(ctx context.Context, path, format string, out io.Writer) error {
	if s.Engine == nil {
		return errors.Newf("detection engine is not running").
			Component("analysis").
			Category(errors.CategoryState).
			Build()
	}
	notes, err := FileAnalysis(ctx, s.Engine, FileOptions{
		Path:          path,
		WindowSeconds: s.Settings.Analysis.WindowSeconds,
		Overlap:       s.Settings.Analysis.Overlap,
		Bearing:       s.Settings.Bearing.Enabled,
		Location:      s.Location(),
		Progress:      os.Stderr,
	})
	if err != nil {
		return err
	}
	if err := observation.Write(out, format, notes); err != nil {
		return fmt.Errorf("failed to write notes: %w", err)
	}
	return nil
}

// FileAnalysis cuts a recording into windows and runs each one through p in
// order. A window whose detections could not all be queued for sync still
// contributes its notes.
func FileAnalysis(ctx context.Context, p Processor, opts FileOptions) ([]observation.Note, error) {
	if err := validateAudioFile(opts.Path); err != nil {
		return nil, err
	}
	info, err := myaudio.ReadInfo(opts.Path)
	if err != nil {
		return nil, err
	}

	start := opts.StartTime
	if start.IsZero() {
		fi, err := os.Stat(opts.Path)
		if err != nil {
			return nil, fileError(err, opts.Path)
		}
		start = fi.ModTime()
	}

	log := GetLogger().With(logger.String("file", opts.Path))
	inputFile := filepath.Base(opts.Path)
	filename := truncateFilename(opts.Path)
	windowLength := time.Duration(opts.WindowSeconds * float64(time.Second))
	total := estimateWindows(info, opts.WindowSeconds, opts.Overlap)
	began := time.Now()

	var notes []observation.Note
	windows := 0
	_, err = myaudio.ReadFile(ctx, opts.Path, opts.WindowSeconds, opts.Overlap, func(f myaudio.Frame) error {
		res, err := processFrame(ctx, p, f, start.Add(f.Offset), opts)
		if err != nil {
			if res.CapturedAt.IsZero() {
				return err
			}
			log.Warn("window detections not fully queued for sync",
				logger.Duration("offset", f.Offset),
				logger.Error(err))
		}
		windows++
		for _, d := range res.Detections {
			notes = append(notes, observation.NewNote(inputFile, d, f.Offset, f.Offset+windowLength))
		}
		if opts.Progress != nil {
			fmt.Fprintf(opts.Progress, "\r\033[K\033[37m📄 %s\033[0m | \033[33m🔍 Analyzing window %d/%d\033[0m", filename, windows, max(total, windows))
		}
		return nil
	})
	if err != nil {
		if opts.Progress != nil {
			fmt.Fprintln(opts.Progress)
		}
		return nil, fmt.Errorf("error processing audio: %w", err)
	}

	if opts.Progress != nil {
		fmt.Fprintf(opts.Progress, "\r\033[K\033[37m📄 %s\033[0m | \033[32m✅ Analysis completed in %s\033[0m\n",
			filename, time.Since(began).Round(time.Millisecond))
	}
	log.Info("file analysis completed",
		logger.Int("windows", windows),
		logger.Int("detections", len(notes)),
		logger.Duration("elapsed", time.Since(began)))
	return notes, nil
}

// processFrame hands a frame to the engine. Stereo frames carry a bearing
// only when requested; otherwise they are downmixed.
func processFrame(ctx context.Context, p Processor, f myaudio.Frame, capturedAt time.Time, opts FileOptions) (engine.Result, error) {
	if right := f.Right(); right != nil && opts.Bearing {
		return p.ProcessWindow(ctx, engine.StereoWindow{
			Left:       f.Left(),
			Right:      right,
			SampleRate: f.SampleRate,
			CapturedAt: capturedAt,
			Location:   opts.Location,
		})
	}
	return p.ProcessMono(ctx, engine.MonoWindow{
		Samples:    myaudio.Downmix(f.Channels),
		SampleRate: f.SampleRate,
		CapturedAt: capturedAt,
		Location:   opts.Location,
	})
}

// validateAudioFile checks that path is a non-empty, readable recording.
func validateAudioFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fileError(err, path)
	}
	if fi.IsDir() {
		return errors.Newf("the path %s is a directory, not a file", filepath.Base(path)).
			Component("analysis").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	if fi.Size() == 0 {
		return errors.Newf("file %s is empty (0 bytes)", filepath.Base(path)).
			Component("analysis").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	return nil
}

// estimateWindows returns the expected frame count, or 0 when the length of
// the recording is unknown.
func estimateWindows(info myaudio.AudioInfo, windowSeconds, overlap float64) int {
	if info.TotalSamples == 0 || info.SampleRate == 0 || windowSeconds <= overlap {
		return 0
	}
	duration := float64(info.TotalSamples) / float64(info.SampleRate)
	if duration <= windowSeconds {
		return 1
	}
	return 1 + int(math.Ceil((duration-windowSeconds)/(windowSeconds-overlap)))
}

// truncateFilename shortens the file name to 30 characters for progress output.
func truncateFilename(path string) string {
	filename := filepath.Base(path)
	if len(filename) > 30 {
		return filename[:27] + "..."
	}
	return filename
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("analysis").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}
