package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arialabs/aria/pkg/logger"
	"github.com/floostack/transcoder/ffmpeg"
)

const (
	defaultTimeout = time.Minute * 3

	// Outputs smaller than this are treated as failed transcodes; a real
	// audio track of any length is comfortably larger.
	minOutputBytes = 1024

	outputExtension = "m4a"
	audioCodec      = "aac"
	audioBitrate    = "192k"
	audioSampleRate = 44100
)

var log = logger.Get("Transcoder")

type (
	Config struct {
		FfmpegBinPath  string        `yaml:"ffmpeg_binary" env:"FFMPEG_BINARY_PATH" env-default:"ffmpeg"`
		FfprobeBinPath string        `yaml:"ffprobe_binary" env:"FFPROBE_BINARY_PATH" env-default:"ffprobe"`
		Timeout        time.Duration `yaml:"timeout" env:"TRANSCODE_TIMEOUT" env-default:"3m"`
	}

	// TimeoutError indicates the external process exceeded the hard
	// wall-clock budget and was killed.
	TimeoutError struct{ timeout time.Duration }

	// FailedError wraps a non-zero exit or other process-level failure.
	FailedError struct{ cause error }

	// EmptyOutputError indicates the process exited cleanly but produced no
	// meaningful output file.
	EmptyOutputError struct{ size int64 }

	// hlsTranscoder materializes segmented playlist streams in to single
	// seekable audio files using an external ffmpeg process.
	hlsTranscoder struct {
		config    Config
		outputDir string

		// run is replaced in tests to avoid a real ffmpeg dependency.
		run func(ctx context.Context, inputURL string, outputPath string) error
	}
)

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("transcode exceeded the %s time limit and was aborted", err.timeout)
}
func (err *FailedError) Error() string {
	return fmt.Sprintf("transcode process failed: %s", err.cause.Error())
}
func (err *FailedError) Unwrap() error { return err.cause }
func (err *EmptyOutputError) Error() string {
	return fmt.Sprintf("transcode produced no usable output (%d bytes)", err.size)
}

func New(config Config, outputDir string) *hlsTranscoder {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	t := &hlsTranscoder{config: config, outputDir: outputDir}
	t.run = t.runFfmpeg
	return t
}

// Materialize transcodes the segmented stream at inputURL in to a single
// seekable audio file, returning the file name (relative to the output
// directory). The name embeds the current unix timestamp so repeated
// attempts for the same item never collide. Partial output is removed on
// every failure path.
func (t *hlsTranscoder) Materialize(ctx context.Context, inputURL string, id string) (string, error) {
	filename := fmt.Sprintf("%s_%d.%s", id, time.Now().Unix(), outputExtension)
	outputPath := filepath.Join(t.outputDir, filename)

	runCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	log.Emit(logger.INFO, "Materializing segmented stream for item '%s' to %s\n", id, outputPath)
	if err := t.run(runCtx, inputURL, outputPath); err != nil {
		t.removePartial(outputPath)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", &TimeoutError{t.config.Timeout}
		}

		return "", &FailedError{err}
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() < minOutputBytes {
		t.removePartial(outputPath)
		size := int64(0)
		if info != nil {
			size = info.Size()
		}

		return "", &EmptyOutputError{size}
	}

	return filename, nil
}

// Discard removes a previously materialized output file. A file that is
// already gone is not an error.
func (t *hlsTranscoder) Discard(filename string) error {
	if err := os.Remove(filepath.Join(t.outputDir, filename)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

func (t *hlsTranscoder) removePartial(outputPath string) {
	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		log.Emit(logger.ERROR, "Failed to remove partial transcode output %s: %v\n", outputPath, err)
	}
}

func (t *hlsTranscoder) runFfmpeg(ctx context.Context, inputURL string, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return err
	}

	skipVideo := true
	overwrite := true
	codec := audioCodec
	bitrate := audioBitrate
	sampleRate := audioSampleRate

	progressChannel, err := ffmpeg.
		New(&ffmpeg.Config{
			ProgressEnabled: true,
			FfmpegBinPath:   t.config.FfmpegBinPath,
			FfprobeBinPath:  t.config.FfprobeBinPath,
		}).
		Input(inputURL).
		Output(outputPath).
		WithContext(&ctx).
		Start(ffmpeg.Options{
			SkipVideo:    &skipVideo,
			Overwrite:    &overwrite,
			AudioCodec:   &codec,
			AudioBitrate: &bitrate,
			AudioRate:    &sampleRate,
		})
	if err != nil {
		return err
	}

	for {
		prog, ok := <-progressChannel
		if !ok {
			return ctx.Err()
		}

		log.Emit(logger.VERBOSE, "Transcode of %s at %.1f%%\n", outputPath, prog.GetProgress())
	}
}
