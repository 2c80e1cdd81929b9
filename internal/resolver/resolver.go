package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/arialabs/aria/internal/media"
	"github.com/arialabs/aria/pkg/logger"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Second * 2

	maxTagKeywords = 5
	defaultKeyword = "Music"
	unknownArtist  = "Unknown Artist"
)

var (
	log = logger.Get("Resolver")

	sourceIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([^&\n?#]+)`),
		regexp.MustCompile(`youtube\.com/watch\?.*v=([^&\n?#]+)`),
	}
)

type (
	Config struct {
		YtDlpBinaryPath string        `yaml:"yt_dlp_binary" env:"YT_DLP_BINARY_PATH" env-default:"yt-dlp"`
		MaxAttempts     int           `yaml:"max_attempts" env:"RESOLVER_MAX_ATTEMPTS" env-default:"3"`
		BackoffBase     time.Duration `yaml:"backoff_base" env:"RESOLVER_BACKOFF_BASE" env-default:"2s"`
	}

	// Metadata is the fully resolved description of a source URL, including
	// the audio stream selected for acquisition.
	Metadata struct {
		SourceID          string
		Title             string
		Artist            string
		DurationSeconds   int
		DurationFormatted string
		ThumbnailURL      string
		Keywords          []string
		Audio             *Format
	}

	// MetadataRunner abstracts the external extraction process; the only
	// implementation outside of tests shells out to yt-dlp.
	MetadataRunner interface {
		ExtractMetadata(ctx context.Context, sourceURL string) ([]byte, error)
	}

	streamResolver struct {
		config Config
		runner MetadataRunner

		// sleep is swapped out by tests so backoff is not real wall time.
		sleep func(time.Duration)
	}

	ytDlpRunner struct {
		binaryPath string
	}

	// rawPayload mirrors the subset of the extractor's JSON dump we consume.
	rawPayload struct {
		ID         string         `json:"id"`
		Title      string         `json:"title"`
		Uploader   string         `json:"uploader"`
		Duration   float64        `json:"duration"`
		Thumbnail  string         `json:"thumbnail"`
		Thumbnails []rawThumbnail `json:"thumbnails"`
		Tags       []string       `json:"tags"`
		Categories []string       `json:"categories"`
		Formats    []Format       `json:"formats"`
	}

	rawThumbnail struct {
		URL        string  `json:"url"`
		Preference float64 `json:"preference"`
	}
)

func New(config Config) *streamResolver {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = defaultBackoffBase
	}

	return &streamResolver{
		config: config,
		runner: &ytDlpRunner{binaryPath: config.YtDlpBinaryPath},
		sleep:  time.Sleep,
	}
}

// ExtractSourceID derives the stable media item ID from the source URL alone,
// without contacting the upstream service. This keeps the cache-hit path of
// an acquisition request fast.
func ExtractSourceID(sourceURL string) (string, error) {
	for _, pattern := range sourceIDPatterns {
		if match := pattern.FindStringSubmatch(sourceURL); match != nil {
			return match[1], nil
		}
	}

	return "", &InvalidSourceError{sourceURL}
}

// Resolve extracts the metadata and candidate streams for the source URL,
// retrying retryable failures with exponentially growing, jittered delays.
// Attempts after the first sleep for base*2^attempt plus a bounded random
// component so that concurrent retries do not synchronize.
func (resolver *streamResolver) Resolve(ctx context.Context, sourceURL string) (*Metadata, error) {
	if _, err := ExtractSourceID(sourceURL); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < resolver.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := resolver.config.BackoffBase * (1 << attempt)
			jitter := time.Duration(rand.Int63n(int64(resolver.config.BackoffBase)))
			log.Emit(logger.DEBUG, "Attempt %d for source '%s' backing off for %s\n", attempt+1, sourceURL, delay+jitter)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				resolver.sleep(delay + jitter)
			}
		}

		payload, err := resolver.runner.ExtractMetadata(ctx, sourceURL)
		if err == nil {
			return parseMetadata(sourceURL, payload)
		}

		classified := classifyExtractionError(err)
		if !isRetryable(classified) {
			return nil, classified
		}

		log.Emit(logger.WARNING, "Extraction attempt %d for source '%s' failed: %v\n", attempt+1, sourceURL, classified)
		lastErr = classified
	}

	return nil, &ResolutionFailedError{attempts: resolver.config.MaxAttempts, lastErr: lastErr}
}

func parseMetadata(sourceURL string, payload []byte) (*Metadata, error) {
	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &TransientError{fmt.Sprintf("extractor output could not be unmarshalled: %s", err.Error())}
	}

	sourceID, err := ExtractSourceID(sourceURL)
	if err != nil {
		sourceID = raw.ID
	}

	audio := selectBestAudioFormat(raw.Formats)
	if audio == nil {
		return nil, &NoAudioFormatError{sourceID}
	}

	title := raw.Title
	if title == "" {
		title = "Unknown Title"
	}

	artist := raw.Uploader
	if artist == "" {
		artist = unknownArtist
	}

	duration := int(raw.Duration)
	return &Metadata{
		SourceID:          sourceID,
		Title:             title,
		Artist:            artist,
		DurationSeconds:   duration,
		DurationFormatted: media.FormatDuration(duration),
		ThumbnailURL:      selectThumbnail(&raw),
		Keywords:          buildKeywords(&raw),
		Audio:             audio,
	}, nil
}

// selectThumbnail prefers the top-level thumbnail reference, falling back to
// the highest-preference entry of the thumbnails list.
func selectThumbnail(raw *rawPayload) string {
	if raw.Thumbnail != "" {
		return raw.Thumbnail
	}

	best := ""
	bestPreference := 0.0
	for _, thumb := range raw.Thumbnails {
		if best == "" || thumb.Preference > bestPreference {
			best = thumb.URL
			bestPreference = thumb.Preference
		}
	}

	return best
}

func buildKeywords(raw *rawPayload) []string {
	keywords := make([]string, 0, media.MaxKeywords)
	tags := raw.Tags
	if len(tags) > maxTagKeywords {
		tags = tags[:maxTagKeywords]
	}

	keywords = append(keywords, tags...)
	keywords = append(keywords, raw.Categories...)
	if len(keywords) == 0 {
		keywords = append(keywords, defaultKeyword)
	}

	return media.ClampKeywords(keywords)
}

// classifyExtractionError maps the raw stderr of a failed extraction to one
// of the typed error classes.
func classifyExtractionError(err error) error {
	message := err.Error()
	lowered := strings.ToLower(message)

	switch {
	case strings.Contains(message, "Sign in to confirm"),
		strings.Contains(message, "HTTP Error 429"),
		strings.Contains(message, "HTTP Error 403"):
		return &BotBlockedError{message}
	case strings.Contains(message, "Private video"),
		strings.Contains(message, "Video unavailable"),
		strings.Contains(lowered, "has been removed"):
		return &UnavailableError{message}
	default:
		return &TransientError{message}
	}
}

// ExtractMetadata shells out to yt-dlp for a single JSON dump of the source,
// without downloading any media. stderr is folded in to the returned error as
// it carries the information needed to classify the failure.
func (runner *ytDlpRunner) ExtractMetadata(ctx context.Context, sourceURL string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, runner.binaryPath, "--dump-single-json", "--no-warnings", "-f", "bestaudio/best", sourceURL)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %s", err.Error(), stderr.String())
	}

	return stdout.Bytes(), nil
}
