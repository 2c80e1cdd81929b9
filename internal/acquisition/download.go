package acquisition

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// Some CDNs refuse requests with obviously non-browser user agents.
	downloadUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	downloadTimeout = time.Minute * 10

	// Anything below this is an error page or truncated transfer, not media.
	minDownloadBytes = 1024

	defaultAudioExtension     = "m4a"
	defaultThumbnailExtension = "jpg"
)

// fileDownloader fetches remote files to local storage over plain HTTP.
// Audio and thumbnails land in separate directories as they have separate
// serving endpoints and retention characteristics.
type fileDownloader struct {
	client       *http.Client
	audioDir     string
	thumbnailDir string
}

func NewDownloader(audioDir string, thumbnailDir string) *fileDownloader {
	return &fileDownloader{
		client:       &http.Client{Timeout: downloadTimeout},
		audioDir:     audioDir,
		thumbnailDir: thumbnailDir,
	}
}

// FetchAudio downloads a direct audio stream to the audio directory,
// returning the file name. The name embeds a unix timestamp so repeated
// acquisitions of the same item never collide with files already being
// served.
func (downloader *fileDownloader) FetchAudio(ctx context.Context, url string, id string, extension string) (string, error) {
	if extension == "" {
		extension = defaultAudioExtension
	}

	filename := fmt.Sprintf("%s_%d.%s", id, time.Now().Unix(), extension)
	if err := downloader.fetchToFile(ctx, url, filepath.Join(downloader.audioDir, filename), minDownloadBytes); err != nil {
		return "", err
	}

	return filename, nil
}

// FetchThumbnail downloads the item's thumbnail image, inferring the file
// extension from the URL.
func (downloader *fileDownloader) FetchThumbnail(ctx context.Context, url string, id string) (string, error) {
	filename := fmt.Sprintf("%s_%d.%s", id, time.Now().Unix(), thumbnailExtension(url))
	if err := downloader.fetchToFile(ctx, url, filepath.Join(downloader.thumbnailDir, filename), 1); err != nil {
		return "", err
	}

	return filename, nil
}

// DiscardAudio removes a previously fetched audio file. A file that is
// already gone is not an error; callers only care that it no longer exists.
func (downloader *fileDownloader) DiscardAudio(filename string) error {
	return removeIfPresent(filepath.Join(downloader.audioDir, filename))
}

// DiscardThumbnail removes a previously fetched thumbnail file.
func (downloader *fileDownloader) DiscardThumbnail(filename string) error {
	return removeIfPresent(filepath.Join(downloader.thumbnailDir, filename))
}

func removeIfPresent(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

func (downloader *fileDownloader) fetchToFile(ctx context.Context, url string, destPath string, minBytes int64) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	request.Header.Set("User-Agent", downloadUserAgent)
	response, err := downloader.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s failed with status %s", url, response.Status)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), os.ModePerm); err != nil {
		return err
	}

	file, err := os.Create(destPath)
	if err != nil {
		return err
	}

	written, err := io.Copy(file, response.Body)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}

	if err == nil && written < minBytes {
		err = fmt.Errorf("download of %s produced only %d bytes", url, written)
	}

	if err != nil {
		os.Remove(destPath)
		return err
	}

	return nil
}

func thumbnailExtension(url string) string {
	trimmed := url
	if idx := strings.IndexAny(trimmed, "?#"); idx != -1 {
		trimmed = trimmed[:idx]
	}

	switch {
	case strings.HasSuffix(trimmed, ".webp"):
		return "webp"
	case strings.HasSuffix(trimmed, ".png"):
		return "png"
	default:
		return defaultThumbnailExtension
	}
}
