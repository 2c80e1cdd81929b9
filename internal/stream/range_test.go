package stream

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeTestFile(t *testing.T, size int) string {
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 251)
	}

	path := filepath.Join(t.TempDir(), "audio.m4a")
	assert.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func serve(t *testing.T, path string, rangeHeader string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodGet, "/media/", nil)
	if rangeHeader != "" {
		request.Header.Set("Range", rangeHeader)
	}

	recorder := httptest.NewRecorder()
	ServeFile(recorder, request, path, "audio/mp4")
	return recorder
}

func Test_ServeFile_FullFileWithoutRangeHeader(t *testing.T) {
	path := writeTestFile(t, 1000)
	response := serve(t, path, "")

	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "bytes 0-999/1000", response.Header().Get("Content-Range"))
	assert.Equal(t, "bytes", response.Header().Get("Accept-Ranges"))
	assert.Equal(t, "1000", response.Header().Get("Content-Length"))
	assert.Equal(t, "audio/mp4", response.Header().Get("Content-Type"))
	assert.Equal(t, 1000, response.Body.Len())
}

func Test_ServeFile_PartialRange(t *testing.T) {
	path := writeTestFile(t, 1000)
	response := serve(t, path, "bytes=0-99")

	assert.Equal(t, http.StatusPartialContent, response.Code)
	assert.Equal(t, "bytes 0-99/1000", response.Header().Get("Content-Range"))
	assert.Equal(t, "100", response.Header().Get("Content-Length"))
	assert.Equal(t, 100, response.Body.Len())
}

func Test_ServeFile_OpenEndedRange(t *testing.T) {
	path := writeTestFile(t, 1000)
	response := serve(t, path, "bytes=900-")

	assert.Equal(t, http.StatusPartialContent, response.Code)
	assert.Equal(t, "bytes 900-999/1000", response.Header().Get("Content-Range"))
	assert.Equal(t, 100, response.Body.Len())
}

func Test_ServeFile_RangeBeyondFileSize(t *testing.T) {
	path := writeTestFile(t, 1000)
	response := serve(t, path, "bytes=0-2000")

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, response.Code)
	assert.Equal(t, "bytes */1000", response.Header().Get("Content-Range"))
}

func Test_ServeFile_InvertedRange(t *testing.T) {
	path := writeTestFile(t, 1000)
	response := serve(t, path, "bytes=500-100")

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, response.Code)
}

func Test_ServeFile_MalformedRange(t *testing.T) {
	path := writeTestFile(t, 1000)
	response := serve(t, path, "bytes=abc-def")

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, response.Code)
}

func Test_ServeFile_ContentMatchesRequestedSlice(t *testing.T) {
	path := writeTestFile(t, 1000)
	expected, err := os.ReadFile(path)
	assert.NoError(t, err)

	response := serve(t, path, "bytes=250-749")
	assert.True(t, bytes.Equal(expected[250:750], response.Body.Bytes()))
}

func Test_ServeFile_LargeFileChunking(t *testing.T) {
	// Larger than a single chunk, so the copy loop runs more than once.
	path := writeTestFile(t, ChunkSize*2+512)
	response := serve(t, path, "")

	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, ChunkSize*2+512, response.Body.Len())
}

func Test_ServeFile_MissingFile(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet, "/media/", nil)
	recorder := httptest.NewRecorder()

	err := ServeFile(recorder, request, filepath.Join(t.TempDir(), "missing.m4a"), "audio/mp4")
	assert.Error(t, err)
}
