package stream

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/arialabs/aria/pkg/logger"
)

// ChunkSize is the size of each read/write during a streamed response.
// Clients consuming audio progressively get data in 256KiB slices rather
// than one monolithic copy.
const ChunkSize = 262144

var log = logger.Get("RangeStream")

type (
	// RangeNotSatisfiableError indicates the client requested a byte range
	// which the file cannot provide. Maps to HTTP 416.
	RangeNotSatisfiableError struct {
		header string
		size   int64
	}

	byteRange struct {
		start int64
		end   int64
	}
)

func (err *RangeNotSatisfiableError) Error() string {
	return fmt.Sprintf("range '%s' cannot be satisfied by a %d byte file", err.header, err.size)
}

// ServeFile streams the file at the given path to the client, honouring a
// 'Range: bytes=START-END' request header if one is present. Partial
// requests are answered with 206 and a Content-Range header; requests
// without a Range header receive the whole file with a 200. The file handle
// is closed on every exit path, including mid-stream client disconnects.
func ServeFile(w http.ResponseWriter, r *http.Request, path string, contentType string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	size := info.Size()
	rangeHeader := r.Header.Get("Range")
	requested, err := parseRangeHeader(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return err
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", requested.start, requested.end, size))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(requested.end-requested.start+1, 10))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	if rangeHeader == "" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusPartialContent)
	}

	if _, err := file.Seek(requested.start, io.SeekStart); err != nil {
		return err
	}

	return copyRange(w, file, requested.end-requested.start+1)
}

// parseRangeHeader interprets a 'bytes=START-END' header against a file of
// the given size. An absent header is a request for the whole file. Both
// bounds are optional; an open-ended range runs to the final byte.
func parseRangeHeader(header string, size int64) (*byteRange, error) {
	requested := &byteRange{start: 0, end: size - 1}
	if header == "" {
		return requested, nil
	}

	unsatisfiable := &RangeNotSatisfiableError{header, size}
	bounds := strings.SplitN(strings.TrimPrefix(header, "bytes="), "-", 2)
	if bounds[0] != "" {
		start, err := strconv.ParseInt(bounds[0], 10, 64)
		if err != nil {
			return nil, unsatisfiable
		}

		requested.start = start
	}

	if len(bounds) > 1 && bounds[1] != "" {
		end, err := strconv.ParseInt(bounds[1], 10, 64)
		if err != nil {
			return nil, unsatisfiable
		}

		requested.end = end
	}

	if requested.start > requested.end || requested.end >= size {
		return nil, unsatisfiable
	}

	return requested, nil
}

// copyRange writes exactly 'remaining' bytes from the reader in ChunkSize
// slices, stopping early if the client goes away.
func copyRange(w io.Writer, reader io.Reader, remaining int64) error {
	buffer := make([]byte, ChunkSize)
	for remaining > 0 {
		chunk := int64(len(buffer))
		if remaining < chunk {
			chunk = remaining
		}

		read, err := reader.Read(buffer[:chunk])
		if read > 0 {
			if _, writeErr := w.Write(buffer[:read]); writeErr != nil {
				log.Emit(logger.VERBOSE, "Client disconnected mid-stream: %v\n", writeErr)
				return nil
			}

			remaining -= int64(read)
		}

		if err != nil {
			if err == io.EOF {
				return nil
			}

			return err
		}
	}

	return nil
}
