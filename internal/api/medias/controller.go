package medias

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/arialabs/aria/internal/acquisition"
	"github.com/arialabs/aria/internal/media"
	"github.com/arialabs/aria/internal/resolver"
	"github.com/arialabs/aria/internal/stream"
	"github.com/arialabs/aria/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/mitchellh/mapstructure"
)

var controllerLogger = logger.Get("MediasController")

type (
	// CreateRequest is the body accepted by the acquisition endpoint. The
	// options map is deliberately loose in the JSON contract and decoded
	// into the typed acquisition options afterwards, so that unknown keys
	// are ignored rather than rejected.
	CreateRequest struct {
		SourceURL string                 `json:"source_url" validate:"required,url"`
		Options   map[string]interface{} `json:"options"`
	}

	Service interface {
		RequestAcquisition(ctx context.Context, sourceURL string, options acquisition.RequestOptions) (*media.Item, error)
		RetryAcquisition(id string) (*media.Item, error)
	}

	Store interface {
		GetItem(id string) (*media.Item, error)
	}

	// Controller is responsible for defining the routes for the media
	// endpoints, and for mapping acquisition errors to HTTP status codes.
	Controller struct {
		validate     *validator.Validate
		service      Service
		store        Store
		audioDir     string
		thumbnailDir string
	}
)

func New(validate *validator.Validate, service Service, store Store, audioDir string, thumbnailDir string) *Controller {
	return &Controller{validate: validate, service: service, store: store, audioDir: audioDir, thumbnailDir: thumbnailDir}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.create)
	eg.GET("/:id/", controller.download)
	eg.GET("/:id/status/", controller.status)
	eg.GET("/:id/thumbnail/", controller.thumbnail)
	eg.POST("/:id/retry/", controller.retry)
}

// create accepts a source URL and queues it for acquisition. A URL whose
// audio is already cached is answered immediately without re-acquiring.
func (controller *Controller) create(ec echo.Context) error {
	var request CreateRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var options acquisition.RequestOptions
	if len(request.Options) > 0 {
		if err := mapstructure.Decode(request.Options, &options); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("acquisition options illegal: %v", err))
		}
	}

	item, err := controller.service.RequestAcquisition(ec.Request().Context(), request.SourceURL, options)
	if err != nil {
		return newAcquisitionError(err)
	}

	if item.Status == media.CompletedStatus {
		return ec.JSON(http.StatusOK, NewDto(item))
	}

	return ec.JSON(http.StatusAccepted, NewDto(item))
}

// download serves the cached audio file for an item, honouring byte-range
// requests so that clients can seek without re-downloading.
func (controller *Controller) download(ec echo.Context) error {
	item, err := controller.store.GetItem(ec.Param("id"))
	if err != nil {
		if errors.Is(err, media.ErrItemNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if item.Status != media.CompletedStatus || item.AudioFilename == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "media item is not ready for download")
	}

	extension := strings.TrimPrefix(filepath.Ext(*item.AudioFilename), ".")
	ec.Response().Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.%s\"", sanitizeFilename(item.Title), extension))

	path := filepath.Join(controller.audioDir, *item.AudioFilename)
	if err := stream.ServeFile(ec.Response(), ec.Request(), path, contentTypeForExtension(extension)); err != nil {
		var rangeErr *stream.RangeNotSatisfiableError
		if errors.As(err, &rangeErr) {
			// ServeFile has already answered with a 416.
			return nil
		}
		if os.IsNotExist(err) {
			controllerLogger.Emit(logger.ERROR, "Audio file for completed item %s is missing from disk: %v\n", item.ID, err)
			return echo.NewHTTPError(http.StatusNotFound, "audio file missing")
		}

		controllerLogger.Emit(logger.WARNING, "Streaming of item %s halted: %v\n", item.ID, err)
		return nil
	}

	return nil
}

// status reports the lifecycle state of an item alongside a coarse
// progress estimate.
func (controller *Controller) status(ec echo.Context) error {
	item, err := controller.store.GetItem(ec.Param("id"))
	if err != nil {
		if errors.Is(err, media.ErrItemNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, NewStatusDto(item))
}

func (controller *Controller) thumbnail(ec echo.Context) error {
	item, err := controller.store.GetItem(ec.Param("id"))
	if err != nil {
		if errors.Is(err, media.ErrItemNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if item.ThumbnailFilename == nil {
		return echo.NewHTTPError(http.StatusNotFound, "item has no thumbnail")
	}

	return ec.File(filepath.Join(controller.thumbnailDir, *item.ThumbnailFilename))
}

// retry re-queues a failed item. Only the Failed state accepts a retry;
// anything else is a conflict.
func (controller *Controller) retry(ec echo.Context) error {
	item, err := controller.service.RetryAcquisition(ec.Param("id"))
	if err != nil {
		if errors.Is(err, media.ErrItemNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		if errors.Is(err, acquisition.ErrRetryNotAllowed) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusAccepted, NewDto(item))
}

// newAcquisitionError maps the resolution error taxonomy onto HTTP status
// codes. Malformed input is the caller's fault; everything upstream of us
// is a bad gateway.
func newAcquisitionError(err error) *echo.HTTPError {
	var invalidErr *resolver.InvalidSourceError
	if errors.As(err, &invalidErr) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var noAudioErr *resolver.NoAudioFormatError
	if errors.As(err, &noAudioErr) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

// sanitizeFilename strips characters which are unsafe inside a quoted
// Content-Disposition filename, falling back to a generic name when
// nothing printable remains.
func sanitizeFilename(title string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || strings.ContainsRune(`"\/:*?<>|`, r) {
			return -1
		}

		return r
	}, title)

	sanitized = strings.TrimSpace(sanitized)
	if sanitized == "" {
		return "audio"
	}

	return sanitized
}

func contentTypeForExtension(extension string) string {
	switch strings.ToLower(extension) {
	case "m4a", "mp4":
		return "audio/mp4"
	case "mp3":
		return "audio/mpeg"
	case "webm":
		return "audio/webm"
	case "opus", "ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
