package search

import (
	"net/http"
	"strconv"

	"github.com/arialabs/aria/internal/api/medias"
	"github.com/arialabs/aria/internal/media"
	"github.com/arialabs/aria/internal/ranking"
	"github.com/labstack/echo/v4"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

type (
	Store interface {
		ListCompletedItems(limit int) ([]*media.Item, error)
	}

	// Controller serves the library search endpoint over the completed
	// portion of the media cache.
	Controller struct {
		store Store
	}
)

func New(store Store) *Controller {
	return &Controller{store: store}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.search)
}

// search ranks the completed items against the free-text query. An empty
// query degrades to a recency-ordered listing.
func (controller *Controller) search(ec echo.Context) error {
	limit := defaultLimit
	if rawLimit := ec.QueryParam("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}

		limit = parsed
		if limit > maxLimit {
			limit = maxLimit
		}
	}

	items, err := controller.store.ListCompletedItems(limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	ranked := ranking.Rank(items, ec.QueryParam("q"))
	dtos := make([]*medias.Dto, len(ranked))
	for k, v := range ranked {
		dtos[k] = medias.NewDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}
