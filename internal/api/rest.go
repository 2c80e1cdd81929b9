package api

import (
	"context"
	"sync"

	"github.com/arialabs/aria/internal/acquisition"
	"github.com/arialabs/aria/internal/api/medias"
	"github.com/arialabs/aria/internal/api/search"
	"github.com/arialabs/aria/internal/event"
	"github.com/arialabs/aria/internal/http/websocket"
	"github.com/arialabs/aria/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// acquisitionService is the union of the controller-facing service
	// surface and the queue snapshot used to welcome socket clients.
	acquisitionService interface {
		medias.Service
		AllAcquisitions() []*acquisition.AcquisitionItem
	}

	// dataStore represents a union of all the controller store requirements
	dataStore interface {
		medias.Store
		search.Store
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. Its sole
	// responsibility is to create the routes Aria exposes, and to manage the
	// ongoing activity stream socket connections.
	RestGateway struct {
		*broadcaster
		config           *RestConfig
		ec               *echo.Echo
		socket           *websocket.SocketHub
		mediaController  controller
		searchController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	service acquisitionService,
	store dataStore,
	audioDir string,
	thumbnailDir string,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	socket := websocket.New()
	socket.WithConnectionCallback(func() map[string]interface{} {
		queued := service.AllAcquisitions()
		snapshot := make([]map[string]interface{}, len(queued))
		for k, v := range queued {
			snapshot[k] = map[string]interface{}{"id": v.ID, "source_url": v.SourceURL, "state": v.State.String()}
		}

		return map[string]interface{}{"acquisitions": snapshot}
	})

	validate := validator.New()
	gateway := &RestGateway{
		broadcaster:      newBroadcaster(socket, store),
		config:           config,
		ec:               ec,
		socket:           socket,
		mediaController:  medias.New(validate, service, store, audioDir, thumbnailDir),
		searchController: search.New(store),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/aria/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	media := ec.Group("/api/aria/v1/media")
	gateway.mediaController.SetRoutes(media)

	searchGroup := ec.Group("/api/aria/v1/search")
	gateway.searchController.SetRoutes(searchGroup)

	return gateway
}

// ListenForUpdates connects the gateway's broadcaster to the given event
// bus. This must be called before Run for socket clients to see activity.
func (gateway *RestGateway) ListenForUpdates(eventBus event.EventHandler) {
	gateway.broadcaster.listenForUpdates(eventBus)
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
