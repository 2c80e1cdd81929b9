package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/arialabs/aria/internal/acquisition"
	"github.com/arialabs/aria/internal/api"
	"github.com/arialabs/aria/internal/database"
	"github.com/arialabs/aria/internal/event"
	"github.com/arialabs/aria/internal/media"
	"github.com/arialabs/aria/internal/resolver"
	"github.com/arialabs/aria/internal/transcoder"
	"github.com/arialabs/aria/pkg/logger"
)

var log = logger.Get("Core")

const ARIA_USER_DIR_SUFFIX = "aria"

type (
	RunnableService interface {
		Run(context.Context) error
	}

	RestGateway interface {
		RunnableService
		ListenForUpdates(event.EventHandler)
	}

	AcquisitionService interface {
		RunnableService
		RequestAcquisition(ctx context.Context, sourceURL string, options acquisition.RequestOptions) (*media.Item, error)
		RetryAcquisition(id string) (*media.Item, error)
		GetStatus(id string) (*media.Item, error)
		AllAcquisitions() []*acquisition.AcquisitionItem
	}
)

// Aria represents the top-level object for the server, and is responsible
// for initialising the stores, services, event handling, et cetera...
type ariaImpl struct {
	eventBus event.EventCoordinator
	config   AriaConfig
	db       database.Manager
	store    *storeOrchestrator

	restGateway        RestGateway
	acquisitionService AcquisitionService
}

func New(config AriaConfig) *ariaImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Aria services using config: %#v\n", config)
	aria := &ariaImpl{
		eventBus: event.New(),
		config:   config,
	}

	aria.db = database.New()
	aria.store = newStoreOrchestrator(aria.db)

	aria.acquisitionService = acquisition.New(
		config.Acquisition,
		resolver.New(config.Resolver),
		transcoder.New(config.Transcoder, config.getAudioDir()),
		acquisition.NewDownloader(config.getAudioDir(), config.getThumbnailDir()),
		aria.store,
		aria.eventBus,
	)

	gateway := api.NewRestGateway(&config.RestConfig, aria.acquisitionService, aria.store, config.getAudioDir(), config.getThumbnailDir())
	gateway.ListenForUpdates(aria.eventBus)
	aria.restGateway = gateway

	return aria
}

// Run will start all of Aria by bringing up all required services and
// connections. This function will not return until Aria is stopped: to stop
// Aria, the provided context must be cancelled. Errors from which Aria
// cannot recover will also cause Aria to stop.
func (aria *ariaImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := aria.db.Connect(aria.config.Database); err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	aria.spawnAsyncService(ctx, wg, aria.acquisitionService, "acquisition-service", crashHandler)
	aria.spawnAsyncService(ctx, wg, aria.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Aria services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as its own
// go-routine, ensuring that the Aria service waitgroup is updated correctly
func (aria *ariaImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
