package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arialabs/aria/internal/event"
	"github.com/arialabs/aria/internal/media"
	"github.com/arialabs/aria/internal/resolver"
	"github.com/arialabs/aria/pkg/logger"
	"github.com/arialabs/aria/pkg/worker"
)

var (
	log = logger.Get("AcquireServ")

	ErrRetryNotAllowed = errors.New("only failed items can be retried")
)

const abandonedItemMessage = "acquisition interrupted by server shutdown"

type (
	Resolver interface {
		Resolve(ctx context.Context, sourceURL string) (*resolver.Metadata, error)
	}

	Transcoder interface {
		Materialize(ctx context.Context, inputURL string, id string) (string, error)
		Discard(filename string) error
	}

	Downloader interface {
		FetchAudio(ctx context.Context, url string, id string, extension string) (string, error)
		FetchThumbnail(ctx context.Context, url string, id string) (string, error)
		DiscardAudio(filename string) error
		DiscardThumbnail(filename string) error
	}

	DataStore interface {
		CreateItem(item *media.Item) error
		GetItem(id string) (*media.Item, error)
		UpdateItemMetadata(item *media.Item) error
		MarkProcessing(id string) error
		MarkCompleted(item *media.Item, audioFilename string, thumbnailFilename *string) error
		MarkFailed(id string, message string) error
		FailAbandonedItems(message string) error
	}

	// RequestOptions carries per-request tweaks supplied by the caller.
	RequestOptions struct {
		SkipThumbnail bool `mapstructure:"skip_thumbnail"`
	}

	Config struct {
		Parallelism int `yaml:"parallelism" env:"ACQUISITION_PARALLELISM" env-default:"2"`
	}

	// acquisitionService owns the lifecycle of every media item from the
	// moment a source URL is requested until its files are on disk.
	// Acquisition work runs on a worker pool; each queued item is an
	// independently schedulable unit so one slow download never blocks
	// unrelated requests.
	acquisitionService struct {
		*sync.Mutex
		resolver   Resolver
		transcoder Transcoder
		downloader Downloader
		data       DataStore

		config     Config
		items      []*AcquisitionItem
		eventBus   event.EventCoordinator
		workerPool worker.WorkerPool

		// runCtx is the service lifetime context, captured by Run and
		// inherited by all background acquisitions.
		runCtx context.Context
	}
)

func New(
	config Config,
	res Resolver,
	trans Transcoder,
	down Downloader,
	data DataStore,
	eventBus event.EventCoordinator,
) *acquisitionService {
	if config.Parallelism <= 0 {
		config.Parallelism = 2
	}

	service := &acquisitionService{
		Mutex:      &sync.Mutex{},
		resolver:   res,
		transcoder: trans,
		downloader: down,
		data:       data,
		config:     config,
		items:      make([]*AcquisitionItem, 0),
		eventBus:   eventBus,
		workerPool: *worker.NewWorkerPool(),
	}

	for i := 0; i < config.Parallelism; i++ {
		label := fmt.Sprintf("acquisition-worker-%d", i)
		service.workerPool.PushWorker(worker.NewWorker(label, service.performNextAcquisition))
	}

	return service
}

// Run starts the services worker pool and blocks until the provided context
// is cancelled.
//
// The in-memory queue does not survive a restart, so any Pending or
// Processing row found on startup belongs to a previous process and will
// never be picked up again. These are failed before the workers start so
// clients can see the outcome and retry.
func (service *acquisitionService) Run(ctx context.Context) error {
	service.runCtx = ctx
	if err := service.data.FailAbandonedItems(abandonedItemMessage); err != nil {
		return fmt.Errorf("failed to reap abandoned items: %w", err)
	}

	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start acquisition worker pool: %w", err)
	}

	<-ctx.Done()
	service.workerPool.Close()
	return nil
}

// RequestAcquisition is the entry point for a client wanting the audio of a
// source URL. The item ID is derived from the URL alone so that the common
// case, a repeated request for already-acquired media, is answered straight
// from the database without touching the upstream service. Anything not yet
// completed is (re)queued for background work.
func (service *acquisitionService) RequestAcquisition(ctx context.Context, sourceURL string, options RequestOptions) (*media.Item, error) {
	id, err := resolver.ExtractSourceID(sourceURL)
	if err != nil {
		return nil, err
	}

	existing, err := service.data.GetItem(id)
	if err == nil {
		if existing.Status == media.CompletedStatus {
			log.Emit(logger.DEBUG, "Cache hit for source '%s' (item %s)\n", sourceURL, id)
			return existing, nil
		}

		log.Emit(logger.INFO, "Item %s exists in state %s, re-scheduling acquisition\n", id, existing.Status)
		service.scheduleAcquisition(id, existing.SourceURL, options)
		return existing, nil
	} else if !errors.Is(err, media.ErrItemNotFound) {
		return nil, err
	}

	// New item. Resolve the display metadata synchronously so the caller
	// gets a fully described record back, then queue the heavy file work.
	metadata, err := service.resolver.Resolve(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	item := &media.Item{
		ID:                metadata.SourceID,
		Title:             metadata.Title,
		Artist:            metadata.Artist,
		DurationSeconds:   metadata.DurationSeconds,
		DurationFormatted: metadata.DurationFormatted,
		Keywords:          metadata.Keywords,
		Status:            media.PendingStatus,
		SourceURL:         sourceURL,
	}
	if metadata.ThumbnailURL != "" {
		thumb := metadata.ThumbnailURL
		item.ThumbnailURL = &thumb
	}

	if err := service.data.CreateItem(item); err != nil {
		return nil, fmt.Errorf("failed to persist new media item %s: %w", item.ID, err)
	}

	service.scheduleAcquisition(item.ID, sourceURL, options)
	return item, nil
}

// RetryAcquisition re-queues a failed item. Items in any other state are
// rejected; pending/processing items are already owned by a worker and
// completed items have nothing left to do.
func (service *acquisitionService) RetryAcquisition(id string) (*media.Item, error) {
	item, err := service.data.GetItem(id)
	if err != nil {
		return nil, err
	}

	if item.Status != media.FailedStatus {
		return nil, ErrRetryNotAllowed
	}

	service.scheduleAcquisition(id, item.SourceURL, RequestOptions{})
	return item, nil
}

// GetStatus returns the current persisted state of the item.
func (service *acquisitionService) GetStatus(id string) (*media.Item, error) {
	return service.data.GetItem(id)
}

// AllAcquisitions returns a snapshot of the in-progress acquisition queue.
// Each entry is a copy taken under the queue lock; workers mutate the live
// entries concurrently, so the callers must never see them directly.
func (service *acquisitionService) AllAcquisitions() []*AcquisitionItem {
	service.Lock()
	defer service.Unlock()

	items := make([]*AcquisitionItem, len(service.items))
	for k, v := range service.items {
		copied := *v
		items[k] = &copied
	}

	return items
}

// scheduleAcquisition adds the item to the work queue, unless a queue entry
// for it already exists. Two concurrent requests for the same source must
// not result in two workers fetching the same files.
//
// Note: this function takes ownership of the mutex, and releases it when returning.
func (service *acquisitionService) scheduleAcquisition(id string, sourceURL string, options RequestOptions) {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.ID == id {
			log.Emit(logger.DEBUG, "Item %s is already queued, ignoring duplicate request\n", id)
			return
		}
	}

	service.items = append(service.items, &AcquisitionItem{ID: id, SourceURL: sourceURL, Options: options, State: Idle})
	service.workerPool.WakeupWorkers()
}

// performNextAcquisition is the worker task. It claims the first idle item
// in the queue and runs the full acquisition for it, removing it from the
// queue when done regardless of outcome; the result lives in the database,
// not the queue.
func (service *acquisitionService) performNextAcquisition(w worker.Worker) (bool, error) {
	item := service.claimIdleItem()
	if item == nil {
		return false, nil
	}

	defer service.removeItem(item.ID)

	ctx := service.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	if err := item.run(ctx, service); err != nil {
		log.Emit(logger.ERROR, "Acquisition of item %s failed: %v\n", item.ID, err)
	}

	return true, nil
}

// claimIdleItem finds the first idle queue entry and marks it running so no
// other worker claims it once the lock is released.
//
// Note: this function takes ownership of the mutex, and releases it when returning.
func (service *acquisitionService) claimIdleItem() *AcquisitionItem {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.State == Idle {
			item.State = Running
			return item
		}
	}

	return nil
}

// Note: this function takes ownership of the mutex, and releases it when returning.
func (service *acquisitionService) removeItem(id string) {
	service.Lock()
	defer service.Unlock()

	for k, v := range service.items {
		if v.ID == id {
			service.items = append(service.items[:k], service.items[k+1:]...)
			return
		}
	}
}
