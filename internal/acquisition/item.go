package acquisition

import (
	"context"
	"errors"
	"fmt"

	"github.com/arialabs/aria/internal/event"
	"github.com/arialabs/aria/internal/media"
	"github.com/arialabs/aria/internal/resolver"
	"github.com/arialabs/aria/pkg/logger"
)

type (
	AcquisitionState int

	// AcquisitionItem is a queue entry for background file acquisition. It
	// carries only identity; all durable state lives in the database.
	AcquisitionItem struct {
		ID        string
		SourceURL string
		Options   RequestOptions
		State     AcquisitionState
	}
)

const (
	Idle AcquisitionState = iota
	Running
)

// run performs the full acquisition for this item:
//   - marks the database record Processing
//   - resolves the source for fresh metadata and candidate streams
//   - materializes segmented audio via transcode, or fetches direct audio
//   - fetches the thumbnail (best effort, never fails the item)
//   - marks the record Completed with the final filenames
//
// Any failure along the way marks the record Failed with a human-readable
// message. A Failed record never owns files: partially written files are
// removed by the components that wrote them, and files which were fully
// fetched but could not be recorded are discarded here.
func (item *AcquisitionItem) run(ctx context.Context, service *acquisitionService) error {
	if err := service.data.MarkProcessing(item.ID); err != nil {
		if errors.Is(err, media.ErrIllegalTransition) {
			// Another worker or process already moved the item on.
			log.Emit(logger.DEBUG, "Item %s is no longer eligible for processing, skipping\n", item.ID)
			return nil
		}

		return err
	}

	service.eventBus.Dispatch(event.MediaUpdateEvent, item.ID)
	log.Emit(logger.NEW, "Beginning acquisition of item %s from %s\n", item.ID, item.SourceURL)

	metadata, err := service.resolver.Resolve(ctx, item.SourceURL)
	if err != nil {
		return item.fail(service, fmt.Sprintf("metadata resolution failed: %s", err.Error()))
	}

	record := newItemRecord(item.ID, metadata)
	item.updateMetadata(service, record)

	audioFilename, err := item.acquireAudio(ctx, service, metadata)
	if err != nil {
		return item.fail(service, err.Error())
	}

	thumbnailFilename := item.acquireThumbnail(ctx, service, metadata)

	if err := service.data.MarkCompleted(record, audioFilename, thumbnailFilename); err != nil {
		item.discardFiles(service, metadata.Audio.IsSegmented(), audioFilename, thumbnailFilename)
		return item.fail(service, fmt.Sprintf("failed to finalize item: %s", err.Error()))
	}

	log.Emit(logger.SUCCESS, "Acquisition of item %s complete (audio=%s)\n", item.ID, audioFilename)
	service.eventBus.Dispatch(event.MediaCompleteEvent, item.ID)
	return nil
}

// newItemRecord converts resolved metadata in to the persistable portion of
// a media item row.
func newItemRecord(id string, metadata *resolver.Metadata) *media.Item {
	record := &media.Item{
		ID:                id,
		Title:             metadata.Title,
		Artist:            metadata.Artist,
		DurationSeconds:   metadata.DurationSeconds,
		DurationFormatted: metadata.DurationFormatted,
		Keywords:          metadata.Keywords,
	}
	if metadata.ThumbnailURL != "" {
		thumb := metadata.ThumbnailURL
		record.ThumbnailURL = &thumb
	}

	return record
}

// updateMetadata refreshes the stored display metadata with the values from
// the latest resolve. A failure here is logged and ignored; stale metadata
// is not worth failing an otherwise healthy acquisition over.
func (item *AcquisitionItem) updateMetadata(service *acquisitionService, record *media.Item) {
	if err := service.data.UpdateItemMetadata(record); err != nil {
		log.Emit(logger.WARNING, "Failed to refresh metadata for item %s: %v\n", item.ID, err)
	}
}

// acquireAudio obtains the audio file for the item. Segmented streams must
// be transcoded in to a single seekable file; direct streams are fetched
// as-is.
func (item *AcquisitionItem) acquireAudio(ctx context.Context, service *acquisitionService, metadata *resolver.Metadata) (string, error) {
	audio := metadata.Audio
	if audio.IsSegmented() {
		log.Emit(logger.INFO, "Item %s audio is segmented, transcoding to a single file\n", item.ID)
		filename, err := service.transcoder.Materialize(ctx, audio.URL, item.ID)
		if err != nil {
			return "", fmt.Errorf("transcode failed: %s", err.Error())
		}

		return filename, nil
	}

	filename, err := service.downloader.FetchAudio(ctx, audio.URL, item.ID, audio.Extension)
	if err != nil {
		return "", fmt.Errorf("audio download failed: %s", err.Error())
	}

	return filename, nil
}

// acquireThumbnail fetches the item's thumbnail. Thumbnails are cosmetic;
// any failure is logged and the item carries on without one.
func (item *AcquisitionItem) acquireThumbnail(ctx context.Context, service *acquisitionService, metadata *resolver.Metadata) *string {
	if item.Options.SkipThumbnail || metadata.ThumbnailURL == "" {
		return nil
	}

	filename, err := service.downloader.FetchThumbnail(ctx, metadata.ThumbnailURL, item.ID)
	if err != nil {
		log.Emit(logger.WARNING, "Failed to fetch thumbnail for item %s: %v\n", item.ID, err)
		return nil
	}

	return &filename
}

// discardFiles removes the files fetched for an acquisition which could not
// be finalized. A Failed record must never leave media behind on disk.
func (item *AcquisitionItem) discardFiles(service *acquisitionService, segmented bool, audioFilename string, thumbnailFilename *string) {
	var err error
	if segmented {
		err = service.transcoder.Discard(audioFilename)
	} else {
		err = service.downloader.DiscardAudio(audioFilename)
	}
	if err != nil {
		log.Emit(logger.WARNING, "Failed to remove audio file %s for item %s: %v\n", audioFilename, item.ID, err)
	}

	if thumbnailFilename != nil {
		if err := service.downloader.DiscardThumbnail(*thumbnailFilename); err != nil {
			log.Emit(logger.WARNING, "Failed to remove thumbnail file %s for item %s: %v\n", *thumbnailFilename, item.ID, err)
		}
	}
}

func (item *AcquisitionItem) fail(service *acquisitionService, message string) error {
	if err := service.data.MarkFailed(item.ID, message); err != nil {
		log.Emit(logger.ERROR, "Failed to mark item %s as failed: %v\n", item.ID, err)
	}

	service.eventBus.Dispatch(event.MediaFailedEvent, item.ID)
	return errors.New(message)
}

func (item *AcquisitionItem) String() string {
	return fmt.Sprintf("AcquisitionItem{ID=%s state=%s}", item.ID, item.State)
}

func (s AcquisitionState) String() string {
	switch s {
	case Idle:
		return fmt.Sprintf("IDLE[%d]", s)
	case Running:
		return fmt.Sprintf("RUNNING[%d]", s)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}
