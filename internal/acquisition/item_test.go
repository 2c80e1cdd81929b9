package acquisition

import (
	"context"
	"errors"
	"testing"

	"github.com/arialabs/aria/internal/event"
	"github.com/arialabs/aria/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newQueuedItem() *AcquisitionItem {
	return &AcquisitionItem{ID: testItemID, SourceURL: testSourceURL, State: Running}
}

func Test_Run_DirectStreamAcquisition(t *testing.T) {
	service, mocks := newTestService()
	mocks.data.On("MarkProcessing", testItemID).Return(nil).Once()
	mocks.data.On("UpdateItemMetadata", mock.Anything).Return(nil).Once()
	mocks.resolver.On("Resolve", mock.Anything, testSourceURL).Return(testMetadata(false), nil).Once()
	mocks.downloader.On("FetchAudio", mock.Anything, "https://example.org/audio.m4a", testItemID, "m4a").
		Return("audio.m4a", nil).Once()
	mocks.downloader.On("FetchThumbnail", mock.Anything, "https://example.org/thumb.jpg", testItemID).
		Return("thumb.jpg", nil).Once()
	mocks.data.On("MarkCompleted", mock.MatchedBy(func(item *media.Item) bool {
		return item.ID == testItemID && item.Title == "Never Gonna Give You Up"
	}), "audio.m4a", mock.MatchedBy(func(thumb *string) bool {
		return thumb != nil && *thumb == "thumb.jpg"
	})).Return(nil).Once()

	err := newQueuedItem().run(context.Background(), service)
	assert.Nil(t, err)
	mocks.data.AssertExpectations(t)
	mocks.transcoder.AssertNotCalled(t, "Materialize")
}

func Test_Run_SegmentedStreamIsTranscoded(t *testing.T) {
	service, mocks := newTestService()
	mocks.data.On("MarkProcessing", testItemID).Return(nil).Once()
	mocks.data.On("UpdateItemMetadata", mock.Anything).Return(nil).Once()
	mocks.resolver.On("Resolve", mock.Anything, testSourceURL).Return(testMetadata(true), nil).Once()
	mocks.transcoder.On("Materialize", mock.Anything, "https://example.org/playlist.m3u8", testItemID).
		Return("transcoded.m4a", nil).Once()
	mocks.downloader.On("FetchThumbnail", mock.Anything, "https://example.org/thumb.jpg", testItemID).
		Return("thumb.jpg", nil).Once()
	mocks.data.On("MarkCompleted", mock.Anything, "transcoded.m4a", mock.Anything).Return(nil).Once()

	err := newQueuedItem().run(context.Background(), service)
	assert.Nil(t, err)
	mocks.transcoder.AssertExpectations(t)
	mocks.downloader.AssertNotCalled(t, "FetchAudio")
}

func Test_Run_ResolutionFailureMarksItemFailed(t *testing.T) {
	service, mocks := newTestService()
	mocks.data.On("MarkProcessing", testItemID).Return(nil).Once()
	mocks.resolver.On("Resolve", mock.Anything, testSourceURL).
		Return(nil, errors.New("content is unavailable: Private video")).Once()
	mocks.data.On("MarkFailed", testItemID, "metadata resolution failed: content is unavailable: Private video").
		Return(nil).Once()

	err := newQueuedItem().run(context.Background(), service)
	assert.Error(t, err)
	mocks.data.AssertExpectations(t)
	mocks.data.AssertNotCalled(t, "MarkCompleted")
}

func Test_Run_DownloadFailureMarksItemFailed(t *testing.T) {
	service, mocks := newTestService()
	mocks.data.On("MarkProcessing", testItemID).Return(nil).Once()
	mocks.data.On("UpdateItemMetadata", mock.Anything).Return(nil).Once()
	mocks.resolver.On("Resolve", mock.Anything, testSourceURL).Return(testMetadata(false), nil).Once()
	mocks.downloader.On("FetchAudio", mock.Anything, mock.Anything, testItemID, "m4a").
		Return("", errors.New("connection reset")).Once()
	mocks.data.On("MarkFailed", testItemID, "audio download failed: connection reset").Return(nil).Once()

	err := newQueuedItem().run(context.Background(), service)
	assert.Error(t, err)
	mocks.data.AssertExpectations(t)
}

func Test_Run_ThumbnailFailureDoesNotFailItem(t *testing.T) {
	service, mocks := newTestService()
	mocks.data.On("MarkProcessing", testItemID).Return(nil).Once()
	mocks.data.On("UpdateItemMetadata", mock.Anything).Return(nil).Once()
	mocks.resolver.On("Resolve", mock.Anything, testSourceURL).Return(testMetadata(false), nil).Once()
	mocks.downloader.On("FetchAudio", mock.Anything, mock.Anything, testItemID, "m4a").
		Return("audio.m4a", nil).Once()
	mocks.downloader.On("FetchThumbnail", mock.Anything, mock.Anything, testItemID).
		Return("", errors.New("404 not found")).Once()
	mocks.data.On("MarkCompleted", mock.Anything, "audio.m4a", (*string)(nil)).Return(nil).Once()

	err := newQueuedItem().run(context.Background(), service)
	assert.Nil(t, err)
	mocks.data.AssertExpectations(t)
	mocks.data.AssertNotCalled(t, "MarkFailed")
}

func Test_Run_FinalizeFailureDiscardsFetchedFiles(t *testing.T) {
	t.Run("direct stream files are removed", func(t *testing.T) {
		service, mocks := newTestService()
		mocks.data.On("MarkProcessing", testItemID).Return(nil).Once()
		mocks.data.On("UpdateItemMetadata", mock.Anything).Return(nil).Once()
		mocks.resolver.On("Resolve", mock.Anything, testSourceURL).Return(testMetadata(false), nil).Once()
		mocks.downloader.On("FetchAudio", mock.Anything, mock.Anything, testItemID, "m4a").
			Return("audio.m4a", nil).Once()
		mocks.downloader.On("FetchThumbnail", mock.Anything, mock.Anything, testItemID).
			Return("thumb.jpg", nil).Once()
		mocks.data.On("MarkCompleted", mock.Anything, "audio.m4a", mock.Anything).
			Return(errors.New("connection refused")).Once()

		// Files already on disk must not outlive the Failed transition.
		mocks.downloader.On("DiscardAudio", "audio.m4a").Return(nil).Once()
		mocks.downloader.On("DiscardThumbnail", "thumb.jpg").Return(nil).Once()
		mocks.data.On("MarkFailed", testItemID, "failed to finalize item: connection refused").Return(nil).Once()

		err := newQueuedItem().run(context.Background(), service)
		assert.Error(t, err)
		mocks.downloader.AssertExpectations(t)
		mocks.data.AssertExpectations(t)
	})

	t.Run("transcoded output is removed", func(t *testing.T) {
		service, mocks := newTestService()
		mocks.data.On("MarkProcessing", testItemID).Return(nil).Once()
		mocks.data.On("UpdateItemMetadata", mock.Anything).Return(nil).Once()
		mocks.resolver.On("Resolve", mock.Anything, testSourceURL).Return(testMetadata(true), nil).Once()
		mocks.transcoder.On("Materialize", mock.Anything, mock.Anything, testItemID).
			Return("transcoded.m4a", nil).Once()
		mocks.downloader.On("FetchThumbnail", mock.Anything, mock.Anything, testItemID).
			Return("", errors.New("404 not found")).Once()
		mocks.data.On("MarkCompleted", mock.Anything, "transcoded.m4a", (*string)(nil)).
			Return(errors.New("connection refused")).Once()

		mocks.transcoder.On("Discard", "transcoded.m4a").Return(nil).Once()
		mocks.data.On("MarkFailed", testItemID, mock.Anything).Return(nil).Once()

		err := newQueuedItem().run(context.Background(), service)
		assert.Error(t, err)
		mocks.transcoder.AssertExpectations(t)
		mocks.downloader.AssertNotCalled(t, "DiscardAudio", mock.Anything)
		mocks.downloader.AssertNotCalled(t, "DiscardThumbnail", mock.Anything)
	})
}

func Test_Run_SkipsItemAlreadyMovedOn(t *testing.T) {
	service, mocks := newTestService()
	mocks.data.On("MarkProcessing", testItemID).Return(media.ErrIllegalTransition).Once()

	err := newQueuedItem().run(context.Background(), service)
	assert.Nil(t, err)
	mocks.resolver.AssertNotCalled(t, "Resolve")
}

func Test_Run_DispatchesLifecycleEvents(t *testing.T) {
	service, mocks := newTestService()
	bus := event.New()
	service.eventBus = bus

	received := make(event.HandlerChannel, 4)
	bus.RegisterHandlerChannel(received, event.MediaUpdateEvent, event.MediaCompleteEvent)

	mocks.data.On("MarkProcessing", testItemID).Return(nil).Once()
	mocks.data.On("UpdateItemMetadata", mock.Anything).Return(nil).Once()
	mocks.resolver.On("Resolve", mock.Anything, testSourceURL).Return(testMetadata(false), nil).Once()
	mocks.downloader.On("FetchAudio", mock.Anything, mock.Anything, testItemID, "m4a").
		Return("audio.m4a", nil).Once()
	mocks.downloader.On("FetchThumbnail", mock.Anything, mock.Anything, testItemID).
		Return("thumb.jpg", nil).Once()
	mocks.data.On("MarkCompleted", mock.Anything, "audio.m4a", mock.Anything).Return(nil).Once()

	err := newQueuedItem().run(context.Background(), service)
	assert.Nil(t, err)

	first := <-received
	assert.Equal(t, event.MediaUpdateEvent, first.Event)
	assert.Equal(t, testItemID, first.Payload)

	second := <-received
	assert.Equal(t, event.MediaCompleteEvent, second.Event)
}
