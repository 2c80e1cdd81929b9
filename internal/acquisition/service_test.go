package acquisition

import (
	"context"
	"errors"
	"testing"

	"github.com/arialabs/aria/internal/event"
	"github.com/arialabs/aria/internal/media"
	"github.com/arialabs/aria/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const (
	testSourceURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	testItemID    = "dQw4w9WgXcQ"
)

type mockResolver struct{ mock.Mock }

func (m *mockResolver) Resolve(ctx context.Context, sourceURL string) (*resolver.Metadata, error) {
	args := m.Called(ctx, sourceURL)
	if metadata := args.Get(0); metadata != nil {
		return metadata.(*resolver.Metadata), args.Error(1)
	}

	return nil, args.Error(1)
}

type mockTranscoder struct{ mock.Mock }

func (m *mockTranscoder) Materialize(ctx context.Context, inputURL string, id string) (string, error) {
	args := m.Called(ctx, inputURL, id)
	return args.String(0), args.Error(1)
}

func (m *mockTranscoder) Discard(filename string) error { return m.Called(filename).Error(0) }

type mockDownloader struct{ mock.Mock }

func (m *mockDownloader) FetchAudio(ctx context.Context, url string, id string, extension string) (string, error) {
	args := m.Called(ctx, url, id, extension)
	return args.String(0), args.Error(1)
}

func (m *mockDownloader) FetchThumbnail(ctx context.Context, url string, id string) (string, error) {
	args := m.Called(ctx, url, id)
	return args.String(0), args.Error(1)
}

func (m *mockDownloader) DiscardAudio(filename string) error {
	return m.Called(filename).Error(0)
}

func (m *mockDownloader) DiscardThumbnail(filename string) error {
	return m.Called(filename).Error(0)
}

type mockDataStore struct{ mock.Mock }

func (m *mockDataStore) CreateItem(item *media.Item) error { return m.Called(item).Error(0) }
func (m *mockDataStore) GetItem(id string) (*media.Item, error) {
	args := m.Called(id)
	if item := args.Get(0); item != nil {
		return item.(*media.Item), args.Error(1)
	}

	return nil, args.Error(1)
}
func (m *mockDataStore) UpdateItemMetadata(item *media.Item) error { return m.Called(item).Error(0) }
func (m *mockDataStore) MarkProcessing(id string) error            { return m.Called(id).Error(0) }
func (m *mockDataStore) MarkCompleted(item *media.Item, audioFilename string, thumbnailFilename *string) error {
	return m.Called(item, audioFilename, thumbnailFilename).Error(0)
}
func (m *mockDataStore) MarkFailed(id string, message string) error {
	return m.Called(id, message).Error(0)
}
func (m *mockDataStore) FailAbandonedItems(message string) error {
	return m.Called(message).Error(0)
}

type serviceMocks struct {
	resolver   *mockResolver
	transcoder *mockTranscoder
	downloader *mockDownloader
	data       *mockDataStore
}

func newTestService() (*acquisitionService, *serviceMocks) {
	mocks := &serviceMocks{&mockResolver{}, &mockTranscoder{}, &mockDownloader{}, &mockDataStore{}}
	service := New(Config{Parallelism: 1}, mocks.resolver, mocks.transcoder, mocks.downloader, mocks.data, event.New())
	return service, mocks
}

func testMetadata(segmented bool) *resolver.Metadata {
	audio := &resolver.Format{URL: "https://example.org/audio.m4a", Extension: "m4a", Protocol: "https", AudioCodec: "aac", Bitrate: 128}
	if segmented {
		audio = &resolver.Format{URL: "https://example.org/playlist.m3u8", Extension: "m4a", Protocol: "m3u8_native", AudioCodec: "aac", Bitrate: 128}
	}

	return &resolver.Metadata{
		SourceID:          testItemID,
		Title:             "Never Gonna Give You Up",
		Artist:            "Rick Astley",
		DurationSeconds:   213,
		DurationFormatted: "03:33",
		ThumbnailURL:      "https://example.org/thumb.jpg",
		Keywords:          []string{"pop"},
		Audio:             audio,
	}
}

func Test_RequestAcquisition_CompletedCacheHit(t *testing.T) {
	service, mocks := newTestService()
	audioFilename := "dQw4w9WgXcQ_1700000000.m4a"
	mocks.data.On("GetItem", testItemID).
		Return(&media.Item{ID: testItemID, Status: media.CompletedStatus, AudioFilename: &audioFilename}, nil).
		Once()

	item, err := service.RequestAcquisition(context.Background(), testSourceURL, RequestOptions{})
	assert.Nil(t, err)
	assert.Equal(t, media.CompletedStatus, item.Status)

	// A cache hit must not touch the resolver or queue any work.
	mocks.resolver.AssertNotCalled(t, "Resolve")
	assert.Empty(t, service.AllAcquisitions())
}

func Test_RequestAcquisition_ExistingIncompleteItemIsRescheduled(t *testing.T) {
	service, mocks := newTestService()
	mocks.data.On("GetItem", testItemID).
		Return(&media.Item{ID: testItemID, Status: media.FailedStatus, SourceURL: testSourceURL}, nil).
		Once()

	item, err := service.RequestAcquisition(context.Background(), testSourceURL, RequestOptions{})
	assert.Nil(t, err)
	assert.Equal(t, media.FailedStatus, item.Status)

	mocks.resolver.AssertNotCalled(t, "Resolve")
	queued := service.AllAcquisitions()
	assert.Len(t, queued, 1)
	assert.Equal(t, testItemID, queued[0].ID)
}

func Test_RequestAcquisition_NewItemIsResolvedAndQueued(t *testing.T) {
	service, mocks := newTestService()
	mocks.data.On("GetItem", testItemID).Return(nil, media.ErrItemNotFound).Once()
	mocks.resolver.On("Resolve", mock.Anything, testSourceURL).Return(testMetadata(false), nil).Once()
	mocks.data.On("CreateItem", mock.MatchedBy(func(item *media.Item) bool {
		return item.ID == testItemID && item.Status == media.PendingStatus && item.SourceURL == testSourceURL
	})).Return(nil).Once()

	item, err := service.RequestAcquisition(context.Background(), testSourceURL, RequestOptions{})
	assert.Nil(t, err)
	assert.Equal(t, "Never Gonna Give You Up", item.Title)
	assert.Equal(t, media.PendingStatus, item.Status)

	assert.Len(t, service.AllAcquisitions(), 1)
	mocks.data.AssertExpectations(t)
	mocks.resolver.AssertExpectations(t)
}

func Test_RequestAcquisition_InvalidURL(t *testing.T) {
	service, mocks := newTestService()

	_, err := service.RequestAcquisition(context.Background(), "https://example.org/nope", RequestOptions{})
	target := &resolver.InvalidSourceError{}
	assert.ErrorAs(t, err, &target)
	mocks.data.AssertNotCalled(t, "GetItem")
}

func Test_RequestAcquisition_DuplicateRequestsQueueOnce(t *testing.T) {
	service, mocks := newTestService()
	mocks.data.On("GetItem", testItemID).
		Return(&media.Item{ID: testItemID, Status: media.PendingStatus, SourceURL: testSourceURL}, nil)

	_, err := service.RequestAcquisition(context.Background(), testSourceURL, RequestOptions{})
	assert.Nil(t, err)
	_, err = service.RequestAcquisition(context.Background(), testSourceURL, RequestOptions{})
	assert.Nil(t, err)

	assert.Len(t, service.AllAcquisitions(), 1)
}

func Test_RetryAcquisition(t *testing.T) {
	t.Run("failed item is requeued", func(t *testing.T) {
		service, mocks := newTestService()
		mocks.data.On("GetItem", testItemID).
			Return(&media.Item{ID: testItemID, Status: media.FailedStatus, SourceURL: testSourceURL}, nil).
			Once()

		_, err := service.RetryAcquisition(testItemID)
		assert.Nil(t, err)
		assert.Len(t, service.AllAcquisitions(), 1)
	})

	t.Run("completed item is rejected", func(t *testing.T) {
		service, mocks := newTestService()
		mocks.data.On("GetItem", testItemID).
			Return(&media.Item{ID: testItemID, Status: media.CompletedStatus}, nil).
			Once()

		_, err := service.RetryAcquisition(testItemID)
		assert.ErrorIs(t, err, ErrRetryNotAllowed)
		assert.Empty(t, service.AllAcquisitions())
	})

	t.Run("processing item is rejected", func(t *testing.T) {
		service, mocks := newTestService()
		mocks.data.On("GetItem", testItemID).
			Return(&media.Item{ID: testItemID, Status: media.ProcessingStatus}, nil).
			Once()

		_, err := service.RetryAcquisition(testItemID)
		assert.ErrorIs(t, err, ErrRetryNotAllowed)
	})

	t.Run("unknown item", func(t *testing.T) {
		service, mocks := newTestService()
		mocks.data.On("GetItem", testItemID).Return(nil, media.ErrItemNotFound).Once()

		_, err := service.RetryAcquisition(testItemID)
		assert.ErrorIs(t, err, media.ErrItemNotFound)
	})
}

func Test_Run_FailsAbandonedItemsBeforeStartingWorkers(t *testing.T) {
	t.Run("abandoned rows are failed on startup", func(t *testing.T) {
		service, mocks := newTestService()
		mocks.data.On("FailAbandonedItems", mock.AnythingOfType("string")).Return(nil).Once()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := service.Run(ctx)
		assert.Nil(t, err)
		mocks.data.AssertExpectations(t)
	})

	t.Run("reap failure aborts startup", func(t *testing.T) {
		service, mocks := newTestService()
		mocks.data.On("FailAbandonedItems", mock.Anything).Return(errors.New("connection refused")).Once()

		err := service.Run(context.Background())
		assert.ErrorContains(t, err, "failed to reap abandoned items")
	})
}

func Test_AllAcquisitions_ReturnsDetachedSnapshot(t *testing.T) {
	service, _ := newTestService()
	service.scheduleAcquisition(testItemID, testSourceURL, RequestOptions{})

	snapshot := service.AllAcquisitions()
	claimed := service.claimIdleItem()
	if assert.NotNil(t, claimed) {
		assert.Equal(t, Running, claimed.State)
	}

	// The snapshot was taken before the claim and must not observe it.
	assert.Len(t, snapshot, 1)
	assert.Equal(t, Idle, snapshot[0].State)
}

func Test_PerformNextAcquisition_ClaimsAndRemovesItem(t *testing.T) {
	service, mocks := newTestService()
	mocks.data.On("MarkProcessing", testItemID).Return(nil).Once()
	mocks.data.On("UpdateItemMetadata", mock.Anything).Return(nil).Once()
	mocks.data.On("MarkCompleted", mock.Anything, "audio.m4a", mock.Anything).Return(nil).Once()
	mocks.resolver.On("Resolve", mock.Anything, testSourceURL).Return(testMetadata(false), nil).Once()
	mocks.downloader.On("FetchAudio", mock.Anything, "https://example.org/audio.m4a", testItemID, "m4a").
		Return("audio.m4a", nil).Once()
	mocks.downloader.On("FetchThumbnail", mock.Anything, "https://example.org/thumb.jpg", testItemID).
		Return("thumb.jpg", nil).Once()

	service.scheduleAcquisition(testItemID, testSourceURL, RequestOptions{})

	didWork, err := service.performNextAcquisition(nil)
	assert.True(t, didWork)
	assert.Nil(t, err)
	assert.Empty(t, service.AllAcquisitions(), "completed item should leave the queue")

	// A second pass finds nothing to do.
	didWork, err = service.performNextAcquisition(nil)
	assert.False(t, didWork)
	assert.Nil(t, err)
	mocks.data.AssertExpectations(t)
}
