package api

import (
	"fmt"

	"github.com/arialabs/aria/internal/api/medias"
	"github.com/arialabs/aria/internal/event"
	"github.com/arialabs/aria/internal/http/websocket"
	"github.com/arialabs/aria/pkg/logger"
)

const TitleMediaUpdate = "MEDIA_UPDATE"

type (
	MediaUpdate struct {
		MediaId string      `json:"media_id"`
		Media   *medias.Dto `json:"media"`
	}

	// broadcaster bridges the internal event bus and the activity web
	// socket, pushing a fresh DTO for an item each time its lifecycle
	// advances.
	broadcaster struct {
		socketHub  *websocket.SocketHub
		mediaStore medias.Store
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, mediaStore medias.Store) *broadcaster {
	return &broadcaster{socketHub, mediaStore}
}

// listenForUpdates subscribes the broadcaster to the media lifecycle
// events. Handlers run asynchronously so a slow socket write can never
// stall the acquisition pipeline.
func (hub *broadcaster) listenForUpdates(eventBus event.EventHandler) {
	handle := func(ev event.Event, payload event.Payload) {
		itemID, ok := payload.(string)
		if !ok {
			log.Emit(logger.ERROR, "Illegal payload for event %v: expected item ID, got %#v\n", ev, payload)
			return
		}

		if err := hub.BroadcastMediaUpdate(itemID); err != nil {
			log.Emit(logger.WARNING, "Failed to broadcast update for item %s: %v\n", itemID, err)
		}
	}

	eventBus.RegisterAsyncHandlerFunction(event.MediaUpdateEvent, handle)
	eventBus.RegisterAsyncHandlerFunction(event.MediaCompleteEvent, handle)
	eventBus.RegisterAsyncHandlerFunction(event.MediaFailedEvent, handle)
}

func (hub *broadcaster) BroadcastMediaUpdate(id string) error {
	item, err := hub.mediaStore.GetItem(id)
	if err != nil {
		return fmt.Errorf("cannot broadcast update for item %s: %w", id, err)
	}

	hub.broadcast(TitleMediaUpdate, MediaUpdate{MediaId: id, Media: medias.NewDto(item)})
	return nil
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": update},
		Type:  websocket.Update,
	})
}
