package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// socketClient wraps a single websocket connection. Writes are serialized
// with a mutex as gorilla connections permit only one concurrent writer.
type socketClient struct {
	id        *uuid.UUID
	socket    *websocket.Conn
	writeLock sync.Mutex
}

// Read runs the clients read loop, decoding each inbound packet and
// forwarding it on the channel provided. Blocks until the connection errors
// or closes.
func (client *socketClient) Read(receiveCh chan *SocketMessage) error {
	for {
		var message SocketMessage
		if err := client.socket.ReadJSON(&message); err != nil {
			return err
		}

		message.Origin = client.id
		receiveCh <- &message
	}
}

func (client *socketClient) SendMessage(message *SocketMessage) error {
	client.writeLock.Lock()
	defer client.writeLock.Unlock()

	return client.socket.WriteJSON(message)
}

func (client *socketClient) Close() error {
	return client.socket.Close()
}
