package internal

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// chunked uploads ride the same socket, so frames are allowed to be much
	// larger than a chat line
	maxMsgSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client wraps a single websocket connection: a buffered send queue, the set
// of rooms it has joined, and a stable id that keys its upload sessions.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mutex sync.Mutex
	rooms map[string]bool
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		id:    uuid.NewString(),
		conn:  conn,
		send:  make(chan []byte, 256),
		done:  make(chan struct{}),
		rooms: make(map[string]bool),
	}
}

func (client *Client) trackRoom(key string) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.rooms[key] = true
}

func (client *Client) untrackRoom(key string) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	delete(client.rooms, key)
}

func (client *Client) joinedRooms() []string {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	keys := make([]string, 0, len(client.rooms))
	for key := range client.rooms {
		keys = append(keys, key)
	}
	return keys
}

// emit queues an event for this connection only. A full buffer drops the
// event rather than block the caller.
func (client *Client) emit(event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
	}
}

// ServeWS upgrades the request to a websocket and starts the connection's
// read and write pumps.
func (d *Dispatcher) ServeWS(writer http.ResponseWriter, request *http.Request) {
	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		d.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(websocketConn)
	d.metrics.IncConn()
	d.log.Info("client connected", zap.String("conn", client.id))

	go client.writePump()
	go client.readPump(d)
}

func (client *Client) readPump(d *Dispatcher) {
	defer func() {
		d.disconnect(client)
		client.conn.Close()
		close(client.done)
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			// normal close or read error; the deferred cleanup runs
			break
		}
		d.Dispatch(client, payload)
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case <-client.done:
			_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
