package internal

import "sync"

// liveRoom is one broadcast scope. Membership is a plain set guarded by a mutex;
// a client may belong to many rooms at once.
type liveRoom struct {
	key     string
	mutex   sync.RWMutex
	clients map[*Client]bool
}

func newRoom(key string) *liveRoom {
	return &liveRoom{key: key, clients: make(map[*Client]bool)}
}

func (room *liveRoom) add(client *Client) {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	room.clients[client] = true
}

func (room *liveRoom) remove(client *Client) {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	delete(room.clients, client)
}

func (room *liveRoom) size() int {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	return len(room.clients)
}

// send fans the payload out to every member. A client whose send buffer is
// full is dropped from this room rather than allowed to backpressure the
// broadcast; its connection-level cleanup removes the rest of its state.
func (room *liveRoom) send(payload []byte) {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	for client := range room.clients {
		select {
		case client.send <- payload:
		default:
			delete(room.clients, client)
		}
	}
}
