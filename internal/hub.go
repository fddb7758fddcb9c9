package internal

import "sync"

// Hub tracks which connections belong to which room and fans events out to
// them. Rooms are created on first join and pruned when the last member
// leaves. This is the only shared membership state in the process.
type Hub struct {
	mutex sync.RWMutex
	rooms map[string]*liveRoom
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*liveRoom)}
}

// Exists returns true if a room with the given key currently has members.
func (hub *Hub) Exists(key string) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.rooms[key]
	return ok
}

func (hub *Hub) getOrCreateRoom(key string) *liveRoom {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[key]; exists {
		return room
	}
	room := newRoom(key)
	hub.rooms[key] = room
	return room
}

// Join adds the client to the room, creating it on first use.
func (hub *Hub) Join(client *Client, key string) {
	room := hub.getOrCreateRoom(key)
	room.add(client)
	client.trackRoom(key)
}

// Leave removes the client from the room; empty rooms are pruned.
func (hub *Hub) Leave(client *Client, key string) {
	hub.mutex.RLock()
	room := hub.rooms[key]
	hub.mutex.RUnlock()
	if room == nil {
		return
	}
	room.remove(client)
	client.untrackRoom(key)
	hub.deleteRoomIfEmpty(key)
}

// MemberCount answers membership queries; unknown rooms count zero, never an
// error.
func (hub *Hub) MemberCount(key string) int {
	hub.mutex.RLock()
	room := hub.rooms[key]
	hub.mutex.RUnlock()
	if room == nil {
		return 0
	}
	return room.size()
}

// Broadcast delivers an event to every connection currently joined to the
// room. Unknown rooms are a no-op.
func (hub *Hub) Broadcast(key, event string, data any) {
	hub.mutex.RLock()
	room := hub.rooms[key]
	hub.mutex.RUnlock()
	if room == nil {
		return
	}
	payload, err := encodeEvent(event, data)
	if err != nil {
		return
	}
	room.send(payload)
}

// dropClient removes the client from every room it joined, pruning empties.
func (hub *Hub) dropClient(client *Client) {
	for _, key := range client.joinedRooms() {
		hub.Leave(client, key)
	}
}

func (hub *Hub) deleteRoomIfEmpty(key string) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[key]; exists {
		if room.size() == 0 {
			delete(hub.rooms, key)
		}
	}
}
