package internal

import "encoding/json"

// Inbound event names.
const (
	EventChatToServer = "chatToServer"
	EventSetAvatar    = "chatToServerSetAvatar"
	EventCreateChat   = "chatToServerCreateChat"
	EventDeleteMsg    = "chatToServerDelete"
	EventUpdateMsg    = "chatToServerUpdate"
	EventUsersInRoom  = "getUsersInRoom"
	EventJoinRoom     = "joinRoom"
	EventLeaveRoom    = "leaveRoom"
	EventKickUser     = "kickUser"
	EventUserAdd      = "userAddToChat"
	EventUploadChunk  = "uploadChunk"
)

// Outbound event names.
const (
	EventChatToClient       = "chatToClient"
	EventChatToClientDelete = "chatToClientDelete"
	EventChatToClientUpdate = "chatToClientUpdate"
	EventUsersInRoomCount   = "UsersInRoom"
	EventJoinedRoom         = "joinedRoom"
	EventLeftRoom           = "leftRoom"
	EventKickedUser         = "kickedUser"
	EventUserAdded          = "userAdd"
	EventError              = "error"
)

// Envelope is the json frame exchanged on the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// FileMeta describes one pending attachment; the bytes travel separately as
// uploadChunk events.
type FileMeta struct {
	Name     string `json:"name"`
	Mimetype string `json:"mimetype"`
}

type ChatPayload struct {
	Text     string     `json:"text"`
	Username string     `json:"username"`
	UserID   string     `json:"userId"`
	RoomID   string     `json:"roomId"`
	Files    []FileMeta `json:"files"`
}

type AvatarPayload struct {
	UserID string    `json:"userId"`
	File   *FileMeta `json:"file"`
}

type RoomCreatePayload struct {
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	IsPrivate bool      `json:"isPrivate"`
	File      *FileMeta `json:"file"`
}

type DeletePayload struct {
	ID     string `json:"id"`
	RoomID string `json:"roomId"`
}

type RoomQueryPayload struct {
	RoomID string `json:"roomId"`
}

// ChunkPayload carries one slice of a chunked upload. Upload is the client's
// slot index for this transfer, which ties chunks to the file entry that will
// reference them instead of relying on arrival order.
type ChunkPayload struct {
	Upload int    `json:"upload"`
	Data   []byte `json:"data"`
	Final  bool   `json:"final"`
}

// ErrorPayload is the failure ack sent back to the connection whose event
// could not be handled.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
