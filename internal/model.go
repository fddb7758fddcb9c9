package internal

import "time"

// File is the descriptor attached to messages, users and rooms once a blob
// upload has succeeded. Path is the publicly resolvable location.
type File struct {
	ID       string `json:"id,omitempty"`
	Path     string `json:"path"`
	Name     string `json:"name"`
	Mimetype string `json:"mimetype"`
}

// Message as persisted by the message service. The gateway only builds the
// creation request and relays the response.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Username  string    `json:"username"`
	UserID    string    `json:"userId"`
	RoomID    string    `json:"roomId"`
	Files     []File    `json:"files"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// User as returned by the user service. AvatarURL is nil when the user has
// never set one.
type User struct {
	ID        string  `json:"id"`
	AvatarURL *string `json:"avatar_url"`
}

// Room as persisted by the room service.
type Room struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"ownerId"`
	IsPrivate bool   `json:"isPrivate"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// MessageCreate is the request body for the message service's post.create.
type MessageCreate struct {
	Text     string `json:"text"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Files    []File `json:"files"`
}

// RoomCreate is the request body for the room service's post.create.
type RoomCreate struct {
	Name      string `json:"name"`
	OwnerID   string `json:"ownerId"`
	IsPrivate bool   `json:"isPrivate"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// AvatarRecord registers an uploaded avatar blob as a File with the message
// service.
type AvatarRecord struct {
	Mimetype string `json:"mimetype"`
	Path     string `json:"path"`
	Name     string `json:"name"`
}

// MessageEdit is both the inbound update payload and the body relayed to the
// message service's put.edit.
type MessageEdit struct {
	ID      string   `json:"id"`
	Message EditBody `json:"message"`
}

type EditBody struct {
	Text   string `json:"text"`
	RoomID string `json:"roomId"`
}
