package internal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testGateway struct {
	dispatcher *Dispatcher
	hub        *Hub
	blobs      *fakeBlobStore
	users      *fakeUserService
	rooms      *fakeRoomService
	messages   *fakeMessageService
}

func newTestGateway() *testGateway {
	blobs := newFakeBlobStore()
	users := &fakeUserService{}
	rooms := &fakeRoomService{}
	messages := &fakeMessageService{}
	hub := NewHub()
	orchestrator := NewOrchestrator(blobs, users, rooms, messages, NewMetrics(), zap.NewNop())
	dispatcher := NewDispatcher(
		hub,
		NewUploadStore(),
		orchestrator,
		NewRateLimiter(1000, time.Second),
		NewMetrics(),
		5*time.Second,
		zap.NewNop(),
	)
	return &testGateway{dispatcher: dispatcher, hub: hub, blobs: blobs, users: users, rooms: rooms, messages: messages}
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	payload, err := json.Marshal(Envelope{Event: event, Data: raw})
	require.NoError(t, err)
	return payload
}

func recvEvent(t *testing.T, client *Client) Envelope {
	t.Helper()
	select {
	case payload := <-client.send:
		var envelope Envelope
		require.NoError(t, json.Unmarshal(payload, &envelope))
		return envelope
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return Envelope{}
	}
}

func join(t *testing.T, gw *testGateway, client *Client, room string) {
	t.Helper()
	gw.dispatcher.Dispatch(client, frame(t, EventJoinRoom, room))
	ack := recvEvent(t, client)
	require.Equal(t, EventJoinedRoom, ack.Event)
}

func TestChunkedMessageEndToEnd(t *testing.T) {
	gw := newTestGateway()
	sender := newClient(nil)
	receiver := newClient(nil)
	join(t, gw, sender, "room1")
	join(t, gw, receiver, "room1")

	gw.dispatcher.Dispatch(sender, frame(t, EventUploadChunk, ChunkPayload{Upload: 0, Data: []byte{0x01, 0x02}}))
	gw.dispatcher.Dispatch(sender, frame(t, EventUploadChunk, ChunkPayload{Upload: 0, Data: []byte{0x03}, Final: true}))
	gw.dispatcher.Dispatch(sender, frame(t, EventChatToServer, ChatPayload{
		Text:     "hi",
		Username: "alice",
		UserID:   "u1",
		RoomID:   "room1",
		Files:    []FileMeta{{Name: "a.png", Mimetype: "image/png"}},
	}))

	broadcast := recvEvent(t, receiver)
	require.Equal(t, EventChatToClient, broadcast.Event)
	var message Message
	require.NoError(t, json.Unmarshal(broadcast.Data, &message))
	require.Equal(t, "hi", message.Text)
	require.Len(t, message.Files, 1)

	uploads := gw.blobs.uploadCalls()
	require.Len(t, uploads, 1)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, uploads[0].data)
	require.Equal(t, "a.png", uploads[0].filename)
	require.Len(t, gw.messages.createdCalls(), 1)
}

func TestDeleteMissingMessageStillBroadcasts(t *testing.T) {
	gw := newTestGateway()
	gw.messages.deleted = nil
	sender := newClient(nil)
	receiver := newClient(nil)
	join(t, gw, sender, "room1")
	join(t, gw, receiver, "room1")

	gw.dispatcher.Dispatch(sender, frame(t, EventDeleteMsg, DeletePayload{ID: "no-such-id", RoomID: "room1"}))

	broadcast := recvEvent(t, receiver)
	require.Equal(t, EventChatToClientDelete, broadcast.Event)
	var id string
	require.NoError(t, json.Unmarshal(broadcast.Data, &id))
	require.Equal(t, "no-such-id", id)
	require.Empty(t, gw.blobs.deleteCalls())
}

func TestMalformedFrameGetsErrorAck(t *testing.T) {
	gw := newTestGateway()
	client := newClient(nil)

	gw.dispatcher.Dispatch(client, []byte("{not json"))

	ack := recvEvent(t, client)
	require.Equal(t, EventError, ack.Event)
	var failure ErrorPayload
	require.NoError(t, json.Unmarshal(ack.Data, &failure))
	require.Equal(t, "malformed_event", failure.Code)
}

func TestUnknownEventGetsErrorAck(t *testing.T) {
	gw := newTestGateway()
	client := newClient(nil)

	gw.dispatcher.Dispatch(client, frame(t, "definitelyNotAnEvent", nil))

	ack := recvEvent(t, client)
	require.Equal(t, EventError, ack.Event)
	var failure ErrorPayload
	require.NoError(t, json.Unmarshal(ack.Data, &failure))
	require.Equal(t, "malformed_event", failure.Code)
	require.Equal(t, "definitelyNotAnEvent", failure.Event)
}

func TestStaleChunkGetsErrorAck(t *testing.T) {
	gw := newTestGateway()
	client := newClient(nil)

	gw.dispatcher.Dispatch(client, frame(t, EventUploadChunk, ChunkPayload{Upload: 0, Data: []byte{0x01}, Final: true}))
	gw.dispatcher.Dispatch(client, frame(t, EventUploadChunk, ChunkPayload{Upload: 0, Data: []byte{0x02}}))

	ack := recvEvent(t, client)
	require.Equal(t, EventError, ack.Event)
	var failure ErrorPayload
	require.NoError(t, json.Unmarshal(ack.Data, &failure))
	require.Equal(t, "stale_upload", failure.Code)
}

func TestChatWithMismatchedUploadsRejected(t *testing.T) {
	gw := newTestGateway()
	client := newClient(nil)
	join(t, gw, client, "room1")

	// one descriptor, zero completed uploads
	gw.dispatcher.Dispatch(client, frame(t, EventChatToServer, ChatPayload{
		UserID: "u1", RoomID: "room1",
		Files: []FileMeta{{Name: "a.png", Mimetype: "image/png"}},
	}))

	ack := recvEvent(t, client)
	require.Equal(t, EventError, ack.Event)
	require.Empty(t, gw.messages.createdCalls())
}

func TestUsersInRoomBroadcastsCount(t *testing.T) {
	gw := newTestGateway()
	first := newClient(nil)
	second := newClient(nil)
	join(t, gw, first, "room1")
	join(t, gw, second, "room1")

	gw.dispatcher.Dispatch(first, frame(t, EventUsersInRoom, RoomQueryPayload{RoomID: "room1"}))

	count := recvEvent(t, second)
	require.Equal(t, EventUsersInRoomCount, count.Event)
	var members int
	require.NoError(t, json.Unmarshal(count.Data, &members))
	require.Equal(t, 2, members)
}

func TestLeaveRoomUpdatesMembership(t *testing.T) {
	gw := newTestGateway()
	client := newClient(nil)
	join(t, gw, client, "room1")
	require.Equal(t, 1, gw.hub.MemberCount("room1"))

	gw.dispatcher.Dispatch(client, frame(t, EventLeaveRoom, "room1"))
	ack := recvEvent(t, client)
	require.Equal(t, EventLeftRoom, ack.Event)
	require.Equal(t, 0, gw.hub.MemberCount("room1"))
}

func TestKickUserRelayedToRoom(t *testing.T) {
	gw := newTestGateway()
	member := newClient(nil)
	join(t, gw, member, "room1")

	other := newClient(nil)
	gw.dispatcher.Dispatch(other, frame(t, EventKickUser, RoomQueryPayload{RoomID: "room1"}))

	notification := recvEvent(t, member)
	require.Equal(t, EventKickedUser, notification.Event)
}

func TestUpdateBroadcastOnlyAfterServiceConfirms(t *testing.T) {
	gw := newTestGateway()
	gw.messages.editErr = &ServiceError{Code: "not_found"}
	sender := newClient(nil)
	receiver := newClient(nil)
	join(t, gw, sender, "room1")
	join(t, gw, receiver, "room1")

	gw.dispatcher.Dispatch(sender, frame(t, EventUpdateMsg, MessageEdit{
		ID:      "m1",
		Message: EditBody{Text: "edited", RoomID: "room1"},
	}))

	ack := recvEvent(t, sender)
	require.Equal(t, EventError, ack.Event)
	select {
	case <-receiver.send:
		t.Fatal("rejected edit must not be broadcast")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRateLimitedEventGetsAck(t *testing.T) {
	blobs := newFakeBlobStore()
	hub := NewHub()
	orchestrator := NewOrchestrator(blobs, &fakeUserService{}, &fakeRoomService{}, &fakeMessageService{}, NewMetrics(), zap.NewNop())
	dispatcher := NewDispatcher(hub, NewUploadStore(), orchestrator,
		NewRateLimiter(1, time.Minute), NewMetrics(), time.Second, zap.NewNop())
	client := newClient(nil)

	dispatcher.Dispatch(client, frame(t, EventJoinRoom, "room1"))
	require.Equal(t, EventJoinedRoom, recvEvent(t, client).Event)

	dispatcher.Dispatch(client, frame(t, EventJoinRoom, "room2"))
	ack := recvEvent(t, client)
	require.Equal(t, EventError, ack.Event)
	var failure ErrorPayload
	require.NoError(t, json.Unmarshal(ack.Data, &failure))
	require.Equal(t, "rate_limited", failure.Code)
}
