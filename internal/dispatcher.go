package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Dispatcher routes inbound events to their handlers. Cheap in-memory events
// run inline on the connection's read loop so arrival order is preserved;
// orchestration flows capture their input inline and then run detached with a
// bounded context, so a suspended RPC or upload never blocks the loop.
type Dispatcher struct {
	hub          *Hub
	uploads      *UploadStore
	orchestrator *Orchestrator
	limiter      *RateLimiter
	metrics      *Metrics
	flowTimeout  time.Duration
	log          *zap.Logger
}

func NewDispatcher(hub *Hub, uploads *UploadStore, orchestrator *Orchestrator, limiter *RateLimiter, metrics *Metrics, flowTimeout time.Duration, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		hub:          hub,
		uploads:      uploads,
		orchestrator: orchestrator,
		limiter:      limiter,
		metrics:      metrics,
		flowTimeout:  flowTimeout,
		log:          log,
	}
}

func (d *Dispatcher) disconnect(client *Client) {
	d.hub.dropClient(client)
	d.uploads.DropConnection(client.id)
	d.limiter.Reset(client.id)
	d.metrics.DecConn()
	d.log.Info("client disconnected", zap.String("conn", client.id))
}

// Dispatch handles one raw inbound frame from the connection's read loop.
func (d *Dispatcher) Dispatch(client *Client, payload []byte) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Event == "" {
		client.emit(EventError, ErrorPayload{Code: "malformed_event", Message: "expected {event, data} envelope"})
		return
	}
	if !d.limiter.Allow(client.id) {
		client.emit(EventError, ErrorPayload{Event: envelope.Event, Code: "rate_limited", Message: "too many events, slow down"})
		return
	}
	d.metrics.IncEvent()
	if err := d.route(client, envelope); err != nil {
		d.fail(client, envelope.Event, err)
	}
}

func (d *Dispatcher) route(client *Client, envelope Envelope) error {
	switch envelope.Event {
	case EventUploadChunk:
		return d.handleChunk(client, envelope.Data)
	case EventJoinRoom:
		return d.handleJoin(client, envelope.Data)
	case EventLeaveRoom:
		return d.handleLeave(client, envelope.Data)
	case EventUsersInRoom:
		return d.handleUsersInRoom(envelope.Data)
	case EventKickUser:
		return d.handleRoomSignal(envelope.Data, EventKickedUser)
	case EventUserAdd:
		return d.handleRoomSignal(envelope.Data, EventUserAdded)
	case EventChatToServer:
		return d.handleChat(client, envelope.Data)
	case EventSetAvatar:
		return d.handleSetAvatar(client, envelope.Data)
	case EventCreateChat:
		return d.handleCreateChat(client, envelope.Data)
	case EventDeleteMsg:
		return d.handleDelete(client, envelope.Data)
	case EventUpdateMsg:
		return d.handleUpdate(client, envelope.Data)
	default:
		return fmt.Errorf("unknown event %q: %w", envelope.Event, ErrMalformedEvent)
	}
}

// runFlow executes fn detached with a bounded context and reports failures
// back to the triggering connection.
func (d *Dispatcher) runFlow(client *Client, event string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.flowTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.fail(client, event, err)
		}
	}()
}

func (d *Dispatcher) fail(client *Client, event string, err error) {
	d.log.Warn("event failed",
		zap.String("event", event), zap.String("conn", client.id), zap.Error(err))
	d.metrics.IncFailure()
	client.emit(EventError, ErrorPayload{Event: event, Code: errorCode(err), Message: err.Error()})
}

func (d *Dispatcher) handleChunk(client *Client, data json.RawMessage) error {
	var chunk ChunkPayload
	if err := decodePayload(data, &chunk); err != nil {
		return err
	}
	if chunk.Upload < 0 {
		return fmt.Errorf("negative upload slot: %w", ErrMalformedEvent)
	}
	if err := d.uploads.Append(client.id, chunk.Upload, chunk.Data, chunk.Final); err != nil {
		return err
	}
	if chunk.Final {
		d.metrics.IncUploadSealed()
	}
	return nil
}

func (d *Dispatcher) handleJoin(client *Client, data json.RawMessage) error {
	var room string
	if err := decodePayload(data, &room); err != nil {
		return err
	}
	if room == "" {
		return fmt.Errorf("empty room name: %w", ErrMalformedEvent)
	}
	d.hub.Join(client, room)
	client.emit(EventJoinedRoom, room)
	return nil
}

func (d *Dispatcher) handleLeave(client *Client, data json.RawMessage) error {
	var room string
	if err := decodePayload(data, &room); err != nil {
		return err
	}
	if room == "" {
		return fmt.Errorf("empty room name: %w", ErrMalformedEvent)
	}
	d.hub.Leave(client, room)
	client.emit(EventLeftRoom, room)
	return nil
}

func (d *Dispatcher) handleUsersInRoom(data json.RawMessage) error {
	var query RoomQueryPayload
	if err := decodePayload(data, &query); err != nil {
		return err
	}
	if query.RoomID == "" {
		return fmt.Errorf("roomId is required: %w", ErrMalformedEvent)
	}
	d.hub.Broadcast(query.RoomID, EventUsersInRoomCount, d.hub.MemberCount(query.RoomID))
	return nil
}

// handleRoomSignal covers the payload-less notifications (kick, user added)
// that just get relayed to the room.
func (d *Dispatcher) handleRoomSignal(data json.RawMessage, outEvent string) error {
	var query RoomQueryPayload
	if err := decodePayload(data, &query); err != nil {
		return err
	}
	if query.RoomID == "" {
		return fmt.Errorf("roomId is required: %w", ErrMalformedEvent)
	}
	d.hub.Broadcast(query.RoomID, outEvent, nil)
	return nil
}

func (d *Dispatcher) handleChat(client *Client, data json.RawMessage) error {
	var payload ChatPayload
	if err := decodePayload(data, &payload); err != nil {
		return err
	}
	if payload.RoomID == "" || payload.UserID == "" {
		return fmt.Errorf("roomId and userId are required: %w", ErrMalformedEvent)
	}
	blobs := d.uploads.TakeCompleted(client.id)
	if len(blobs) != len(payload.Files) {
		return fmt.Errorf("%d file descriptors but %d completed uploads: %w",
			len(payload.Files), len(blobs), ErrMalformedEvent)
	}
	d.runFlow(client, EventChatToServer, func(ctx context.Context) error {
		message, err := d.orchestrator.SendMessage(ctx, payload, blobs)
		if err != nil {
			return err
		}
		d.hub.Broadcast(payload.RoomID, EventChatToClient, message)
		return nil
	})
	return nil
}

func (d *Dispatcher) handleSetAvatar(client *Client, data json.RawMessage) error {
	var payload AvatarPayload
	if err := decodePayload(data, &payload); err != nil {
		return err
	}
	if payload.UserID == "" {
		return fmt.Errorf("userId is required: %w", ErrMalformedEvent)
	}
	blobs := d.uploads.TakeCompleted(client.id)
	if payload.File == nil {
		// nothing to replace; completed uploads for the batch are discarded
		return nil
	}
	if len(blobs) == 0 {
		return fmt.Errorf("no completed upload for avatar: %w", ErrMalformedEvent)
	}
	blob := blobs[0]
	d.runFlow(client, EventSetAvatar, func(ctx context.Context) error {
		_, err := d.orchestrator.ReplaceAvatar(ctx, payload.UserID, *payload.File, blob)
		return err
	})
	return nil
}

func (d *Dispatcher) handleCreateChat(client *Client, data json.RawMessage) error {
	var payload RoomCreatePayload
	if err := decodePayload(data, &payload); err != nil {
		return err
	}
	if payload.Name == "" || payload.UserID == "" {
		return fmt.Errorf("name and userId are required: %w", ErrMalformedEvent)
	}
	blobs := d.uploads.TakeCompleted(client.id)
	var blob []byte
	if payload.File != nil {
		if len(blobs) == 0 {
			return fmt.Errorf("no completed upload for room avatar: %w", ErrMalformedEvent)
		}
		blob = blobs[0]
	}
	d.runFlow(client, EventCreateChat, func(ctx context.Context) error {
		_, err := d.orchestrator.CreateRoom(ctx, payload, blob)
		return err
	})
	return nil
}

func (d *Dispatcher) handleDelete(client *Client, data json.RawMessage) error {
	var payload DeletePayload
	if err := decodePayload(data, &payload); err != nil {
		return err
	}
	if payload.ID == "" || payload.RoomID == "" {
		return fmt.Errorf("id and roomId are required: %w", ErrMalformedEvent)
	}
	d.runFlow(client, EventDeleteMsg, func(ctx context.Context) error {
		if _, err := d.orchestrator.DeleteMessage(ctx, payload.ID); err != nil {
			return err
		}
		// deliberately idempotent: the notification goes out even when the id
		// was already gone
		d.hub.Broadcast(payload.RoomID, EventChatToClientDelete, payload.ID)
		return nil
	})
	return nil
}

func (d *Dispatcher) handleUpdate(client *Client, data json.RawMessage) error {
	var payload MessageEdit
	if err := decodePayload(data, &payload); err != nil {
		return err
	}
	if payload.ID == "" || payload.Message.RoomID == "" {
		return fmt.Errorf("id and message.roomId are required: %w", ErrMalformedEvent)
	}
	d.runFlow(client, EventUpdateMsg, func(ctx context.Context) error {
		if err := d.orchestrator.UpdateMessage(ctx, payload); err != nil {
			return err
		}
		d.hub.Broadcast(payload.Message.RoomID, EventChatToClientUpdate, payload)
		return nil
	})
	return nil
}

func decodePayload(data json.RawMessage, out any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing payload: %w", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, ErrMalformedEvent)
	}
	return nil
}
