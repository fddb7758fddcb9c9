package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	rpcAttempts  = 3
	rpcBaseDelay = 100 * time.Millisecond
)

// rpcReply is the envelope downstream services answer with: either data or a
// rejection, never both.
type rpcReply struct {
	Data  json.RawMessage `json:"data"`
	Error *rpcError       `json:"error"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rpcClient is a request/reply facade over one downstream service. Subjects
// are "<service>.<pattern>", e.g. "user.get.user.byId".
type rpcClient struct {
	nc      *nats.Conn
	service string
	timeout time.Duration
	log     *zap.Logger
}

func newRPCClient(nc *nats.Conn, service string, timeout time.Duration, log *zap.Logger) *rpcClient {
	return &rpcClient{nc: nc, service: service, timeout: timeout, log: log}
}

// call sends req and decodes the reply into out, which may be nil for plain
// acks. Failures that happen before the request reaches a service are retried
// with doubling backoff; rejections from the service never are.
func (c *rpcClient) call(ctx context.Context, pattern string, req, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", pattern, err)
	}
	subject := c.service + "." + pattern

	var msg *nats.Msg
	delay := rpcBaseDelay
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		msg, err = c.nc.RequestWithContext(callCtx, subject, payload)
		cancel()
		if err == nil {
			break
		}
		if transientRPCError(err) && attempt < rpcAttempts {
			c.log.Warn("rpc request failed, retrying",
				zap.String("subject", subject), zap.Int("attempt", attempt), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", subject, err)
		}
		return fmt.Errorf("%s: %v: %w", subject, err, ErrTransportUnavailable)
	}
	return decodeReply(msg.Data, out)
}

// transientRPCError reports whether the failure happened before the request
// reached the service, which makes a retry safe. A timed-out request may have
// executed, so timeouts are not retried.
func transientRPCError(err error) bool {
	return errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrConnectionClosed)
}

// decodeReply unmarshals a service reply envelope, surfacing rejections as
// ServiceError. A null data field leaves out untouched.
func decodeReply(data []byte, out any) error {
	var reply rpcReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if reply.Error != nil {
		return &ServiceError{Code: reply.Error.Code, Message: reply.Error.Message}
	}
	if out == nil || len(reply.Data) == 0 || string(reply.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(reply.Data, out); err != nil {
		return fmt.Errorf("decode reply data: %w", err)
	}
	return nil
}

// UserClient talks to the user service.
type UserClient struct {
	rpc *rpcClient
}

func NewUserClient(nc *nats.Conn, timeout time.Duration, log *zap.Logger) *UserClient {
	return &UserClient{rpc: newRPCClient(nc, "user", timeout, log)}
}

func (c *UserClient) ByID(ctx context.Context, id string) (*User, error) {
	var user User
	if err := c.rpc.call(ctx, "get.user.byId", id, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *UserClient) SetAvatar(ctx context.Context, id, avatarURL string) error {
	req := struct {
		ID        string `json:"id"`
		AvatarURL string `json:"avatar_url"`
	}{ID: id, AvatarURL: avatarURL}
	return c.rpc.call(ctx, "get.users.setAvatarById", req, nil)
}

// RoomClient talks to the room service.
type RoomClient struct {
	rpc *rpcClient
}

func NewRoomClient(nc *nats.Conn, timeout time.Duration, log *zap.Logger) *RoomClient {
	return &RoomClient{rpc: newRPCClient(nc, "room", timeout, log)}
}

func (c *RoomClient) Create(ctx context.Context, req RoomCreate) (*Room, error) {
	var room Room
	if err := c.rpc.call(ctx, "post.create", req, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// MessageClient talks to the message service, which also owns File records.
type MessageClient struct {
	rpc *rpcClient
}

func NewMessageClient(nc *nats.Conn, timeout time.Duration, log *zap.Logger) *MessageClient {
	return &MessageClient{rpc: newRPCClient(nc, "message", timeout, log)}
}

func (c *MessageClient) Create(ctx context.Context, req MessageCreate) (*Message, error) {
	var message Message
	if err := c.rpc.call(ctx, "post.create", req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (c *MessageClient) FileByPath(ctx context.Context, path string) (*File, error) {
	var file File
	if err := c.rpc.call(ctx, "get.fileByPath", path, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

func (c *MessageClient) DeleteFileByID(ctx context.Context, id string) error {
	return c.rpc.call(ctx, "delete.fileById", id, nil)
}

// DeleteByID returns the deleted message, or nil when no message with that id
// existed.
func (c *MessageClient) DeleteByID(ctx context.Context, id string) (*Message, error) {
	var message *Message
	if err := c.rpc.call(ctx, "delete.byId", id, &message); err != nil {
		return nil, err
	}
	return message, nil
}

func (c *MessageClient) Edit(ctx context.Context, req MessageEdit) error {
	return c.rpc.call(ctx, "put.edit", req, nil)
}

func (c *MessageClient) RecordAvatar(ctx context.Context, rec AvatarRecord) (*File, error) {
	var file File
	if err := c.rpc.call(ctx, "post.uploadAvatar", rec, &file); err != nil {
		return nil, err
	}
	return &file, nil
}
