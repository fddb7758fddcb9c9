package internal

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UserService is the facade over the user domain.
type UserService interface {
	ByID(ctx context.Context, id string) (*User, error)
	SetAvatar(ctx context.Context, id, avatarURL string) error
}

// RoomService is the facade over the room domain.
type RoomService interface {
	Create(ctx context.Context, req RoomCreate) (*Room, error)
}

// MessageService is the facade over the message domain, which also owns File
// records.
type MessageService interface {
	Create(ctx context.Context, req MessageCreate) (*Message, error)
	FileByPath(ctx context.Context, path string) (*File, error)
	DeleteFileByID(ctx context.Context, id string) error
	DeleteByID(ctx context.Context, id string) (*Message, error)
	Edit(ctx context.Context, req MessageEdit) error
	RecordAvatar(ctx context.Context, rec AvatarRecord) (*File, error)
}

// Orchestrator sequences the multi-step flows: blob uploads, downstream
// writes, and the data handed back for broadcast. Any fallible step failing
// aborts the remaining steps; only old-blob cleanup is best-effort.
type Orchestrator struct {
	blobs    BlobStore
	users    UserService
	rooms    RoomService
	messages MessageService
	metrics  *Metrics
	log      *zap.Logger
}

func NewOrchestrator(blobs BlobStore, users UserService, rooms RoomService, messages MessageService, metrics *Metrics, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		blobs:    blobs,
		users:    users,
		rooms:    rooms,
		messages: messages,
		metrics:  metrics,
		log:      log,
	}
}

// SendMessage uploads the message's attachments, persists the message, and
// returns it for broadcast. File order follows the descriptor order even
// though uploads run concurrently; blobs[i] holds the bytes for Files[i].
func (o *Orchestrator) SendMessage(ctx context.Context, payload ChatPayload, blobs [][]byte) (*Message, error) {
	files := make([]File, len(payload.Files))
	if len(payload.Files) > 0 {
		group, groupCtx := errgroup.WithContext(ctx)
		for i, meta := range payload.Files {
			i, meta := i, meta
			group.Go(func() error {
				location, err := o.blobs.Upload(groupCtx, blobs[i], payload.UserID, meta.Mimetype, meta.Name)
				if err != nil {
					return fmt.Errorf("upload %s: %w", meta.Name, err)
				}
				files[i] = File{Path: location, Name: meta.Name, Mimetype: meta.Mimetype}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		o.metrics.AddUploads(len(files))
	}
	message, err := o.messages.Create(ctx, MessageCreate{
		Text:     payload.Text,
		Username: payload.Username,
		RoomID:   payload.RoomID,
		UserID:   payload.UserID,
		Files:    files,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return message, nil
}

// ReplaceAvatar uploads the new avatar before anything existing is removed,
// so a failed upload can never leave the user without one. A failure after
// the upload orphans the new blob, which is cleanup debt, not a dangling
// reference. Returns the new avatar location.
func (o *Orchestrator) ReplaceAvatar(ctx context.Context, userID string, meta FileMeta, blob []byte) (string, error) {
	user, err := o.users.ByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("fetch user %s: %w", userID, err)
	}
	var oldFile *File
	if user.AvatarURL != nil && *user.AvatarURL != "" {
		oldFile, err = o.messages.FileByPath(ctx, *user.AvatarURL)
		if err != nil {
			return "", fmt.Errorf("fetch old avatar record: %w", err)
		}
	}
	location, err := o.blobs.Upload(ctx, blob, userID, meta.Mimetype, meta.Name)
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	o.metrics.AddUploads(1)
	if _, err := o.messages.RecordAvatar(ctx, AvatarRecord{Mimetype: meta.Mimetype, Path: location, Name: meta.Name}); err != nil {
		return "", fmt.Errorf("record avatar file: %w", err)
	}
	if oldFile != nil {
		// the new blob is confirmed present, so removing the old one is safe;
		// failures here are logged and do not abort the flow
		if err := o.blobs.Delete(ctx, oldFile.Path); err != nil {
			o.log.Warn("delete old avatar blob", zap.String("path", oldFile.Path), zap.Error(err))
		}
		if err := o.messages.DeleteFileByID(ctx, oldFile.ID); err != nil {
			o.log.Warn("delete old avatar record", zap.String("id", oldFile.ID), zap.Error(err))
		}
	}
	if err := o.users.SetAvatar(ctx, userID, location); err != nil {
		return "", fmt.Errorf("set avatar pointer: %w", err)
	}
	return location, nil
}

// CreateRoom creates the room downstream, uploading and registering its
// avatar first when one was supplied. blob is ignored unless payload.File is
// set.
func (o *Orchestrator) CreateRoom(ctx context.Context, payload RoomCreatePayload, blob []byte) (*Room, error) {
	req := RoomCreate{Name: payload.Name, OwnerID: payload.UserID, IsPrivate: payload.IsPrivate}
	if payload.File != nil {
		location, err := o.blobs.Upload(ctx, blob, payload.UserID, payload.File.Mimetype, payload.File.Name)
		if err != nil {
			return nil, fmt.Errorf("upload room avatar: %w", err)
		}
		o.metrics.AddUploads(1)
		if _, err := o.messages.RecordAvatar(ctx, AvatarRecord{Mimetype: payload.File.Mimetype, Path: location, Name: payload.File.Name}); err != nil {
			return nil, fmt.Errorf("record room avatar: %w", err)
		}
		req.AvatarURL = location
	}
	room, err := o.rooms.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

// DeleteMessage removes the message downstream and cleans up its blobs.
// Cleanup is best-effort. A missing message deletes nothing and returns nil,
// which keeps delete idempotent from the client's perspective.
func (o *Orchestrator) DeleteMessage(ctx context.Context, id string) (*Message, error) {
	message, err := o.messages.DeleteByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete message %s: %w", id, err)
	}
	if message == nil {
		return nil, nil
	}
	for _, file := range message.Files {
		if err := o.blobs.Delete(ctx, file.Path); err != nil {
			o.log.Warn("delete attachment blob", zap.String("path", file.Path), zap.Error(err))
		}
	}
	return message, nil
}

// UpdateMessage relays the edit and reports whether the service accepted it.
// The broadcast happens only after the service confirms.
func (o *Orchestrator) UpdateMessage(ctx context.Context, edit MessageEdit) error {
	if err := o.messages.Edit(ctx, edit); err != nil {
		return fmt.Errorf("edit message %s: %w", edit.ID, err)
	}
	return nil
}
