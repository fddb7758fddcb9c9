package internal

import (
	"fmt"
	"sync"
)

// sessionKey identifies one in-flight chunked transfer. The slot index is
// assigned by the client per upload batch, so the association between chunks
// and the message that references them is explicit rather than positional.
type sessionKey struct {
	conn string
	slot int
}

type uploadSession struct {
	buf    []byte
	sealed bool
}

// UploadStore accumulates chunked uploads per connection. Sessions for
// distinct keys never share a buffer, so interleaved chunks from different
// connections cannot corrupt each other.
type UploadStore struct {
	mu        sync.Mutex
	sessions  map[sessionKey]*uploadSession
	completed map[string][][]byte
}

func NewUploadStore() *UploadStore {
	return &UploadStore{
		sessions:  make(map[sessionKey]*uploadSession),
		completed: make(map[string][][]byte),
	}
}

// Append adds bytes to the session (connID, slot), creating it on first use.
// Bytes accumulate in arrival order. The final chunk seals the session and
// moves its buffer onto the connection's ordered completed batch; appending
// to a sealed session is a stale chunk and is rejected.
func (s *UploadStore) Append(connID string, slot int, data []byte, final bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{conn: connID, slot: slot}
	session, ok := s.sessions[key]
	if !ok {
		session = &uploadSession{}
		s.sessions[key] = session
	}
	if session.sealed {
		return fmt.Errorf("upload slot %d on connection %s: %w", slot, connID, ErrStaleUpload)
	}
	session.buf = append(session.buf, data...)
	if final {
		session.sealed = true
		s.completed[connID] = append(s.completed[connID], session.buf)
	}
	return nil
}

// TakeCompleted atomically returns and clears the ordered list of completed
// blobs for the connection. Sealed sessions are released with the batch so
// slot indexes can be reused by the next one.
func (s *UploadStore) TakeCompleted(connID string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	blobs := s.completed[connID]
	delete(s.completed, connID)
	for key, session := range s.sessions {
		if key.conn == connID && session.sealed {
			delete(s.sessions, key)
		}
	}
	return blobs
}

// DropConnection discards every session and completed blob belonging to a
// disconnected client.
func (s *UploadStore) DropConnection(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.completed, connID)
	for key := range s.sessions {
		if key.conn == connID {
			delete(s.sessions, key)
		}
	}
}
