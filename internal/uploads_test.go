package internal

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReassemblyPreservesOrder(t *testing.T) {
	store := NewUploadStore()

	require.NoError(t, store.Append("conn-a", 0, []byte{0x01, 0x02}, false))
	require.NoError(t, store.Append("conn-a", 0, nil, false)) // zero-length chunks are legal
	require.NoError(t, store.Append("conn-a", 0, []byte{0x03}, true))

	blobs := store.TakeCompleted("conn-a")
	require.Len(t, blobs, 1)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, blobs[0])
}

func TestSessionsAreIsolated(t *testing.T) {
	store := NewUploadStore()

	// interleave two connections and two slots on one connection
	require.NoError(t, store.Append("conn-a", 0, []byte("aaa"), false))
	require.NoError(t, store.Append("conn-b", 0, []byte("bbb"), false))
	require.NoError(t, store.Append("conn-a", 1, []byte("ccc"), false))
	require.NoError(t, store.Append("conn-a", 0, []byte("AAA"), true))
	require.NoError(t, store.Append("conn-b", 0, []byte("BBB"), true))
	require.NoError(t, store.Append("conn-a", 1, []byte("CCC"), true))

	blobsA := store.TakeCompleted("conn-a")
	require.Len(t, blobsA, 2)
	require.Equal(t, []byte("aaaAAA"), blobsA[0])
	require.Equal(t, []byte("cccCCC"), blobsA[1])

	blobsB := store.TakeCompleted("conn-b")
	require.Len(t, blobsB, 1)
	require.Equal(t, []byte("bbbBBB"), blobsB[0])
}

func TestConcurrentUploadsDoNotMix(t *testing.T) {
	store := NewUploadStore()
	const conns = 8
	const chunks = 50

	var wg sync.WaitGroup
	for c := 0; c < conns; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", c)
			for i := 0; i < chunks; i++ {
				_ = store.Append(connID, 0, []byte{byte(c)}, i == chunks-1)
			}
		}(c)
	}
	wg.Wait()

	for c := 0; c < conns; c++ {
		connID := fmt.Sprintf("conn-%d", c)
		blobs := store.TakeCompleted(connID)
		require.Len(t, blobs, 1, connID)
		require.Equal(t, bytes.Repeat([]byte{byte(c)}, chunks), blobs[0], connID)
	}
}

func TestAppendAfterSealRejected(t *testing.T) {
	store := NewUploadStore()
	require.NoError(t, store.Append("conn-a", 0, []byte{0x01}, true))

	err := store.Append("conn-a", 0, []byte{0x02}, false)
	require.ErrorIs(t, err, ErrStaleUpload)

	// the stale chunk must not have corrupted the sealed blob
	blobs := store.TakeCompleted("conn-a")
	require.Len(t, blobs, 1)
	require.Equal(t, []byte{0x01}, blobs[0])
}

func TestTakeClearsBatchAndReleasesSlots(t *testing.T) {
	store := NewUploadStore()
	require.NoError(t, store.Append("conn-a", 0, []byte("one"), true))

	require.Len(t, store.TakeCompleted("conn-a"), 1)
	require.Empty(t, store.TakeCompleted("conn-a"))

	// slot 0 is reusable for the next batch
	require.NoError(t, store.Append("conn-a", 0, []byte("two"), true))
	blobs := store.TakeCompleted("conn-a")
	require.Len(t, blobs, 1)
	require.Equal(t, []byte("two"), blobs[0])
}

func TestBatchOrderFollowsSealOrder(t *testing.T) {
	store := NewUploadStore()
	require.NoError(t, store.Append("conn-a", 0, []byte("first-started"), false))
	require.NoError(t, store.Append("conn-a", 1, []byte("second"), true))
	require.NoError(t, store.Append("conn-a", 0, []byte("-but-sealed-last"), true))

	blobs := store.TakeCompleted("conn-a")
	require.Len(t, blobs, 2)
	require.Equal(t, []byte("second"), blobs[0])
	require.Equal(t, []byte("first-started-but-sealed-last"), blobs[1])
}

func TestDropConnectionDiscardsEverything(t *testing.T) {
	store := NewUploadStore()
	require.NoError(t, store.Append("conn-a", 0, []byte("sealed"), true))
	require.NoError(t, store.Append("conn-a", 1, []byte("partial"), false))

	store.DropConnection("conn-a")
	require.Empty(t, store.TakeCompleted("conn-a"))

	// a fresh session on the same keys starts clean
	require.NoError(t, store.Append("conn-a", 1, []byte("new"), true))
	blobs := store.TakeCompleted("conn-a")
	require.Len(t, blobs, 1)
	require.Equal(t, []byte("new"), blobs[0])
}
