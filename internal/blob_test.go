package internal

import (
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"
)

func TestStorageErrorClassifiesAPIErrors(t *testing.T) {
	rejected := storageError("put", "u1/image/png/a.png", &smithy.GenericAPIError{Code: "NoSuchBucket"})
	require.ErrorIs(t, rejected, ErrStorageRejected)

	unavailable := storageError("put", "u1/image/png/a.png", errors.New("dial tcp: connection refused"))
	require.ErrorIs(t, unavailable, ErrStorageUnavailable)
}
