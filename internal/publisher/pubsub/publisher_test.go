package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil).Publish(context.Background(), map[string]string{"a": "b"})
	require.ErrorContains(t, err, "not configured")
}
