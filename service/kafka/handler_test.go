package kafka

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerRegistryRoutesByTopic(t *testing.T) {
	var gotKey, gotValue string
	RegisterHandler("topic-a", func(_ context.Context, key, value []byte) error {
		gotKey, gotValue = string(key), string(value)
		return nil
	})

	h, err := handlerFor("topic-a")
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), []byte("k1"), []byte("v1")))
	assert.Equal(t, "k1", gotKey)
	assert.Equal(t, "v1", gotValue)

	_, err = handlerFor("no-such-topic")
	require.Error(t, err)
}

func TestRegisterHandlerOverrides(t *testing.T) {
	RegisterHandler("topic-b", func(context.Context, []byte, []byte) error {
		return errors.New("stale handler")
	})
	RegisterHandler("topic-b", func(context.Context, []byte, []byte) error {
		return nil
	})

	h, err := handlerFor("topic-b")
	require.NoError(t, err)
	assert.NoError(t, h(context.Background(), nil, nil))
}
