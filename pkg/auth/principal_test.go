package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalContext(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		p := &Principal{ID: "user-1", Email: "u1@example.com"}
		ctx := WithPrincipal(context.Background(), p)

		got, err := FromContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	})

	t.Run("empty context", func(t *testing.T) {
		_, err := FromContext(context.Background())
		assert.ErrorIs(t, err, ErrNoPrincipal)
	})

	t.Run("principal without an ID is rejected", func(t *testing.T) {
		ctx := WithPrincipal(context.Background(), &Principal{Email: "u1@example.com"})
		_, err := FromContext(ctx)
		assert.ErrorIs(t, err, ErrNoPrincipal)
	})

	t.Run("nil principal is rejected", func(t *testing.T) {
		ctx := WithPrincipal(context.Background(), nil)
		_, err := FromContext(ctx)
		assert.ErrorIs(t, err, ErrNoPrincipal)
	})
}
