package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emailInput struct {
	To      string `json:"to"      validate:"required,email"`
	Subject string `json:"subject"`
}

func TestRegistry_Define(t *testing.T) {
	t.Parallel()

	t.Run("registers and looks up handler", func(t *testing.T) {
		t.Parallel()

		reg := NewRegistry()
		err := Define(reg, "send-email", func(ctx context.Context, input emailInput) error {
			return nil
		})
		require.NoError(t, err)

		handler, ok := reg.Handler("send-email")
		assert.True(t, ok)
		assert.NotNil(t, handler)
		assert.Contains(t, reg.Names(), "send-email")
	})

	t.Run("duplicate name fails", func(t *testing.T) {
		t.Parallel()

		reg := NewRegistry()
		noop := func(ctx context.Context, input emailInput) error { return nil }

		require.NoError(t, Define(reg, "send-email", noop))
		err := Define(reg, "send-email", noop)

		assert.ErrorIs(t, err, ErrDuplicateTask)
	})

	t.Run("empty name fails", func(t *testing.T) {
		t.Parallel()

		reg := NewRegistry()
		err := Define(reg, "", func(ctx context.Context, input emailInput) error { return nil })
		assert.Error(t, err)
	})

	t.Run("registration after freeze fails", func(t *testing.T) {
		t.Parallel()

		reg := NewRegistry()
		reg.Freeze()

		err := Define(reg, "late", func(ctx context.Context, input emailInput) error { return nil })
		assert.ErrorIs(t, err, ErrRegistryFrozen)
	})
}

func TestRegistry_ValidatePayload(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, Define(reg, "send-email", func(ctx context.Context, input emailInput) error {
		return nil
	}))

	t.Run("valid payload", func(t *testing.T) {
		t.Parallel()
		err := reg.ValidatePayload("send-email", []byte(`{"to":"a@b.com","subject":"hi"}`))
		assert.NoError(t, err)
	})

	t.Run("schema violation", func(t *testing.T) {
		t.Parallel()
		err := reg.ValidatePayload("send-email", []byte(`{"to":"not-an-email"}`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()
		err := reg.ValidatePayload("send-email", []byte(`{`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("unknown task", func(t *testing.T) {
		t.Parallel()
		err := reg.ValidatePayload("no-such-task", []byte(`{}`))
		assert.ErrorIs(t, err, ErrUnknownTask)
	})
}

func TestRegistry_HandlerDecodesPayload(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	var got emailInput
	require.NoError(t, Define(reg, "send-email", func(ctx context.Context, input emailInput) error {
		got = input
		return nil
	}))

	handler, ok := reg.Handler("send-email")
	require.True(t, ok)

	err := handler(context.Background(), []byte(`{"to":"a@b.com","subject":"welcome"}`))
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", got.To)
	assert.Equal(t, "welcome", got.Subject)
}

func TestRegistry_HandlerRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	invoked := false
	require.NoError(t, Define(reg, "send-email", func(ctx context.Context, input emailInput) error {
		invoked = true
		return nil
	}))

	handler, _ := reg.Handler("send-email")
	err := handler(context.Background(), []byte(`{"to":""}`))

	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.False(t, invoked, "handler must not run on invalid payload")
}
