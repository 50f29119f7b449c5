package contracts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type widget struct {
	BaseInstance
	Label string
}

func TestOwners(t *testing.T) {
	t.Run("TypeRef is a type-level owner", func(t *testing.T) {
		var owner Owner = TypeRef("Widget")

		assert.Equal(t, "Widget", owner.OwnerType())
		_, isInstance := owner.(Instance)
		assert.False(t, isInstance)
	})

	t.Run("NewBaseInstance assigns a unique id", func(t *testing.T) {
		a := NewBaseInstance("Widget")
		b := NewBaseInstance("Widget")

		assert.NotEmpty(t, a.InstanceID())
		assert.NotEqual(t, a.InstanceID(), b.InstanceID())
		assert.Equal(t, "Widget", a.OwnerType())
	})

	t.Run("embedding BaseInstance makes an Instance", func(t *testing.T) {
		w := &widget{BaseInstance: NewBaseInstance("Widget"), Label: "ok"}

		var owner Owner = w
		inst, ok := owner.(Instance)
		assert.True(t, ok)
		assert.Equal(t, w.ID, inst.InstanceID())
		assert.Equal(t, TypeRef("Widget"), TypeOf(w))
	})
}

func TestConfigError(t *testing.T) {
	t.Run("formats owner and operation", func(t *testing.T) {
		err := &ConfigError{Op: "register", Owner: "Widget", Operation: "render", Err: ErrNilInterceptor}
		assert.Equal(t, "register Widget.render: interceptor is nil", err.Error())
	})

	t.Run("formats without owner", func(t *testing.T) {
		err := &ConfigError{Op: "clear", Operation: "render", Err: ErrAmbiguousClear}
		assert.Equal(t, "clear .render: operation given without owner", err.Error())
	})

	t.Run("unwraps to the sentinel", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", &ConfigError{Op: "run", Err: ErrNilImplementation})

		assert.True(t, errors.Is(err, ErrNilImplementation))
		assert.True(t, IsConfigError(err))
		assert.False(t, IsConfigError(errors.New("other")))
	})
}
