package espresso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory(t *testing.T) {
	t.Run("register and make", func(t *testing.T) {
		f := NewFactory()
		require.NoError(t, f.Register("Observables::DensityProfile", newStubInstance))

		inst, err := f.Make("Observables::DensityProfile")
		require.NoError(t, err)
		assert.NotNil(t, inst)
	})

	t.Run("each make is a fresh instance", func(t *testing.T) {
		f := NewFactory()
		require.NoError(t, f.Register("stub", newStubInstance))

		a, err := f.Make("stub")
		require.NoError(t, err)
		b, err := f.Make("stub")
		require.NoError(t, err)
		assert.NotSame(t, a, b)
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		f := NewFactory()
		require.NoError(t, f.Register("stub", newStubInstance))

		err := f.Register("stub", newStubInstance)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("unknown name fails", func(t *testing.T) {
		f := NewFactory()
		inst, err := f.Make("missing")
		assert.Nil(t, inst)
		assert.ErrorIs(t, err, ErrUnknownObjectName)
	})

	t.Run("names are sorted", func(t *testing.T) {
		f := NewFactory()
		require.NoError(t, f.Register("z", newStubInstance))
		require.NoError(t, f.Register("a", newStubInstance))
		require.NoError(t, f.Register("m", newStubInstance))

		assert.Equal(t, []string{"a", "m", "z"}, f.Names())
	})
}
