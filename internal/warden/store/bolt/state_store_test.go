package bolt_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
	boltstore "github.com/BrandonDHaskell/Portunus/warden/internal/warden/store/bolt"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

func TestStateStore_EmptyThenPut(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "warden.bolt")

	bs, err := boltstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	doc, err := bs.GetDoc(ctx)
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, bs.PutDoc(ctx, []byte(`{"x":1}`)))
	doc, err = bs.GetDoc(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(doc))
}

func TestStateStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warden.bolt")

	bs, err := boltstore.Open(path)
	require.NoError(t, err)

	st := store.NewState(bs, zerolog.Nop())
	_, err = st.Save(ctx, func(s types.AccessState) types.AccessState {
		s.ReserveInput.InputState = types.InputOn
		s.Button.ExitButtonPressed = true
		return s
	})
	require.NoError(t, err)
	require.NoError(t, bs.Close())

	reopened, err := boltstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got := store.NewState(reopened, zerolog.Nop()).Load(ctx)
	assert.Equal(t, types.InputOn, got.ReserveInput.InputState)
	assert.True(t, got.Button.ExitButtonPressed)
	assert.Equal(t, types.DoorClose, got.Door.DoorState)
}

func TestStateStore_ClosedReturnsErrClosed(t *testing.T) {
	bs, err := boltstore.Open(filepath.Join(t.TempDir(), "warden.bolt"))
	require.NoError(t, err)
	require.NoError(t, bs.Close())

	_, err = bs.GetDoc(context.Background())
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.ErrorIs(t, bs.PutDoc(context.Background(), []byte(`{}`)), store.ErrClosed)
}
