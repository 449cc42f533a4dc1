package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBoltStore_SlotExpiry(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "slots.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.PutSlot("svc-a", []byte(`{"status":"active"}`), 100*time.Millisecond))
	require.NoError(t, store.PutSlot("svc-b", []byte(`{"status":"active"}`), time.Hour))

	payload, ok, err := store.GetSlot("svc-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"status":"active"}`, string(payload))

	time.Sleep(150 * time.Millisecond)

	_, ok, err = store.GetSlot("svc-a")
	require.NoError(t, err)
	require.False(t, ok)

	slots, err := store.LiveSlots()
	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.Contains(t, slots, "svc-b")
}

func TestBoltStore_ReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	policy, _ := policyFor(CategoryMetadata)
	key := entryKey(policy, "tool:alpha")
	require.NoError(t, store.put(CategoryMetadata, key, envelope{
		Identifier: "tool:alpha",
		Value:      []byte(`"spec"`),
		CreatedAt:  time.Now(),
		TTL:        time.Hour,
	}))
	require.NoError(t, store.Close())

	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	env, ok, err := reopened.get(CategoryMetadata, key, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tool:alpha", env.Identifier)
}

func TestBoltStore_ClosedOperationsFail(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, _, err = store.GetSlot("svc")
	require.ErrorIs(t, err, ErrStoreClosed)
	require.ErrorIs(t, store.PutSlot("svc", nil, time.Second), ErrStoreClosed)
}
