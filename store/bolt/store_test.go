package bolt_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/store"
	"github.com/xraph/payledger/store/bolt"
	"github.com/xraph/payledger/store/storetest"
)

func openStore(t *testing.T) *bolt.Store {
	t.Helper()
	s, err := bolt.Open(filepath.Join(t.TempDir(), "payledger.db"))
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openStore(t) })
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := bolt.Open(path)
	require.NoError(t, err)
	_, err = s.GetRecord(ctx, "k")
	require.ErrorIs(t, err, payledger.ErrNotFound)
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Ping(ctx), payledger.ErrStoreClosed)

	s, err = bolt.Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))
	require.Equal(t, path, s.Path())
}
