package accounts

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/passgate/internal/common"
	"github.com/dmitrijs2005/passgate/internal/logging"
	"github.com/dmitrijs2005/passgate/internal/server/entitlement"
	"github.com/dmitrijs2005/passgate/internal/server/store"
)

type fakeLookup struct {
	users map[string]int64
	owned map[int64]map[int64]bool // externalID → itemID → owned
}

func (f *fakeLookup) UserID(_ context.Context, username string) (int64, bool) {
	id, ok := f.users[username]
	return id, ok
}

func (f *fakeLookup) HasItem(_ context.Context, externalID, itemID int64) bool {
	return f.owned[externalID][itemID]
}

func newTestService(t *testing.T, lookup Lookup, mappings []entitlement.Mapping) *Service {
	t.Helper()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	st, err := store.Open(filepath.Join(t.TempDir(), "linked_accounts.json"), logger)
	require.NoError(t, err)
	return NewService(st, lookup, mappings, logger)
}

func TestLink(t *testing.T) {
	ctx := context.Background()
	lookup := &fakeLookup{users: map[string]int64{"builderman": 999}}
	s := newTestService(t, lookup, nil)

	externalID, err := s.Link(ctx, "42", "builderman")
	require.NoError(t, err)
	assert.Equal(t, int64(999), externalID)

	// Unknown username reports not-found.
	_, err = s.Link(ctx, "43", "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	// Second local account against the same external account conflicts.
	_, err = s.Link(ctx, "43", "builderman")
	assert.ErrorIs(t, err, common.ErrorExternalAlreadyLinked)
}

func TestUnlink(t *testing.T) {
	ctx := context.Background()
	lookup := &fakeLookup{users: map[string]int64{"builderman": 999}}
	s := newTestService(t, lookup, nil)

	_, err := s.Link(ctx, "42", "builderman")
	require.NoError(t, err)

	externalID, err := s.Unlink(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(999), externalID)

	_, err = s.Unlink(ctx, "42")
	assert.ErrorIs(t, err, common.ErrorNotLinked)
}

func TestForceLinkAndAdminUnlink(t *testing.T) {
	ctx := context.Background()
	lookup := &fakeLookup{users: map[string]int64{"builderman": 999}}
	s := newTestService(t, lookup, nil)

	_, err := s.ForceLink(ctx, "42", "builderman")
	require.NoError(t, err)

	_, err = s.Unlink(ctx, "42")
	assert.ErrorIs(t, err, common.ErrorForceLinked)

	require.NoError(t, s.AdminUnlink(ctx, "42"))
	_, err = s.Unlink(ctx, "42")
	assert.ErrorIs(t, err, common.ErrorNotLinked)
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	mappings := []entitlement.Mapping{
		{ItemID: 10, RoleID: 100, Description: "Supporter"},
		{ItemID: 20, RoleID: 200, Description: "VIP"},
	}
	lookup := &fakeLookup{
		users: map[string]int64{"builderman": 999},
		owned: map[int64]map[int64]bool{999: {10: true}},
	}
	s := newTestService(t, lookup, mappings)

	// Claiming before linking fails.
	_, err := s.Claim(ctx, "42", nil)
	assert.ErrorIs(t, err, common.ErrorNotLinked)

	_, err = s.Link(ctx, "42", "builderman")
	require.NoError(t, err)

	got, err := s.Claim(ctx, "42", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Supporter", got[0].Description)

	// Already-held roles are filtered out.
	got, err = s.Claim(ctx, "42", func(roleID int64) bool { return roleID == 100 })
	require.NoError(t, err)
	assert.Empty(t, got)
}
