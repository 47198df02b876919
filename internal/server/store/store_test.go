package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/passgate/internal/common"
	"github.com/dmitrijs2005/passgate/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return newTestStoreAt(t, filepath.Join(t.TempDir(), "linked_accounts.json"))
}

func newTestStoreAt(t *testing.T, path string) *Store {
	t.Helper()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	s, err := Open(path, logger)
	require.NoError(t, err)
	return s
}

func TestLinkBijection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Link(ctx, "42", 999))

	// Same local account, different external account.
	err := s.Link(ctx, "42", 1000)
	assert.ErrorIs(t, err, common.ErrorAlreadyLinked)

	// Different local account, same external account.
	err = s.Link(ctx, "43", 999)
	assert.ErrorIs(t, err, common.ErrorExternalAlreadyLinked)

	externalID, err := s.Resolve("42")
	require.NoError(t, err)
	assert.Equal(t, int64(999), externalID)

	localID, err := s.ResolveExternal(999)
	require.NoError(t, err)
	assert.Equal(t, "42", localID)
}

func TestUnlink(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Unlink(ctx, "42")
	assert.ErrorIs(t, err, common.ErrorNotLinked)

	require.NoError(t, s.Link(ctx, "42", 999))
	removed, err := s.Unlink(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(999), removed)

	// Both directions are gone, so the external id can be linked again.
	require.NoError(t, s.Link(ctx, "43", 999))
}

func TestForceLinkBlocksSelfUnlink(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.ForceLink(ctx, "42", 999))
	assert.True(t, s.IsForceLinked("42"))

	_, err := s.Unlink(ctx, "42")
	assert.ErrorIs(t, err, common.ErrorForceLinked)

	require.NoError(t, s.AdminUnlink(ctx, "42"))
	assert.False(t, s.IsForceLinked("42"))
	_, err = s.Resolve("42")
	assert.ErrorIs(t, err, common.ErrorNotLinked)
}

func TestForceLinkEvictsPriorMappings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Link(ctx, "42", 999))
	require.NoError(t, s.Link(ctx, "43", 1000))

	// Rebinds external 1000 to local 42; both prior mappings must go.
	require.NoError(t, s.ForceLink(ctx, "42", 1000))

	externalID, err := s.Resolve("42")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), externalID)

	_, err = s.Resolve("43")
	assert.ErrorIs(t, err, common.ErrorNotLinked)
	_, err = s.ResolveExternal(999)
	assert.ErrorIs(t, err, common.ErrorNotLinked)
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "linked_accounts.json")

	s := newTestStoreAt(t, path)
	require.NoError(t, s.Link(ctx, "42", 999))
	require.NoError(t, s.ForceLink(ctx, "44", 1001))
	require.NoError(t, s.PutGrant(ctx, "42", Grant{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}))

	reopened := newTestStoreAt(t, path)
	externalID, err := reopened.Resolve("42")
	require.NoError(t, err)
	assert.Equal(t, int64(999), externalID)
	assert.True(t, reopened.IsForceLinked("44"))

	owner, err := reopened.TakeGrant(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "42", owner)
}

func TestLegacyDocumentUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linked_accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"42": 999, "43": 1000}`), 0o600))

	s := newTestStoreAt(t, path)

	externalID, err := s.Resolve("42")
	require.NoError(t, err)
	assert.Equal(t, int64(999), externalID)

	localID, err := s.ResolveExternal(1000)
	require.NoError(t, err)
	assert.Equal(t, "43", localID)

	// Newer collections must exist and work after the upgrade.
	require.NoError(t, s.PutGrant(context.Background(), "42", Grant{Token: "t", ExpiresAt: time.Now().Add(time.Hour)}))
}

func TestTakeGrantSingleUse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.PutGrant(ctx, "42", Grant{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}))

	owner, err := s.TakeGrant(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "42", owner)
	assert.True(t, s.DeviceLinked("42"))

	_, err = s.TakeGrant(ctx, "tok")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestTakeGrantExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.PutGrant(ctx, "42", Grant{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}))

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err := s.TakeGrant(ctx, "tok")
	assert.ErrorIs(t, err, common.ErrorExpired)

	// The expired grant was deleted, not just rejected.
	s.now = time.Now
	_, err = s.TakeGrant(ctx, "tok")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDeleteGrant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Deleting an absent grant is a no-op.
	require.NoError(t, s.DeleteGrant(ctx, "42"))

	require.NoError(t, s.PutGrant(ctx, "42", Grant{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, s.DeleteGrant(ctx, "42"))

	_, err := s.TakeGrant(ctx, "tok")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPersistFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "linked_accounts.json")

	s := newTestStoreAt(t, path)
	require.NoError(t, s.Link(ctx, "42", 999))

	// Make the directory unwritable so the temp-file creation fails.
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	err := s.Link(ctx, "43", 1000)
	require.Error(t, err)

	// In-memory state must match disk: the failed link is absent.
	_, err = s.Resolve("43")
	assert.ErrorIs(t, err, common.ErrorNotLinked)
}
