// Package exchange implements the verification-code state machine. Codes
// move NoCode → Pending → Verified → Consumed, with Expired reachable from
// Pending or Verified; expiry is detected lazily at the point of use, never
// by a background sweep. Pending codes live only in memory, so a restart
// drops them; verified grants are persisted through the store.
package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/passgate/internal/common"
	"github.com/dmitrijs2005/passgate/internal/logging"
	"github.com/dmitrijs2005/passgate/internal/server/store"
)

const (
	// DefaultCodeTTL bounds how long an issued code (and the grant derived
	// from it) stays redeemable.
	DefaultCodeTTL = 300 * time.Second

	codeLength      = 6
	tokenByteLength = 16
)

type pendingCode struct {
	ownerID       string
	downloadToken string
	expiresAt     time.Time
}

// Service is safe for concurrent use. One mutex covers every transition, so
// issuance, verification and invalidation are linearizable: two concurrent
// Verify calls for the same code cannot both succeed.
type Service struct {
	mu      sync.Mutex
	pending map[string]pendingCode // keyed by code
	store   *store.Store
	codeTTL time.Duration
	logger  logging.Logger
	now     func() time.Time
}

func NewService(s *store.Store, logger logging.Logger, codeTTL time.Duration) *Service {
	if codeTTL <= 0 {
		codeTTL = DefaultCodeTTL
	}
	return &Service{
		pending: map[string]pendingCode{},
		store:   s,
		codeTTL: codeTTL,
		logger:  logger.With("module", "exchange"),
		now:     time.Now,
	}
}

// IssuePending creates a fresh verification code and pre-generates the
// download token it will resolve to. Issuing invalidates any prior pending
// code and any persisted grant for the owner: at most one live code exists
// per owner at any time.
func (s *Service) IssuePending(ctx context.Context, ownerID string) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Revoking the persisted grant first keeps disk authoritative: if the
	// write fails, the old code and grant both stay valid.
	if err := s.store.DeleteGrant(ctx, ownerID); err != nil {
		return "", time.Time{}, err
	}
	for code, pc := range s.pending {
		if pc.ownerID == ownerID {
			delete(s.pending, code)
		}
	}

	code, err := common.MakeRandCode(codeLength)
	if err != nil {
		return "", time.Time{}, common.ErrorInternal
	}
	token, err := common.MakeRandHexString(tokenByteLength)
	if err != nil {
		return "", time.Time{}, common.ErrorInternal
	}

	expiresAt := s.now().Add(s.codeTTL)
	s.pending[code] = pendingCode{
		ownerID:       ownerID,
		downloadToken: token,
		expiresAt:     expiresAt,
	}

	s.logger.Info(ctx, "code issued", "owner_id", ownerID)
	return code, expiresAt, nil
}

// Verify consumes a pending code and durably records the download grant in
// one persistence transaction. It fails with ErrorNotFound for unknown codes
// and for codes issued to a different owner (codes are not transferable even
// if guessed), and with ErrorExpired past the deadline.
func (s *Service) Verify(ctx context.Context, code, ownerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, ok := s.pending[code]
	if !ok {
		return "", common.ErrorNotFound
	}
	if pc.ownerID != ownerID {
		return "", common.ErrorNotFound
	}
	if s.now().After(pc.expiresAt) {
		delete(s.pending, code)
		return "", common.ErrorExpired
	}

	// Persist the grant before dropping the pending entry. If the write
	// fails the code stays pending and the caller may retry; there is no
	// window where the code is consumed but the token is lost.
	grant := store.Grant{Token: pc.downloadToken, ExpiresAt: pc.expiresAt}
	if err := s.store.PutGrant(ctx, ownerID, grant); err != nil {
		return "", err
	}
	delete(s.pending, code)

	s.logger.Info(ctx, "code verified", "owner_id", ownerID)
	return pc.downloadToken, nil
}

// Invalidate revokes all redemption material for the owner: pending codes,
// the persisted grant, and the linked-device marker. Used on device-change
// requests.
func (s *Service) Invalidate(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteGrant(ctx, ownerID); err != nil {
		return err
	}
	for code, pc := range s.pending {
		if pc.ownerID == ownerID {
			delete(s.pending, code)
		}
	}

	s.logger.Info(ctx, "redemption material invalidated", "owner_id", ownerID)
	return nil
}
