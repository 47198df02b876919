// Package accounts glues the link store, the lookup resolver and the
// entitlement evaluator into the operations the chat-platform transport
// invokes: link, unlink, administrative overrides and role claims. The
// transport itself (command parsing, replies, applying role grants) stays
// outside this service.
package accounts

import (
	"context"

	"github.com/dmitrijs2005/passgate/internal/common"
	"github.com/dmitrijs2005/passgate/internal/logging"
	"github.com/dmitrijs2005/passgate/internal/server/entitlement"
	"github.com/dmitrijs2005/passgate/internal/server/store"
)

// Lookup is the slice of the resolver this service needs.
type Lookup interface {
	UserID(ctx context.Context, username string) (int64, bool)
	HasItem(ctx context.Context, externalID, itemID int64) bool
}

type Service struct {
	store     *store.Store
	lookup    Lookup
	evaluator *entitlement.Evaluator
	mappings  []entitlement.Mapping
	logger    logging.Logger
}

func NewService(st *store.Store, lookup Lookup, mappings []entitlement.Mapping, logger logging.Logger) *Service {
	return &Service{
		store:     st,
		lookup:    lookup,
		evaluator: entitlement.NewEvaluator(lookup, logger),
		mappings:  mappings,
		logger:    logger.With("module", "accounts"),
	}
}

// Link resolves the external username and records the bijective mapping.
// An unresolvable username reports ErrorNotFound; callers cannot tell a
// nonexistent user from a failed lookup.
func (s *Service) Link(ctx context.Context, localID, username string) (int64, error) {
	externalID, ok := s.lookup.UserID(ctx, username)
	if !ok {
		return 0, common.ErrorNotFound
	}
	if err := s.store.Link(ctx, localID, externalID); err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "account linked", "local_id", localID, "external_id", externalID)
	return externalID, nil
}

// Unlink removes the caller's own link. Returns the external id that was
// linked so the transport can revoke item roles.
func (s *Service) Unlink(ctx context.Context, localID string) (int64, error) {
	externalID, err := s.store.Unlink(ctx, localID)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "account unlinked", "local_id", localID)
	return externalID, nil
}

// ForceLink is the administrative override: it resolves the username, clears
// any conflicting mapping on either side and pins the account against
// self-service unlink.
func (s *Service) ForceLink(ctx context.Context, localID, username string) (int64, error) {
	externalID, ok := s.lookup.UserID(ctx, username)
	if !ok {
		return 0, common.ErrorNotFound
	}
	if err := s.store.ForceLink(ctx, localID, externalID); err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "account force-linked", "local_id", localID, "external_id", externalID)
	return externalID, nil
}

// AdminUnlink removes any link regardless of the force flag.
func (s *Service) AdminUnlink(ctx context.Context, localID string) error {
	if err := s.store.AdminUnlink(ctx, localID); err != nil {
		return err
	}
	s.logger.Info(ctx, "account unlinked by admin", "local_id", localID)
	return nil
}

// Claim evaluates which configured roles the caller's linked external
// account newly satisfies. alreadyGranted (optional) filters roles the
// transport reports the caller as holding.
func (s *Service) Claim(ctx context.Context, localID string, alreadyGranted func(roleID int64) bool) ([]entitlement.Mapping, error) {
	externalID, err := s.store.Resolve(localID)
	if err != nil {
		return nil, err
	}
	return s.evaluator.Evaluate(ctx, externalID, s.mappings, alreadyGranted), nil
}

// Links returns a snapshot of all current links for administrative listing.
func (s *Service) Links() map[string]int64 {
	return s.store.Links()
}
