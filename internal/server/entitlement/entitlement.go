// Package entitlement evaluates which configured role mappings an external
// account satisfies through item ownership. Evaluation is read-only: actual
// role grants are applied by the chat-platform collaborator.
package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/passgate/internal/logging"
)

// Mapping is one row of the read-only role table: owning the item unlocks
// the role.
type Mapping struct {
	ItemID      int64  `json:"gamepass_id"`
	RoleID      int64  `json:"role_id"`
	Description string `json:"description"`
}

type mappingFile struct {
	GamepassRoles []Mapping `json:"gamepass_roles"`
}

// LoadMappings reads the role table from a JSON config file. A missing file
// yields an empty table, not an error, so the service can start before the
// table is provisioned.
func LoadMappings(path string) ([]Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Mapping{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var f mappingFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if f.GamepassRoles == nil {
		f.GamepassRoles = []Mapping{}
	}
	return f.GamepassRoles, nil
}

// ItemChecker reports item ownership. A false answer may mean "does not own"
// or "could not find out"; the evaluator treats both as not entitled.
type ItemChecker interface {
	HasItem(ctx context.Context, externalID, itemID int64) bool
}

type Evaluator struct {
	checker ItemChecker
	logger  logging.Logger
}

func NewEvaluator(checker ItemChecker, logger logging.Logger) *Evaluator {
	return &Evaluator{
		checker: checker,
		logger:  logger.With("module", "entitlement"),
	}
}

// Evaluate returns the subset of mappings whose item the external account
// owns, skipping roles the caller already holds (alreadyGranted may be nil).
func (e *Evaluator) Evaluate(ctx context.Context, externalID int64, mappings []Mapping, alreadyGranted func(roleID int64) bool) []Mapping {
	satisfied := []Mapping{}
	for _, m := range mappings {
		if alreadyGranted != nil && alreadyGranted(m.RoleID) {
			continue
		}
		if e.checker.HasItem(ctx, externalID, m.ItemID) {
			satisfied = append(satisfied, m)
		}
	}
	return satisfied
}
