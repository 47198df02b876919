// Package store owns the durable state of the service: the bidirectional
// account link table, the force-linked set, the download grant table and the
// linked-device markers. Everything is persisted as one JSON document that is
// rewritten in full, via temp-file-and-rename, on every mutation. A failed
// write fails the operation and rolls the in-memory state back, so memory
// never diverges from disk.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/passgate/internal/common"
	"github.com/dmitrijs2005/passgate/internal/filex"
	"github.com/dmitrijs2005/passgate/internal/logging"
)

// Grant is the verified projection of a pending code: the bearer download
// token and its deadline. Grants survive process restarts.
type Grant struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type document struct {
	LocalToExternal map[string]int64  `json:"local_to_external"`
	ExternalToLocal map[string]string `json:"external_to_local"`
	ForceLinked     []string          `json:"force_linked"`
	DownloadGrants  map[string]Grant  `json:"download_grants"`
	LinkedDevices   map[string]string `json:"linked_devices"`
}

func newDocument() document {
	return document{
		LocalToExternal: map[string]int64{},
		ExternalToLocal: map[string]string{},
		ForceLinked:     []string{},
		DownloadGrants:  map[string]Grant{},
		LinkedDevices:   map[string]string{},
	}
}

func (d document) clone() document {
	c := newDocument()
	for k, v := range d.LocalToExternal {
		c.LocalToExternal[k] = v
	}
	for k, v := range d.ExternalToLocal {
		c.ExternalToLocal[k] = v
	}
	c.ForceLinked = append(c.ForceLinked[:0], d.ForceLinked...)
	for k, v := range d.DownloadGrants {
		c.DownloadGrants[k] = v
	}
	for k, v := range d.LinkedDevices {
		c.LinkedDevices[k] = v
	}
	return c
}

// Store guards the document with a single mutex: link mutations, grant
// promotion and grant consumption all serialize here, which is what keeps
// "pending consumed" and "grant recorded" in one observable step.
type Store struct {
	mu     sync.Mutex
	path   string
	doc    document
	logger logging.Logger
	now    func() time.Time
}

// Open loads the document at path, creating a fresh one if the file does not
// exist. Documents written by earlier versions (a flat localID→externalID
// map, or a structured document missing newer keys) are upgraded in place on
// first load.
func Open(path string, logger logging.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		doc:    newDocument(),
		logger: logger.With("module", "store"),
		now:    time.Now,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	s.doc = doc

	return s, nil
}

// decodeDocument accepts both the current layout and the legacy flat
// localID→externalID map, normalizing absent keys to empty collections.
func decodeDocument(data []byte) (document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return document{}, err
	}

	_, hasLocal := probe["local_to_external"]
	_, hasExternal := probe["external_to_local"]
	if !hasLocal && !hasExternal {
		// Legacy layout: one flat map, no reverse index.
		var flat map[string]int64
		if err := json.Unmarshal(data, &flat); err != nil {
			return document{}, err
		}
		doc := newDocument()
		for localID, externalID := range flat {
			doc.LocalToExternal[localID] = externalID
			doc.ExternalToLocal[strconv.FormatInt(externalID, 10)] = localID
		}
		return doc, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, err
	}
	if doc.LocalToExternal == nil {
		doc.LocalToExternal = map[string]int64{}
	}
	if doc.ExternalToLocal == nil {
		doc.ExternalToLocal = map[string]string{}
	}
	if doc.ForceLinked == nil {
		doc.ForceLinked = []string{}
	}
	if doc.DownloadGrants == nil {
		doc.DownloadGrants = map[string]Grant{}
	}
	if doc.LinkedDevices == nil {
		doc.LinkedDevices = map[string]string{}
	}
	return doc, nil
}

// mutate applies fn to the document and persists the result. If fn or the
// write fails, the in-memory document is restored to its previous state.
func (s *Store) mutate(ctx context.Context, fn func(d *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.doc.clone()
	if err := fn(&s.doc); err != nil {
		s.doc = snapshot
		return err
	}
	if err := s.save(); err != nil {
		s.doc = snapshot
		s.logger.Error(ctx, "persist failed", "error", err)
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	return filex.WriteAtomic(s.path, data, 0o600)
}

// Link records a new bijective mapping. It rejects the call if either side
// already has an entry; existing links are never silently overwritten.
func (s *Store) Link(ctx context.Context, localID string, externalID int64) error {
	return s.mutate(ctx, func(d *document) error {
		if _, ok := d.LocalToExternal[localID]; ok {
			return common.ErrorAlreadyLinked
		}
		externalKey := strconv.FormatInt(externalID, 10)
		if _, ok := d.ExternalToLocal[externalKey]; ok {
			return common.ErrorExternalAlreadyLinked
		}
		d.LocalToExternal[localID] = externalID
		d.ExternalToLocal[externalKey] = localID
		return nil
	})
}

// Unlink removes the caller's own mapping. Force-linked accounts cannot be
// self-unlinked.
func (s *Store) Unlink(ctx context.Context, localID string) (int64, error) {
	var removed int64
	err := s.mutate(ctx, func(d *document) error {
		if slices.Contains(d.ForceLinked, localID) {
			return common.ErrorForceLinked
		}
		externalID, ok := d.LocalToExternal[localID]
		if !ok {
			return common.ErrorNotLinked
		}
		removed = externalID
		delete(d.LocalToExternal, localID)
		delete(d.ExternalToLocal, strconv.FormatInt(externalID, 10))
		return nil
	})
	return removed, err
}

// ForceLink is the administrative override: it clears any prior mapping on
// either side, records the new one, and marks the local account as
// non-self-unlinkable.
func (s *Store) ForceLink(ctx context.Context, localID string, externalID int64) error {
	return s.mutate(ctx, func(d *document) error {
		if prior, ok := d.LocalToExternal[localID]; ok {
			delete(d.ExternalToLocal, strconv.FormatInt(prior, 10))
		}
		externalKey := strconv.FormatInt(externalID, 10)
		if priorLocal, ok := d.ExternalToLocal[externalKey]; ok {
			delete(d.LocalToExternal, priorLocal)
		}
		d.LocalToExternal[localID] = externalID
		d.ExternalToLocal[externalKey] = localID
		if !slices.Contains(d.ForceLinked, localID) {
			d.ForceLinked = append(d.ForceLinked, localID)
		}
		return nil
	})
}

// AdminUnlink removes a mapping regardless of the force-linked flag, clearing
// the flag as well.
func (s *Store) AdminUnlink(ctx context.Context, localID string) error {
	return s.mutate(ctx, func(d *document) error {
		externalID, ok := d.LocalToExternal[localID]
		if !ok {
			return common.ErrorNotLinked
		}
		delete(d.LocalToExternal, localID)
		delete(d.ExternalToLocal, strconv.FormatInt(externalID, 10))
		if i := slices.Index(d.ForceLinked, localID); i >= 0 {
			d.ForceLinked = slices.Delete(d.ForceLinked, i, i+1)
		}
		return nil
	})
}

// Resolve returns the external account linked to localID.
func (s *Store) Resolve(localID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	externalID, ok := s.doc.LocalToExternal[localID]
	if !ok {
		return 0, common.ErrorNotLinked
	}
	return externalID, nil
}

// ResolveExternal returns the local account linked to externalID.
func (s *Store) ResolveExternal(externalID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	localID, ok := s.doc.ExternalToLocal[strconv.FormatInt(externalID, 10)]
	if !ok {
		return "", common.ErrorNotLinked
	}
	return localID, nil
}

// Links returns a snapshot of the link table for administrative listing.
func (s *Store) Links() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]int64, len(s.doc.LocalToExternal))
	for k, v := range s.doc.LocalToExternal {
		snapshot[k] = v
	}
	return snapshot
}

// IsForceLinked reports whether the account was created by an administrative
// override.
func (s *Store) IsForceLinked(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.doc.ForceLinked, localID)
}

// PutGrant records the owner's download grant, replacing any prior one. At
// most one grant exists per owner.
func (s *Store) PutGrant(ctx context.Context, ownerID string, g Grant) error {
	return s.mutate(ctx, func(d *document) error {
		d.DownloadGrants[ownerID] = g
		return nil
	})
}

// DeleteGrant revokes the owner's grant and device marker, if any. Deleting
// an absent grant is not an error and does not touch disk.
func (s *Store) DeleteGrant(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, hasGrant := s.doc.DownloadGrants[ownerID]
	_, hasDevice := s.doc.LinkedDevices[ownerID]
	if !hasGrant && !hasDevice {
		return nil
	}

	snapshot := s.doc.clone()
	delete(s.doc.DownloadGrants, ownerID)
	delete(s.doc.LinkedDevices, ownerID)
	if err := s.save(); err != nil {
		s.doc = snapshot
		s.logger.Error(ctx, "persist failed", "error", err)
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

// TakeGrant consumes the grant whose token matches: the grant is deleted and
// the owner's linked-device marker is recorded in the same document write.
// Tokens are single-use. Expired grants are removed on detection and reported
// as ErrorExpired; unknown tokens as ErrorNotFound.
func (s *Store) TakeGrant(ctx context.Context, token string) (string, error) {
	var owner string
	err := s.mutate(ctx, func(d *document) error {
		for ownerID, g := range d.DownloadGrants {
			if g.Token != token {
				continue
			}
			if s.now().After(g.ExpiresAt) {
				delete(d.DownloadGrants, ownerID)
				return common.ErrorExpired
			}
			owner = ownerID
			delete(d.DownloadGrants, ownerID)
			d.LinkedDevices[ownerID] = s.now().UTC().Format(time.RFC3339)
			return nil
		}
		return common.ErrorNotFound
	})
	if err != nil {
		// Expiry-at-use still needs the deletion persisted.
		if errors.Is(err, common.ErrorExpired) {
			return "", s.persistExpiredSweep(ctx, token, err)
		}
		return "", err
	}
	return owner, nil
}

// persistExpiredSweep removes an expired grant found during TakeGrant. The
// mutate helper rolled the deletion back together with the error, so it is
// replayed here as its own successful mutation.
func (s *Store) persistExpiredSweep(ctx context.Context, token string, cause error) error {
	sweepErr := s.mutate(ctx, func(d *document) error {
		for ownerID, g := range d.DownloadGrants {
			if g.Token == token {
				delete(d.DownloadGrants, ownerID)
				break
			}
		}
		return nil
	})
	if sweepErr != nil {
		s.logger.Error(ctx, "expired grant sweep failed", "error", sweepErr)
	}
	return cause
}

// DeviceLinked reports whether the owner has already consumed a download on
// some device.
func (s *Store) DeviceLinked(ownerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.doc.LinkedDevices[ownerID]
	return ok
}
