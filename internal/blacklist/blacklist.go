// Package blacklist holds banned token and issuer identifiers.
//
// The Store is safe for concurrent use. Membership is case-insensitive and
// exact-match only; the token and issuer namespaces are independent.
package blacklist

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/henrisama/dexscreener/internal/logger"
	"github.com/henrisama/dexscreener/internal/models"
)

// Snapshot is the persisted form of the blacklist.
type Snapshot struct {
	Tokens  []string `json:"coin_blacklist"`
	Issuers []string `json:"dev_blacklist"`
}

// Persister loads and saves blacklist snapshots.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Store is the in-memory blacklist backed by an optional Persister.
type Store struct {
	mu        sync.RWMutex
	saveMu    sync.Mutex // orders snapshot and save so the newest state is written last
	tokens    map[string]struct{}
	issuers   map[string]struct{}
	exempt    map[string]struct{}
	persister Persister
}

// New creates a store. exemptIssuers are never added to the issuer set by Ban.
func New(persister Persister, exemptIssuers []string) *Store {
	s := &Store{
		tokens:    make(map[string]struct{}),
		issuers:   make(map[string]struct{}),
		exempt:    make(map[string]struct{}),
		persister: persister,
	}
	for _, id := range exemptIssuers {
		if n := models.NormalizeID(id); n != "" {
			s.exempt[n] = struct{}{}
		}
	}
	return s
}

// Load merges the persisted snapshot into the store.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	snap, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load blacklist: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range snap.Tokens {
		addTo(s.tokens, id)
	}
	for _, id := range snap.Issuers {
		addTo(s.issuers, id)
	}
	return nil
}

// Seed adds statically configured entries without persisting.
func (s *Store) Seed(tokens, issuers []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range tokens {
		addTo(s.tokens, id)
	}
	for _, id := range issuers {
		addTo(s.issuers, id)
	}
}

func (s *Store) ContainsToken(token string) bool {
	n := models.NormalizeID(token)
	if n == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[n]
	return ok
}

func (s *Store) ContainsIssuer(issuer string) bool {
	n := models.NormalizeID(issuer)
	if n == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.issuers[n]
	return ok
}

// IsExempt reports whether issuer is on the configured exemption list.
func (s *Store) IsExempt(issuer string) bool {
	_, ok := s.exempt[models.NormalizeID(issuer)]
	return ok
}

// Ban adds token and, unless empty or exempt, issuer in one critical section,
// then persists if anything changed. It reports whether the store grew.
func (s *Store) Ban(ctx context.Context, token, issuer string) bool {
	s.mu.Lock()
	grew := addTo(s.tokens, token)
	if issuer != "" && !s.IsExempt(issuer) {
		if addTo(s.issuers, issuer) {
			grew = true
		}
	}
	s.mu.Unlock()

	if grew {
		s.persist(ctx)
	}
	return grew
}

// AddToken bans a single token.
func (s *Store) AddToken(ctx context.Context, token string) bool {
	s.mu.Lock()
	grew := addTo(s.tokens, token)
	s.mu.Unlock()
	if grew {
		s.persist(ctx)
	}
	return grew
}

// AddIssuer bans a single issuer. Exempt issuers are accepted when added explicitly.
func (s *Store) AddIssuer(ctx context.Context, issuer string) bool {
	s.mu.Lock()
	grew := addTo(s.issuers, issuer)
	s.mu.Unlock()
	if grew {
		s.persist(ctx)
	}
	return grew
}

// Snapshot returns sorted copies of both sets.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Tokens:  sortedKeys(s.tokens),
		Issuers: sortedKeys(s.issuers),
	}
}

// Len returns the number of banned tokens and issuers.
func (s *Store) Len() (tokens, issuers int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens), len(s.issuers)
}

// Flush writes the current snapshot to the persister.
func (s *Store) Flush(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.persister.Save(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("failed to save blacklist: %w", err)
	}
	return nil
}

// persist saves on growth; failures are logged and never block screening.
func (s *Store) persist(ctx context.Context) {
	if err := s.Flush(ctx); err != nil {
		logger.Warn("Blacklist persistence failed: %v", err)
	}
}

func addTo(set map[string]struct{}, id string) bool {
	n := models.NormalizeID(id)
	if n == "" {
		return false
	}
	if _, ok := set[n]; ok {
		return false
	}
	set[n] = struct{}{}
	return true
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
