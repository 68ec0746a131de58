// Package memory is an in-process store used for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"invoicer/internal/core"
)

type Store struct {
	mu        sync.RWMutex
	users     map[string]core.User
	tokens    map[string]string // hash -> user id
	profiles  map[string]core.PayeeProfile
	banks     map[string]core.BankAccount
	matchings map[string]core.MatchingRecord
	payments  map[string]core.Payment
	invoiced  map[string]string // matching id -> payment id
}

func New() *Store {
	return &Store{
		users:     map[string]core.User{},
		tokens:    map[string]string{},
		profiles:  map[string]core.PayeeProfile{},
		banks:     map[string]core.BankAccount{},
		matchings: map[string]core.MatchingRecord{},
		payments:  map[string]core.Payment{},
		invoiced:  map[string]string{},
	}
}

// NewFromDir loads seed.yaml from base. A missing file yields an empty store.
func NewFromDir(ctx context.Context, base string) (*Store, error) {
	s := New()
	path := filepath.Join(base, "seed.yaml")
	seed, err := LoadSeed(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "Seed file not found, starting with an empty store", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := seed.Apply(ctx, s); err != nil {
		return nil, fmt.Errorf("apply seed: %w", err)
	}
	return s, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) UpsertUser(_ context.Context, u core.User) error {
	if u.ID == "" {
		return errors.New("empty user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) CreateToken(_ context.Context, userID, tokenHash, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("create token: user %s: %w", userID, core.ErrNotFound)
	}
	if _, exists := s.tokens[tokenHash]; exists {
		return errors.New("create token: duplicate token")
	}
	s.tokens[tokenHash] = userID
	return nil
}

func (s *Store) UserByTokenHash(_ context.Context, tokenHash string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[tokenHash]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	u, ok := s.users[id]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return u, nil
}

func (s *Store) UpsertProfile(_ context.Context, p core.PayeeProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (core.PayeeProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return core.PayeeProfile{}, fmt.Errorf("profile %s: %w", userID, core.ErrNotFound)
	}
	return p, nil
}

func (s *Store) UpsertBankAccount(_ context.Context, userID string, b core.BankAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banks[userID] = b
	return nil
}

func (s *Store) GetBankAccount(_ context.Context, userID string) (core.BankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.banks[userID]
	if !ok {
		return core.BankAccount{}, fmt.Errorf("bank account %s: %w", userID, core.ErrNotFound)
	}
	return b, nil
}

func (s *Store) UpsertMatching(_ context.Context, m core.MatchingRecord) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("matching %s: %w", m.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.matchings[m.ID]; ok && prev.UserID != m.UserID {
		return fmt.Errorf("matching %s belongs to another user", m.ID)
	}
	s.matchings[m.ID] = m
	return nil
}

func (s *Store) ListMatchings(_ context.Context, userID string) ([]core.MatchingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.MatchingRecord
	for _, m := range s.matchings {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	sortByDate(out)
	return out, nil
}

func (s *Store) GetMatchings(_ context.Context, userID string, ids []string) ([]core.MatchingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.MatchingRecord
	seen := map[string]bool{}
	for _, id := range ids {
		m, ok := s.matchings[id]
		if !ok || m.UserID != userID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, m)
	}
	sortByDate(out)
	return out, nil
}

func sortByDate(ms []core.MatchingRecord) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].Date.Equal(ms[j].Date.Time) {
			return ms[i].Date.Before(ms[j].Date.Time)
		}
		return ms[i].ID < ms[j].ID
	})
}

func (s *Store) SavePayment(_ context.Context, p core.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[p.ID]; exists {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	for _, id := range p.MatchingIDs {
		if other, ok := s.invoiced[id]; ok {
			return fmt.Errorf("matching %s is part of payment %s: %w", id, other, core.ErrAlreadyInvoiced)
		}
	}
	p.MatchingIDs = slices.Clone(p.MatchingIDs)
	s.payments[p.ID] = p
	for _, id := range p.MatchingIDs {
		s.invoiced[id] = p.ID
	}
	return nil
}

func (s *Store) InvoicedMatchings(_ context.Context, userID string, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string)
	for _, id := range ids {
		pid, ok := s.invoiced[id]
		if ok && s.payments[pid].UserID == userID {
			out[id] = pid
		}
	}
	return out, nil
}

func (s *Store) GetPayment(_ context.Context, userID, id string) (core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok || p.UserID != userID {
		return core.Payment{}, fmt.Errorf("payment %s: %w", id, core.ErrNotFound)
	}
	p.MatchingIDs = slices.Clone(p.MatchingIDs)
	return p, nil
}
