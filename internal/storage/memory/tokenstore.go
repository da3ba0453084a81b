// Package memory provides an in-process TokenStore for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

type TokenStore struct {
	mu      sync.RWMutex
	records map[string]*broadcast.TokenRecord
}

var _ broadcast.TokenStore = (*TokenStore)(nil)

func NewTokenStore(records ...broadcast.TokenRecord) *TokenStore {
	s := &TokenStore{records: make(map[string]*broadcast.TokenRecord, len(records))}
	for _, r := range records {
		s.Put(r)
	}
	return s
}

// Put inserts or replaces a record keyed by its push token.
func (s *TokenStore) Put(record broadcast.TokenRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := record
	s.records[record.PushToken] = &r
}

// Get returns a copy of the record for token.
func (s *TokenStore) Get(token string) (broadcast.TokenRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[token]
	if !ok {
		return broadcast.TokenRecord{}, false
	}
	return *r, true
}

// All returns copies of every record, ordered by token.
func (s *TokenStore) All() []broadcast.TokenRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]broadcast.TokenRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PushToken < out[j].PushToken })
	return out
}

func (s *TokenStore) ResetNotified(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		r.Notified = false
	}
	return nil
}

func (s *TokenStore) FindTokens(_ context.Context, query broadcast.TokenQuery) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tokens []string
	for token, r := range s.records {
		if r.IsForTest == query.IsForTest && r.Status == query.Status {
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

func (s *TokenStore) MarkNotified(_ context.Context, tokens []string) error {
	s.update(tokens, func(r *broadcast.TokenRecord) {
		r.Notified = true
	})
	return nil
}

func (s *TokenStore) MarkInvalid(_ context.Context, tokens []string) error {
	s.update(tokens, func(r *broadcast.TokenRecord) {
		r.Notified = false
		r.Status = broadcast.StatusDraft
	})
	return nil
}

// update applies fn to each existing record; unknown tokens are ignored like a WHERE IN update.
func (s *TokenStore) update(tokens []string, fn func(*broadcast.TokenRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		if r, ok := s.records[t]; ok {
			fn(r)
		}
	}
}
