package natskv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/AgentForge/internal/port/statestore"
)

var _ statestore.Store = (*State)(nil)

// State is the durable actor state store (trigger data, pending alarms).
// The bucket must not expire entries.
type State struct {
	kv jetstream.KeyValue
}

// NewState wraps kv as a statestore.Store.
func NewState(kv jetstream.KeyValue) *State {
	return &State{kv: kv}
}

func (s *State) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, encodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, statestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state get %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (s *State) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.kv.Put(ctx, encodeKey(key), value); err != nil {
		return fmt.Errorf("state put %s: %w", key, err)
	}
	return nil
}

func (s *State) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, encodeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("state delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every live key with the given prefix. Encoded keys do not
// preserve prefixes, so the whole bucket is scanned.
func (s *State) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("state list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var out []string
	for stored := range lister.Keys() {
		key, err := decodeKey(stored)
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out, nil
}
