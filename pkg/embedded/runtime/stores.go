package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// StaticCredentialStore serves credentials from memory.
type StaticCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]map[string]interface{}
}

// NewStaticCredentialStore creates a store holding creds keyed by type name.
func NewStaticCredentialStore(creds map[string]map[string]interface{}) *StaticCredentialStore {
	s := &StaticCredentialStore{creds: make(map[string]map[string]interface{})}
	for name, fields := range creds {
		s.Set(name, fields)
	}
	return s
}

// Set stores the fields of a credential.
func (s *StaticCredentialStore) Set(name string, fields map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[name] = fields
}

// Credentials returns a copy of the stored credential fields.
func (s *StaticCredentialStore) Credentials(ctx context.Context, name string) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.creds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}

var _ CredentialStore = (*StaticCredentialStore)(nil)

// CredentialChain resolves credentials from the first store that has them.
type CredentialChain []CredentialStore

// Credentials returns the first match, or ErrCredentialsNotFound when no
// store holds name.
func (c CredentialChain) Credentials(ctx context.Context, name string) (map[string]interface{}, error) {
	for _, store := range c {
		if store == nil {
			continue
		}
		fields, err := store.Credentials(ctx, name)
		if err == nil {
			return fields, nil
		}
		if !errors.Is(err, ErrCredentialsNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
}

var _ CredentialStore = CredentialChain(nil)
