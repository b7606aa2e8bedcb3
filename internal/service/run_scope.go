package service

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/wallet-inspector/internal/logging"
	"github.com/wallet-inspector/internal/types"
)

// onceMap memoises successful lookups and collapses concurrent lookups of the
// same key into one call.
type onceMap[V any] struct {
	mu     sync.Mutex
	values map[string]V
	group  singleflight.Group
}

func newOnceMap[V any]() *onceMap[V] {
	return &onceMap[V]{values: make(map[string]V)}
}

func (m *onceMap[V]) get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *onceMap[V]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

// load returns the cached value for key or computes it with fn. Values are
// only stored when fn returns a nil error.
func (m *onceMap[V]) load(key string, fn func() (V, error)) (V, error) {
	if v, ok := m.get(key); ok {
		return v, nil
	}

	res, err, _ := m.group.Do(key, func() (interface{}, error) {
		if v, ok := m.get(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return v, err
		}
		m.mu.Lock()
		m.values[key] = v
		m.mu.Unlock()
		return v, nil
	})

	v, _ := res.(V)
	return v, err
}

func addressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// MetadataCache holds token metadata resolved during one inspection run
type MetadataCache struct {
	entries *onceMap[TokenMetadata]
}

// NewMetadataCache creates an empty cache
func NewMetadataCache() *MetadataCache {
	return &MetadataCache{entries: newOnceMap[TokenMetadata]()}
}

// Lookup returns cached metadata for token
func (c *MetadataCache) Lookup(token common.Address) (TokenMetadata, bool) {
	return c.entries.get(addressKey(token))
}

// Len returns the number of cached tokens
func (c *MetadataCache) Len() int {
	return c.entries.len()
}

// RunScope owns every piece of mutable state of a single inspection.
// Nothing in it is shared between runs.
type RunScope struct {
	ID     string
	Wallet common.Address
	Logger *logging.Logger

	Metadata   *MetadataCache
	timestamps *onceMap[uint64]
	codes      *onceMap[bool]

	mu     sync.Mutex
	issues []types.InspectionIssue
}

// NewRunScope creates the state for a new inspection run
func NewRunScope(wallet common.Address, logger *logging.Logger) *RunScope {
	id := uuid.New().String()
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &RunScope{
		ID:     id,
		Wallet: wallet,
		Logger: logger.WithFields(map[string]interface{}{
			"run_id": id,
			"wallet": wallet.Hex(),
		}),
		Metadata:   NewMetadataCache(),
		timestamps: newOnceMap[uint64](),
		codes:      newOnceMap[bool](),
	}
}

// RecordIssue notes a recoverable failure that was defaulted or skipped
func (s *RunScope) RecordIssue(stage types.IssueStage, subject string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = append(s.issues, types.InspectionIssue{
		Stage:   stage,
		Subject: subject,
		Message: msg,
	})
}

// Issues returns a copy of the recorded issues
func (s *RunScope) Issues() []types.InspectionIssue {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.InspectionIssue, len(s.issues))
	copy(out, s.issues)
	return out
}
