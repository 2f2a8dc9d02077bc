// Package store provides storage backends for FormPipe.
//
// It persists capability specs, drafts, and provider bindings across four
// backends: in-memory, SQLite, PostgreSQL, and Redis. Drafts are keyed by
// (toolName, conversationID); access across independent keys is safe for
// concurrent use in every backend.
package store

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// Store defines the persistence interface shared by all backends.
// Lookup methods return (nil, nil) when the record does not exist.
type Store interface {
	SaveCapability(spec models.CapabilitySpec) error
	GetCapability(toolName string) (*models.CapabilitySpec, error)
	ListCapabilities() ([]models.CapabilitySpec, error)
	DeleteCapability(toolName string) error

	SaveDraft(draft models.Draft) error
	GetDraft(toolName, conversationID string) (*models.Draft, error)
	ListDraftsByConversation(conversationID string) ([]models.Draft, error)
	ListDrafts() ([]models.Draft, error)
	DeleteDraft(toolName, conversationID string) error

	SaveBinding(binding models.ProviderBinding) error
	GetBinding(tenantID string) (*models.ProviderBinding, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a functional option for store configuration.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithRedisDSN sets the Redis connection URL (redis://...).
func WithRedisDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN string as "postgres", "redis", or "sqlite".
// File paths and anything unrecognized are treated as SQLite.
func DetectDSNType(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return "postgres"
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return "redis"
	default:
		return "sqlite"
	}
}

// NewStore selects and opens a backend for the configured DSN: postgres and
// redis by scheme, sqlite for file paths, in-memory when no DSN is set.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("NewStore: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(cfg.DSN) {
	case "postgres":
		return NewPostgresStore(WithPostgresDSN(cfg.DSN))
	case "redis":
		return NewRedisStore(cfg.DSN)
	default:
		return NewSQLiteStore(WithSQLiteDSN(cfg.DSN))
	}
}

// InMemoryStore is a map-backed store used for tests and DSN-less runs.
type InMemoryStore struct {
	mu           sync.RWMutex
	capabilities map[string]models.CapabilitySpec
	drafts       map[string]models.Draft
	bindings     map[string]models.ProviderBinding
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		capabilities: make(map[string]models.CapabilitySpec),
		drafts:       make(map[string]models.Draft),
		bindings:     make(map[string]models.ProviderBinding),
	}
}

func draftKey(toolName, conversationID string) string {
	return toolName + "\x00" + conversationID
}

// cloneDraft copies the draft's mutable maps and slices so callers and the
// store never alias the same objects. A turn mutates a draft it read from the
// store outside the store's lock; without copies that mutation would race
// with concurrent readers and leak into the store before Save.
func cloneDraft(d models.Draft) models.Draft {
	d.Slots = cloneStringMap(d.Slots)
	d.FieldLabels = cloneStringMap(d.FieldLabels)
	if d.MissingFields != nil {
		d.MissingFields = append([]string(nil), d.MissingFields...)
	}
	return d
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SaveCapability stores or replaces a capability spec.
func (s *InMemoryStore) SaveCapability(spec models.CapabilitySpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities[spec.ToolName] = spec
	return nil
}

// GetCapability retrieves a capability spec by tool name.
func (s *InMemoryStore) GetCapability(toolName string) (*models.CapabilitySpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.capabilities[toolName]
	if !ok {
		return nil, nil
	}
	return &spec, nil
}

// ListCapabilities returns all capability specs sorted by tool name.
func (s *InMemoryStore) ListCapabilities() ([]models.CapabilitySpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	specs := make([]models.CapabilitySpec, 0, len(s.capabilities))
	for _, spec := range s.capabilities {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ToolName < specs[j].ToolName })
	return specs, nil
}

// DeleteCapability removes a capability spec.
func (s *InMemoryStore) DeleteCapability(toolName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.capabilities, toolName)
	return nil
}

// SaveDraft stores or replaces a draft keyed by (toolName, conversationID).
func (s *InMemoryStore) SaveDraft(draft models.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[draftKey(draft.ToolName, draft.ConversationID)] = cloneDraft(draft)
	return nil
}

// GetDraft retrieves a draft by its composite key.
func (s *InMemoryStore) GetDraft(toolName, conversationID string) (*models.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	draft, ok := s.drafts[draftKey(toolName, conversationID)]
	if !ok {
		return nil, nil
	}
	draft = cloneDraft(draft)
	return &draft, nil
}

// ListDraftsByConversation returns all drafts for a conversation, oldest first.
func (s *InMemoryStore) ListDraftsByConversation(conversationID string) ([]models.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var drafts []models.Draft
	for _, d := range s.drafts {
		if d.ConversationID == conversationID {
			drafts = append(drafts, cloneDraft(d))
		}
	}
	sortDrafts(drafts)
	return drafts, nil
}

// ListDrafts returns every stored draft, oldest first.
func (s *InMemoryStore) ListDrafts() ([]models.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	drafts := make([]models.Draft, 0, len(s.drafts))
	for _, d := range s.drafts {
		drafts = append(drafts, cloneDraft(d))
	}
	sortDrafts(drafts)
	return drafts, nil
}

// DeleteDraft removes a draft by its composite key.
func (s *InMemoryStore) DeleteDraft(toolName, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, draftKey(toolName, conversationID))
	return nil
}

// SaveBinding stores or replaces a tenant's provider binding.
func (s *InMemoryStore) SaveBinding(binding models.ProviderBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[binding.TenantID] = binding
	return nil
}

// GetBinding retrieves a tenant's provider binding.
func (s *InMemoryStore) GetBinding(tenantID string) (*models.ProviderBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	binding, ok := s.bindings[tenantID]
	if !ok {
		return nil, nil
	}
	return &binding, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// sortDrafts orders drafts by creation time, tie-broken by tool name ascending.
// This ordering backs the deterministic fallback when multiple drafts are active.
func sortDrafts(drafts []models.Draft) {
	sort.Slice(drafts, func(i, j int) bool {
		if !drafts[i].CreatedAt.Equal(drafts[j].CreatedAt) {
			return drafts[i].CreatedAt.Before(drafts[j].CreatedAt)
		}
		return drafts[i].ToolName < drafts[j].ToolName
	})
}
