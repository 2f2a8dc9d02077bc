// Package store provides storage backends for FormPipe.
//
// This file implements a Redis-backed store. Drafts are conversation-scoped
// and naturally expirable, which makes Redis a good fit for deployments that
// do not want relational storage for transient slot-filling state.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BTreeMap/FormPipe/internal/models"
	backend "github.com/redis/go-redis/v9"
)

const (
	redisCapabilityPrefix = "formpipe:capability:"
	redisCapabilityIndex  = "formpipe:capabilities"
	redisDraftPrefix      = "formpipe:draft:"
	redisDraftIndex       = "formpipe:drafts"
	redisConvPrefix       = "formpipe:conv:"
	redisBindingPrefix    = "formpipe:binding:"
)

// RedisStore persists capabilities, drafts, and bindings in Redis.
type RedisStore struct {
	client *backend.Client
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithDraftTTL sets an expiration for draft keys. Zero means no expiration.
func WithDraftTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore creates a Redis store from a redis:// URL.
func NewRedisStore(dsn string, opts ...RedisOption) (*RedisStore, error) {
	redisOpts, err := backend.ParseURL(dsn)
	if err != nil {
		slog.Error("RedisStore invalid DSN", "error", err)
		return nil, fmt.Errorf("invalid redis DSN: %w", err)
	}
	client := backend.NewClient(redisOpts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("Redis connection established")
	return NewRedisStoreFromClient(client, opts...), nil
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
// Used by tests to wire in a miniredis-backed client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) draftKey(toolName, conversationID string) string {
	return redisDraftPrefix + conversationID + ":" + toolName
}

func (s *RedisStore) convKey(conversationID string) string {
	return redisConvPrefix + conversationID
}

// SaveCapability stores or replaces a capability spec.
func (s *RedisStore) SaveCapability(spec models.CapabilitySpec) error {
	ctx := context.Background()
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal capability spec: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, redisCapabilityPrefix+spec.ToolName, data, 0)
	pipe.SAdd(ctx, redisCapabilityIndex, spec.ToolName)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore SaveCapability failed", "error", err, "toolName", spec.ToolName)
		return fmt.Errorf("failed to save capability %s: %w", spec.ToolName, err)
	}
	return nil
}

// GetCapability retrieves a capability spec by tool name.
func (s *RedisStore) GetCapability(toolName string) (*models.CapabilitySpec, error) {
	val, err := s.client.Get(context.Background(), redisCapabilityPrefix+toolName).Result()
	if err == backend.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetCapability failed", "error", err, "toolName", toolName)
		return nil, fmt.Errorf("failed to get capability %s: %w", toolName, err)
	}
	return unmarshalCapability(val)
}

// ListCapabilities returns all capability specs sorted by tool name.
func (s *RedisStore) ListCapabilities() ([]models.CapabilitySpec, error) {
	ctx := context.Background()
	names, err := s.client.SMembers(ctx, redisCapabilityIndex).Result()
	if err != nil {
		slog.Error("RedisStore ListCapabilities failed", "error", err)
		return nil, fmt.Errorf("failed to list capabilities: %w", err)
	}
	var specs []models.CapabilitySpec
	for _, name := range names {
		spec, err := s.GetCapability(name)
		if err != nil {
			return nil, err
		}
		if spec == nil {
			// Index entry without a value, drop it.
			s.client.SRem(ctx, redisCapabilityIndex, name)
			continue
		}
		specs = append(specs, *spec)
	}
	sortCapabilities(specs)
	return specs, nil
}

// DeleteCapability removes a capability spec.
func (s *RedisStore) DeleteCapability(toolName string) error {
	ctx := context.Background()
	pipe := s.client.Pipeline()
	pipe.Del(ctx, redisCapabilityPrefix+toolName)
	pipe.SRem(ctx, redisCapabilityIndex, toolName)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore DeleteCapability failed", "error", err, "toolName", toolName)
		return fmt.Errorf("failed to delete capability %s: %w", toolName, err)
	}
	return nil
}

// SaveDraft stores or replaces a draft and updates the conversation index.
func (s *RedisStore) SaveDraft(draft models.Draft) error {
	ctx := context.Background()
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("failed to marshal draft: %w", err)
	}
	key := s.draftKey(draft.ToolName, draft.ConversationID)
	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.SAdd(ctx, s.convKey(draft.ConversationID), draft.ToolName)
	pipe.SAdd(ctx, redisDraftIndex, key)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore SaveDraft failed", "error", err, "toolName", draft.ToolName, "conversationID", draft.ConversationID)
		return fmt.Errorf("failed to save draft: %w", err)
	}
	slog.Debug("RedisStore SaveDraft succeeded", "toolName", draft.ToolName, "conversationID", draft.ConversationID, "status", draft.Status)
	return nil
}

// GetDraft retrieves a draft by its composite key.
func (s *RedisStore) GetDraft(toolName, conversationID string) (*models.Draft, error) {
	val, err := s.client.Get(context.Background(), s.draftKey(toolName, conversationID)).Result()
	if err == backend.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetDraft failed", "error", err, "toolName", toolName, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	var draft models.Draft
	if err := json.Unmarshal([]byte(val), &draft); err != nil {
		return nil, fmt.Errorf("failed to unmarshal draft: %w", err)
	}
	return &draft, nil
}

// ListDraftsByConversation returns all drafts for a conversation, oldest first.
func (s *RedisStore) ListDraftsByConversation(conversationID string) ([]models.Draft, error) {
	ctx := context.Background()
	toolNames, err := s.client.SMembers(ctx, s.convKey(conversationID)).Result()
	if err != nil {
		slog.Error("RedisStore ListDraftsByConversation failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to list conversation drafts: %w", err)
	}
	var drafts []models.Draft
	for _, toolName := range toolNames {
		draft, err := s.GetDraft(toolName, conversationID)
		if err != nil {
			return nil, err
		}
		if draft == nil {
			// Expired draft, clean the index entry.
			s.client.SRem(ctx, s.convKey(conversationID), toolName)
			continue
		}
		drafts = append(drafts, *draft)
	}
	sortDrafts(drafts)
	return drafts, nil
}

// ListDrafts returns every stored draft, oldest first.
func (s *RedisStore) ListDrafts() ([]models.Draft, error) {
	ctx := context.Background()
	keys, err := s.client.SMembers(ctx, redisDraftIndex).Result()
	if err != nil {
		slog.Error("RedisStore ListDrafts failed", "error", err)
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	var drafts []models.Draft
	for _, key := range keys {
		val, err := s.client.Get(ctx, key).Result()
		if err == backend.Nil {
			s.client.SRem(ctx, redisDraftIndex, key)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get draft %s: %w", key, err)
		}
		var draft models.Draft
		if err := json.Unmarshal([]byte(val), &draft); err != nil {
			return nil, fmt.Errorf("failed to unmarshal draft %s: %w", key, err)
		}
		drafts = append(drafts, draft)
	}
	sortDrafts(drafts)
	return drafts, nil
}

// DeleteDraft removes a draft and its index entries.
func (s *RedisStore) DeleteDraft(toolName, conversationID string) error {
	ctx := context.Background()
	key := s.draftKey(toolName, conversationID)
	pipe := s.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, s.convKey(conversationID), toolName)
	pipe.SRem(ctx, redisDraftIndex, key)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore DeleteDraft failed", "error", err, "toolName", toolName, "conversationID", conversationID)
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// SaveBinding stores or replaces a tenant's provider binding.
func (s *RedisStore) SaveBinding(binding models.ProviderBinding) error {
	data, err := json.Marshal(binding)
	if err != nil {
		return fmt.Errorf("failed to marshal binding: %w", err)
	}
	if err := s.client.Set(context.Background(), redisBindingPrefix+binding.TenantID, data, 0).Err(); err != nil {
		slog.Error("RedisStore SaveBinding failed", "error", err, "tenantID", binding.TenantID)
		return fmt.Errorf("failed to save binding for %s: %w", binding.TenantID, err)
	}
	return nil
}

// GetBinding retrieves a tenant's provider binding.
func (s *RedisStore) GetBinding(tenantID string) (*models.ProviderBinding, error) {
	val, err := s.client.Get(context.Background(), redisBindingPrefix+tenantID).Result()
	if err == backend.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetBinding failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to get binding for %s: %w", tenantID, err)
	}
	var binding models.ProviderBinding
	if err := json.Unmarshal([]byte(val), &binding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal binding: %w", err)
	}
	return &binding, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	slog.Debug("Closing Redis connection")
	return s.client.Close()
}

// sortCapabilities orders capability specs by tool name ascending.
func sortCapabilities(specs []models.CapabilitySpec) {
	sort.Slice(specs, func(i, j int) bool { return specs[i].ToolName < specs[j].ToolName })
}
