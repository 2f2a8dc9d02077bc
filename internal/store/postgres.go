// Package store provides storage backends for FormPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/FormPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists capabilities, drafts, and bindings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveCapability stores or replaces a capability spec.
func (s *PostgresStore) SaveCapability(spec models.CapabilitySpec) error {
	specJSON, err := marshalCapability(spec)
	if err != nil {
		slog.Error("PostgresStore SaveCapability marshal failed", "error", err, "toolName", spec.ToolName)
		return err
	}
	query := `
		INSERT INTO capabilities (tool_name, spec_json) VALUES ($1, $2)
		ON CONFLICT (tool_name)
		DO UPDATE SET spec_json = EXCLUDED.spec_json`
	_, err = s.db.Exec(query, spec.ToolName, specJSON)
	if err != nil {
		slog.Error("PostgresStore SaveCapability failed", "error", err, "toolName", spec.ToolName)
		return fmt.Errorf("failed to save capability %s: %w", spec.ToolName, err)
	}
	slog.Debug("PostgresStore SaveCapability succeeded", "toolName", spec.ToolName)
	return nil
}

// GetCapability retrieves a capability spec by tool name.
func (s *PostgresStore) GetCapability(toolName string) (*models.CapabilitySpec, error) {
	var specJSON string
	err := s.db.QueryRow(`SELECT spec_json FROM capabilities WHERE tool_name = $1`, toolName).Scan(&specJSON)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetCapability not found", "toolName", toolName)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCapability failed", "error", err, "toolName", toolName)
		return nil, err
	}
	return unmarshalCapability(specJSON)
}

// ListCapabilities returns all capability specs sorted by tool name.
func (s *PostgresStore) ListCapabilities() ([]models.CapabilitySpec, error) {
	rows, err := s.db.Query(`SELECT spec_json FROM capabilities ORDER BY tool_name`)
	if err != nil {
		slog.Error("PostgresStore ListCapabilities query failed", "error", err)
		return nil, fmt.Errorf("failed to query capabilities: %w", err)
	}
	defer rows.Close()

	var specs []models.CapabilitySpec
	for rows.Next() {
		var specJSON string
		if err := rows.Scan(&specJSON); err != nil {
			slog.Error("PostgresStore ListCapabilities scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan capability row: %w", err)
		}
		spec, err := unmarshalCapability(specJSON)
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate capability rows: %w", err)
	}
	return specs, nil
}

// DeleteCapability removes a capability spec.
func (s *PostgresStore) DeleteCapability(toolName string) error {
	_, err := s.db.Exec(`DELETE FROM capabilities WHERE tool_name = $1`, toolName)
	if err != nil {
		slog.Error("PostgresStore DeleteCapability failed", "error", err, "toolName", toolName)
		return err
	}
	return nil
}

// SaveDraft stores or updates a draft keyed by (toolName, conversationID).
func (s *PostgresStore) SaveDraft(draft models.Draft) error {
	slotsJSON, missingJSON, labelsJSON, err := marshalDraftFields(draft)
	if err != nil {
		slog.Error("PostgresStore SaveDraft marshal failed", "error", err, "toolName", draft.ToolName, "conversationID", draft.ConversationID)
		return err
	}

	query := `
		INSERT INTO drafts (tool_name, conversation_id, id, tenant_id, user_id, slots_json, status, missing_json, labels_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tool_name, conversation_id)
		DO UPDATE SET
			id = EXCLUDED.id,
			tenant_id = EXCLUDED.tenant_id,
			user_id = EXCLUDED.user_id,
			slots_json = EXCLUDED.slots_json,
			status = EXCLUDED.status,
			missing_json = EXCLUDED.missing_json,
			labels_json = EXCLUDED.labels_json,
			updated_at = EXCLUDED.updated_at`
	_, err = s.db.Exec(query, draft.ToolName, draft.ConversationID, draft.ID, draft.TenantID, draft.UserID,
		slotsJSON, string(draft.Status), missingJSON, labelsJSON, draft.CreatedAt, draft.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveDraft failed", "error", err, "toolName", draft.ToolName, "conversationID", draft.ConversationID)
		return err
	}
	slog.Debug("PostgresStore SaveDraft succeeded", "toolName", draft.ToolName, "conversationID", draft.ConversationID, "status", draft.Status)
	return nil
}

// GetDraft retrieves a draft by its composite key.
func (s *PostgresStore) GetDraft(toolName, conversationID string) (*models.Draft, error) {
	row := s.db.QueryRow(`SELECT tool_name, conversation_id, id, tenant_id, user_id, slots_json, status, missing_json, labels_json, created_at, updated_at
		FROM drafts WHERE tool_name = $1 AND conversation_id = $2`, toolName, conversationID)
	draft, err := scanDraftRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetDraft not found", "toolName", toolName, "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetDraft failed", "error", err, "toolName", toolName, "conversationID", conversationID)
		return nil, err
	}
	return draft, nil
}

// ListDraftsByConversation returns all drafts for a conversation, oldest first.
func (s *PostgresStore) ListDraftsByConversation(conversationID string) ([]models.Draft, error) {
	rows, err := s.db.Query(`SELECT tool_name, conversation_id, id, tenant_id, user_id, slots_json, status, missing_json, labels_json, created_at, updated_at
		FROM drafts WHERE conversation_id = $1 ORDER BY created_at, tool_name`, conversationID)
	if err != nil {
		slog.Error("PostgresStore ListDraftsByConversation query failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	defer rows.Close()
	return collectDrafts(rows)
}

// ListDrafts returns every stored draft, oldest first.
func (s *PostgresStore) ListDrafts() ([]models.Draft, error) {
	rows, err := s.db.Query(`SELECT tool_name, conversation_id, id, tenant_id, user_id, slots_json, status, missing_json, labels_json, created_at, updated_at
		FROM drafts ORDER BY created_at, tool_name`)
	if err != nil {
		slog.Error("PostgresStore ListDrafts query failed", "error", err)
		return nil, err
	}
	defer rows.Close()
	return collectDrafts(rows)
}

// DeleteDraft removes a draft by its composite key.
func (s *PostgresStore) DeleteDraft(toolName, conversationID string) error {
	_, err := s.db.Exec(`DELETE FROM drafts WHERE tool_name = $1 AND conversation_id = $2`, toolName, conversationID)
	if err != nil {
		slog.Error("PostgresStore DeleteDraft failed", "error", err, "toolName", toolName, "conversationID", conversationID)
		return err
	}
	return nil
}

// SaveBinding stores or replaces a tenant's provider binding.
func (s *PostgresStore) SaveBinding(binding models.ProviderBinding) error {
	query := `
		INSERT INTO bindings (tenant_id, base_url, token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id)
		DO UPDATE SET
			base_url = EXCLUDED.base_url,
			token = EXCLUDED.token,
			updated_at = EXCLUDED.updated_at`
	_, err := s.db.Exec(query, binding.TenantID, binding.BaseURL, binding.Token, binding.CreatedAt, binding.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveBinding failed", "error", err, "tenantID", binding.TenantID)
		return err
	}
	return nil
}

// GetBinding retrieves a tenant's provider binding.
func (s *PostgresStore) GetBinding(tenantID string) (*models.ProviderBinding, error) {
	var b models.ProviderBinding
	err := s.db.QueryRow(`SELECT tenant_id, base_url, token, created_at, updated_at FROM bindings WHERE tenant_id = $1`, tenantID).
		Scan(&b.TenantID, &b.BaseURL, &b.Token, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetBinding failed", "error", err, "tenantID", tenantID)
		return nil, err
	}
	return &b, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
