// Package store provides storage backends for FormPipe.
//
// This file implements the SQLite-backed store, the default backend when the
// DSN is a file path.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/FormPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists capabilities, drafts, and bindings in a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveCapability stores or replaces a capability spec.
func (s *SQLiteStore) SaveCapability(spec models.CapabilitySpec) error {
	specJSON, err := marshalCapability(spec)
	if err != nil {
		slog.Error("SQLiteStore SaveCapability marshal failed", "error", err, "toolName", spec.ToolName)
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO capabilities (tool_name, spec_json) VALUES (?, ?)`, spec.ToolName, specJSON)
	if err != nil {
		slog.Error("SQLiteStore SaveCapability failed", "error", err, "toolName", spec.ToolName)
		return fmt.Errorf("failed to save capability %s: %w", spec.ToolName, err)
	}
	slog.Debug("SQLiteStore SaveCapability succeeded", "toolName", spec.ToolName)
	return nil
}

// GetCapability retrieves a capability spec by tool name.
func (s *SQLiteStore) GetCapability(toolName string) (*models.CapabilitySpec, error) {
	var specJSON string
	err := s.db.QueryRow(`SELECT spec_json FROM capabilities WHERE tool_name = ?`, toolName).Scan(&specJSON)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetCapability not found", "toolName", toolName)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCapability failed", "error", err, "toolName", toolName)
		return nil, err
	}
	return unmarshalCapability(specJSON)
}

// ListCapabilities returns all capability specs sorted by tool name.
func (s *SQLiteStore) ListCapabilities() ([]models.CapabilitySpec, error) {
	rows, err := s.db.Query(`SELECT spec_json FROM capabilities ORDER BY tool_name`)
	if err != nil {
		slog.Error("SQLiteStore ListCapabilities query failed", "error", err)
		return nil, fmt.Errorf("failed to query capabilities: %w", err)
	}
	defer rows.Close()

	var specs []models.CapabilitySpec
	for rows.Next() {
		var specJSON string
		if err := rows.Scan(&specJSON); err != nil {
			slog.Error("SQLiteStore ListCapabilities scan failed", "error", err)
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
	slog.Debug("SQLiteStore ListCapabilities succeeded", "count", len(specs))
	return specs, nil
}

// DeleteCapability removes a capability spec.
func (s *SQLiteStore) DeleteCapability(toolName string) error {
	_, err := s.db.Exec(`DELETE FROM capabilities WHERE tool_name = ?`, toolName)
	if err != nil {
		slog.Error("SQLiteStore DeleteCapability failed", "error", err, "toolName", toolName)
		return err
	}
	return nil
}

// SaveDraft stores or updates a draft keyed by (toolName, conversationID).
func (s *SQLiteStore) SaveDraft(draft models.Draft) error {
	slotsJSON, missingJSON, labelsJSON, err := marshalDraftFields(draft)
	if err != nil {
		slog.Error("SQLiteStore SaveDraft marshal failed", "error", err, "toolName", draft.ToolName, "conversationID", draft.ConversationID)
		return err
	}

	query := `
		INSERT OR REPLACE INTO drafts (tool_name, conversation_id, id, tenant_id, user_id, slots_json, status, missing_json, labels_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query, draft.ToolName, draft.ConversationID, draft.ID, draft.TenantID, draft.UserID,
		slotsJSON, string(draft.Status), missingJSON, labelsJSON, draft.CreatedAt, draft.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveDraft failed", "error", err, "toolName", draft.ToolName, "conversationID", draft.ConversationID)
		return err
	}
	slog.Debug("SQLiteStore SaveDraft succeeded", "toolName", draft.ToolName, "conversationID", draft.ConversationID, "status", draft.Status)
	return nil
}

// GetDraft retrieves a draft by its composite key.
func (s *SQLiteStore) GetDraft(toolName, conversationID string) (*models.Draft, error) {
	row := s.db.QueryRow(`SELECT tool_name, conversation_id, id, tenant_id, user_id, slots_json, status, missing_json, labels_json, created_at, updated_at
		FROM drafts WHERE tool_name = ? AND conversation_id = ?`, toolName, conversationID)
	draft, err := scanDraftRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetDraft not found", "toolName", toolName, "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetDraft failed", "error", err, "toolName", toolName, "conversationID", conversationID)
		return nil, err
	}
	return draft, nil
}

// ListDraftsByConversation returns all drafts for a conversation, oldest first.
func (s *SQLiteStore) ListDraftsByConversation(conversationID string) ([]models.Draft, error) {
	rows, err := s.db.Query(`SELECT tool_name, conversation_id, id, tenant_id, user_id, slots_json, status, missing_json, labels_json, created_at, updated_at
		FROM drafts WHERE conversation_id = ? ORDER BY created_at, tool_name`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore ListDraftsByConversation query failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	defer rows.Close()
	return collectDrafts(rows)
}

// ListDrafts returns every stored draft, oldest first.
func (s *SQLiteStore) ListDrafts() ([]models.Draft, error) {
	rows, err := s.db.Query(`SELECT tool_name, conversation_id, id, tenant_id, user_id, slots_json, status, missing_json, labels_json, created_at, updated_at
		FROM drafts ORDER BY created_at, tool_name`)
	if err != nil {
		slog.Error("SQLiteStore ListDrafts query failed", "error", err)
		return nil, err
	}
	defer rows.Close()
	return collectDrafts(rows)
}

// DeleteDraft removes a draft by its composite key.
func (s *SQLiteStore) DeleteDraft(toolName, conversationID string) error {
	_, err := s.db.Exec(`DELETE FROM drafts WHERE tool_name = ? AND conversation_id = ?`, toolName, conversationID)
	if err != nil {
		slog.Error("SQLiteStore DeleteDraft failed", "error", err, "toolName", toolName, "conversationID", conversationID)
		return err
	}
	slog.Debug("SQLiteStore DeleteDraft succeeded", "toolName", toolName, "conversationID", conversationID)
	return nil
}

// SaveBinding stores or replaces a tenant's provider binding.
func (s *SQLiteStore) SaveBinding(binding models.ProviderBinding) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO bindings (tenant_id, base_url, token, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		binding.TenantID, binding.BaseURL, binding.Token, binding.CreatedAt, binding.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveBinding failed", "error", err, "tenantID", binding.TenantID)
		return err
	}
	return nil
}

// GetBinding retrieves a tenant's provider binding.
func (s *SQLiteStore) GetBinding(tenantID string) (*models.ProviderBinding, error) {
	var b models.ProviderBinding
	err := s.db.QueryRow(`SELECT tenant_id, base_url, token, created_at, updated_at FROM bindings WHERE tenant_id = ?`, tenantID).
		Scan(&b.TenantID, &b.BaseURL, &b.Token, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetBinding failed", "error", err, "tenantID", tenantID)
		return nil, err
	}
	return &b, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
