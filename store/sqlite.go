package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/llmgate/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			total_tokens INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
		`CREATE TABLE IF NOT EXISTS providers (
			provider_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			base_url TEXT,
			api_key TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS models (
			model_id TEXT PRIMARY KEY,
			provider_id TEXT NOT NULL,
			max_context_tokens INTEGER NOT NULL,
			cost_per_k_input REAL NOT NULL DEFAULT 0,
			cost_per_k_output REAL NOT NULL DEFAULT 0,
			FOREIGN KEY (provider_id) REFERENCES providers(provider_id)
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			credential_id TEXT PRIMARY KEY,
			provider_id TEXT NOT NULL,
			scope TEXT NOT NULL,
			user_id TEXT,
			secret_sealed BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (provider_id) REFERENCES providers(provider_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_provider ON credentials(provider_id, scope, user_id)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			record_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			estimated_cost REAL NOT NULL,
			duration_ms INTEGER NOT NULL,
			success INTEGER NOT NULL,
			error_message TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_records(session_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetSessionContext loads a session and its messages in append order.
func (s *SQLiteStore) GetSessionContext(ctx context.Context, sessionID string) (*domain.SessionContext, error) {
	var sc domain.SessionContext
	var metadata sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, metadata, created_at, last_updated_at, total_tokens FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&sc.SessionID, &metadata, &sc.CreatedAt, &sc.LastUpdatedAt, &sc.TotalTokens)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &sc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode session metadata: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, role, content, token_count, created_at FROM messages WHERE session_id = ? ORDER BY rowid ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.MessageID, &m.Role, &m.Content, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, err
		}
		sc.Messages = append(sc.Messages, m)
	}
	return &sc, rows.Err()
}

// SaveSessionContext upserts the session row and inserts messages that are
// not yet persisted. Already-stored messages are left untouched.
func (s *SQLiteStore) SaveSessionContext(ctx context.Context, sc *domain.SessionContext) error {
	metadata := ""
	if len(sc.Metadata) > 0 {
		b, err := json.Marshal(sc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode session metadata: %w", err)
		}
		metadata = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, metadata, created_at, last_updated_at, total_tokens) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET metadata = excluded.metadata, last_updated_at = excluded.last_updated_at, total_tokens = excluded.total_tokens`,
		sc.SessionID, nullString(metadata), sc.CreatedAt, sc.LastUpdatedAt, sc.TotalTokens); err != nil {
		return err
	}

	for _, m := range sc.Messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO messages (message_id, session_id, role, content, token_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			m.MessageID, sc.SessionID, m.Role, m.Content, m.TokenCount, m.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordUsage inserts a write-once usage record.
func (s *SQLiteStore) RecordUsage(ctx context.Context, rec *domain.UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (record_id, session_id, model_id, input_tokens, output_tokens, estimated_cost, duration_ms, success, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordID, rec.SessionID, rec.ModelID, rec.InputTokens, rec.OutputTokens, rec.EstimatedCost, rec.DurationMs, rec.Success, nullString(rec.ErrorMessage), rec.CreatedAt)
	return err
}

// GetUsage lists usage records for a session, newest first.
func (s *SQLiteStore) GetUsage(ctx context.Context, sessionID string, limit int) ([]domain.UsageRecord, error) {
	query := `SELECT record_id, session_id, model_id, input_tokens, output_tokens, estimated_cost, duration_ms, success, error_message, created_at
		FROM usage_records WHERE session_id = ? ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UsageRecord
	for rows.Next() {
		var rec domain.UsageRecord
		var errMsg sql.NullString
		if err := rows.Scan(&rec.RecordID, &rec.SessionID, &rec.ModelID, &rec.InputTokens, &rec.OutputTokens, &rec.EstimatedCost, &rec.DurationMs, &rec.Success, &errMsg, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			rec.ErrorMessage = errMsg.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UsageSummary aggregates records per model.
func (s *SQLiteStore) UsageSummary(ctx context.Context) ([]domain.UsageSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(estimated_cost), 0)
		 FROM usage_records GROUP BY model_id ORDER BY model_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UsageSummary
	for rows.Next() {
		var sum domain.UsageSummary
		if err := rows.Scan(&sum.ModelID, &sum.ExchangeCount, &sum.InputTokens, &sum.OutputTokens, &sum.EstimatedCost); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// UpsertProvider creates or updates a provider.
func (s *SQLiteStore) UpsertProvider(ctx context.Context, p *domain.Provider) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO providers (provider_id, name, base_url, api_key, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ProviderID, p.Name, nullString(p.BaseURL), nullString(p.APIKey), p.CreatedAt)
	return err
}

// GetProvider retrieves a provider by ID.
func (s *SQLiteStore) GetProvider(ctx context.Context, providerID string) (*domain.Provider, error) {
	var p domain.Provider
	var baseURL, apiKey sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT provider_id, name, base_url, api_key, created_at FROM providers WHERE provider_id = ?`,
		providerID).Scan(&p.ProviderID, &p.Name, &baseURL, &apiKey, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if baseURL.Valid {
		p.BaseURL = baseURL.String
	}
	if apiKey.Valid {
		p.APIKey = apiKey.String
	}
	return &p, nil
}

// UpsertModel creates or updates a model catalog entry.
func (s *SQLiteStore) UpsertModel(ctx context.Context, m *domain.ModelInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO models (model_id, provider_id, max_context_tokens, cost_per_k_input, cost_per_k_output) VALUES (?, ?, ?, ?, ?)`,
		m.ModelID, m.ProviderID, m.MaxContextTokens, m.CostPerKInput, m.CostPerKOutput)
	return err
}

// GetModel retrieves a model by ID.
func (s *SQLiteStore) GetModel(ctx context.Context, modelID string) (*domain.ModelInfo, error) {
	var m domain.ModelInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT model_id, provider_id, max_context_tokens, cost_per_k_input, cost_per_k_output FROM models WHERE model_id = ?`,
		modelID).Scan(&m.ModelID, &m.ProviderID, &m.MaxContextTokens, &m.CostPerKInput, &m.CostPerKOutput)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListModels lists the model catalog.
func (s *SQLiteStore) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, provider_id, max_context_tokens, cost_per_k_input, cost_per_k_output FROM models ORDER BY model_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ModelInfo
	for rows.Next() {
		var m domain.ModelInfo
		if err := rows.Scan(&m.ModelID, &m.ProviderID, &m.MaxContextTokens, &m.CostPerKInput, &m.CostPerKOutput); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutCredential stores a sealed credential.
func (s *SQLiteStore) PutCredential(ctx context.Context, c *domain.Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO credentials (credential_id, provider_id, scope, user_id, secret_sealed, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.CredentialID, c.ProviderID, c.Scope, nullString(c.UserID), c.SecretSealed, c.CreatedAt)
	return err
}

// GetCredential resolves a credential for a provider, preferring a per-user
// credential when userID is set and falling back to the system scope.
func (s *SQLiteStore) GetCredential(ctx context.Context, providerID, userID string) (*domain.Credential, error) {
	if userID != "" {
		c, err := s.queryCredential(ctx,
			`SELECT credential_id, provider_id, scope, user_id, secret_sealed, created_at FROM credentials WHERE provider_id = ? AND scope = ? AND user_id = ?`,
			providerID, domain.ScopeUser, userID)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
	}
	return s.queryCredential(ctx,
		`SELECT credential_id, provider_id, scope, user_id, secret_sealed, created_at FROM credentials WHERE provider_id = ? AND scope = ?`,
		providerID, domain.ScopeSystem)
}

func (s *SQLiteStore) queryCredential(ctx context.Context, query string, args ...interface{}) (*domain.Credential, error) {
	var c domain.Credential
	var userID sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&c.CredentialID, &c.ProviderID, &c.Scope, &userID, &c.SecretSealed, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		c.UserID = userID.String
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
