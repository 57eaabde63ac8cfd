// Package postgres implements a PostgreSQL persistence driver on
// database/sql with lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/driveguard/driveguard-go/internal/store"
)

func init() {
	store.Register("postgres", NewDriver)
}

// uniqueViolation is the PostgreSQL error code for unique-constraint hits.
const uniqueViolation = "23505"

// Driver implements store.Driver, store.CredentialStore and
// store.PendingFileStore using PostgreSQL.
type Driver struct {
	dsn string
	db  *sql.DB
}

// NewDriver creates a new PostgreSQL driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("dsn is required for postgres driver")
	}
	return &Driver{dsn: cfg.DSN}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "postgres"
}

// Init opens the connection pool and creates missing tables.
func (d *Driver) Init(ctx context.Context) error {
	db, err := sql.Open("postgres", d.dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	d.db = db

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id VARCHAR(255) PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expiry_date BIGINT NOT NULL,
			created_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			message_id VARCHAR(255) PRIMARY KEY,
			file_id VARCHAR(255) NOT NULL UNIQUE,
			file_url TEXT NOT NULL,
			created_at BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			_ = d.db.Close()
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// PutCredential stores the full credential set. The upsert replaces every
// field so a re-authentication never merges with stale state.
func (d *Driver) PutCredential(ctx context.Context, cred *store.Credential) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (user_id, access_token, refresh_token, expiry_date, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id)
		DO UPDATE SET access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expiry_date = EXCLUDED.expiry_date,
			created_at = EXCLUDED.created_at`,
		cred.UserID, cred.AccessToken, cred.RefreshToken, cred.ExpiryMS, cred.CreatedAt)
	return err
}

// GetCredential retrieves a credential set by user id.
func (d *Driver) GetCredential(ctx context.Context, userID string) (*store.Credential, error) {
	var cred store.Credential
	err := d.db.QueryRowContext(ctx, `
		SELECT user_id, access_token, refresh_token, expiry_date, created_at
		FROM users WHERE user_id = $1`, userID).
		Scan(&cred.UserID, &cred.AccessToken, &cred.RefreshToken, &cred.ExpiryMS, &cred.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// CreatePendingFile inserts a pending decision. The unique constraint on
// file_id turns a concurrent duplicate notification into ErrAlreadyExists.
func (d *Driver) CreatePendingFile(ctx context.Context, pf *store.PendingFile) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO files (message_id, file_id, file_url, created_at)
		VALUES ($1, $2, $3, $4)`,
		pf.MessageID, pf.FileID, pf.FileURL, pf.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetPendingFileByMessageID retrieves a pending decision by prompt message id.
func (d *Driver) GetPendingFileByMessageID(ctx context.Context, messageID string) (*store.PendingFile, error) {
	return d.getPendingFile(ctx, "message_id", messageID)
}

// GetPendingFileByFileID retrieves a pending decision by source file id.
func (d *Driver) GetPendingFileByFileID(ctx context.Context, fileID string) (*store.PendingFile, error) {
	return d.getPendingFile(ctx, "file_id", fileID)
}

func (d *Driver) getPendingFile(ctx context.Context, column, value string) (*store.PendingFile, error) {
	var pf store.PendingFile
	query := fmt.Sprintf(`
		SELECT message_id, file_id, file_url, created_at
		FROM files WHERE %s = $1`, column)
	err := d.db.QueryRowContext(ctx, query, value).
		Scan(&pf.MessageID, &pf.FileID, &pf.FileURL, &pf.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pf, nil
}

// DeletePendingFile removes a consumed record.
func (d *Driver) DeletePendingFile(ctx context.Context, messageID string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM files WHERE message_id = $1`, messageID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
