// Package store provides persistence primitives and driver abstractions.
//
// Two tables back the whole system: users holds one delegated credential
// set per chat user, files holds the pending consent decisions keyed by
// the prompt message. Drivers register themselves by name and are selected
// through config.
package store

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init opens the backend and creates missing tables idempotently.
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (sqlite, postgres).
	Name() string
}

// CredentialStore defines operations for delegated-credential persistence.
type CredentialStore interface {
	// PutCredential stores the full credential set for a user, replacing
	// any existing record wholesale. Partial fields are never merged.
	PutCredential(ctx context.Context, cred *Credential) error

	// GetCredential returns the credential set for a user, or ErrNotFound.
	GetCredential(ctx context.Context, userID string) (*Credential, error)
}

// PendingFileStore defines operations for pending-decision persistence.
type PendingFileStore interface {
	// CreatePendingFile records a file awaiting a decision. A duplicate
	// message id or file id returns ErrAlreadyExists; the file-id unique
	// constraint is what closes the duplicate-notification race.
	CreatePendingFile(ctx context.Context, pf *PendingFile) error

	// GetPendingFileByMessageID returns the record for a prompt message,
	// or ErrNotFound.
	GetPendingFileByMessageID(ctx context.Context, messageID string) (*PendingFile, error)

	// GetPendingFileByFileID returns the record for a source file, or
	// ErrNotFound.
	GetPendingFileByFileID(ctx context.Context, fileID string) (*PendingFile, error)

	// DeletePendingFile removes a consumed record. Deleting a missing
	// record returns ErrNotFound.
	DeletePendingFile(ctx context.Context, messageID string) error
}

// Credential is one user's delegated authorization against the destination
// store.
type Credential struct {
	UserID       string `json:"user_id" gorm:"column:user_id;primaryKey"`
	AccessToken  string `json:"access_token,omitempty" gorm:"column:access_token"`
	RefreshToken string `json:"refresh_token,omitempty" gorm:"column:refresh_token"`
	// ExpiryMS is the access-token expiry as unix milliseconds.
	ExpiryMS  int64 `json:"expiry_ms" gorm:"column:expiry_date"`
	CreatedAt int64 `json:"created_at" gorm:"column:created_at"`
}

// TableName keeps the original schema's table name.
func (Credential) TableName() string { return "users" }

// PendingFile is one file awaiting the uploader's accept/decline. The
// record's existence is the workflow state: present means prompted.
type PendingFile struct {
	// MessageID is the id of the prompt message shown to the uploader.
	MessageID string `json:"message_id" gorm:"column:message_id;primaryKey"`
	// FileID is the source platform's file identifier.
	FileID string `json:"file_id" gorm:"column:file_id;uniqueIndex"`
	// FileURL is the opaque download locator for the file bytes.
	FileURL   string `json:"file_url" gorm:"column:file_url"`
	CreatedAt int64  `json:"created_at" gorm:"column:created_at"`
}

// TableName keeps the original schema's table name.
func (PendingFile) TableName() string { return "files" }
