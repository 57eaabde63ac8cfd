// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/driveguard/driveguard-go/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver implements store.Driver, store.CredentialStore and
// store.PendingFileStore using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init opens the database and runs AutoMigrate, which creates the users
// and files tables idempotently.
func (d *Driver) Init(ctx context.Context) error {
	dbPath := filepath.Join(d.dataDir, "driveguard.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	if err := db.AutoMigrate(
		&store.Credential{},
		&store.PendingFile{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PutCredential stores the full credential set, replacing any existing
// record for the user in one statement.
func (d *Driver) PutCredential(ctx context.Context, cred *store.Credential) error {
	result := d.db.WithContext(ctx).Save(cred)
	return result.Error
}

// GetCredential retrieves a credential set by user id.
func (d *Driver) GetCredential(ctx context.Context, userID string) (*store.Credential, error) {
	var cred store.Credential
	result := d.db.WithContext(ctx).First(&cred, "user_id = ?", userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &cred, nil
}

// CreatePendingFile inserts a pending decision. The unique index on
// file_id turns a duplicate notification into ErrAlreadyExists.
func (d *Driver) CreatePendingFile(ctx context.Context, pf *store.PendingFile) error {
	result := d.db.WithContext(ctx).Create(pf)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return store.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

// GetPendingFileByMessageID retrieves a pending decision by prompt message id.
func (d *Driver) GetPendingFileByMessageID(ctx context.Context, messageID string) (*store.PendingFile, error) {
	var pf store.PendingFile
	result := d.db.WithContext(ctx).First(&pf, "message_id = ?", messageID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &pf, nil
}

// GetPendingFileByFileID retrieves a pending decision by source file id.
func (d *Driver) GetPendingFileByFileID(ctx context.Context, fileID string) (*store.PendingFile, error) {
	var pf store.PendingFile
	result := d.db.WithContext(ctx).First(&pf, "file_id = ?", fileID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &pf, nil
}

// DeletePendingFile removes a consumed record.
func (d *Driver) DeletePendingFile(ctx context.Context, messageID string) error {
	result := d.db.WithContext(ctx).Delete(&store.PendingFile{}, "message_id = ?", messageID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
