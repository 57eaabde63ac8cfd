// Package testutil provides shared test helpers for store driver tests.
package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/driveguard/driveguard-go/internal/store"
)

// TestCredential creates a test credential record.
func TestCredential(userID string) *store.Credential {
	return &store.Credential{
		UserID:       userID,
		AccessToken:  "ya29.test-access",
		RefreshToken: "1//test-refresh",
		ExpiryMS:     time.Now().Add(time.Hour).UnixMilli(),
		CreatedAt:    time.Now().Unix(),
	}
}

// TestPendingFile creates a test pending-decision record.
func TestPendingFile(messageID, fileID string) *store.PendingFile {
	return &store.PendingFile{
		MessageID: messageID,
		FileID:    fileID,
		FileURL:   "https://files.example.com/download/" + fileID,
		CreatedAt: time.Now().Unix(),
	}
}

// RunDriverTests runs the standard conformance suite against a driver.
func RunDriverTests(t *testing.T, driverName string, cfg *store.DriverConfig) {
	ctx := context.Background()

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create %s driver: %v", driverName, err)
	}
	defer driver.Close()

	if err := driver.Init(ctx); err != nil {
		t.Fatalf("failed to init %s driver: %v", driverName, err)
	}

	if driver.Name() != driverName {
		t.Errorf("expected driver name %q, got %q", driverName, driver.Name())
	}

	creds, ok := driver.(store.CredentialStore)
	if !ok {
		t.Fatalf("%s driver does not implement CredentialStore", driverName)
	}
	pending, ok := driver.(store.PendingFileStore)
	if !ok {
		t.Fatalf("%s driver does not implement PendingFileStore", driverName)
	}

	t.Run("Credentials", func(t *testing.T) {
		testCredentials(t, ctx, creds)
	})
	t.Run("PendingFiles", func(t *testing.T) {
		testPendingFiles(t, ctx, pending)
	})
}

func testCredentials(t *testing.T, ctx context.Context, s store.CredentialStore) {
	if _, err := s.GetCredential(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing credential: got %v, want ErrNotFound", err)
	}

	cred := TestCredential("U100")
	if err := s.PutCredential(ctx, cred); err != nil {
		t.Fatalf("put credential: %v", err)
	}

	got, err := s.GetCredential(ctx, "U100")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.AccessToken != cred.AccessToken || got.RefreshToken != cred.RefreshToken {
		t.Errorf("credential round-trip mismatch: %+v", got)
	}
	if got.ExpiryMS != cred.ExpiryMS {
		t.Errorf("expiry mismatch: got %d, want %d", got.ExpiryMS, cred.ExpiryMS)
	}

	// A re-authentication replaces the whole record.
	fresh := TestCredential("U100")
	fresh.AccessToken = "ya29.fresh"
	fresh.RefreshToken = "1//fresh"
	if err := s.PutCredential(ctx, fresh); err != nil {
		t.Fatalf("replace credential: %v", err)
	}
	got, err = s.GetCredential(ctx, "U100")
	if err != nil {
		t.Fatalf("get replaced credential: %v", err)
	}
	if got.AccessToken != "ya29.fresh" || got.RefreshToken != "1//fresh" {
		t.Errorf("replace did not take: %+v", got)
	}
}

func testPendingFiles(t *testing.T, ctx context.Context, s store.PendingFileStore) {
	pf := TestPendingFile("1700000000.000100", "F100")
	if err := s.CreatePendingFile(ctx, pf); err != nil {
		t.Fatalf("create pending file: %v", err)
	}

	// Same file id under a different prompt must be rejected: this is the
	// dedup constraint for duplicate notifications.
	dup := TestPendingFile("1700000000.000200", "F100")
	if err := s.CreatePendingFile(ctx, dup); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("duplicate file id: got %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetPendingFileByMessageID(ctx, pf.MessageID)
	if err != nil {
		t.Fatalf("get by message id: %v", err)
	}
	if got.FileID != "F100" || got.FileURL != pf.FileURL {
		t.Errorf("get by message id mismatch: %+v", got)
	}

	got, err = s.GetPendingFileByFileID(ctx, "F100")
	if err != nil {
		t.Fatalf("get by file id: %v", err)
	}
	if got.MessageID != pf.MessageID {
		t.Errorf("get by file id mismatch: %+v", got)
	}

	if _, err := s.GetPendingFileByMessageID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing message id: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetPendingFileByFileID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing file id: got %v, want ErrNotFound", err)
	}

	if err := s.DeletePendingFile(ctx, pf.MessageID); err != nil {
		t.Fatalf("delete pending file: %v", err)
	}
	if _, err := s.GetPendingFileByFileID(ctx, "F100"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("record should be gone after delete, got %v", err)
	}
	if err := s.DeletePendingFile(ctx, pf.MessageID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}

	// After the record is consumed the same file may be prompted again.
	if err := s.CreatePendingFile(ctx, TestPendingFile("1700000000.000300", "F100")); err != nil {
		t.Errorf("re-create after delete: %v", err)
	}
}
