package testutil

import (
	"context"
	"sync"

	"github.com/driveguard/driveguard-go/internal/store"
)

// Mem is an in-memory store implementing both store interfaces, for
// component tests that do not need a database file.
type Mem struct {
	mu      sync.Mutex
	creds   map[string]store.Credential
	byMsg   map[string]store.PendingFile
	byFile  map[string]string // file id -> message id
}

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		creds:  make(map[string]store.Credential),
		byMsg:  make(map[string]store.PendingFile),
		byFile: make(map[string]string),
	}
}

func (m *Mem) PutCredential(ctx context.Context, cred *store.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.UserID] = *cred
	return nil
}

func (m *Mem) GetCredential(ctx context.Context, userID string) (*store.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cred, nil
}

func (m *Mem) CreatePendingFile(ctx context.Context, pf *store.PendingFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byMsg[pf.MessageID]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := m.byFile[pf.FileID]; ok {
		return store.ErrAlreadyExists
	}
	m.byMsg[pf.MessageID] = *pf
	m.byFile[pf.FileID] = pf.MessageID
	return nil
}

func (m *Mem) GetPendingFileByMessageID(ctx context.Context, messageID string) (*store.PendingFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pf, ok := m.byMsg[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &pf, nil
}

func (m *Mem) GetPendingFileByFileID(ctx context.Context, fileID string) (*store.PendingFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgID, ok := m.byFile[fileID]
	if !ok {
		return nil, store.ErrNotFound
	}
	pf := m.byMsg[msgID]
	return &pf, nil
}

func (m *Mem) DeletePendingFile(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pf, ok := m.byMsg[messageID]
	if !ok {
		return store.ErrNotFound
	}
	delete(m.byMsg, messageID)
	delete(m.byFile, pf.FileID)
	return nil
}
