// Package pipeline moves one file from the chat platform into the
// destination store: fetch, locate-or-create folder, upload, grant access,
// cleanup. Stages run strictly in order; any failure aborts the remainder
// and nothing already done is rolled back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/driveguard/driveguard-go/internal/appctx"
	"github.com/driveguard/driveguard-go/internal/chat"
	"github.com/driveguard/driveguard-go/internal/drive"
)

// Stage identifies one ordered step of a transfer.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageFolder  Stage = "folder"
	StageUpload  Stage = "upload"
	StageGrant   Stage = "grant"
	StageCleanup Stage = "cleanup"
)

// Label returns the user-facing description of a stage, used in progress
// and failure messages.
func (s Stage) Label() string {
	switch s {
	case StageFetch:
		return "downloading the file"
	case StageFolder:
		return "locating the secure folder"
	case StageUpload:
		return "uploading to Google Drive"
	case StageGrant:
		return "sharing with channel members"
	case StageCleanup:
		return "removing the original file"
	default:
		return string(s)
	}
}

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Source is the chat-platform side of a transfer.
type Source interface {
	Download(ctx context.Context, downloadURL string, w io.Writer) error
	DeleteFile(ctx context.Context, fileID string) error
}

// Destination is the store side of a transfer, already bound to the acting
// user's credential.
type Destination interface {
	EnsureFolder(ctx context.Context, name string) (string, error)
	Upload(ctx context.Context, folderID, name string, content io.Reader) (string, error)
	GrantReader(ctx context.Context, fileID, email string) error
}

// Options configures a Pipeline.
type Options struct {
	// StagingDir is where fetched bytes are staged before upload.
	StagingDir string

	// FolderName is the well-known destination folder.
	FolderName string

	// RetryMaxElapsed bounds per-stage retry of transient failures.
	// Zero disables retry.
	RetryMaxElapsed time.Duration
}

// Pipeline runs transfers. It owns no persisted state; everything it needs
// arrives with each run.
type Pipeline struct {
	source Source
	opts   Options
}

// New creates a transfer pipeline. Loggers travel on the context.
func New(source Source, opts Options) *Pipeline {
	return &Pipeline{source: source, opts: opts}
}

// RunInput is everything one transfer needs.
type RunInput struct {
	// Destination acts as the consenting user.
	Destination Destination

	// DownloadURL is the source platform's download locator.
	DownloadURL string

	// FileID is the source platform's file identifier, used for the
	// terminal delete.
	FileID string

	// FileName is the original name, kept on the uploaded object.
	FileName string

	// Audience is the set of grant recipients.
	Audience []string
}

// Run executes the staged transfer and returns the shareable destination
// link. progress is called as each stage completes; it may be nil.
func (p *Pipeline) Run(ctx context.Context, in RunInput, progress func(Stage)) (string, error) {
	log := appctx.Logger(ctx)
	report := func(s Stage) {
		log.Info("stage complete", "stage", string(s), "file_id", in.FileID)
		if progress != nil {
			progress(s)
		}
	}

	// Staged names derive from a fresh UUID so concurrent transfers never
	// collide in the shared staging directory.
	staged := filepath.Join(p.opts.StagingDir, uuid.NewString()+"-"+filepath.Base(in.FileName))
	defer os.Remove(staged)

	if err := p.runStage(ctx, StageFetch, func() error {
		return p.fetch(ctx, in.DownloadURL, staged)
	}); err != nil {
		return "", err
	}
	report(StageFetch)

	var folderID string
	if err := p.runStage(ctx, StageFolder, func() error {
		var err error
		folderID, err = in.Destination.EnsureFolder(ctx, p.opts.FolderName)
		return err
	}); err != nil {
		return "", err
	}
	report(StageFolder)

	var objectID string
	if err := p.runStage(ctx, StageUpload, func() error {
		f, err := os.Open(staged)
		if err != nil {
			return err
		}
		defer f.Close()
		objectID, err = in.Destination.Upload(ctx, folderID, in.FileName, f)
		return err
	}); err != nil {
		return "", err
	}
	report(StageUpload)

	if err := p.runStage(ctx, StageGrant, func() error {
		return p.grantAll(ctx, in.Destination, objectID, in.Audience)
	}); err != nil {
		return "", err
	}
	report(StageGrant)

	if err := p.runStage(ctx, StageCleanup, func() error {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			return err
		}
		return p.source.DeleteFile(ctx, in.FileID)
	}); err != nil {
		return "", err
	}
	report(StageCleanup)

	return drive.FileLink(objectID), nil
}

// fetch streams the file bytes into the staged path.
func (p *Pipeline) fetch(ctx context.Context, downloadURL, staged string) error {
	f, err := os.Create(staged)
	if err != nil {
		return err
	}
	if err := p.source.Download(ctx, downloadURL, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// grantAll issues every grant concurrently and fails if any grant failed.
// All grants are attempted regardless of individual failures; already
// issued grants are not revoked.
func (p *Pipeline) grantAll(ctx context.Context, dest Destination, objectID string, audience []string) error {
	errs := make([]error, len(audience))
	var wg sync.WaitGroup
	for i, email := range audience {
		wg.Add(1)
		go func(i int, email string) {
			defer wg.Done()
			if err := dest.GrantReader(ctx, objectID, email); err != nil {
				errs[i] = fmt.Errorf("grant to %s: %w", email, err)
			}
		}(i, email)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// runStage executes one stage, retrying transient failures within the
// configured elapsed-time bound and wrapping the terminal error with the
// stage name.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, op func() error) error {
	run := op
	if p.opts.RetryMaxElapsed > 0 {
		run = func() error {
			_, err := backoff.Retry(ctx, func() (struct{}, error) {
				if err := op(); err != nil {
					if !retryable(err) {
						return struct{}{}, backoff.Permanent(err)
					}
					return struct{}{}, err
				}
				return struct{}{}, nil
			}, backoff.WithMaxElapsedTime(p.opts.RetryMaxElapsed))
			return err
		}
	}

	if err := run(); err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// retryable reports whether an error is worth retrying. Platform-level
// rejections are deterministic; connectivity and server-side failures are
// not.
func retryable(err error) bool {
	if errors.Is(err, drive.ErrAmbiguousFolder) {
		return false
	}
	var driveErr *drive.APIError
	if errors.As(err, &driveErr) {
		return driveErr.Status == 429 || driveErr.Status >= 500
	}
	var chatErr *chat.APIError
	if errors.As(err, &chatErr) {
		return false
	}
	return true
}
