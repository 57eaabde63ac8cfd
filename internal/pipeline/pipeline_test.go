package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/driveguard/driveguard-go/internal/drive"
	"github.com/driveguard/driveguard-go/internal/pipeline"
)

type fakeSource struct {
	mu       sync.Mutex
	calls    []string
	content  string
	download error
	delete   error
}

func (s *fakeSource) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeSource) Download(ctx context.Context, downloadURL string, w io.Writer) error {
	s.record("download")
	if s.download != nil {
		return s.download
	}
	_, err := io.WriteString(w, s.content)
	return err
}

func (s *fakeSource) DeleteFile(ctx context.Context, fileID string) error {
	s.record("delete:" + fileID)
	return s.delete
}

type fakeDest struct {
	mu         sync.Mutex
	calls      []string
	grants     []string
	uploaded   string
	folderErr  error
	uploadErr  error
	grantFails map[string]error
}

func (d *fakeDest) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDest) EnsureFolder(ctx context.Context, name string) (string, error) {
	d.record("folder:" + name)
	if d.folderErr != nil {
		return "", d.folderErr
	}
	return "folder-1", nil
}

func (d *fakeDest) Upload(ctx context.Context, folderID, name string, content io.Reader) (string, error) {
	data, _ := io.ReadAll(content)
	d.mu.Lock()
	d.uploaded = string(data)
	d.mu.Unlock()
	d.record(fmt.Sprintf("upload:%s/%s", folderID, name))
	if d.uploadErr != nil {
		return "", d.uploadErr
	}
	return "obj-1", nil
}

func (d *fakeDest) GrantReader(ctx context.Context, fileID, email string) error {
	d.mu.Lock()
	d.grants = append(d.grants, email)
	d.mu.Unlock()
	d.record("grant:" + email)
	if err, ok := d.grantFails[email]; ok {
		return err
	}
	return nil
}

func newPipeline(t *testing.T, src *fakeSource, retry time.Duration) *pipeline.Pipeline {
	t.Helper()
	return pipeline.New(src, pipeline.Options{
		StagingDir:      t.TempDir(),
		FolderName:      "Driveguard Files",
		RetryMaxElapsed: retry,
	})
}

func runInput(dest *fakeDest, audience ...string) pipeline.RunInput {
	return pipeline.RunInput{
		Destination: dest,
		DownloadURL: "https://files.example.com/dl/F1",
		FileID:      "F1",
		FileName:    "secret.csv",
		Audience:    audience,
	}
}

func TestRunHappyPathOrdering(t *testing.T) {
	src := &fakeSource{content: "a,b,c\n"}
	dest := &fakeDest{}
	p := newPipeline(t, src, 0)

	var stages []pipeline.Stage
	link, err := p.Run(context.Background(), runInput(dest, "alice@example.com"), func(s pipeline.Stage) {
		stages = append(stages, s)
	})
	if err != nil {
		t.Fatal(err)
	}
	if link != "https://drive.google.com/file/d/obj-1/view?usp=sharing" {
		t.Errorf("link = %q", link)
	}
	if dest.uploaded != "a,b,c\n" {
		t.Errorf("uploaded bytes = %q", dest.uploaded)
	}

	wantStages := []pipeline.Stage{
		pipeline.StageFetch, pipeline.StageFolder, pipeline.StageUpload,
		pipeline.StageGrant, pipeline.StageCleanup,
	}
	if len(stages) != len(wantStages) {
		t.Fatalf("stages = %v", stages)
	}
	for i := range wantStages {
		if stages[i] != wantStages[i] {
			t.Errorf("stage[%d] = %s, want %s", i, stages[i], wantStages[i])
		}
	}

	// Source-side ordering: download strictly before delete.
	if len(src.calls) != 2 || src.calls[0] != "download" || src.calls[1] != "delete:F1" {
		t.Errorf("source calls = %v", src.calls)
	}
	// Destination-side ordering: folder before upload before grant.
	if len(dest.calls) != 3 {
		t.Fatalf("dest calls = %v", dest.calls)
	}
	if dest.calls[0] != "folder:Driveguard Files" || !strings.HasPrefix(dest.calls[1], "upload:folder-1/") || dest.calls[2] != "grant:alice@example.com" {
		t.Errorf("dest calls = %v", dest.calls)
	}
}

func TestRunFetchFailureAbortsEverything(t *testing.T) {
	src := &fakeSource{download: errors.New("connection reset")}
	dest := &fakeDest{}
	p := newPipeline(t, src, 0)

	_, err := p.Run(context.Background(), runInput(dest, "alice@example.com"), nil)
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != pipeline.StageFetch {
		t.Fatalf("got %v, want fetch stage error", err)
	}
	if len(dest.calls) != 0 {
		t.Errorf("no destination call should happen after fetch fails: %v", dest.calls)
	}
	if len(src.calls) != 1 {
		t.Errorf("source delete must not run: %v", src.calls)
	}
}

func TestRunGrantFanOutAllAttempted(t *testing.T) {
	src := &fakeSource{content: "x"}
	dest := &fakeDest{grantFails: map[string]error{
		"bob@example.com": errors.New("permission quota exceeded"),
	}}
	p := newPipeline(t, src, 0)

	audience := []string{"alice@example.com", "bob@example.com", "carol@example.com"}
	_, err := p.Run(context.Background(), runInput(dest, audience...), nil)

	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != pipeline.StageGrant {
		t.Fatalf("got %v, want grant stage error", err)
	}
	if len(dest.grants) != 3 {
		t.Errorf("all grants must be attempted, got %v", dest.grants)
	}
	// The original upload is never deleted on a grant failure.
	for _, call := range src.calls {
		if strings.HasPrefix(call, "delete") {
			t.Error("source delete must not run after grant failure")
		}
	}
}

func TestRunUploadFailureSkipsGrantAndCleanup(t *testing.T) {
	src := &fakeSource{content: "x"}
	dest := &fakeDest{uploadErr: &drive.APIError{Status: 403, Message: "quota"}}
	p := newPipeline(t, src, 0)

	_, err := p.Run(context.Background(), runInput(dest, "alice@example.com"), nil)
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != pipeline.StageUpload {
		t.Fatalf("got %v, want upload stage error", err)
	}
	if len(dest.grants) != 0 {
		t.Errorf("grants must not run: %v", dest.grants)
	}
}

func TestRunRetriesTransientFolderFailure(t *testing.T) {
	src := &fakeSource{content: "x"}
	dest := &fakeDest{}
	var attempts int
	dest.folderErr = &drive.APIError{Status: 503, Message: "backend unavailable"}
	p := newPipeline(t, src, 5*time.Second)

	// Fail twice, then succeed.
	origEnsure := dest.folderErr
	dest.folderErr = nil
	wrapped := &countingDest{fakeDest: dest, failTwice: origEnsure, attempts: &attempts}

	in := runInput(dest)
	in.Destination = wrapped
	if _, err := p.Run(context.Background(), in, nil); err != nil {
		t.Fatalf("transient failure should be retried away: %v", err)
	}
	if attempts < 3 {
		t.Errorf("attempts = %d, want at least 3", attempts)
	}
}

func TestRunDoesNotRetryAmbiguousFolder(t *testing.T) {
	src := &fakeSource{content: "x"}
	dest := &fakeDest{}
	var attempts int
	wrapped := &countingDest{fakeDest: dest, alwaysFail: drive.ErrAmbiguousFolder, attempts: &attempts}

	p := newPipeline(t, src, 5*time.Second)
	in := runInput(dest)
	in.Destination = wrapped

	_, err := p.Run(context.Background(), in, nil)
	if !errors.Is(err, drive.ErrAmbiguousFolder) {
		t.Fatalf("got %v", err)
	}
	if attempts != 1 {
		t.Errorf("ambiguous folder must not be retried, attempts = %d", attempts)
	}
}

// countingDest wraps fakeDest to inject EnsureFolder failures.
type countingDest struct {
	*fakeDest
	failTwice  error
	alwaysFail error
	attempts   *int
}

func (d *countingDest) EnsureFolder(ctx context.Context, name string) (string, error) {
	*d.attempts++
	if d.alwaysFail != nil {
		return "", d.alwaysFail
	}
	if d.failTwice != nil && *d.attempts <= 2 {
		return "", d.failTwice
	}
	return d.fakeDest.EnsureFolder(ctx, name)
}

func TestStageLabels(t *testing.T) {
	for _, s := range []pipeline.Stage{
		pipeline.StageFetch, pipeline.StageFolder, pipeline.StageUpload,
		pipeline.StageGrant, pipeline.StageCleanup,
	} {
		if s.Label() == string(s) {
			t.Errorf("stage %s has no label", s)
		}
	}
}
