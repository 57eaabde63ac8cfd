// Package workflow implements the consent state machine: it reacts to
// file-visibility notifications, prompts the uploader, and on consent
// drives the transfer pipeline, reporting progress back through the prompt.
//
// Per file the states are implicit: no record means observed-only, an
// existing pending record means prompted, and consumption of the record on
// a successful transfer is the terminal accept. The record's existence is
// all the state the system needs, and it survives restarts.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/driveguard/driveguard-go/internal/appctx"
	"github.com/driveguard/driveguard-go/internal/chat"
	"github.com/driveguard/driveguard-go/internal/oauth"
	"github.com/driveguard/driveguard-go/internal/pipeline"
	"github.com/driveguard/driveguard-go/internal/store"
)

// ChatAPI is the slice of the chat client the workflow uses.
type ChatAPI interface {
	PostEphemeral(ctx context.Context, channelID, userID, text string, blocks []chat.Block) (string, error)
	Respond(ctx context.Context, responseURL, text string) error
	PostMessage(ctx context.Context, channelID, text string) error
	ConversationMembers(ctx context.Context, channelID string) ([]string, error)
	UserEmail(ctx context.Context, userID string) (string, error)
}

// Credentials is the slice of the credential lifecycle manager the
// workflow uses.
type Credentials interface {
	AuthURL(userID string, scopes []string) string
	TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error)
	IsAuthorized(ctx context.Context, userID string) bool
}

// Runner executes one transfer.
type Runner interface {
	Run(ctx context.Context, in pipeline.RunInput, progress func(pipeline.Stage)) (string, error)
}

// DestinationFactory builds a destination client bound to one user's
// token source. Injected so tests can substitute a fake store.
type DestinationFactory func(ctx context.Context, ts oauth2.TokenSource) pipeline.Destination

// Workflow wires the consent flow together. One instance serves all
// channels and users; events for unrelated files may be handled
// concurrently.
type Workflow struct {
	chat       ChatAPI
	creds      Credentials
	pending    store.PendingFileStore
	runner     Runner
	newDest    DestinationFactory
	extensions map[string]struct{}
}

// New creates the consent workflow. Extensions are matched
// case-insensitively against the part of the file name after the final dot.
// Loggers travel on the context, placed there by the delivery layer.
func New(chatAPI ChatAPI, creds Credentials, pending store.PendingFileStore, runner Runner, newDest DestinationFactory, extensions []string) *Workflow {
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Workflow{
		chat:       chatAPI,
		creds:      creds,
		pending:    pending,
		runner:     runner,
		newDest:    newDest,
		extensions: exts,
	}
}

const promptText = "Do you want me to move this file to Google Drive?"

// HandleFileVisible reacts to a file becoming visible in a channel. Out of
// scope files and duplicates are ignored; everything else gets a consent
// prompt and a pending record keyed by the prompt's message id. Errors on
// this path are logged and swallowed: a missed prompt beats a crashed
// event handler.
func (w *Workflow) HandleFileVisible(ctx context.Context, ev chat.FileVisibleEvent) {
	log := appctx.Logger(ctx).With("file_id", ev.FileID)

	if !w.inScope(ev.FileName) {
		log.Debug("file not in scope", "name", ev.FileName)
		return
	}

	// Duplicate notifications for the same file are expected; the first
	// prompt wins.
	if _, err := w.pending.GetPendingFileByFileID(ctx, ev.FileID); err == nil {
		log.Debug("file already pending")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Error("pending lookup failed", "error", err)
		return
	}

	msgID, err := w.chat.PostEphemeral(ctx, ev.ChannelID, ev.UploaderID, promptText, chat.ConsentBlocks())
	if err != nil {
		log.Error("failed to post consent prompt", "error", err)
		return
	}

	err = w.pending.CreatePendingFile(ctx, &store.PendingFile{
		MessageID: msgID,
		FileID:    ev.FileID,
		FileURL:   ev.DownloadURL,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Lost a create race with a concurrent duplicate notification.
			log.Info("pending record already created concurrently")
			return
		}
		log.Error("failed to record pending decision", "error", err)
		return
	}

	log.Info("consent prompt posted", "prompt_id", msgID, "channel", ev.ChannelID)
}

// HandleDecision reacts to the uploader clicking one of the prompt
// buttons. The triggering event was already acknowledged by the delivery
// layer; from here failures are reported to the user, not swallowed.
func (w *Workflow) HandleDecision(ctx context.Context, ev chat.DecisionEvent) {
	log := appctx.Logger(ctx).With("prompt_id", ev.PromptMessageID, "user_id", ev.UserID)

	if ev.Decision == chat.DecisionDecline {
		if err := w.chat.Respond(ctx, ev.ResponseURL, "Roger that, leaving it where it is."); err != nil {
			log.Warn("failed to acknowledge decline", "error", err)
		}
		return
	}

	ts, err := w.creds.TokenSource(ctx, ev.UserID)
	if err != nil {
		if errors.Is(err, oauth.ErrNoCredential) {
			// The pending record stays so the user can authorize and click
			// the button again.
			w.respond(ctx, ev.ResponseURL, "Please authenticate with Google Drive first: run `/driveguard login`, then click Yes again.")
			return
		}
		log.Error("failed to resolve credential", "error", err)
		w.respond(ctx, ev.ResponseURL, "Something went wrong resolving your Google Drive authorization.")
		return
	}

	pf, err := w.pending.GetPendingFileByMessageID(ctx, ev.PromptMessageID)
	if err != nil {
		// The prompt itself carried the buttons, so a missing record is a
		// logic error worth surfacing, not a silent success.
		log.Error("no pending record for prompt", "error", err)
		w.respond(ctx, ev.ResponseURL, "Something went wrong: I can't find the file this prompt was about.")
		return
	}

	audience, err := w.resolveAudience(ctx, ev.ChannelID)
	if err != nil {
		log.Error("failed to resolve audience", "error", err)
		w.respond(ctx, ev.ResponseURL, "Something went wrong while looking up the channel members.")
		return
	}

	progressLines := []string{"Working on it..."}
	w.respond(ctx, ev.ResponseURL, strings.Join(progressLines, "\n"))
	progress := func(s pipeline.Stage) {
		progressLines = append(progressLines, "✅ Done "+s.Label())
		w.respond(ctx, ev.ResponseURL, strings.Join(progressLines, "\n"))
	}

	link, err := w.runner.Run(ctx, pipeline.RunInput{
		Destination: w.newDest(ctx, ts),
		DownloadURL: pf.FileURL,
		FileID:      pf.FileID,
		FileName:    fileName(pf.FileURL),
		Audience:    audience,
	}, progress)
	if err != nil {
		log.Error("transfer failed", "file_id", pf.FileID, "error", err)
		label := "transferring the file"
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			label = stageErr.Stage.Label()
		}
		progressLines = append(progressLines, "⚠️ Something went wrong while "+label+". The file was left as-is.")
		w.respond(ctx, ev.ResponseURL, strings.Join(progressLines, "\n"))
		return
	}

	progressLines = append(progressLines, "Done! Posting the link in the channel.")
	w.respond(ctx, ev.ResponseURL, strings.Join(progressLines, "\n"))

	if err := w.chat.PostMessage(ctx, ev.ChannelID, fmt.Sprintf("File shared by <@%s>: %s", ev.UserID, link)); err != nil {
		log.Error("failed to post destination link", "error", err)
	}

	// The decision is consumed; purge the record so storage stays bounded.
	if err := w.pending.DeletePendingFile(ctx, ev.PromptMessageID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("failed to purge consumed record", "error", err)
	}
}

// HandleCommand reacts to the slash command. The only recognized
// subcommand is "login"; anything else is a silent no-op.
func (w *Workflow) HandleCommand(ctx context.Context, ev chat.CommandEvent) {
	log := appctx.Logger(ctx).With("user_id", ev.UserID)

	if strings.TrimSpace(ev.Text) != "login" {
		return
	}

	if w.creds.IsAuthorized(ctx, ev.UserID) {
		w.respond(ctx, ev.ResponseURL, "You are already authenticated!")
		return
	}

	url := w.creds.AuthURL(ev.UserID, []string{oauth.ScopeDriveFile})
	log.Info("issued authorization url")
	w.respond(ctx, ev.ResponseURL, "<"+url+"|Please click here to authorize Driveguard to use Google Drive>")
}

// respond sends an ephemeral reply, logging delivery failures.
func (w *Workflow) respond(ctx context.Context, responseURL, text string) {
	if err := w.chat.Respond(ctx, responseURL, text); err != nil {
		appctx.Logger(ctx).Warn("failed to respond", "error", err)
	}
}

// inScope reports whether a file name's extension is on the allow-list.
// Matching is case-insensitive: "report.PDF" and "report.pdf" carry the
// same payload.
func (w *Workflow) inScope(name string) bool {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return false
	}
	_, ok := w.extensions[strings.ToLower(name[i+1:])]
	return ok
}

// fileName extracts the original file name from the download locator.
func fileName(downloadURL string) string {
	if i := strings.LastIndex(downloadURL, "/"); i >= 0 {
		return downloadURL[i+1:]
	}
	return downloadURL
}
