// Package socketmode implements the tunneled event-delivery transport: a
// websocket connection the platform pushes event envelopes through, for
// deployments that cannot expose a public HTTP endpoint.
package socketmode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/driveguard/driveguard-go/internal/appctx"
	"github.com/driveguard/driveguard-go/internal/chat"
)

// reconnectDelay is how long to wait before re-opening a dropped connection.
const reconnectDelay = 2 * time.Second

// FileInfoResolver resolves a file id into full metadata. Satisfied by
// *chat.Client.
type FileInfoResolver interface {
	FileInfo(ctx context.Context, fileID string) (*chat.File, error)
}

// Conn maintains the socket-mode connection and dispatches envelopes.
type Conn struct {
	apiBase  string
	appToken string
	httpc    *http.Client
	files    FileInfoResolver
	handlers chat.Handlers
	logger   *slog.Logger

	// dialURL overrides the URL returned by connection open (tests).
	dialURL string
}

// New creates a socket-mode connection manager. Events are dispatched to
// handlers; file-visibility events are enriched through files first.
func New(apiBase, appToken string, files FileInfoResolver, handlers chat.Handlers, logger *slog.Logger) *Conn {
	return &Conn{
		apiBase:  apiBase,
		appToken: appToken,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		files:    files,
		handlers: handlers,
		logger:   logger,
	}
}

// Run connects and processes envelopes until ctx is cancelled, reconnecting
// on disconnects.
func (c *Conn) Run(ctx context.Context) error {
	for {
		if err := c.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("socket connection lost, reconnecting", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Conn) runOnce(ctx context.Context) error {
	wsURL := c.dialURL
	if wsURL == "" {
		var err error
		wsURL, err = c.openConnection(ctx)
		if err != nil {
			return err
		}
	}

	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial socket url: %w", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")
	ws.SetReadLimit(1 << 20)

	for {
		var env envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			return fmt.Errorf("socket read: %w", err)
		}
		c.handleEnvelope(ctx, ws, env)
	}
}

// openConnection asks the platform for a fresh websocket URL.
func (c *Conn) openConnection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.appToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("apps.connections.open: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		URL   string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("apps.connections.open: %w", err)
	}
	if !body.OK {
		return "", fmt.Errorf("apps.connections.open: %s", body.Error)
	}
	return body.URL, nil
}

// envelope is one pushed message on the socket.
type envelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

func (c *Conn) handleEnvelope(ctx context.Context, ws *websocket.Conn, env envelope) {
	// The delivery contract requires acknowledging the envelope before any
	// long-running work; an un-acked envelope is redelivered.
	if env.EnvelopeID != "" {
		ack := map[string]string{"envelope_id": env.EnvelopeID}
		if err := wsjson.Write(ctx, ws, ack); err != nil {
			c.logger.Warn("failed to ack envelope", "envelope_id", env.EnvelopeID, "error", err)
		}
	}

	ctx = appctx.WithEventLogger(ctx, c.logger, env.EnvelopeID)

	switch env.Type {
	case "hello", "disconnect", "":
		// hello carries no event; disconnect is followed by the server
		// closing, which the read loop handles.
	case "events_api":
		c.dispatchEvent(ctx, env.Payload)
	case "interactive":
		c.dispatchInteractive(ctx, env.Payload)
	case "slash_commands":
		c.dispatchCommand(ctx, env.Payload)
	default:
		c.logger.Debug("ignoring envelope", "type", env.Type)
	}
}

func (c *Conn) dispatchEvent(ctx context.Context, payload json.RawMessage) {
	var body struct {
		Event struct {
			Type   string `json:"type"`
			FileID string `json:"file_id"`
			UserID string `json:"user_id"`
		} `json:"event"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		c.logger.Warn("failed to parse event payload", "error", err)
		return
	}
	if body.Event.Type != "file_public" {
		return
	}

	ev, err := ResolveFileEvent(ctx, c.files, body.Event.FileID, body.Event.UserID)
	if err != nil {
		c.logger.Warn("failed to resolve file event", "file_id", body.Event.FileID, "error", err)
		return
	}
	c.handlers.HandleFileVisible(ctx, *ev)
}

func (c *Conn) dispatchInteractive(ctx context.Context, payload json.RawMessage) {
	ev, err := ParseInteractionPayload(payload)
	if err != nil {
		c.logger.Warn("failed to parse interaction payload", "error", err)
		return
	}
	if ev == nil {
		return
	}
	c.handlers.HandleDecision(ctx, *ev)
}

func (c *Conn) dispatchCommand(ctx context.Context, payload json.RawMessage) {
	var body struct {
		UserID      string `json:"user_id"`
		ChannelID   string `json:"channel_id"`
		Text        string `json:"text"`
		ResponseURL string `json:"response_url"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		c.logger.Warn("failed to parse command payload", "error", err)
		return
	}
	c.handlers.HandleCommand(ctx, chat.CommandEvent{
		UserID:      body.UserID,
		ChannelID:   body.ChannelID,
		Text:        body.Text,
		ResponseURL: body.ResponseURL,
	})
}

// ResolveFileEvent enriches a bare file_public wire event (file id +
// uploader id) into a full FileVisibleEvent via files.info. Shared by both
// delivery transports.
func ResolveFileEvent(ctx context.Context, files FileInfoResolver, fileID, userID string) (*chat.FileVisibleEvent, error) {
	f, err := files.FileInfo(ctx, fileID)
	if err != nil {
		return nil, err
	}
	channelID := ""
	if len(f.Channels) > 0 {
		channelID = f.Channels[0]
	}
	return &chat.FileVisibleEvent{
		FileID:      f.ID,
		FileName:    f.Name,
		ChannelID:   channelID,
		UploaderID:  userID,
		DownloadURL: f.URLPrivateDownload,
	}, nil
}

// ParseInteractionPayload extracts a decision event from a block-actions
// interaction payload. Returns (nil, nil) for actions that are not the
// consent buttons.
func ParseInteractionPayload(payload json.RawMessage) (*chat.DecisionEvent, error) {
	var body struct {
		Type string `json:"type"`
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
		Container struct {
			MessageTS string `json:"message_ts"`
		} `json:"container"`
		ResponseURL string `json:"response_url"`
		Actions     []struct {
			ActionID string `json:"action_id"`
		} `json:"actions"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(payload), &body); err != nil {
		return nil, err
	}
	if body.Type != "block_actions" || len(body.Actions) == 0 {
		return nil, nil
	}

	var decision chat.Decision
	switch body.Actions[0].ActionID {
	case chat.ActionAccept:
		decision = chat.DecisionAccept
	case chat.ActionDecline:
		decision = chat.DecisionDecline
	default:
		return nil, nil
	}

	return &chat.DecisionEvent{
		Decision:        decision,
		PromptMessageID: body.Container.MessageTS,
		ChannelID:       body.Channel.ID,
		UserID:          body.User.ID,
		ResponseURL:     body.ResponseURL,
	}, nil
}

// DialURLForTest points the connection at a fixed websocket URL, skipping
// the connection-open call.
func (c *Conn) DialURLForTest(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return errors.New("unsupported scheme")
	}
	c.dialURL = raw
	return nil
}
