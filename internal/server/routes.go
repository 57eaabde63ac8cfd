package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/driveguard/driveguard-go/internal/appctx"
	"github.com/driveguard/driveguard-go/internal/chat"
	"github.com/driveguard/driveguard-go/internal/chat/socketmode"
)

// setupRoutes creates the chi router. Webhook endpoints sit behind
// signature verification; the health check and the OAuth redirect are
// open, since the redirect is reached from the user's browser.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// RequestID must come first so the request logger can pick it up.
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/oauth2callback", s.handleOAuthCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.signatureMiddleware)
		r.Post("/slack/events", s.handleEvents)
		r.Post("/slack/interactive", s.handleInteractive)
		r.Post("/slack/command", s.handleCommand)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

const callbackSuccessPage = `<!DOCTYPE html>
<html>
<head><title>Driveguard</title></head>
<body>
<p>Authentication successful! Feel free to close this window and return to chat.</p>
</body>
</html>
`

// handleOAuthCallback completes the authorization-code grant. The state
// parameter carries the workspace user id the authorization was issued
// for.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	if err := s.deps.OAuth.Exchange(r.Context(), state, code); err != nil {
		appctx.Logger(r.Context()).Error("code exchange failed", "user_id", state, "error", err)
		http.Error(w, "authorization failed, please try again", http.StatusBadGateway)
		return
	}

	appctx.Logger(r.Context()).Info("user authorized", "user_id", state)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(callbackSuccessPage))
}

// handleEvents answers the event-subscription endpoint. URL verification
// is echoed synchronously; real events are acknowledged with 200
// immediately and dispatched in the background, mirroring the socket
// transport's ack-before-work contract.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Event     struct {
			Type   string `json:"type"`
			FileID string `json:"file_id"`
			UserID string `json:"user_id"`
		} `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed event body", http.StatusBadRequest)
		return
	}

	if body.Type == "url_verification" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": body.Challenge})
		return
	}

	w.WriteHeader(http.StatusOK)

	if body.Type != "event_callback" || body.Event.Type != "file_public" {
		return
	}
	ctx := detach(r.Context())
	go func() {
		ev, err := socketmode.ResolveFileEvent(ctx, s.deps.Files, body.Event.FileID, body.Event.UserID)
		if err != nil {
			appctx.Logger(ctx).Warn("failed to resolve file event", "file_id", body.Event.FileID, "error", err)
			return
		}
		s.deps.Handlers.HandleFileVisible(ctx, *ev)
	}()
}

// handleInteractive answers button clicks. The payload arrives as a form
// field holding JSON.
func (s *Server) handleInteractive(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	payload := r.PostFormValue("payload")
	if payload == "" {
		http.Error(w, "missing payload", http.StatusBadRequest)
		return
	}

	ev, err := socketmode.ParseInteractionPayload(json.RawMessage(payload))
	if err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)

	if ev == nil {
		return
	}
	ctx := detach(r.Context())
	go s.deps.Handlers.HandleDecision(ctx, *ev)
}

// handleCommand answers slash-command invocations, which arrive as plain
// form fields.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	ev := chat.CommandEvent{
		UserID:      r.PostFormValue("user_id"),
		ChannelID:   r.PostFormValue("channel_id"),
		Text:        r.PostFormValue("text"),
		ResponseURL: r.PostFormValue("response_url"),
	}

	w.WriteHeader(http.StatusOK)
	ctx := detach(r.Context())
	go s.deps.Handlers.HandleCommand(ctx, ev)
}

// detach keeps the request's values (logger, request id) but severs its
// cancellation, so background dispatch outlives the HTTP exchange.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
