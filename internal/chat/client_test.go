package chat_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/driveguard/driveguard-go/internal/chat"
)

func TestFileInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files.info" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-bot" {
			t.Errorf("auth = %q", got)
		}
		if got := r.URL.Query().Get("file"); got != "F1" {
			t.Errorf("file = %q", got)
		}
		w.Write([]byte(`{"ok":true,"file":{"id":"F1","name":"secret.csv","url_private_download":"https://files/dl/F1","channels":["C1"]}}`))
	}))
	defer srv.Close()

	c := chat.NewClient(srv.URL, "xoxb-bot", "xoxp-user")
	f, err := c.FileInfo(context.Background(), "F1")
	if err != nil {
		t.Fatal(err)
	}
	if f.Name != "secret.csv" || len(f.Channels) != 1 || f.Channels[0] != "C1" {
		t.Errorf("file = %+v", f)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"file_not_found"}`))
	}))
	defer srv.Close()

	c := chat.NewClient(srv.URL, "xoxb-bot", "")
	_, err := c.FileInfo(context.Background(), "F404")
	var apiErr *chat.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want *APIError", err)
	}
	if apiErr.Reason != "file_not_found" {
		t.Errorf("reason = %q", apiErr.Reason)
	}
}

func TestPostEphemeralReturnsMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postEphemeral" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["channel"] != "C1" || body["user"] != "U1" {
			t.Errorf("body = %v", body)
		}
		if _, ok := body["blocks"]; !ok {
			t.Error("blocks missing")
		}
		w.Write([]byte(`{"ok":true,"message_ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	c := chat.NewClient(srv.URL, "xoxb-bot", "")
	ts, err := c.PostEphemeral(context.Background(), "C1", "U1", "prompt", chat.ConsentBlocks())
	if err != nil {
		t.Fatal(err)
	}
	if ts != "1700000000.000100" {
		t.Errorf("message_ts = %q", ts)
	}
}

func TestConversationMembersPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			w.Write([]byte(`{"ok":true,"members":["U1","U2"],"response_metadata":{"next_cursor":"page2"}}`))
		case "page2":
			w.Write([]byte(`{"ok":true,"members":["U3"],"response_metadata":{"next_cursor":""}}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer srv.Close()

	c := chat.NewClient(srv.URL, "xoxb-bot", "")
	members, err := c.ConversationMembers(context.Background(), "C1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 3 {
		t.Errorf("members = %v", members)
	}
}

func TestDeleteFileUsesUserToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files.delete" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xoxp-user" {
			t.Errorf("files.delete must authenticate with the user token, got %q", got)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := chat.NewClient(srv.URL, "xoxb-bot", "xoxp-user")
	if err := c.DeleteFile(context.Background(), "F1"); err != nil {
		t.Fatal(err)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-bot" {
			t.Errorf("auth = %q", got)
		}
		w.Write([]byte("file-bytes"))
	}))
	defer srv.Close()

	c := chat.NewClient("http://unused", "xoxb-bot", "")
	var buf bytes.Buffer
	if err := c.Download(context.Background(), srv.URL+"/dl/F1", &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "file-bytes" {
		t.Errorf("body = %q", buf.String())
	}
}

func TestUserEmailMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"user":{"profile":{}}}`))
	}))
	defer srv.Close()

	c := chat.NewClient(srv.URL, "xoxb-bot", "")
	email, err := c.UserEmail(context.Background(), "UBOT")
	if err != nil {
		t.Fatal(err)
	}
	if email != "" {
		t.Errorf("email = %q, want empty", email)
	}
}
