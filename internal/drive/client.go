// Package drive implements the destination-store client: folder lookup,
// uploads, and permission grants against the Drive v3 REST surface,
// authenticated per-user through an oauth2 token source.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Production API endpoints.
const (
	DefaultBaseURL   = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
)

const folderMIMEType = "application/vnd.google-apps.folder"

// ErrAmbiguousFolder is returned when more than one folder matches the
// well-known name. Picking one silently risks uploading into a folder with
// unknown sharing state, so the caller has to resolve the duplication.
var ErrAmbiguousFolder = errors.New("multiple folders match the configured name")

// ErrFolderNotFound is returned by FindFolder when no folder matches.
var ErrFolderNotFound = errors.New("folder not found")

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("drive api error %d: %s", e.Status, e.Message)
}

// Client calls the destination store as one delegated user.
type Client struct {
	baseURL   string
	uploadURL string
	httpc     *http.Client
}

// NewClient creates a client acting as the user behind ts.
func NewClient(ctx context.Context, ts oauth2.TokenSource) *Client {
	httpc := oauth2.NewClient(ctx, ts)
	httpc.Timeout = 5 * time.Minute // uploads can be large
	return &Client{
		baseURL:   DefaultBaseURL,
		uploadURL: DefaultUploadURL,
		httpc:     httpc,
	}
}

// NewClientWithBase creates a client against alternate endpoints (tests).
func NewClientWithBase(ctx context.Context, ts oauth2.TokenSource, baseURL, uploadURL string) *Client {
	c := NewClient(ctx, ts)
	c.baseURL = baseURL
	c.uploadURL = uploadURL
	return c
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := resp.Status
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error.Message != "" {
			msg = body.Error.Message
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FindFolder looks up a folder by exact name. Exactly one match returns its
// id; zero matches returns ErrFolderNotFound; more than one returns
// ErrAmbiguousFolder.
func (c *Client) FindFolder(ctx context.Context, name string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false",
		strings.ReplaceAll(name, "'", `\'`), folderMIMEType)
	params := url.Values{"q": {query}, "fields": {"files(id,name)"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	var body struct {
		Files []struct {
			ID string `json:"id"`
		} `json:"files"`
	}
	if err := c.doJSON(req, &body); err != nil {
		return "", err
	}

	switch len(body.Files) {
	case 0:
		return "", ErrFolderNotFound
	case 1:
		return body.Files[0].ID, nil
	default:
		return "", ErrAmbiguousFolder
	}
}

// CreateFolder creates a folder at the Drive root and returns its id.
func (c *Client) CreateFolder(ctx context.Context, name string) (string, error) {
	raw, err := json.Marshal(map[string]string{
		"name":     name,
		"mimeType": folderMIMEType,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var body struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(req, &body); err != nil {
		return "", err
	}
	return body.ID, nil
}

// EnsureFolder finds the well-known folder or creates it when absent.
// Idempotent by construction; an ambiguous match is surfaced, not guessed.
func (c *Client) EnsureFolder(ctx context.Context, name string) (string, error) {
	id, err := c.FindFolder(ctx, name)
	if err == nil {
		return id, nil
	}
	if errors.Is(err, ErrFolderNotFound) {
		return c.CreateFolder(ctx, name)
	}
	return "", err
}

// Upload streams file content into a folder under the given name using a
// multipart-related upload, returning the new object's id.
func (c *Client) Upload(ctx context.Context, folderID, name string, content io.Reader) (string, error) {
	meta, err := json.Marshal(map[string]any{
		"name":    name,
		"parents": []string{folderID},
	})
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=utf-8")
	part, err := mw.CreatePart(metaHeader)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(meta); err != nil {
		return "", err
	}

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", "application/octet-stream")
	part, err = mw.CreatePart(mediaHeader)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.uploadURL+"/files?uploadType=multipart", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	var body struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(req, &body); err != nil {
		return "", err
	}
	return body.ID, nil
}

// GrantReader issues a reader-role permission for one email on an object.
func (c *Client) GrantReader(ctx context.Context, fileID, email string) error {
	raw, err := json.Marshal(map[string]string{
		"role":         "reader",
		"type":         "user",
		"emailAddress": email,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/files/"+url.PathEscape(fileID)+"/permissions", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	return c.doJSON(req, nil)
}

// FileLink returns the durable, human-shareable URL for an object.
func FileLink(fileID string) string {
	return "https://drive.google.com/file/d/" + fileID + "/view?usp=sharing"
}
