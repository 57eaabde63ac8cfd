// Package chat implements the client side of the workspace chat platform:
// the Web API methods the workflow needs, the inbound event types, and the
// consent prompt rendering.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// APIError is a platform-level failure: the HTTP call succeeded but the
// API reported ok=false.
type APIError struct {
	Method string
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api %s failed: %s", e.Method, e.Reason)
}

// Client calls the chat platform Web API. The bot token authenticates
// everything except file deletion, which needs the elevated user token.
type Client struct {
	apiBase   string
	botToken  string
	userToken string
	httpc     *http.Client
}

// NewClient creates a Web API client.
func NewClient(apiBase, botToken, userToken string) *Client {
	return &Client{
		apiBase:   apiBase,
		botToken:  botToken,
		userToken: userToken,
		httpc:     &http.Client{Timeout: 30 * time.Second},
	}
}

// apiResponse is the envelope every Web API method returns.
type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (c *Client) get(ctx context.Context, method string, params url.Values, token string, out interface{ envelope() *apiResponse }) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(req, method, out)
}

func (c *Client) post(ctx context.Context, method string, body any, token string, out interface{ envelope() *apiResponse }) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out interface{ envelope() *apiResponse }) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("chat api %s: %w", method, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chat api %s: failed to decode response: %w", method, err)
	}
	if env := out.envelope(); !env.OK {
		return &APIError{Method: method, Reason: env.Error}
	}
	return nil
}

// File describes an uploaded file as returned by files.info.
type File struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	URLPrivateDownload string   `json:"url_private_download"`
	Channels           []string `json:"channels"`
}

type fileInfoResponse struct {
	apiResponse
	File File `json:"file"`
}

func (r *fileInfoResponse) envelope() *apiResponse { return &r.apiResponse }

// FileInfo fetches metadata for a file.
func (c *Client) FileInfo(ctx context.Context, fileID string) (*File, error) {
	var resp fileInfoResponse
	params := url.Values{"file": {fileID}}
	if err := c.get(ctx, "files.info", params, c.botToken, &resp); err != nil {
		return nil, err
	}
	return &resp.File, nil
}

type postEphemeralRequest struct {
	Channel string  `json:"channel"`
	User    string  `json:"user"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks,omitempty"`
}

type postEphemeralResponse struct {
	apiResponse
	MessageTS string `json:"message_ts"`
}

func (r *postEphemeralResponse) envelope() *apiResponse { return &r.apiResponse }

// PostEphemeral posts a message visible only to one user in a channel and
// returns the platform's identifier for the posted message.
func (c *Client) PostEphemeral(ctx context.Context, channelID, userID, text string, blocks []Block) (string, error) {
	var resp postEphemeralResponse
	body := postEphemeralRequest{Channel: channelID, User: userID, Text: text, Blocks: blocks}
	if err := c.post(ctx, "chat.postEphemeral", body, c.botToken, &resp); err != nil {
		return "", err
	}
	return resp.MessageTS, nil
}

type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type postMessageResponse struct {
	apiResponse
}

func (r *postMessageResponse) envelope() *apiResponse { return &r.apiResponse }

// PostMessage posts a public message to a channel.
func (c *Client) PostMessage(ctx context.Context, channelID, text string) error {
	var resp postMessageResponse
	return c.post(ctx, "chat.postMessage", postMessageRequest{Channel: channelID, Text: text}, c.botToken, &resp)
}

// Respond replaces the content of an interactive message through its
// response URL. This is how the progress message grows one line at a time.
func (c *Client) Respond(ctx context.Context, responseURL, text string) error {
	raw, err := json.Marshal(map[string]any{
		"text":             text,
		"replace_original": true,
		"response_type":    "ephemeral",
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("respond: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type membersResponse struct {
	apiResponse
	Members          []string `json:"members"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

func (r *membersResponse) envelope() *apiResponse { return &r.apiResponse }

// ConversationMembers returns every member id of a channel, following
// cursor pagination.
func (c *Client) ConversationMembers(ctx context.Context, channelID string) ([]string, error) {
	var members []string
	cursor := ""
	for {
		params := url.Values{"channel": {channelID}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp membersResponse
		if err := c.get(ctx, "conversations.members", params, c.botToken, &resp); err != nil {
			return nil, err
		}
		members = append(members, resp.Members...)
		cursor = resp.ResponseMetadata.NextCursor
		if cursor == "" {
			return members, nil
		}
	}
}

type userInfoResponse struct {
	apiResponse
	User struct {
		Profile struct {
			Email string `json:"email"`
		} `json:"profile"`
	} `json:"user"`
}

func (r *userInfoResponse) envelope() *apiResponse { return &r.apiResponse }

// UserEmail returns a member's profile email, or "" when the profile does
// not expose one (bots, restricted accounts).
func (c *Client) UserEmail(ctx context.Context, userID string) (string, error) {
	var resp userInfoResponse
	params := url.Values{"user": {userID}}
	if err := c.get(ctx, "users.info", params, c.botToken, &resp); err != nil {
		return "", err
	}
	return resp.User.Profile.Email, nil
}

type deleteFileResponse struct {
	apiResponse
}

func (r *deleteFileResponse) envelope() *apiResponse { return &r.apiResponse }

// DeleteFile removes a file from the platform. Deleting another user's
// upload requires the elevated user token, not the bot token.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	var resp deleteFileResponse
	return c.post(ctx, "files.delete", map[string]string{"file": fileID}, c.userToken, &resp)
}

// Download streams a file's bytes from its private download URL into w.
func (c *Client) Download(ctx context.Context, downloadURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return nil
}
