// Package backend is the REST client for the chat server: auth, directory
// lists, history, group management, user search and media upload.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/wire"
)

const maxErrorBody = 512

// Client talks to the REST API. A Client is immutable; WithToken derives a
// copy bound to other credentials.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Login exchanges a password for credentials.
func (c *Client) Login(ctx context.Context, username, password string) (*chat.Credentials, error) {
	return c.auth(ctx, "/api/auth/login", wire.AuthRequest{Username: username, Password: password})
}

// Register creates an account and returns its credentials.
func (c *Client) Register(ctx context.Context, username, fullName, password string) (*chat.Credentials, error) {
	return c.auth(ctx, "/api/auth/register", wire.AuthRequest{Username: username, FullName: fullName, Password: password})
}

func (c *Client) auth(ctx context.Context, path string, req wire.AuthRequest) (*chat.Credentials, error) {
	var resp wire.AuthResponse
	if err := c.do(ctx, http.MethodPost, path, nil, req, &resp, false); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, &chat.RequestError{Method: http.MethodPost, Path: path, StatusCode: http.StatusOK, Body: "empty token"}
	}
	return &chat.Credentials{Username: resp.Username, FullName: resp.FullName, Token: resp.Token}, nil
}

// Contacts returns the directory of direct peers of username.
func (c *Client) Contacts(ctx context.Context, username string) ([]chat.Contact, error) {
	var raw []wire.Contact
	if err := c.get(ctx, "/contacts/"+url.PathEscape(username), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]chat.Contact, len(raw))
	for i := range raw {
		out[i] = raw[i].ToChat()
	}
	return out, nil
}

// Groups returns the groups username belongs to.
func (c *Client) Groups(ctx context.Context, username string) ([]chat.GroupInfo, error) {
	var raw []wire.Group
	if err := c.get(ctx, "/groups/user/"+url.PathEscape(username), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]chat.GroupInfo, len(raw))
	for i := range raw {
		out[i] = raw[i].ToChat()
	}
	return out, nil
}

// DirectHistory returns the stored conversation between username and peer.
func (c *Client) DirectHistory(ctx context.Context, username, peer string) ([]*chat.Message, error) {
	return c.directList(ctx, "/messages/"+url.PathEscape(username)+"/"+url.PathEscape(peer))
}

// Undelivered returns the messages addressed to username that were not yet
// delivered.
func (c *Client) Undelivered(ctx context.Context, username string) ([]*chat.Message, error) {
	return c.directList(ctx, "/messages/undelivered/"+url.PathEscape(username))
}

func (c *Client) directList(ctx context.Context, path string) ([]*chat.Message, error) {
	var raw []wire.DirectMessage
	if err := c.get(ctx, path, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]*chat.Message, 0, len(raw))
	for i := range raw {
		out = append(out, raw[i].ToChat())
	}
	return out, nil
}

// GroupHistory returns the stored messages of a group as seen by username.
func (c *Client) GroupHistory(ctx context.Context, groupID, username string) ([]*chat.Message, error) {
	var raw []wire.GroupMessage
	path := "/groups/" + url.PathEscape(groupID) + "/messages"
	if err := c.get(ctx, path, url.Values{"userId": {username}}, &raw); err != nil {
		return nil, err
	}
	out := make([]*chat.Message, 0, len(raw))
	for i := range raw {
		if raw[i].GroupID == "" {
			raw[i].GroupID = wire.ID(groupID)
		}
		out = append(out, raw[i].ToChat())
	}
	return out, nil
}

// CreateGroup creates a group owned by creator.
func (c *Client) CreateGroup(ctx context.Context, creator, name, description string, memberIDs []string) (chat.GroupInfo, error) {
	var g wire.Group
	body := wire.CreateGroup{Name: name, Description: description, MemberIDs: memberIDs}
	if memberIDs == nil {
		body.MemberIDs = []string{}
	}
	if err := c.do(ctx, http.MethodPost, "/groups", url.Values{"creatorId": {creator}}, body, &g, true); err != nil {
		return chat.GroupInfo{}, err
	}
	return g.ToChat(), nil
}

// LeaveGroup removes username from a group.
func (c *Client) LeaveGroup(ctx context.Context, groupID, username string) error {
	path := "/groups/" + url.PathEscape(groupID) + "/leave"
	return c.do(ctx, http.MethodPost, path, url.Values{"userId": {username}}, nil, nil, true)
}

// MarkGroupRead marks every message of a group read for username.
func (c *Client) MarkGroupRead(ctx context.Context, groupID, username string) error {
	path := "/groups/" + url.PathEscape(groupID) + "/read"
	return c.do(ctx, http.MethodPost, path, url.Values{"userId": {username}}, nil, nil, true)
}

// SearchUsers looks users up by a free-text query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]chat.User, error) {
	var raw []wire.User
	if err := c.get(ctx, "/users/search", url.Values{"query": {query}}, &raw); err != nil {
		return nil, err
	}
	out := make([]chat.User, len(raw))
	for i := range raw {
		out[i] = raw[i].ToChat()
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out, true)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, authed bool) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return &chat.RequestError{Method: method, Path: path, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if authed && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &chat.RequestError{Method: method, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &chat.RequestError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &chat.RequestError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: errorText(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &chat.RequestError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorText prefers the message of a JSON error envelope over the raw body.
func errorText(data []byte) string {
	var eb wire.ErrorBody
	if json.Unmarshal(data, &eb) == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
