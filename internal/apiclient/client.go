// Package apiclient is the thin REST client for the room API: login,
// room create/get/delete. The signaling connection itself is handled by
// the session transport, not here.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lmikhailov/coderoom/internal/domain"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("room not found")
	ErrConflict     = errors.New("room already exists")
	ErrForbidden    = errors.New("forbidden")
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// SetToken installs the bearer token used by authenticated calls.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) Token() string { return c.token }

type loginResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Login exchanges an email for an identity token and stores the token on
// the client for subsequent calls.
func (c *Client) Login(ctx context.Context, email string) (domain.User, error) {
	var out loginResponse
	err := c.call(ctx, http.MethodPost, "/api/auth/login", map[string]string{"email": email}, &out)
	if err != nil {
		return domain.User{}, err
	}
	c.token = out.Token
	return out.User, nil
}

type roomResponse struct {
	Room domain.RoomMeta `json:"room"`
}

// CreateRoom registers a room. An empty id asks the server to generate one.
func (c *Client) CreateRoom(ctx context.Context, id domain.RoomID) (domain.RoomMeta, error) {
	var out roomResponse
	err := c.call(ctx, http.MethodPost, "/api/rooms/create", map[string]string{"roomId": string(id)}, &out)
	if err != nil {
		return domain.RoomMeta{}, err
	}
	return out.Room, nil
}

// GetRoom fetches a room record. Joining checks existence through this
// before opening the signaling connection.
func (c *Client) GetRoom(ctx context.Context, id domain.RoomID) (domain.RoomMeta, error) {
	var out roomResponse
	err := c.call(ctx, http.MethodGet, "/api/rooms/"+string(id), nil, &out)
	if err != nil {
		return domain.RoomMeta{}, err
	}
	return out.Room, nil
}

func (c *Client) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	return c.call(ctx, http.MethodDelete, "/api/rooms/"+string(id), nil, nil)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &e)

	var base error
	switch code {
	case http.StatusUnauthorized:
		base = ErrUnauthorized
	case http.StatusNotFound:
		base = ErrNotFound
	case http.StatusConflict:
		base = ErrConflict
	case http.StatusForbidden:
		base = ErrForbidden
	default:
		return fmt.Errorf("api error: status %d: %s", code, e.Error)
	}
	if e.Error != "" {
		return fmt.Errorf("%w: %s", base, e.Error)
	}
	return base
}
