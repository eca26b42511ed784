// Package revealapi is the HTTP client for the reveal party API.
package revealapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/revealparty/internal/model"
)

const (
	passHeader     = "X-Reveal-Pass"
	defaultMessage = "Something went wrong"
	maxAudioBytes  = 8 << 20
)

// APIError is returned for any non-2xx response. Message is the server's
// error text when it sent one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client calls the reveal party HTTP API. One base URL serves both HTTP and
// the realtime endpoint.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	token      string
	passToken  string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// WebSocketURL derives the realtime endpoint from the base URL.
func (c *Client) WebSocketURL() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + "/ws"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// SetToken sets the host's bearer token. Empty clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetPassToken sets the reveal pass token sent with status and reveal calls.
func (c *Client) SetPassToken(token string) {
	c.mu.Lock()
	c.passToken = token
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.passToken != "" {
		req.Header.Set(passHeader, c.passToken)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError prefers the "error" field, then "message", then a generic text.
func decodeError(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = body.Message
	}
	if msg == "" {
		msg = defaultMessage
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func (c *Client) Status(ctx context.Context, code string) (*model.StatusResponse, error) {
	var out model.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status/"+url.PathEscape(code), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reveal triggers the reveal. Repeating it is safe: the server returns the
// same revealStartedAt.
func (c *Client) Reveal(ctx context.Context, code string) (*model.RevealResponse, error) {
	var out model.RevealResponse
	if err := c.do(ctx, http.MethodPost, "/api/reveal", map[string]string{"code": code}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckPassword(ctx context.Context, code string) (bool, error) {
	var out model.PasswordCheck
	if err := c.do(ctx, http.MethodGet, "/api/auth/check-reveal-password/"+url.PathEscape(code), nil, &out); err != nil {
		return false, err
	}
	return out.PasswordRequired, nil
}

// VerifyPassword checks a reveal password and, when valid, keeps the
// returned pass token for later calls.
func (c *Client) VerifyPassword(ctx context.Context, code, password string) (bool, error) {
	var out model.PasswordVerification
	err := c.do(ctx, http.MethodPost, "/api/auth/verify-reveal-password",
		map[string]string{"revealCode": code, "password": password}, &out)
	if err != nil {
		return false, err
	}
	if out.Valid && out.PassToken != "" {
		c.SetPassToken(out.PassToken)
	}
	return out.Valid, nil
}

func (c *Client) SetGender(ctx context.Context, doctorCode string, g model.Gender) error {
	return c.do(ctx, http.MethodPost, "/api/set-gender",
		map[string]string{"code": doctorCode, "gender": string(g)}, nil)
}

func (c *Client) Register(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	return c.authenticate(ctx, "/api/auth/register", email, password)
}

func (c *Client) Login(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	return c.authenticate(ctx, "/api/auth/login", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*model.AuthResponse, error) {
	var out model.AuthResponse
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"email": email, "password": password}, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

func (c *Client) MyStatus(ctx context.Context) (*model.MyStatus, error) {
	var out model.MyStatus
	if err := c.do(ctx, http.MethodGet, "/api/my-status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchAudio downloads a clip. Relative URLs resolve against the base URL.
func (c *Client) FetchAudio(ctx context.Context, rawURL string) ([]byte, error) {
	target := rawURL
	if strings.HasPrefix(rawURL, "/") {
		target = c.baseURL + rawURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("audio exceeds %d bytes", maxAudioBytes)
	}
	return data, nil
}
