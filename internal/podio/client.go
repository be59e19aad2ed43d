// Package podio is a small client for the Podio REST API.
package podio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const DefaultBaseURL = "https://api.podio.com"

// DefaultMaxDownloadBytes caps a single attachment download.
const DefaultMaxDownloadBytes = 100 << 20

var (
	ErrMissingCredentials = errors.New("podio: missing app credentials")
	ErrFileTooLarge       = errors.New("podio: file exceeds download limit")
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	AppID        int64
	AppToken     string
	// AccessToken, when set, is used as is and no grant is performed.
	AccessToken      string
	Timeout          time.Duration
	MaxDownloadBytes int64
	HTTPClient       *http.Client
}

type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = DefaultMaxDownloadBytes
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: hc, now: time.Now}
}

// Authenticate performs the app grant and caches the token.
func (c *Client) Authenticate(ctx context.Context) (*Token, error) {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" || c.cfg.AppID == 0 || c.cfg.AppToken == "" {
		return nil, ErrMissingCredentials
	}
	form := url.Values{}
	form.Set("grant_type", "app")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("app_id", strconv.FormatInt(c.cfg.AppID, 10))
	form.Set("app_token", c.cfg.AppToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("podio token: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Method: http.MethodPost, Path: "/oauth/token", Status: resp.StatusCode, Body: string(body)}
	}
	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("podio token: decode: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("podio token: empty access_token")
	}

	c.mu.Lock()
	c.token = tok.AccessToken
	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	// refresh a minute early
	c.expires = c.now().Add(ttl - time.Minute)
	c.mu.Unlock()
	return &tok, nil
}

// AccessToken returns a cached token, running the grant when needed.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c.cfg.AccessToken != "" {
		return c.cfg.AccessToken, nil
	}
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.expires) {
		t := c.token
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	tok, err := c.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// do sends an authenticated request. A 401 on a cached grant token is
// retried once with a fresh token.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, contentType string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		tok, err := c.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "OAuth2 "+tok)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("podio %s %s: %w", method, pathOf(rawURL), err)
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 && c.cfg.AccessToken == "" {
			resp.Body.Close()
			c.invalidate()
			continue
		}
		return resp, nil
	}
}

func pathOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return u.Path
	}
	return rawURL
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, http.MethodGet, path, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, method, c.cfg.BaseURL+path, b, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, method, path, out)
}

func decode(resp *http.Response, method, path string, out any) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("podio %s %s: read: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("podio %s %s: decode: %w", method, path, err)
	}
	return nil
}

func (c *Client) GetItem(ctx context.Context, itemID int64) (*Item, error) {
	var it Item
	if err := c.getJSON(ctx, fmt.Sprintf("/item/%d", itemID), &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (c *Client) GetFile(ctx context.Context, fileID int64) (*File, error) {
	var f File
	if err := c.getJSON(ctx, fmt.Sprintf("/file/%d", fileID), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) GetAppFields(ctx context.Context, appID int64) ([]AppField, error) {
	var app App
	if err := c.getJSON(ctx, fmt.Sprintf("/app/%d", appID), &app); err != nil {
		return nil, err
	}
	return app.Fields, nil
}

// Download is a fetched attachment body.
type Download struct {
	Data        []byte
	ContentType string
}

// DownloadRaw fetches /file/{id}/raw.
func (c *Client) DownloadRaw(ctx context.Context, fileID int64) (*Download, error) {
	return c.download(ctx, fmt.Sprintf("%s/file/%d/raw", c.cfg.BaseURL, fileID))
}

// DownloadLink fetches an absolute file link.
func (c *Client) DownloadLink(ctx context.Context, link string) (*Download, error) {
	return c.download(ctx, link)
}

func (c *Client) download(ctx context.Context, rawURL string) (*Download, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Method: http.MethodGet, Path: pathOf(rawURL), Status: resp.StatusCode, Body: string(body)}
	}
	limit := c.cfg.MaxDownloadBytes
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("podio download %s: %w", pathOf(rawURL), err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("podio download %s: %w (%d bytes)", pathOf(rawURL), ErrFileTooLarge, limit)
	}
	return &Download{Data: data, ContentType: mediaType(resp.Header.Get("Content-Type"))}, nil
}

func mediaType(h string) string {
	if h == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(h)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(h, ";")[0]))
	}
	return mt
}

// SetValues writes all values in one batched call.
func (c *Client) SetValues(ctx context.Context, itemID int64, values Values) error {
	body := make(map[string][]Value, len(values))
	for id, v := range values {
		body[strconv.FormatInt(id, 10)] = v
	}
	return c.sendJSON(ctx, http.MethodPut, fmt.Sprintf("/item/%d/value", itemID), body, nil)
}

func (c *Client) PostComment(ctx context.Context, itemID int64, text string) error {
	return c.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/comment/item/%d/", itemID), map[string]string{"value": text}, nil)
}

// ValidateHook completes a hook verification with the code Podio sent.
func (c *Client) ValidateHook(ctx context.Context, hookID int64, code string) error {
	return c.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/hook/%d/verify/validate", hookID), map[string]string{"code": code}, nil)
}
