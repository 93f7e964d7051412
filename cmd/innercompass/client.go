package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/kalambet/innercompass/internal/config"
)

const sessionFileName = "session.json"

// savedSession is the token the CLI keeps between invocations.
type savedSession struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type apiClient struct {
	baseURL     string
	token       string
	sessionPath string
	httpClient  *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// Coach calls can take a while; leave room beyond the server's own timeout.
	c := &apiClient{
		baseURL:     fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		sessionPath: filepath.Join(cfg.Storage.DataDir, sessionFileName),
		httpClient:  &http.Client{Timeout: cfg.LLM.Timeout + 30*time.Second},
	}
	if s, err := loadSession(c.sessionPath); err == nil {
		c.token = s.Token
	}
	return c, nil
}

func loadSession(path string) (savedSession, error) {
	var s savedSession
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

func (c *apiClient) saveSession(s savedSession) error {
	if err := os.MkdirAll(filepath.Dir(c.sessionPath), 0o700); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.sessionPath, data, 0o600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	c.token = s.Token
	return nil
}

func (c *apiClient) clearSession() error {
	c.token = ""
	if err := os.Remove(c.sessionPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}

func (c *apiClient) requireLogin() error {
	if c.token == "" {
		return errors.New("not logged in, run `innercompass login` first")
	}
	return nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is `innercompass serve` running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// apiError is a non-2xx response decoded from the server's error envelope.
type apiError struct {
	Status   int
	Type     string
	Message  string
	Fallback string
	// View is the raw view the server sent alongside the error, if any.
	View json.RawMessage
}

func (e *apiError) Error() string {
	if e.Fallback != "" {
		return e.Fallback
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var env struct {
			Error struct {
				Message  string `json:"message"`
				Type     string `json:"type"`
				Fallback string `json:"fallback"`
			} `json:"error"`
			View json.RawMessage `json:"view"`
		}
		if json.Unmarshal(body, &env) != nil || env.Error.Message == "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}
		return &apiError{
			Status:   resp.StatusCode,
			Type:     env.Error.Type,
			Message:  env.Error.Message,
			Fallback: env.Error.Fallback,
			View:     env.View,
		}
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
