package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIClient talks to a running netwarden daemon over its control routes.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:9876"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// IsReachable checks whether the daemon answers at all.
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/control/status")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Status fetches the backend status snapshot.
func (c *APIClient) Status() (map[string]any, error) {
	resp, err := c.client.Get(c.baseURL + "/control/status")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Version fetches the daemon's reported version.
func (c *APIClient) Version() (string, error) {
	resp, err := c.client.Get(c.baseURL + "/bridge/version")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}
	var out struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Version, nil
}

func (c *APIClient) Start() error   { return c.post("/control/start") }
func (c *APIClient) Stop() error    { return c.post("/control/stop") }
func (c *APIClient) Restart() error { return c.post("/control/restart") }
func (c *APIClient) Install() error { return c.post("/control/install") }

func (c *APIClient) post(path string) error {
	resp, err := c.client.Post(c.baseURL+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("API error: %s", body.Error)
	}
	return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
}
