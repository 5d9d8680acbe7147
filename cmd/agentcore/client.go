package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// monitorClient talks to a running agent's monitor HTTP server. Every
// subcommand that drives a live agent (as opposed to starting one)
// goes through this, since the CLI process never links the agent's
// dispatcher directly.
type monitorClient struct {
	baseURL string
}

func newMonitorClient(addr string) *monitorClient {
	return &monitorClient{baseURL: strings.TrimSuffix(addr, "/")}
}

func (c *monitorClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting monitor at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: %s", method, path, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *monitorClient) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *monitorClient) post(path string, body any, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *monitorClient) delete(path string, out any) error {
	return c.do(http.MethodDelete, path, nil, out)
}
