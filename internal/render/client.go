// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package render produces the invoice PDF through a remote rendering API
// and keeps a local preview copy.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// DefaultMinSize is the smallest payload accepted as a rendered PDF.
const DefaultMinSize = 1024

var pdfMagic = []byte("%PDF-")

// maxPDFSize bounds the response read from the renderer.
const maxPDFSize = 32 << 20

// Invoice is the document sent to the renderer.
type Invoice struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Number   string `json:"number"`
	Date     string `json:"date"`
	Currency string `json:"currency,omitempty"`
	Items    []Item `json:"items"`
	Notes    string `json:"notes,omitempty"`
}

// RenderError reports a rendering response that must not be sent on.
type RenderError struct {
	StatusCode int
	Size       int
	Body       string
	Reason     string
}

func (e *RenderError) Error() string {
	if e.StatusCode != 0 && e.Reason == "" {
		return fmt.Sprintf("renderer returned HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("renderer returned an unusable document (%d bytes): %s", e.Size, e.Reason)
}

// Client calls the rendering endpoint.
type Client struct {
	httpClient *http.Client
	url        string
	apiKey     string
	minSize    int
}

// NewClient creates a renderer client. minSize <= 0 uses DefaultMinSize.
func NewClient(httpClient *http.Client, url, apiKey string, minSize int) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	return &Client{httpClient: httpClient, url: url, apiKey: apiKey, minSize: minSize}
}

// Render posts inv and returns the PDF bytes.
func (c *Client) Render(ctx context.Context, inv Invoice) ([]byte, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render invoice: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFSize))
	if err != nil {
		return nil, fmt.Errorf("read render response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RenderError{StatusCode: resp.StatusCode, Size: len(data), Body: string(data)}
	}
	if len(data) < c.minSize {
		return nil, &RenderError{
			StatusCode: resp.StatusCode,
			Size:       len(data),
			Reason:     fmt.Sprintf("smaller than %d bytes", c.minSize),
		}
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, &RenderError{StatusCode: resp.StatusCode, Size: len(data), Reason: "not a PDF"}
	}

	slog.Info("invoice rendered", "number", inv.Number, "bytes", len(data))
	return data, nil
}

// SavePreview writes pdf to dir/name, creating dir if needed, and returns the
// written path.
func SavePreview(dir, name string, pdf []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create preview directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", fmt.Errorf("write preview: %w", err)
	}
	return path, nil
}
