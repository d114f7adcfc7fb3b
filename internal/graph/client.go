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

// Package graph talks to the signed-in user's mailbox through the Microsoft
// Graph API using a delegated access token.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/bcem/invoicer/internal/models"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// maxErrorBody bounds how much of a failed response is kept for diagnosis.
const maxErrorBody = 64 * 1024

// Client calls the /me endpoints of the Graph API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Graph mailbox client.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// Identity is the mailbox owner as reported by /me.
type Identity struct {
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Address returns the identity as a named address, preferring the primary
// SMTP address over the principal name.
func (i Identity) Address() models.Address {
	addr := i.Mail
	if addr == "" {
		addr = i.UserPrincipalName
	}
	return models.Address{Name: i.DisplayName, Address: addr}
}

// Message is a plain-text mail to a single recipient.
type Message struct {
	From        models.Address
	To          models.Address
	Subject     string
	Body        string
	Attachments []models.Attachment
}

// StatusError reports an unexpected HTTP status from Graph.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("graph %s returned HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("graph %s returned HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Me fetches the identity behind accessToken.
func (c *Client) Me(ctx context.Context, accessToken string) (*Identity, error) {
	params := url.Values{}
	params.Set("$select", "displayName,mail,userPrincipalName")
	meURL := fmt.Sprintf("%s/me?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build me request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch me: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("me", resp)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("decode me response: %w", err)
	}
	if id.Mail == "" && id.UserPrincipalName == "" {
		return nil, fmt.Errorf("me response has no mail or userPrincipalName")
	}
	return &id, nil
}

// SendMail submits msg from the signed-in mailbox. Graph signals acceptance
// with 202 and no body; any other status is a failure. The returned ID is
// the request-id Graph assigns, the closest thing to a message id it offers.
func (c *Client) SendMail(ctx context.Context, accessToken string, msg Message) (string, error) {
	payload, err := json.Marshal(buildSendMail(msg))
	if err != nil {
		return "", fmt.Errorf("marshal sendMail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/me/sendMail", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build sendMail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", statusError("sendMail", resp)
	}

	slog.Debug("graph accepted message",
		"to", msg.To.Address,
		"request_id", resp.Header.Get("request-id"),
	)
	return resp.Header.Get("request-id"), nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
}
