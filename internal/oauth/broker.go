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

// Package oauth exchanges authorization codes and cached refresh tokens for
// short-lived mailbox access tokens.
package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/bcem/invoicer/internal/tokencache"
)

// DefaultTokenURL is the Microsoft identity platform token endpoint for
// personal and work accounts.
const DefaultTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"

// DefaultScopes are requested on the authorization code exchange.
var DefaultScopes = []string{"offline_access", "User.Read", "Mail.Send"}

// GrantType names the OAuth2 grant used for an exchange.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// Credential is a short-lived access token. It is never persisted.
type Credential struct {
	AccessToken string
	GrantType   GrantType
}

// AuthError reports a failed token exchange. Body carries the raw provider
// response for operator diagnosis.
type AuthError struct {
	Code       string
	GrantType  GrantType
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s exchange for %s failed", e.GrantType, redact(e.Code))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, "\n%s", e.Body)
	}
	return b.String()
}

func (e *AuthError) Unwrap() error { return e.Err }

// Config holds the client registration used for every exchange.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenURL     string
	Scopes       []string
	HTTPClient   *http.Client
}

// Broker obtains access tokens for a mailbox identity, preferring a cached
// refresh token over the authorization code.
type Broker struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	cache      tokencache.Store
}

// NewBroker creates a token broker that reads and updates cache.
func NewBroker(cfg Config, cache tokencache.Store) *Broker {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	// x/oauth2 sends neither redirect_uri nor scope on a refresh grant.
	httpClient := *base
	httpClient.Transport = &refreshParams{
		base:        base.Transport,
		redirectURI: cfg.RedirectURL,
		scope:       strings.Join(scopes, " "),
	}

	return &Broker{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &httpClient,
		cache:      cache,
	}
}

// refreshParams adds redirect_uri and scope to refresh-grant token requests
// so both grants post the same client parameters.
type refreshParams struct {
	base        http.RoundTripper
	redirectURI string
	scope       string
}

func (t *refreshParams) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Method != http.MethodPost || req.Body == nil ||
		!strings.HasPrefix(req.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return base.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read token request: %w", err)
	}
	form, err := url.ParseQuery(string(body))
	if err == nil && form.Get("grant_type") == string(GrantRefreshToken) {
		if form.Get("redirect_uri") == "" && t.redirectURI != "" {
			form.Set("redirect_uri", t.redirectURI)
		}
		if form.Get("scope") == "" && t.scope != "" {
			form.Set("scope", t.scope)
		}
		body = []byte(form.Encode())
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return base.RoundTrip(out)
}

// AccessToken returns a fresh access token for code.
func (b *Broker) AccessToken(ctx context.Context, code string) (string, error) {
	cred, err := b.Token(ctx, code)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Token performs one exchange for code. With a cached refresh token it uses
// the refresh_token grant, otherwise code itself is redeemed as an
// authorization code. The refresh token returned by the provider always
// replaces the cached one because providers rotate them on use.
func (b *Broker) Token(ctx context.Context, code string) (Credential, error) {
	refresh, cached, err := b.cache.Read(ctx, code)
	if err != nil {
		return Credential{}, fmt.Errorf("read token cache: %w", err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)

	grant := GrantAuthorizationCode
	var tok *oauth2.Token
	if cached {
		grant = GrantRefreshToken
		tok, err = b.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	} else {
		tok, err = b.oauth.Exchange(ctx, code,
			oauth2.SetAuthURLParam("scope", strings.Join(b.oauth.Scopes, " ")),
		)
	}
	if err != nil {
		return Credential{}, authError(code, grant, err)
	}

	// oauth2 carries the previous refresh token forward when the response
	// omits one, so inspect the raw response instead of tok.RefreshToken.
	newRefresh, _ := tok.Extra("refresh_token").(string)
	if tok.AccessToken == "" || newRefresh == "" {
		return Credential{}, &AuthError{
			Code:      code,
			GrantType: grant,
			Err:       errors.New("token response is missing access_token or refresh_token"),
		}
	}

	if err := b.cache.Write(ctx, code, newRefresh); err != nil {
		return Credential{}, fmt.Errorf("update token cache: %w", err)
	}

	slog.Debug("access token acquired", "code", redact(code), "grant_type", grant)

	return Credential{AccessToken: tok.AccessToken, GrantType: grant}, nil
}

func authError(code string, grant GrantType, err error) *AuthError {
	ae := &AuthError{Code: code, GrantType: grant, Err: err}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.Response != nil {
			ae.StatusCode = rerr.Response.StatusCode
		}
		ae.Body = string(rerr.Body)
		ae.Err = nil
	}
	return ae
}

// redact keeps enough of a code to tell identities apart in logs.
func redact(code string) string {
	if len(code) <= 6 {
		return "***"
	}
	return code[:6] + "***"
}
