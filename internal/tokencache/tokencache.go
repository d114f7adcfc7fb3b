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

// Package tokencache persists OAuth refresh tokens keyed by client code.
//
// The cache holds long-lived secrets in clear text. There is no locking:
// two concurrent runs against the same file race and the last writer wins.
package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store reads and writes refresh tokens. At most one token is kept per
// code; Write replaces any previous value.
type Store interface {
	Read(ctx context.Context, code string) (string, bool, error)
	Write(ctx context.Context, code, refreshToken string) error
}

// ParseError reports a token cache file that exists but cannot be decoded.
// It is fatal: continuing without the cached token would force a fresh
// authorization code exchange that may no longer be valid.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("token cache %s is malformed: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FileStore keeps the cache as a flat JSON object on disk. The document is
// loaded once on Open; every Write rewrites the whole file.
type FileStore struct {
	path string

	mu     sync.Mutex
	tokens map[string]string
}

// Open loads the cache file at path. A missing file yields an empty cache.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	tokens, err := s.load()
	if err != nil {
		return nil, err
	}
	s.tokens = tokens
	slog.Debug("token cache loaded", "path", path, "entries", len(tokens))
	return s, nil
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token cache %s: %w", s.path, err)
	}

	// Decode loosely so unknown non-string values are skipped rather than
	// rejected; only a document that is not a JSON object is malformed.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Path: s.path, Err: err}
	}

	tokens := make(map[string]string, len(raw))
	for code, v := range raw {
		var token string
		if err := json.Unmarshal(v, &token); err != nil {
			continue
		}
		tokens[code] = token
	}
	return tokens, nil
}

// Read returns the cached refresh token for code.
func (s *FileStore) Read(_ context.Context, code string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[code]
	return token, ok && token != "", nil
}

// Write stores refreshToken for code and rewrites the file.
func (s *FileStore) Write(_ context.Context, code, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[code] = refreshToken

	data, err := json.MarshalIndent(s.tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token cache: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token cache dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write token cache %s: %w", s.path, err)
	}
	return nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }
