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

// Package config loads configuration from a YAML (or JSON) file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bcem/invoicer/internal/models"
)

const (
	DefaultPath        = "config.yaml"
	DefaultTimezone    = "Europe/Zagreb"
	DefaultCutoffDay   = 15
	DefaultNumberFmt   = "%d-1-1"
	DefaultHTTPTimeout = 30 * time.Second
	DefaultCachePath   = "token-cache.json"
	DefaultEventsQueue = "invoicer:deliveries"
	DefaultCurrency    = "EUR"
	DefaultItemName    = "Services {monthName} {year}"
	DefaultGraphURL    = "https://graph.microsoft.com/v1.0"
	DefaultSMTPHost    = "smtp.office365.com"
	DefaultSMTPPort    = 587
)

// Renderer configures the remote invoice rendering API.
type Renderer struct {
	URL      string `yaml:"url" validate:"required,url"`
	APIKey   string `yaml:"api_key"`
	MinSize  int    `yaml:"min_size" validate:"gte=0"`
	Currency string `yaml:"currency"`
	From     string `yaml:"from" validate:"required"`
	To       string `yaml:"to" validate:"required"`
	ItemName string `yaml:"item_name"`
	Notes    string `yaml:"notes"`
}

// OAuth holds the app registration shared by every OAuth template.
type OAuth struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURI  string   `yaml:"redirect_uri" validate:"omitempty,url"`
	TokenURL     string   `yaml:"token_url" validate:"omitempty,url"`
	Scopes       []string `yaml:"scopes"`
	CachePath    string   `yaml:"cache_path"`
	// CacheURL selects a Redis hash for the token cache instead of the file.
	CacheURL string `yaml:"cache_url" validate:"omitempty,url"`
}

// Graph configures the mailbox API.
type Graph struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

// SMTP configures the relay used by SMTP templates.
type SMTP struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`
}

// Config holds all configuration for an invoicing run.
type Config struct {
	Directory           string        `yaml:"directory" validate:"required"`
	Timezone            string        `yaml:"timezone"`
	CutoffDay           int           `yaml:"cutoff_day" validate:"gte=0,lte=28"`
	InvoiceNumberFormat string        `yaml:"invoice_number_format"`
	HTTPTimeout         time.Duration `yaml:"http_timeout" validate:"gte=0"`
	LogLevel            string        `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogJSON             bool          `yaml:"log_json"`

	Renderer Renderer `yaml:"renderer"`
	OAuth    OAuth    `yaml:"oauth"`
	Graph    Graph    `yaml:"graph"`
	SMTP     SMTP     `yaml:"smtp"`

	// Optional delivery record sinks.
	RedisURL    string `yaml:"redis_url" validate:"omitempty,url"`
	EventsQueue string `yaml:"events_queue"`
	DatabaseURL string `yaml:"database_url"`

	Templates []*models.RecipientTemplate `yaml:"templates" validate:"required,min=1,dive,required"`

	// Location is Timezone resolved by Load.
	Location *time.Location `yaml:"-"`
}

// Error reports a configuration that cannot be used. Nothing has been sent
// or written when it is returned.
type Error struct {
	Path     string
	Problems []string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("invalid config %s: %s", e.Path, strings.Join(e.Problems, "; "))
}

func (e *Error) Unwrap() error { return e.Err }

// Path returns the config path from CONFIG_PATH, or the default.
func Path() string {
	return envOrDefault("CONFIG_PATH", DefaultPath)
}

// Load reads configuration from path (with ${VAR} expansion), applies
// defaults and environment overrides, and validates the result. Any failure
// is returned as *Error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("read config file: %w", err)}
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("parse config: %w", err)}
	}

	cfg.applyDefaults()

	if problems := cfg.validate(); len(problems) > 0 {
		return nil, &Error{Path: path, Problems: problems}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Timezone = firstNonEmpty(c.Timezone, DefaultTimezone)
	if c.CutoffDay == 0 {
		c.CutoffDay = DefaultCutoffDay
	}
	c.InvoiceNumberFormat = firstNonEmpty(c.InvoiceNumberFormat, DefaultNumberFmt)
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = envOrDefaultDuration("HTTP_TIMEOUT", DefaultHTTPTimeout)
	}
	c.LogLevel = firstNonEmpty(c.LogLevel, envOrDefault("LOG_LEVEL", "info"))

	c.Renderer.Currency = firstNonEmpty(c.Renderer.Currency, DefaultCurrency)
	c.Renderer.ItemName = firstNonEmpty(c.Renderer.ItemName, DefaultItemName)

	c.OAuth.ClientSecret = firstNonEmpty(c.OAuth.ClientSecret, os.Getenv("OAUTH_CLIENT_SECRET"))
	c.OAuth.CachePath = firstNonEmpty(c.OAuth.CachePath, DefaultCachePath)

	c.Graph.BaseURL = firstNonEmpty(c.Graph.BaseURL, DefaultGraphURL)

	c.SMTP.Host = firstNonEmpty(c.SMTP.Host, DefaultSMTPHost)
	if c.SMTP.Port == 0 {
		c.SMTP.Port = envOrDefaultInt("SMTP_PORT", DefaultSMTPPort)
	}

	c.RedisURL = firstNonEmpty(c.RedisURL, os.Getenv("REDIS_URL"))
	c.EventsQueue = firstNonEmpty(c.EventsQueue, DefaultEventsQueue)
	c.DatabaseURL = firstNonEmpty(c.DatabaseURL, os.Getenv("DATABASE_URL"))
}

// UsesTransport reports whether any template is delivered over t.
func (c *Config) UsesTransport(t models.Transport) bool {
	for _, tmpl := range c.Templates {
		if tmpl != nil && tmpl.Transport == t {
			return true
		}
	}
	return false
}

func (c *Config) validate() []string {
	var problems []string

	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []string{err.Error()}
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: %s", fieldPath(fe.Namespace()), describe(fe)))
		}
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		problems = append(problems, fmt.Sprintf("timezone: unknown zone %q", c.Timezone))
	}
	c.Location = loc

	for i, tmpl := range c.Templates {
		if tmpl == nil {
			continue
		}
		problems = append(problems, validateVariant(i, tmpl)...)
	}
	if c.UsesTransport(models.TransportOAuth) && (c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" || c.OAuth.RedirectURI == "") {
		problems = append(problems, "oauth: client_id, client_secret and redirect_uri are required for oauth templates")
	}
	return problems
}

// validateVariant checks that a template carries exactly the identity its
// transport needs.
func validateVariant(i int, tmpl *models.RecipientTemplate) []string {
	var problems []string
	prefix := fmt.Sprintf("templates[%d]", i)

	switch tmpl.Transport {
	case models.TransportSMTP:
		if tmpl.SMTP == nil || tmpl.SMTP.Username == "" || tmpl.SMTP.Password == "" {
			problems = append(problems, prefix+".smtp: username and password are required")
		}
		if tmpl.OAuth != nil {
			problems = append(problems, prefix+".oauth: not allowed with smtp transport")
		}
	case models.TransportOAuth:
		if tmpl.OAuth == nil || tmpl.OAuth.Code == "" {
			problems = append(problems, prefix+".oauth: code is required")
		}
		if tmpl.SMTP != nil {
			problems = append(problems, prefix+".smtp: not allowed with oauth transport")
		}
	}
	return problems
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldPath drops the root type from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return fmt.Sprintf("%q is not a valid email address", fe.Value())
	case "url":
		return fmt.Sprintf("%q is not a valid URL", fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("needs at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
