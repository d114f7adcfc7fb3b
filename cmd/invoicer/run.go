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

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bcem/invoicer/internal/config"
	"github.com/bcem/invoicer/internal/console"
	"github.com/bcem/invoicer/internal/dispatch"
	"github.com/bcem/invoicer/internal/graph"
	"github.com/bcem/invoicer/internal/models"
	"github.com/bcem/invoicer/internal/oauth"
	"github.com/bcem/invoicer/internal/period"
	"github.com/bcem/invoicer/internal/placeholder"
	"github.com/bcem/invoicer/internal/prompt"
	"github.com/bcem/invoicer/internal/render"
	"github.com/bcem/invoicer/internal/smtp"
	"github.com/bcem/invoicer/internal/tokencache"
)

// invoiceDateLayout is how the billed date is printed on the invoice.
const invoiceDateLayout = "02.01.2006."

// environment is everything a command touches outside the config file.
type environment struct {
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	now      func() time.Time
	smtpDial smtp.DialFunc // nil dials real relays
}

func defaultEnvironment() *environment {
	return &environment{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		now:    time.Now,
	}
}

// loadConfig loads the config and installs the logger it asks for. Config
// failures are printed before any network or file side effect.
func loadConfig(env *environment, con *console.Console, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		con.Error("Invalid config")
		con.Error(err.Error())
		return nil, exitWith(1, err)
	}
	slog.SetDefault(console.NewLogger(env.stderr, cfg.LogLevel, cfg.LogJSON))
	return cfg, nil
}

func runInvoice(ctx context.Context, env *environment, flags *globalFlags, args []string) error {
	con := console.New(env.stdout, !flags.noColor)

	items, err := render.ParseItems(args, "")
	if err != nil {
		con.Error(err.Error())
		con.Usage(appName, version)
		return exitWith(2, err)
	}

	cfg, err := loadConfig(env, con, flags)
	if err != nil {
		return err
	}

	p := period.Resolve(env.now(), cfg.Location, cfg.CutoffDay, cfg.InvoiceNumberFormat)
	dict := p.Placeholders()
	itemName := placeholder.Substitute(cfg.Renderer.ItemName, dict)
	for i := range items {
		items[i].Name = itemName
	}

	// A corrupt token cache is fatal, so it is opened before anything is
	// rendered or written.
	var cache tokencache.Store
	if cfg.UsesTransport(models.TransportOAuth) {
		store, closeCache, err := openTokenCache(cfg)
		if err != nil {
			con.Error(err.Error())
			return exitWith(1, err)
		}
		defer closeCache()
		cache = store
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	con.Info(fmt.Sprintf("Invoice %s for %s %d", p.InvoiceNumber, p.MonthName, p.Year))

	renderer := render.NewClient(httpClient, cfg.Renderer.URL, cfg.Renderer.APIKey, cfg.Renderer.MinSize)
	pdf, err := renderer.Render(ctx, render.Invoice{
		From:     cfg.Renderer.From,
		To:       cfg.Renderer.To,
		Number:   p.InvoiceNumber,
		Date:     p.Date.Format(invoiceDateLayout),
		Currency: cfg.Renderer.Currency,
		Items:    items,
		Notes:    placeholder.Substitute(cfg.Renderer.Notes, dict),
	})
	if err != nil {
		con.Error(err.Error())
		return exitWith(1, err)
	}

	previewPath, err := render.SavePreview(cfg.Directory, p.AttachmentName(), pdf)
	if err != nil {
		con.Error(err.Error())
		return exitWith(1, err)
	}
	con.Info("Preview saved to " + previewPath)

	s := openSinks(ctx, cfg)
	defer s.Close()

	opts := dispatch.Options{
		Confirm:   prompt.New(env.stdin, env.stdout),
		Console:   con,
		Recorders: s.recorders,
		Sent:      s.sent,
	}
	if cfg.UsesTransport(models.TransportSMTP) {
		opts.SMTP = smtp.New(cfg.SMTP.Host, cfg.SMTP.Port, env.smtpDial)
	}
	if cache != nil {
		opts.Tokens = oauth.NewBroker(brokerConfig(cfg, httpClient), cache)
		opts.Mailbox = graph.NewClient(httpClient, cfg.Graph.BaseURL)
	}

	d := dispatch.New(opts)
	outcomes, runErr := d.Run(ctx, cfg.Templates, p, pdf)
	logSummary(d.RunID(), outcomes)

	// A run that stopped early (prompt closed, interrupted) skips cleanup.
	if runErr != nil && len(outcomes) < len(cfg.Templates) {
		con.Error(runErr.Error())
		return exitWith(1, runErr)
	}

	if _, err := d.Cleanup(ctx, previewPath); err != nil {
		con.Error(err.Error())
	}

	if runErr != nil {
		return exitWith(1, runErr)
	}
	return nil
}

func brokerConfig(cfg *config.Config, httpClient *http.Client) oauth.Config {
	return oauth.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURI,
		TokenURL:     cfg.OAuth.TokenURL,
		Scopes:       cfg.OAuth.Scopes,
		HTTPClient:   httpClient,
	}
}

func logSummary(runID string, outcomes []models.Outcome) {
	counts := map[models.Status]int{}
	for _, o := range outcomes {
		counts[o.Status]++
	}
	slog.Info("run complete",
		"run_id", runID,
		"sent", counts[models.StatusSent],
		"declined", counts[models.StatusDeclined],
		"failed", counts[models.StatusFailed],
	)
}
