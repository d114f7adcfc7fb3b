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

// Package dispatch walks the configured recipient templates, asks the
// operator to confirm each message and sends it over the template's
// transport.
//
// Templates are handled strictly one after another: every send is preceded
// by an interactive prompt and the token cache has a single writer.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/invoicer/internal/console"
	"github.com/bcem/invoicer/internal/graph"
	"github.com/bcem/invoicer/internal/models"
	"github.com/bcem/invoicer/internal/period"
	"github.com/bcem/invoicer/internal/placeholder"
)

const (
	// SendQuestion is asked before every message.
	SendQuestion = "Send this email? [y/N] "

	pdfContentType = "application/pdf"
)

// TokenProvider returns a mailbox access token for an authorization code.
type TokenProvider interface {
	AccessToken(ctx context.Context, code string) (string, error)
}

// Mailbox is the delegated mail API used by OAuth templates.
type Mailbox interface {
	Me(ctx context.Context, accessToken string) (*graph.Identity, error)
	SendMail(ctx context.Context, accessToken string, msg graph.Message) (string, error)
}

// SMTPSender delivers SMTP templates.
type SMTPSender interface {
	Send(ctx context.Context, tmpl *models.RecipientTemplate) (string, error)
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Recorder receives every outcome of a run.
type Recorder interface {
	Record(ctx context.Context, d models.Delivery) error
}

// SentFilter remembers which invoices already reached which recipients.
type SentFilter interface {
	WasSent(ctx context.Context, invoice, recipient string) (bool, error)
	MarkSent(ctx context.Context, invoice, recipient string, at time.Time) error
}

// SendError reports a transport failure for a single recipient.
type SendError struct {
	Recipient string
	Transport models.Transport
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s over %s: %v", e.Recipient, e.Transport, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Options wires a Dispatcher. Tokens and Mailbox are only needed when OAuth
// templates are configured, SMTP only for SMTP templates. Recorders and
// Sent are optional.
type Options struct {
	Tokens    TokenProvider
	Mailbox   Mailbox
	SMTP      SMTPSender
	Confirm   Confirmer
	Console   *console.Console
	Recorders []Recorder
	Sent      SentFilter
	RunID     string
}

// Dispatcher sends one invoice to every recipient template.
type Dispatcher struct {
	tokens    TokenProvider
	mailbox   Mailbox
	smtp      SMTPSender
	confirm   Confirmer
	console   *console.Console
	recorders []Recorder
	sent      SentFilter
	runID     string
	now       func() time.Time
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	con := opts.Console
	if con == nil {
		con = console.New(os.Stdout, false)
	}
	return &Dispatcher{
		tokens:    opts.Tokens,
		mailbox:   opts.Mailbox,
		smtp:      opts.SMTP,
		confirm:   opts.Confirm,
		console:   con,
		recorders: opts.Recorders,
		sent:      opts.Sent,
		runID:     runID,
		now:       time.Now,
	}
}

// RunID identifies this dispatcher's run in recorded deliveries.
func (d *Dispatcher) RunID() string { return d.runID }

// preview is what the operator sees before confirming. Credentials are
// never part of it.
type preview struct {
	Transport   models.Transport `json:"transport"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Subject     string           `json:"subject"`
	Text        string           `json:"text"`
	Attachments []string         `json:"attachments"`
}

// Run processes templates in order and returns one outcome per template.
//
// Templates are mutated: subject and message get the period placeholders and
// the invoice is appended to the attachments. A failed or declined template
// never stops the loop. Authentication failures are additionally joined into
// the returned error so the caller can exit non-zero. A prompt that cannot
// be read or a canceled ctx aborts the run with the outcomes gathered so far.
func (d *Dispatcher) Run(ctx context.Context, templates []*models.RecipientTemplate, p period.Period, pdf []byte) ([]models.Outcome, error) {
	dict := p.Placeholders()
	invoice := invoiceKey(p)
	outcomes := make([]models.Outcome, 0, len(templates))
	var authErrs []error

	for _, tmpl := range templates {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		placeholder.Apply(tmpl, dict)
		tmpl.Attachments = append(tmpl.Attachments, models.Attachment{
			Filename:    p.AttachmentName(),
			Content:     pdf,
			ContentType: pdfContentType,
		})

		d.showPreview(ctx, tmpl, invoice)

		ok, err := d.confirm.Confirm(ctx, SendQuestion)
		if err != nil {
			return outcomes, fmt.Errorf("confirm send to %s: %w", tmpl.To.Address, err)
		}

		out := models.Outcome{Recipient: tmpl.To, Transport: tmpl.Transport}
		if !ok {
			out.Status = models.StatusDeclined
			d.console.Error("Email NOT sent.")
		} else {
			id, authFailed, err := d.send(ctx, tmpl)
			if err != nil {
				out.Status = models.StatusFailed
				out.Err = err
				d.console.Error(err.Error())
				slog.Error("send failed",
					"recipient", tmpl.To.Address,
					"transport", tmpl.Transport,
					"error", err,
				)
				if authFailed {
					authErrs = append(authErrs, err)
				}
			} else {
				out.Status = models.StatusSent
				out.MessageID = id
				d.console.Success(fmt.Sprintf("Message sent to %s\n%s", tmpl.To.Address, id))
			}
		}

		d.record(ctx, p, invoice, out)
		outcomes = append(outcomes, out)
	}

	return outcomes, errors.Join(authErrs...)
}

// send delivers tmpl over its transport and returns the message id. The
// boolean is set when the error came from obtaining the mailbox credential
// or identity rather than from the send itself.
func (d *Dispatcher) send(ctx context.Context, tmpl *models.RecipientTemplate) (string, bool, error) {
	switch tmpl.Transport {
	case models.TransportSMTP:
		if d.smtp == nil {
			return "", false, &SendError{Recipient: tmpl.To.Address, Transport: tmpl.Transport, Err: errors.New("smtp transport not configured")}
		}
		id, err := d.smtp.Send(ctx, tmpl)
		if err != nil {
			return "", false, &SendError{Recipient: tmpl.To.Address, Transport: tmpl.Transport, Err: err}
		}
		return id, false, nil

	case models.TransportOAuth:
		return d.sendOAuth(ctx, tmpl)

	default:
		return "", false, &SendError{
			Recipient: tmpl.To.Address,
			Transport: tmpl.Transport,
			Err:       fmt.Errorf("unknown transport %q", tmpl.Transport),
		}
	}
}

func (d *Dispatcher) sendOAuth(ctx context.Context, tmpl *models.RecipientTemplate) (string, bool, error) {
	if d.tokens == nil || d.mailbox == nil || tmpl.OAuth == nil {
		return "", false, &SendError{Recipient: tmpl.To.Address, Transport: tmpl.Transport, Err: errors.New("oauth transport not configured")}
	}

	// A fresh token per template; access tokens are never reused.
	token, err := d.tokens.AccessToken(ctx, tmpl.OAuth.Code)
	if err != nil {
		return "", true, err
	}

	me, err := d.mailbox.Me(ctx, token)
	if err != nil {
		return "", true, fmt.Errorf("lookup sender identity: %w", err)
	}
	from := me.Address()
	if from.Name == "" {
		from.Name = tmpl.From.Name
	}

	id, err := d.mailbox.SendMail(ctx, token, graph.Message{
		From:        from,
		To:          tmpl.To,
		Subject:     tmpl.Subject,
		Body:        tmpl.Message,
		Attachments: tmpl.Attachments,
	})
	if err != nil {
		return "", false, &SendError{Recipient: tmpl.To.Address, Transport: tmpl.Transport, Err: err}
	}
	return id, false, nil
}

func (d *Dispatcher) showPreview(ctx context.Context, tmpl *models.RecipientTemplate, invoice string) {
	names := make([]string, 0, len(tmpl.Attachments))
	for _, a := range tmpl.Attachments {
		names = append(names, a.Filename)
	}

	d.console.Plain("Email to send:")
	d.console.Info(preview{
		Transport:   tmpl.Transport,
		From:        tmpl.From.String(),
		To:          tmpl.To.String(),
		Subject:     tmpl.Subject,
		Text:        tmpl.Message,
		Attachments: names,
	})

	if d.sent == nil {
		return
	}
	already, err := d.sent.WasSent(ctx, invoice, tmpl.To.Address)
	if err != nil {
		slog.Warn("delivery history unavailable", "recipient", tmpl.To.Address, "error", err)
		return
	}
	if already {
		d.console.Warn(fmt.Sprintf("Invoice %s was already sent to %s.", invoice, tmpl.To.Address))
	}
}

// record hands the outcome to every sink. Sink failures never affect the run.
func (d *Dispatcher) record(ctx context.Context, p period.Period, invoice string, out models.Outcome) {
	at := d.now().UTC()
	delivery := models.Delivery{
		RunID:         d.runID,
		InvoiceNumber: p.InvoiceNumber,
		Year:          p.Year,
		Month:         p.MonthNumber,
		Recipient:     out.Recipient.Address,
		Transport:     out.Transport,
		Status:        out.Status,
		MessageID:     out.MessageID,
		At:            at,
	}
	if out.Err != nil {
		delivery.Error = out.Err.Error()
	}

	for _, r := range d.recorders {
		if err := r.Record(ctx, delivery); err != nil {
			slog.Warn("failed to record delivery", "recipient", delivery.Recipient, "error", err)
		}
	}

	if d.sent != nil && out.Status == models.StatusSent {
		if err := d.sent.MarkSent(ctx, invoice, out.Recipient.Address, at); err != nil {
			slog.Warn("failed to mark delivery", "recipient", delivery.Recipient, "error", err)
		}
	}
}

// Cleanup asks whether the local preview at path should be deleted and
// removes it on confirmation. It reports whether the file was removed.
func (d *Dispatcher) Cleanup(ctx context.Context, path string) (bool, error) {
	ok, err := d.confirm.Confirm(ctx, fmt.Sprintf("Delete %s? [y/N] ", path))
	if err != nil {
		return false, fmt.Errorf("confirm delete: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("delete preview: %w", err)
	}
	d.console.Success(fmt.Sprintf("Deleted %s", path))
	return true, nil
}

func invoiceKey(p period.Period) string {
	return fmt.Sprintf("%d-%s", p.Year, p.InvoiceNumber)
}
