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

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/invoicer/internal/console"
	"github.com/bcem/invoicer/internal/graph"
	"github.com/bcem/invoicer/internal/models"
	"github.com/bcem/invoicer/internal/period"
	"github.com/bcem/invoicer/internal/prompt"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeSMTP struct {
	sent []*models.RecipientTemplate
	errs map[string]error // keyed by recipient address
}

func (f *fakeSMTP) Send(_ context.Context, tmpl *models.RecipientTemplate) (string, error) {
	if err := f.errs[tmpl.To.Address]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, tmpl)
	return "<id-" + tmpl.To.Address + ">", nil
}

type fakeTokens struct {
	codes []string
	err   error
}

func (f *fakeTokens) AccessToken(_ context.Context, code string) (string, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return "", f.err
	}
	return "token-" + code, nil
}

type fakeMailbox struct {
	identity graph.Identity
	meErr    error
	sendErr  error
	sent     []graph.Message
	tokens   []string
}

func (f *fakeMailbox) Me(_ context.Context, token string) (*graph.Identity, error) {
	if f.meErr != nil {
		return nil, f.meErr
	}
	id := f.identity
	return &id, nil
}

func (f *fakeMailbox) SendMail(_ context.Context, token string, msg graph.Message) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.tokens = append(f.tokens, token)
	f.sent = append(f.sent, msg)
	return "req-" + msg.To.Address, nil
}

type captureRecorder struct {
	deliveries []models.Delivery
	err        error
}

func (c *captureRecorder) Record(_ context.Context, d models.Delivery) error {
	c.deliveries = append(c.deliveries, d)
	return c.err
}

type memorySent struct {
	marked map[string]time.Time
}

func (m *memorySent) WasSent(_ context.Context, invoice, recipient string) (bool, error) {
	_, ok := m.marked[invoice+"|"+recipient]
	return ok, nil
}

func (m *memorySent) MarkSent(_ context.Context, invoice, recipient string, at time.Time) error {
	if m.marked == nil {
		m.marked = map[string]time.Time{}
	}
	m.marked[invoice+"|"+recipient] = at
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// march2026 is the period billed on 10 April 2026.
func march2026() period.Period {
	return period.Resolve(time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC), time.UTC, 15, "")
}

func smtpTemplate(to string) *models.RecipientTemplate {
	return &models.RecipientTemplate{
		Transport: models.TransportSMTP,
		SMTP:      &models.SMTPIdentity{Username: "ana@example.com", Password: "s3cret-pass"},
		From:      models.Address{Name: "Ana Horvat", Address: "ana@example.com"},
		To:        models.Address{Name: "Billing", Address: to},
		Subject:   "Invoice {invoiceNumber}",
		Message:   "Invoice for {monthName} {year} ({monthNumber}) attached.",
	}
}

func oauthTemplate(code, to string) *models.RecipientTemplate {
	return &models.RecipientTemplate{
		Transport: models.TransportOAuth,
		OAuth:     &models.OAuthIdentity{Code: code},
		From:      models.Address{Name: "Ana Horvat", Address: "ana@example.com"},
		To:        models.Address{Name: "Billing", Address: to},
		Subject:   "Invoice {invoiceNumber}",
		Message:   "Invoice for {monthName} {year}.",
	}
}

type harness struct {
	out     bytes.Buffer // console output
	prompts bytes.Buffer // questions asked
}

func (h *harness) options(answers string) Options {
	return Options{
		Confirm: prompt.New(strings.NewReader(answers), &h.prompts),
		Console: console.New(&h.out, false),
		RunID:   "run-test",
	}
}

var pdf = []byte("%PDF-1.4 test invoice")

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestRun_TransportCalledOnlyOnYes verifies the send happens iff the trimmed,
// lowercased answer is exactly "y".
func TestRun_TransportCalledOnlyOnYes(t *testing.T) {
	tests := []struct {
		answer string
		sends  int
		status models.Status
	}{
		{"y\n", 1, models.StatusSent},
		{" Y \n", 1, models.StatusSent},
		{"yes\n", 0, models.StatusDeclined},
		{"n\n", 0, models.StatusDeclined},
		{"\n", 0, models.StatusDeclined},
		{"", 0, models.StatusDeclined},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.answer), func(t *testing.T) {
			var h harness
			smtp := &fakeSMTP{}
			opts := h.options(tt.answer)
			opts.SMTP = smtp

			outcomes, err := New(opts).Run(context.Background(),
				[]*models.RecipientTemplate{smtpTemplate("billing@example.org")}, march2026(), pdf)
			require.NoError(t, err)
			require.Len(t, outcomes, 1)
			assert.Equal(t, tt.status, outcomes[0].Status)
			assert.Len(t, smtp.sent, tt.sends)
			if tt.sends == 0 {
				assert.Contains(t, h.out.String(), "Email NOT sent.")
			}
		})
	}
}

// TestRun_SubstitutesAndAttaches verifies templates are rewritten in place
// and the preview never shows credentials.
func TestRun_SubstitutesAndAttaches(t *testing.T) {
	var h harness
	smtp := &fakeSMTP{}
	opts := h.options("y\n")
	opts.SMTP = smtp

	tmpl := smtpTemplate("billing@example.org")
	outcomes, err := New(opts).Run(context.Background(), []*models.RecipientTemplate{tmpl}, march2026(), pdf)
	require.NoError(t, err)

	assert.Equal(t, "Invoice 3-1-1", tmpl.Subject)
	assert.Equal(t, "Invoice for March 2026 (3) attached.", tmpl.Message)
	require.Len(t, tmpl.Attachments, 1)
	assert.Equal(t, "2026-3-1-1.pdf", tmpl.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", tmpl.Attachments[0].ContentType)
	assert.Equal(t, pdf, tmpl.Attachments[0].Content)

	assert.Equal(t, "<id-billing@example.org>", outcomes[0].MessageID)

	out := h.out.String()
	assert.Contains(t, out, "Email to send:")
	assert.Contains(t, out, `"subject": "Invoice 3-1-1"`)
	assert.Contains(t, out, "2026-3-1-1.pdf")
	assert.Contains(t, out, "Message sent to billing@example.org\n<id-billing@example.org>")
	assert.NotContains(t, out, "s3cret-pass")
	assert.Equal(t, SendQuestion, h.prompts.String())
}

// TestRun_SMTPFailureIsolated verifies a transport error fails only its own
// template and the next one is still prompted and sent.
func TestRun_SMTPFailureIsolated(t *testing.T) {
	var h harness
	smtp := &fakeSMTP{errs: map[string]error{
		"first@example.org": errors.New("535 Authentication unsuccessful"),
	}}
	opts := h.options("y\ny\n")
	opts.SMTP = smtp

	outcomes, err := New(opts).Run(context.Background(), []*models.RecipientTemplate{
		smtpTemplate("first@example.org"),
		smtpTemplate("second@example.org"),
	}, march2026(), pdf)
	require.NoError(t, err, "send failures do not fail the run")

	require.Len(t, outcomes, 2)
	assert.Equal(t, models.StatusFailed, outcomes[0].Status)
	var serr *SendError
	require.True(t, errors.As(outcomes[0].Err, &serr))
	assert.Equal(t, "first@example.org", serr.Recipient)

	assert.Equal(t, models.StatusSent, outcomes[1].Status)
	require.Len(t, smtp.sent, 1)
	assert.Equal(t, "second@example.org", smtp.sent[0].To.Address)

	assert.Equal(t, 2, strings.Count(h.prompts.String(), SendQuestion))
	assert.Contains(t, h.out.String(), "Authentication unsuccessful")
}

// TestRun_OAuthUsesIdentityAndFreshToken verifies each OAuth template gets
// its own token and is sent from the /me identity.
func TestRun_OAuthUsesIdentityAndFreshToken(t *testing.T) {
	var h harness
	tokens := &fakeTokens{}
	mailbox := &fakeMailbox{identity: graph.Identity{DisplayName: "Ana H.", Mail: "ana@contoso.com"}}
	opts := h.options("y\ny\n")
	opts.Tokens = tokens
	opts.Mailbox = mailbox

	outcomes, err := New(opts).Run(context.Background(), []*models.RecipientTemplate{
		oauthTemplate("abc", "one@example.org"),
		oauthTemplate("abc", "two@example.org"),
	}, march2026(), pdf)
	require.NoError(t, err)

	assert.Equal(t, []string{"abc", "abc"}, tokens.codes)
	require.Len(t, mailbox.sent, 2)
	assert.Equal(t, models.Address{Name: "Ana H.", Address: "ana@contoso.com"}, mailbox.sent[0].From)
	assert.Equal(t, "Invoice 3-1-1", mailbox.sent[0].Subject)
	require.Len(t, mailbox.sent[0].Attachments, 1)
	assert.Equal(t, "req-two@example.org", outcomes[1].MessageID)
}

// TestRun_OAuthSendRejected verifies a mailbox rejection is a per-template
// failure, not an auth error.
func TestRun_OAuthSendRejected(t *testing.T) {
	var h harness
	opts := h.options("y\n")
	opts.Tokens = &fakeTokens{}
	opts.Mailbox = &fakeMailbox{
		identity: graph.Identity{Mail: "ana@contoso.com"},
		sendErr:  &graph.StatusError{Op: "sendMail", StatusCode: 403, Body: "ErrorAccessDenied"},
	}

	outcomes, err := New(opts).Run(context.Background(),
		[]*models.RecipientTemplate{oauthTemplate("abc", "one@example.org")}, march2026(), pdf)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, outcomes[0].Status)

	var gerr *graph.StatusError
	assert.True(t, errors.As(outcomes[0].Err, &gerr))
}

// TestRun_IdentityLookupFailureIsAuthFailure verifies a /me failure is
// reported in the run error.
func TestRun_IdentityLookupFailureIsAuthFailure(t *testing.T) {
	var h harness
	opts := h.options("y\n")
	opts.Tokens = &fakeTokens{}
	opts.Mailbox = &fakeMailbox{meErr: &graph.StatusError{Op: "me", StatusCode: 401}}

	outcomes, err := New(opts).Run(context.Background(),
		[]*models.RecipientTemplate{oauthTemplate("abc", "one@example.org")}, march2026(), pdf)
	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, outcomes[0].Status)
	assert.Contains(t, err.Error(), "lookup sender identity")
}

// TestRun_RecordsOutcomes verifies every outcome reaches the recorders and
// only successful sends are marked.
func TestRun_RecordsOutcomes(t *testing.T) {
	var h harness
	rec := &captureRecorder{}
	failing := &captureRecorder{err: errors.New("queue down")}
	sent := &memorySent{}
	opts := h.options("y\nn\n")
	opts.SMTP = &fakeSMTP{}
	opts.Recorders = []Recorder{rec, failing}
	opts.Sent = sent

	d := New(opts)
	now := time.Date(2026, 4, 10, 8, 30, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	_, err := d.Run(context.Background(), []*models.RecipientTemplate{
		smtpTemplate("first@example.org"),
		smtpTemplate("second@example.org"),
	}, march2026(), pdf)
	require.NoError(t, err, "recorder failures are not run failures")

	require.Len(t, rec.deliveries, 2)
	assert.Equal(t, models.Delivery{
		RunID:         "run-test",
		InvoiceNumber: "3-1-1",
		Year:          2026,
		Month:         3,
		Recipient:     "first@example.org",
		Transport:     models.TransportSMTP,
		Status:        models.StatusSent,
		MessageID:     "<id-first@example.org>",
		At:            now,
	}, rec.deliveries[0])
	assert.Equal(t, models.StatusDeclined, rec.deliveries[1].Status)
	assert.Len(t, failing.deliveries, 2)

	assert.Equal(t, map[string]time.Time{"2026-3-1-1|first@example.org": now}, sent.marked)
}

// TestRun_WarnsWhenAlreadySent verifies the preview flags a repeat delivery.
func TestRun_WarnsWhenAlreadySent(t *testing.T) {
	var h harness
	sent := &memorySent{}
	require.NoError(t, sent.MarkSent(context.Background(), "2026-3-1-1", "billing@example.org", time.Now()))
	opts := h.options("n\n")
	opts.SMTP = &fakeSMTP{}
	opts.Sent = sent

	_, err := New(opts).Run(context.Background(),
		[]*models.RecipientTemplate{smtpTemplate("billing@example.org")}, march2026(), pdf)
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "Invoice 2026-3-1-1 was already sent to billing@example.org.")
}

func TestRun_CanceledContext(t *testing.T) {
	var h harness
	smtp := &fakeSMTP{}
	opts := h.options("y\n")
	opts.SMTP = smtp

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := New(opts).Run(ctx, []*models.RecipientTemplate{smtpTemplate("a@example.org")}, march2026(), pdf)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, outcomes)
	assert.Empty(t, smtp.sent)
}

func TestRun_UnconfiguredTransport(t *testing.T) {
	var h harness
	outcomes, err := New(h.options("y\ny\n")).Run(context.Background(), []*models.RecipientTemplate{
		smtpTemplate("a@example.org"),
		oauthTemplate("abc", "b@example.org"),
	}, march2026(), pdf)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, outcomes[0].Status)
	assert.Equal(t, models.StatusFailed, outcomes[1].Status)
}

func TestCleanup(t *testing.T) {
	tests := []struct {
		answer  string
		removed bool
	}{
		{"y\n", true},
		{"n\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.answer), func(t *testing.T) {
			var h harness
			path := filepath.Join(t.TempDir(), "2026-3-1-1.pdf")
			require.NoError(t, os.WriteFile(path, pdf, 0o644))

			removed, err := New(h.options(tt.answer)).Cleanup(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, tt.removed, removed)
			assert.Equal(t, "Delete "+path+"? [y/N] ", h.prompts.String())

			_, statErr := os.Stat(path)
			assert.Equal(t, tt.removed, os.IsNotExist(statErr))
		})
	}
}
