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

package smtp

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/go-gomail/gomail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/invoicer/internal/models"
)

// captureSender records every message instead of dialing a relay.
type captureSender struct {
	messages []*gomail.Message
	err      error
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, m...)
	return nil
}

type dialRecord struct {
	host     string
	port     int
	username string
	password string
}

func captureDial(sender *captureSender, rec *dialRecord) DialFunc {
	return func(host string, port int, username, password string) Sender {
		*rec = dialRecord{host, port, username, password}
		return sender
	}
}

func sampleTemplate() *models.RecipientTemplate {
	return &models.RecipientTemplate{
		Transport: models.TransportSMTP,
		SMTP:      &models.SMTPIdentity{Username: "ana@example.com", Password: "hunter2"},
		From:      models.Address{Name: "Ana Horvat", Address: "ana@example.com"},
		To:        models.Address{Name: "Billing", Address: "billing@example.org"},
		Subject:   "Invoice 3-1-1",
		Message:   "Invoice for March attached.",
		Attachments: []models.Attachment{
			{Filename: "2026-3-1-1.pdf", Content: []byte("%PDF-1.4 body"), ContentType: "application/pdf"},
		},
	}
}

func TestSend(t *testing.T) {
	sender := &captureSender{}
	var rec dialRecord
	tr := New("mail.example.com", 2525, captureDial(sender, &rec))

	id, err := tr.Send(context.Background(), sampleTemplate())
	require.NoError(t, err)

	assert.Equal(t, dialRecord{"mail.example.com", 2525, "ana@example.com", "hunter2"}, rec)
	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@example.com>"))

	require.Len(t, sender.messages, 1)
	m := sender.messages[0]
	assert.Equal(t, []string{"Invoice 3-1-1"}, m.GetHeader("Subject"))
	assert.Equal(t, []string{id}, m.GetHeader("Message-ID"))

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "billing@example.org")
	assert.Contains(t, raw, `filename="2026-3-1-1.pdf"`)
	assert.Contains(t, raw, "application/pdf")
	assert.Contains(t, raw, base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 body")))
	assert.NotContains(t, raw, "hunter2")
}

func TestSend_Defaults(t *testing.T) {
	sender := &captureSender{}
	var rec dialRecord
	tr := New("", 0, captureDial(sender, &rec))

	_, err := tr.Send(context.Background(), sampleTemplate())
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, rec.host)
	assert.Equal(t, DefaultPort, rec.port)
}

func TestSend_TransportError(t *testing.T) {
	sender := &captureSender{err: errors.New("535 5.7.3 Authentication unsuccessful")}
	var rec dialRecord
	tr := New("mail.example.com", 587, captureDial(sender, &rec))

	_, err := tr.Send(context.Background(), sampleTemplate())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Authentication unsuccessful")
}

func TestSend_MissingCredentials(t *testing.T) {
	tmpl := sampleTemplate()
	tmpl.SMTP = nil

	_, err := New("", 0, captureDial(&captureSender{}, &dialRecord{})).Send(context.Background(), tmpl)
	assert.Error(t, err)
}

func TestSend_CanceledContext(t *testing.T) {
	sender := &captureSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New("", 0, captureDial(sender, &dialRecord{})).Send(ctx, sampleTemplate())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sender.messages)
}

func TestMessageID_NoDomain(t *testing.T) {
	assert.True(t, strings.HasSuffix(messageID("nobody"), "@localhost>"))
}
