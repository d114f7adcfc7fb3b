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

// Package smtp sends recipient templates over authenticated SMTP.
package smtp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-gomail/gomail"
	"github.com/google/uuid"

	"github.com/bcem/invoicer/internal/models"
)

const (
	DefaultHost = "smtp.office365.com"
	DefaultPort = 587
)

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// DialFunc opens a Sender for one set of credentials.
type DialFunc func(host string, port int, username, password string) Sender

func gomailDialer(host string, port int, username, password string) Sender {
	return gomail.NewDialer(host, port, username, password)
}

// Transport sends mail through a single SMTP relay, authenticating with the
// credentials of each template.
type Transport struct {
	host string
	port int
	dial DialFunc
}

// New creates a Transport for host:port. A nil dial uses gomail's dialer.
func New(host string, port int, dial DialFunc) *Transport {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	if dial == nil {
		dial = gomailDialer
	}
	return &Transport{host: host, port: port, dial: dial}
}

// Send delivers tmpl using its SMTP identity and returns the Message-ID
// assigned to the message.
func (t *Transport) Send(ctx context.Context, tmpl *models.RecipientTemplate) (string, error) {
	if tmpl.SMTP == nil {
		return "", fmt.Errorf("template for %s has no smtp credentials", tmpl.To.Address)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msgID := messageID(tmpl.From.Address)
	m := compose(tmpl, msgID)

	sender := t.dial(t.host, t.port, tmpl.SMTP.Username, tmpl.SMTP.Password)
	if err := sender.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send via %s:%d: %w", t.host, t.port, err)
	}

	slog.Debug("smtp message sent", "to", tmpl.To.Address, "message_id", msgID)
	return msgID, nil
}

func compose(tmpl *models.RecipientTemplate, msgID string) *gomail.Message {
	m := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	m.SetAddressHeader("From", tmpl.From.Address, tmpl.From.Name)
	m.SetAddressHeader("To", tmpl.To.Address, tmpl.To.Name)
	m.SetHeader("Subject", tmpl.Subject)
	m.SetHeader("Message-ID", msgID)
	m.SetBody("text/plain", tmpl.Message)

	for _, a := range tmpl.Attachments {
		content := a.Content
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {a.ContentType},
			}))
		}
		m.Attach(a.Filename, settings...)
	}
	return m
}

func messageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
