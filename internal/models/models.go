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

// Package models defines the data structures shared across the invoicer.
package models

import (
	"fmt"
	"time"
)

// Transport selects how a recipient template is delivered.
type Transport string

const (
	// TransportSMTP sends through an SMTP relay with username/password.
	TransportSMTP Transport = "smtp"
	// TransportOAuth sends through the delegated mailbox API.
	TransportOAuth Transport = "oauth"
)

// Address is a named email address.
type Address struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	Address string `yaml:"address" json:"address" validate:"required,email"`
}

// String renders the address in RFC 5322 display form.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%q <%s>", a.Name, a.Address)
}

// SMTPIdentity holds basic-auth credentials for the SMTP transport.
type SMTPIdentity struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// OAuthIdentity holds the authorization code that also keys the token cache.
type OAuthIdentity struct {
	Code string `yaml:"code" json:"code"`
}

// Attachment is a file bound to an outgoing message.
type Attachment struct {
	Filename    string
	Content     []byte
	ContentType string
}

// RecipientTemplate describes one outgoing invoice email. Exactly one of
// SMTP or OAuth is set, matching Transport.
//
// Templates are mutated in place during a run: Subject and Message are
// rewritten by placeholder substitution and Attachments grows by the invoice.
type RecipientTemplate struct {
	Transport   Transport      `yaml:"transport" json:"transport" validate:"required,oneof=smtp oauth"`
	SMTP        *SMTPIdentity  `yaml:"smtp,omitempty" json:"smtp,omitempty"`
	OAuth       *OAuthIdentity `yaml:"oauth,omitempty" json:"oauth,omitempty"`
	From        Address        `yaml:"from" json:"from" validate:"required"`
	To          Address        `yaml:"to" json:"to" validate:"required"`
	Subject     string         `yaml:"subject" json:"subject" validate:"required"`
	Message     string         `yaml:"message" json:"message" validate:"required"`
	Attachments []Attachment   `yaml:"-" json:"-"`
}

// Status is the result of processing one recipient template.
type Status string

const (
	StatusSent     Status = "sent"
	StatusDeclined Status = "declined"
	StatusFailed   Status = "failed"
)

// Outcome records what happened to a single recipient template.
type Outcome struct {
	Recipient Address
	Transport Transport
	Status    Status
	MessageID string // provider message id, set when Status is sent
	Err       error  // set when Status is failed
}

// Delivery is the persisted form of an Outcome, written by the ledger and
// published as an event.
type Delivery struct {
	RunID         string    `json:"run_id"`
	InvoiceNumber string    `json:"invoice_number"`
	Year          int       `json:"year"`
	Month         int       `json:"month"`
	Recipient     string    `json:"recipient"`
	Transport     Transport `json:"transport"`
	Status        Status    `json:"status"`
	MessageID     string    `json:"message_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}
