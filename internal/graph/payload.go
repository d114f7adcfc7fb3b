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

package graph

import (
	"encoding/base64"

	"github.com/bcem/invoicer/internal/models"
)

const fileAttachmentType = "#microsoft.graph.fileAttachment"

// sendMailRequest is the body of POST /me/sendMail.
type sendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

type graphMessage struct {
	Subject      string            `json:"subject"`
	Body         graphBody         `json:"body"`
	From         *graphRecipient   `json:"from,omitempty"`
	ToRecipients []graphRecipient  `json:"toRecipients"`
	Attachments  []graphAttachment `json:"attachments,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

func recipient(a models.Address) graphRecipient {
	return graphRecipient{EmailAddress: graphEmailAddress{Name: a.Name, Address: a.Address}}
}

// buildSendMail converts a Message into the Graph sendMail payload with
// base64-encoded file attachments.
func buildSendMail(msg Message) sendMailRequest {
	m := graphMessage{
		Subject:      msg.Subject,
		Body:         graphBody{ContentType: "Text", Content: msg.Body},
		ToRecipients: []graphRecipient{recipient(msg.To)},
	}
	if msg.From.Address != "" {
		from := recipient(msg.From)
		m.From = &from
	}
	for _, a := range msg.Attachments {
		m.Attachments = append(m.Attachments, graphAttachment{
			ODataType:    fileAttachmentType,
			Name:         a.Filename,
			ContentType:  a.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(a.Content),
		})
	}
	return sendMailRequest{Message: m, SaveToSentItems: true}
}
