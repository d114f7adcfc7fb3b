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

// Package placeholder replaces {key} tokens in subjects and messages.
package placeholder

import (
	"strings"

	"github.com/bcem/invoicer/internal/models"
)

// Entry is a single named placeholder.
type Entry struct {
	Key   string
	Value string
}

// Dictionary is an ordered set of placeholders. Keys are applied in order.
type Dictionary []Entry

// Get returns the value for key.
func (d Dictionary) Get(key string) (string, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Substitute replaces every literal {key} in text with its value. Each key
// is applied once; substituted values are not scanned again.
func Substitute(text string, dict Dictionary) string {
	for _, e := range dict {
		text = strings.ReplaceAll(text, "{"+e.Key+"}", e.Value)
	}
	return text
}

// Apply rewrites the subject and message of tmpl in place.
func Apply(tmpl *models.RecipientTemplate, dict Dictionary) {
	tmpl.Subject = Substitute(tmpl.Subject, dict)
	tmpl.Message = Substitute(tmpl.Message, dict)
}
