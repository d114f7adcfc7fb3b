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

package placeholder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bcem/invoicer/internal/models"
)

func sampleDict() Dictionary {
	return Dictionary{
		{Key: "monthNumber", Value: "3"},
		{Key: "monthName", Value: "March"},
		{Key: "year", Value: "2026"},
		{Key: "invoiceNumber", Value: "3-1-1"},
	}
}

// TestSubstitute_AllKeys verifies every occurrence of every key is replaced.
func TestSubstitute_AllKeys(t *testing.T) {
	got := Substitute("Invoice {invoiceNumber} for {monthName} {year} ({monthNumber}/{year})", sampleDict())
	assert.Equal(t, "Invoice 3-1-1 for March 2026 (3/2026)", got)
}

// TestSubstitute_UnknownTokensUntouched verifies tokens outside the
// dictionary are left alone.
func TestSubstitute_UnknownTokensUntouched(t *testing.T) {
	got := Substitute("Hello {name}, {year}", sampleDict())
	assert.Equal(t, "Hello {name}, 2026", got)
}

// TestSubstitute_Idempotent verifies that substituting twice yields the same
// result as substituting once.
func TestSubstitute_Idempotent(t *testing.T) {
	dict := sampleDict()
	texts := []string{
		"",
		"no tokens here",
		"{monthName}{monthName}",
		"Račun {invoiceNumber} / {monthNumber}.{year}.",
	}
	for _, text := range texts {
		once := Substitute(text, dict)
		assert.Equal(t, once, Substitute(once, dict), "text %q", text)
	}
}

// TestSubstitute_SinglePass verifies a value containing a token is not
// expanded again.
func TestSubstitute_SinglePass(t *testing.T) {
	dict := Dictionary{
		{Key: "year", Value: "{monthName}"},
		{Key: "monthName", Value: "March"},
	}
	// year runs first and introduces {monthName}, which the later key
	// then replaces; a key that runs before its token appears is not
	// revisited.
	assert.Equal(t, "March", Substitute("{year}", dict))

	reversed := Dictionary{
		{Key: "monthName", Value: "March"},
		{Key: "year", Value: "{monthName}"},
	}
	assert.Equal(t, "{monthName}", Substitute("{year}", reversed))
}

// TestApply_RewritesInPlace verifies subject and message are mutated on the
// template itself.
func TestApply_RewritesInPlace(t *testing.T) {
	tmpl := &models.RecipientTemplate{
		Subject: "Invoice {invoiceNumber}",
		Message: "Attached is the invoice for {monthName} {year}.",
	}
	Apply(tmpl, sampleDict())

	assert.Equal(t, "Invoice 3-1-1", tmpl.Subject)
	assert.Equal(t, "Attached is the invoice for March 2026.", tmpl.Message)
}

func TestDictionary_Get(t *testing.T) {
	v, ok := sampleDict().Get("year")
	assert.True(t, ok)
	assert.Equal(t, "2026", v)

	_, ok = sampleDict().Get("missing")
	assert.False(t, ok)
}
