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

// Package period resolves the billing period an invoice is attributed to.
package period

import (
	"fmt"
	"strconv"
	"time"
	_ "time/tzdata" // billing timezones must resolve on hosts without zoneinfo

	"github.com/bcem/invoicer/internal/placeholder"
)

const (
	// DefaultCutoffDay is the last day of a month that still bills the
	// previous month.
	DefaultCutoffDay = 15

	// DefaultNumberFormat renders the invoice number from the month number.
	DefaultNumberFormat = "%d-1-1"
)

// Period is the month an invoice is attributed to.
type Period struct {
	Date          time.Time // last day of the billed month
	MonthNumber   int
	MonthName     string
	Year          int
	InvoiceNumber string
}

// Resolve computes the billing period for now in loc. On or before
// cutoffDay the invoice covers the previous month, after it the current
// one. Either way the period date is the last day of that month.
func Resolve(now time.Time, loc *time.Location, cutoffDay int, numberFormat string) Period {
	if loc == nil {
		loc = time.UTC
	}
	if cutoffDay <= 0 {
		cutoffDay = DefaultCutoffDay
	}
	if numberFormat == "" {
		numberFormat = DefaultNumberFormat
	}

	local := now.In(loc)
	firstOfMonth := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)

	var end time.Time
	if local.Day() <= cutoffDay {
		end = firstOfMonth.AddDate(0, 0, -1)
	} else {
		end = firstOfMonth.AddDate(0, 1, -1)
	}

	return Period{
		Date:          end,
		MonthNumber:   int(end.Month()),
		MonthName:     end.Month().String(),
		Year:          end.Year(),
		InvoiceNumber: fmt.Sprintf(numberFormat, int(end.Month())),
	}
}

// Placeholders returns the substitution dictionary for this period.
func (p Period) Placeholders() placeholder.Dictionary {
	return placeholder.Dictionary{
		{Key: "monthNumber", Value: strconv.Itoa(p.MonthNumber)},
		{Key: "monthName", Value: p.MonthName},
		{Key: "year", Value: strconv.Itoa(p.Year)},
		{Key: "invoiceNumber", Value: p.InvoiceNumber},
	}
}

// AttachmentName is the file name the rendered invoice is sent and saved as.
func (p Period) AttachmentName() string {
	return fmt.Sprintf("%d-%s.pdf", p.Year, p.InvoiceNumber)
}
