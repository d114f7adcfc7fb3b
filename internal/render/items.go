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

package render

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNoItems is returned when no line items were given.
var ErrNoItems = errors.New("at least one line item is required")

// Item is one invoice line: a quantity (days) at a unit price (daily rate).
type Item struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	UnitCost float64 `json:"unit_cost"`
}

// ItemError reports a line item argument that is not <quantity>x<price>.
type ItemError struct {
	Arg    string
	Reason string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("invalid line item %q: %s", e.Arg, e.Reason)
}

// ParseItems parses arguments of the form "12x400" into line items named
// name. Decimal separators may be "." or ",".
func ParseItems(args []string, name string) ([]Item, error) {
	if len(args) == 0 {
		return nil, ErrNoItems
	}

	items := make([]Item, 0, len(args))
	for _, arg := range args {
		qty, price, ok := strings.Cut(strings.ToLower(strings.TrimSpace(arg)), "x")
		if !ok {
			return nil, &ItemError{Arg: arg, Reason: "expected <quantity>x<price>"}
		}
		q, err := parseAmount(qty)
		if err != nil {
			return nil, &ItemError{Arg: arg, Reason: "quantity " + err.Error()}
		}
		p, err := parseAmount(price)
		if err != nil {
			return nil, &ItemError{Arg: arg, Reason: "price " + err.Error()}
		}
		items = append(items, Item{Name: name, Quantity: q, UnitCost: p})
	}
	return items, nil
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("is not a number")
	}
	if v <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return v, nil
}
