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

// Package prompt asks the operator yes/no questions on a terminal.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Confirmer asks one question at a time and reads a single line answer.
type Confirmer struct {
	in  *bufio.Reader
	out io.Writer
}

// New creates a Confirmer reading answers from in and writing questions to
// out.
func New(in io.Reader, out io.Writer) *Confirmer {
	return &Confirmer{in: bufio.NewReader(in), out: out}
}

type answer struct {
	line string
	err  error
}

// Confirm writes question and reports whether the answer is "y". Anything
// else, including an empty line or end of input, declines. The read is
// abandoned when ctx is done; the Confirmer must not be reused after that.
func (c *Confirmer) Confirm(ctx context.Context, question string) (bool, error) {
	if _, err := fmt.Fprint(c.out, question); err != nil {
		return false, fmt.Errorf("write prompt: %w", err)
	}

	ch := make(chan answer, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, fmt.Errorf("read answer: %w", a.err)
		}
		return strings.ToLower(strings.TrimSpace(a.line)) == "y", nil
	}
}
