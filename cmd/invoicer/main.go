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

// Invoicer renders this month's invoice and mails it to every configured
// recipient after asking for confirmation.
//
// Usage:
//
//	invoicer [--config config.yaml] 12x400 8x500
//	invoicer authorize <code>
//	invoicer period [--date 2026-04-10]
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bcem/invoicer/internal/console"
)

const (
	appName = "invoicer"
	version = "1.2.0"
)

// exitError carries the process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCode maps a command error to a process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

type globalFlags struct {
	configPath string
	noColor    bool
}

func newRootCmd(env *environment) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           appName + " (days)x(daily-rate)...",
		Short:         "Render the monthly invoice and mail it to every configured recipient",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoice(cmd.Context(), env, flags, args)
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default $CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "disable colored output")

	root.AddCommand(newAuthorizeCmd(env, flags))
	root.AddCommand(newPeriodCmd(env, flags))
	return root
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := defaultEnvironment()
	err := newRootCmd(env).ExecuteContext(ctx)
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) {
			// Cobra usage errors (unknown flag, bad args) have not been shown yet.
			console.New(os.Stderr, true).Error(err.Error())
		}
	}
	stop()
	os.Exit(exitCode(err))
}
