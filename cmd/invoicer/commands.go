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

package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcem/invoicer/internal/console"
	"github.com/bcem/invoicer/internal/graph"
	"github.com/bcem/invoicer/internal/oauth"
	"github.com/bcem/invoicer/internal/period"
)

// newAuthorizeCmd redeems an authorization code once so later runs can use
// the cached refresh token.
func newAuthorizeCmd(env *environment, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "authorize <code>",
		Short: "Exchange an authorization code and store the refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			con := console.New(env.stdout, !flags.noColor)

			cfg, err := loadConfig(env, con, flags)
			if err != nil {
				return err
			}

			cache, closeCache, err := openTokenCache(cfg)
			if err != nil {
				con.Error(err.Error())
				return exitWith(1, err)
			}
			defer closeCache()

			httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
			broker := oauth.NewBroker(brokerConfig(cfg, httpClient), cache)

			cred, err := broker.Token(ctx, args[0])
			if err != nil {
				con.Error(err.Error())
				return exitWith(1, err)
			}

			me, err := graph.NewClient(httpClient, cfg.Graph.BaseURL).Me(ctx, cred.AccessToken)
			if err != nil {
				con.Error(err.Error())
				return exitWith(1, err)
			}

			con.Success(fmt.Sprintf("Authorized %s via %s", me.Address(), cred.GrantType))
			return nil
		},
	}
}

// periodInfo is what the period command prints.
type periodInfo struct {
	Date          string            `json:"date"`
	MonthNumber   int               `json:"monthNumber"`
	MonthName     string            `json:"monthName"`
	Year          int               `json:"year"`
	InvoiceNumber string            `json:"invoiceNumber"`
	Attachment    string            `json:"attachment"`
	Placeholders  map[string]string `json:"placeholders"`
}

// newPeriodCmd prints the billing period a run would use.
func newPeriodCmd(env *environment, flags *globalFlags) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "period",
		Short: "Show the billing period and placeholder values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			con := console.New(env.stdout, !flags.noColor)

			cfg, err := loadConfig(env, con, flags)
			if err != nil {
				return err
			}

			now := env.now()
			if date != "" {
				now, err = time.ParseInLocation(time.DateOnly, date, cfg.Location)
				if err != nil {
					con.Error(fmt.Sprintf("invalid --date %q: expected YYYY-MM-DD", date))
					return exitWith(2, err)
				}
			}

			p := period.Resolve(now, cfg.Location, cfg.CutoffDay, cfg.InvoiceNumberFormat)
			info := periodInfo{
				Date:          p.Date.Format(time.DateOnly),
				MonthNumber:   p.MonthNumber,
				MonthName:     p.MonthName,
				Year:          p.Year,
				InvoiceNumber: p.InvoiceNumber,
				Attachment:    p.AttachmentName(),
				Placeholders:  map[string]string{},
			}
			for _, e := range p.Placeholders() {
				info.Placeholders[e.Key] = e.Value
			}
			con.Info(info)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "resolve the period for this day (YYYY-MM-DD) instead of today")
	return cmd
}
