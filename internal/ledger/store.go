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

// Package ledger keeps a Postgres history of every recipient outcome of
// every invoice run.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/invoicer/internal/models"
)

// Store appends and queries delivery records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a ledger backed by the given Postgres pool.
// It ensures the deliveries table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	slog.Debug("delivery ledger initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS deliveries (
			id             BIGSERIAL PRIMARY KEY,
			run_id         TEXT NOT NULL,
			invoice_number TEXT NOT NULL,
			year           INTEGER NOT NULL,
			month          INTEGER NOT NULL,
			recipient      TEXT NOT NULL,
			transport      TEXT NOT NULL,
			status         TEXT NOT NULL,
			message_id     TEXT DEFAULT '',
			error          TEXT DEFAULT '',
			delivered_at   TIMESTAMPTZ NOT NULL,
			created_at     TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_invoice ON deliveries(year, invoice_number);
		CREATE INDEX IF NOT EXISTS idx_deliveries_run ON deliveries(run_id);
	`)
	return err
}

// Record appends one delivery outcome.
func (s *Store) Record(ctx context.Context, d models.Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deliveries
			(run_id, invoice_number, year, month, recipient, transport, status, message_id, error, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.RunID, d.InvoiceNumber, d.Year, d.Month, d.Recipient, string(d.Transport),
		string(d.Status), d.MessageID, d.Error, d.At)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// ListByInvoice returns every outcome recorded for an invoice, oldest first.
func (s *Store) ListByInvoice(ctx context.Context, year int, invoiceNumber string) ([]models.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, invoice_number, year, month, recipient, transport,
		       status, message_id, error, delivered_at
		FROM deliveries
		WHERE year = $1 AND invoice_number = $2
		ORDER BY delivered_at, id
	`, year, invoiceNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

// ListByRun returns the outcomes of a single run in processing order.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]models.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, invoice_number, year, month, recipient, transport,
		       status, message_id, error, delivered_at
		FROM deliveries
		WHERE run_id = $1
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

// collectDeliveries scans multiple rows into a slice of Deliveries.
func collectDeliveries(rows pgx.Rows) ([]models.Delivery, error) {
	var out []models.Delivery
	for rows.Next() {
		var (
			d         models.Delivery
			transport string
			status    string
		)
		if err := rows.Scan(
			&d.RunID, &d.InvoiceNumber, &d.Year, &d.Month, &d.Recipient, &transport,
			&status, &d.MessageID, &d.Error, &d.At,
		); err != nil {
			return nil, err
		}
		d.Transport = models.Transport(transport)
		d.Status = models.Status(status)
		out = append(out, d)
	}
	return out, rows.Err()
}
