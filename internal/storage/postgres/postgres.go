// Package postgres hosts puzzle records, token balances and the event log
// in Postgres.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"

	"github.com/AaronLay10/EnharmonicGap/internal/config"
	"github.com/AaronLay10/EnharmonicGap/internal/ledger"
)

const connectMaxElapsed = 30 * time.Second

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	ProgramID string                 `json:"program_id"`
}

// Client manages the Postgres connection. One client serves both the event
// log and the ledger tables.
type Client struct {
	db        *sql.DB
	programID string
	verifier  ledger.Verifier
}

// New connects using the PG* environment variables, retrying transient
// failures for up to 30 seconds, and creates the tables it needs.
// v checks mint capabilities when the client hosts bridges.
func New(ctx context.Context, programID string, v ledger.Verifier) (*Client, error) {
	password, err := config.ResolveSecret("PGPASSWORD")
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", connString(os.Getenv, password))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = connectMaxElapsed
	err = backoff.Retry(func() error {
		err := db.PingContext(ctx)
		if err != nil && !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:        db,
		programID: programID,
		verifier:  v,
	}

	if err := client.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return client, nil
}

// connString builds a lib/pq DSN from PGHOST, PGPORT, PGUSER, PGDATABASE and
// PGSSLMODE.
func connString(getenv func(string) string, password string) string {
	get := func(key, defaultVal string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return defaultVal
	}

	parts := []string{
		"host=" + get("PGHOST", "127.0.0.1"),
		"port=" + get("PGPORT", "5432"),
		"user=" + get("PGUSER", "enharmonic"),
	}
	if password != "" {
		parts = append(parts, "password="+password)
	}
	parts = append(parts,
		"dbname="+get("PGDATABASE", "enharmonic"),
		"sslmode="+get("PGSSLMODE", "disable"),
	)
	return strings.Join(parts, " ")
}

// isRetryableError reports whether a connect error may clear on its own,
// such as the server still starting.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"no such host",
		"the database system is starting up",
		"bad connection",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) createTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS events (
			event_id   BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			level      TEXT NOT NULL,
			event      TEXT NOT NULL,
			msg        TEXT,
			fields     JSONB,
			program_id TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_program_event ON events(program_id, event);
	` + ledgerSchema
	_, err := c.db.ExecContext(ctx, query)
	return err
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Append inserts an event into the database.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	query := `
		INSERT INTO events (ts, level, event, msg, fields, program_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = c.db.Exec(query, ts, level, event, msgPtr, fieldsJSON, c.programID)
	return err
}

// Query returns the last N events in descending order by timestamp.
func (c *Client) Query(limit int) ([]EventRow, error) {
	limit = clampLimit(limit)

	query := `
		SELECT event_id, ts, level, event, msg, fields, program_id
		FROM events
		WHERE program_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.Query(query, c.programID, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// QueryByName returns every event named name in insertion order.
func (c *Client) QueryByName(ctx context.Context, name string) ([]EventRow, error) {
	query := `
		SELECT event_id, ts, level, event, msg, fields, program_id
		FROM events
		WHERE program_id = $1 AND event = $2
		ORDER BY event_id ASC
	`
	rows, err := c.db.QueryContext(ctx, query, c.programID, name)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]EventRow, error) {
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.ProgramID); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		fields, err := decodeFields(fieldsJSON)
		if err != nil {
			return nil, err
		}
		e.Fields = fields

		events = append(events, e)
	}

	return events, rows.Err()
}

// decodeFields keeps numbers as json.Number so seed ids above 2^53 survive.
func decodeFields(b []byte) (map[string]interface{}, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var fields map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	return fields, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
