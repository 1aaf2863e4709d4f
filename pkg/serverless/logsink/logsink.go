// Package logsink implements the worker's log sink: the destination for
// text emitted by guests via nur_log. The original worker backed this
// with Postgres; this one uses rqlite, already the teacher's relational
// store of choice.
package logsink

import (
	"context"
	"fmt"

	"github.com/rqlite/gorqlite"
	"go.uber.org/zap"

	"github.com/fisirc/nur-worker/pkg/serverless"
)

// Sink accepts guest log lines for a function. Implementations must
// treat failures as transient: a dropped log line should never tear
// down the connection that produced it.
type Sink interface {
	Send(ctx context.Context, functionID serverless.FunctionID, text string) error
}

// NullSink discards every log line. Used when no log-sink URL is
// configured, so the worker can run standalone without a database.
type NullSink struct{}

func (NullSink) Send(ctx context.Context, functionID serverless.FunctionID, text string) error {
	return nil
}

// RQLiteSink writes log lines into a `function_logs` table through
// gorqlite, following the schema of the original worker's Postgres sink
// (function_id, message) plus a logged_at timestamp.
type RQLiteSink struct {
	conn   *gorqlite.Connection
	logger *zap.Logger
}

// NewRQLiteSink connects to the rqlite cluster at url (an HTTP endpoint,
// e.g. "http://localhost:4001").
func NewRQLiteSink(url string, logger *zap.Logger) (*RQLiteSink, error) {
	conn, err := gorqlite.Open(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to rqlite at %q: %w", url, err)
	}
	return &RQLiteSink{conn: conn, logger: logger}, nil
}

// EnsureSchema creates the function_logs table if it does not already
// exist. Safe to call on every startup.
func (s *RQLiteSink) EnsureSchema(ctx context.Context) error {
	_, err := s.conn.WriteOneParameterized(gorqlite.ParameterizedStatement{
		Query: `CREATE TABLE IF NOT EXISTS function_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			function_id TEXT NOT NULL,
			message TEXT NOT NULL,
			logged_at INTEGER NOT NULL
		)`,
	})
	if err != nil {
		return fmt.Errorf("creating function_logs table: %w", err)
	}
	return nil
}

// Send inserts a log line for functionID. Errors are wrapped in
// serverless.TransientError so callers know they never need to tear down
// the connection because of a logging failure.
func (s *RQLiteSink) Send(ctx context.Context, functionID serverless.FunctionID, text string) error {
	_, err := s.conn.WriteOneParameterized(gorqlite.ParameterizedStatement{
		Query: "INSERT INTO function_logs(function_id, message, logged_at) VALUES (?, ?, strftime('%s','now'))",
		Arguments: []interface{}{
			functionID.String(),
			text,
		},
	})
	if err != nil {
		return &serverless.TransientError{Cause: fmt.Errorf("writing log line for %s: %w", functionID, err)}
	}
	return nil
}

// Close releases the rqlite connection.
func (s *RQLiteSink) Close() {
	s.conn.Close()
}
