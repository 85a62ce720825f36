// Package pgdb provides the postgres backed gateway.MessageStore used by durable
// gateway deployments.
package pgdb

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"code.aegisid.org/golang/pkg/gateway"
)

// PGDB is implemented by pgx.Tx, pgx.Conn & pgxpool.Pool
// accessing a postgres database through this common interface simplifies testing
type PGDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MessageStore retains pending gateway messages in postgres.
type MessageStore struct {
	DB PGDB
}

//go:embed msgstore_schema.sql
var schemaScriptTpl string

// MessageStoreMigrate creates the dbschema tables the MessageStore relies upon.
func MessageStoreMigrate(pgconn *pgx.Conn, dbschema string) error {

	// render schema creation script
	schemaName := pgx.Identifier{dbschema}.Sanitize()
	schemaScript := strings.ReplaceAll(schemaScriptTpl, "${schema_name}", schemaName)

	_, err := pgconn.Exec(context.Background(), schemaScript)

	return wrapError(err, "Failed db schema initialization") // nil if err is nil...
}

// NewMessageStore instantiates a MessageStore backed by a dsn connection pool.
func NewMessageStore(ctx context.Context, dsn string) (*MessageStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if nil != err {
		return nil, wrapError(err, "failed connection pool creation")
	}

	return &MessageStore{DB: pool}, nil
}

// Append implements gateway.MessageStore.
// It errors if msg is invalid or was already queued.
func (self *MessageStore) Append(ctx context.Context, clientId string, msg gateway.QueuedMessage) error {
	err := msg.Check()
	if nil != err {
		return wrapError(err, "invalid message")
	}
	var created int
	row := self.DB.QueryRow(
		ctx,
		`WITH created AS (
		   INSERT INTO oob_message(client_id, msg_id, body, challenge, sent_at)
		   VALUES ($1, $2, $3, $4, $5)
		   ON CONFLICT (msg_id) DO NOTHING
		   RETURNING 1)
		 SELECT count(*) FROM created`,
		clientId,
		msg.Id,
		msg.Text,
		msg.Challenge,
		msg.SentAt,
	)
	err = row.Scan(&created)
	if nil != err {
		return wrapError(err, "failed saving message")
	}
	if 1 != created {
		return newError("message %s already queued", msg.Id)
	}

	return nil
}

// Drain implements gateway.MessageStore.
// Drained messages are returned oldest first and removed from the store.
func (self *MessageStore) Drain(ctx context.Context, clientId string) ([]gateway.QueuedMessage, error) {
	rows, err := self.DB.Query(
		ctx,
		// columns are renamed to match gateway.QueuedMessage struct
		`WITH drained AS (
		   DELETE FROM oob_message WHERE client_id = $1
		   RETURNING id, msg_id, body, challenge, sent_at)
		 SELECT
		   msg_id as "Id",
		   body as "Text",
		   challenge as "Challenge",
		   sent_at as "SentAt"
		 FROM drained ORDER BY id`,
		clientId,
	)
	if nil != err {
		return nil, wrapError(err, "failed DB.Query")
	}
	msgs, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[gateway.QueuedMessage])

	return msgs, wrapError(err, "failed pgx.CollectRows") // nil if err is nil
}

// Prune removes messages sent before horizon, returning the number removed.
func (self *MessageStore) Prune(ctx context.Context, horizon time.Time) (int, error) {
	var pruned int
	row := self.DB.QueryRow(
		ctx,
		`WITH pruned AS (DELETE FROM oob_message WHERE sent_at < $1 RETURNING id)
		 SELECT count(id) FROM pruned`,
		horizon.Unix(),
	)
	err := row.Scan(&pruned)
	if nil != err {
		return 0, wrapError(err, "failed DELETE query")
	}

	return pruned, nil
}

// MessageCount returns the number of pending messages in the MessageStore.
func (self *MessageStore) MessageCount(ctx context.Context) (int, error) {
	var rv int
	row := self.DB.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM oob_message`,
	)
	err := row.Scan(&rv)
	if nil != err {
		return 0, wrapError(err, "failed count query")
	}

	return rv, nil
}

var _ gateway.MessageStore = &MessageStore{}
