package postgresql

import (
	"context"

	"github.com/jackc/pgconn"
)

// executor is the part of db.DB and db.Tx the repositories need, so one query
// helper serves both the pooled and the transactional variant of a method.
type executor interface {
	Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error)
	Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}
