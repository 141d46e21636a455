// Package postgres implements the Postgres-backed persistence for documents,
// chunks, processing jobs, the query cache and query history, grounded on
// the teacher's internal/infra/uploadask/repo/postgres.go: pgx batches for
// bulk insert and pgvector for embedding columns.
package postgres

import (
	"strconv"

	pgvector "github.com/pgvector/pgvector-go"
)

func itoa(v int) string { return strconv.Itoa(v) }

func vectorOrNil(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return pgvector.NewVector(vec)
}
