package query

import (
	"database/sql"
	"time"

	"biowatch/internal/apperr"
	"biowatch/internal/metrics"
)

// observeQuery wraps a query operation with duration/error instrumentation,
// following the teacher's closure-based observeQuery pattern
// (internal/database/database.go): call it at the start of an operation,
// call the returned func with the resulting error when the operation ends.
func observeQuery(operation string) func(error) {
	start := time.Now()
	return func(err error) {
		metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.DBQueryErrors.WithLabelValues(operation).Inc()
		}
	}
}

// mustAffectOne turns a sql.Result into a NotFound error when the update
// touched zero rows, and an IOFailure when the driver call itself failed.
func mustAffectOne(err error, res sql.Result, notFound *apperr.Error) error {
	if err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "update")
	}
	n, rerr := res.RowsAffected()
	if rerr != nil {
		return apperr.Wrap(apperr.KindIOFailure, rerr, "rows affected")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// allowedMediaSortColumns whitelists the columns get_media may order by,
// preventing SQL injection through a user-controlled sort key (grounded on
// internal/database/queries.go's allowedColumns map).
var allowedMediaSortColumns = map[string]string{
	"timestamp": "m.timestamp",
	"media_id":  "m.media_id",
	"file_name": "m.file_name",
}
