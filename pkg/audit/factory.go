package audit

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/Mindburn-Labs/gangway/pkg/config"
)

// OpenSink resolves a LOG_SINK_ID value into a sink. IDs of the form
// file:<path> name a CSV file; anything else keys rows in the SQL audit
// table. The sink is chosen at startup; changing LOG_SINK_ID takes effect
// on the next boot.
func OpenSink(db *sql.DB, dialect config.Dialect, sinkID string) (QueryableSink, error) {
	if path, ok := strings.CutPrefix(sinkID, "file:"); ok {
		if path == "" {
			return nil, errors.New("audit: file sink id has empty path")
		}
		return NewCSVSink(path), nil
	}
	if db == nil {
		return nil, errors.New("audit: sql sink requires a database")
	}
	return NewSQLSink(db, dialect, sinkID)
}
