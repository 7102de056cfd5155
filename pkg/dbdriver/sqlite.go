package dbdriver

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteBusyTimeoutMillis bounds how long a connection waits for the write
// lock before the driver reports SQLITE_BUSY.
var SQLiteBusyTimeoutMillis = 5000

func init() {
	Register(&Dialect{
		Name:        "sqlite",
		SQLDriver:   "sqlite",
		dsn:         sqliteDSN,
		createTable: sqliteCreateTable,
		lockTimeout: func(err error) bool {
			var sqErr *sqlite.Error
			return errors.As(err, &sqErr) && sqErr.Code()&0xff == sqlite3.SQLITE_BUSY
		},
	}, "sqlite3")
}

// sqliteDSN turns a file path into a DSN. Transactions take the write lock
// up front so concurrent workers queue on busy_timeout instead of failing
// on lock upgrades.
func sqliteDSN(t Target) (string, error) {
	dsn := t.Service
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_txlock=immediate", dsn, sep, SQLiteBusyTimeoutMillis), nil
}

func sqliteCreateTable(spec TableSpec) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE %s (%s, PRIMARY KEY (%s))", spec.Name, columnDefs(spec), keyList(spec)),
	}
}
