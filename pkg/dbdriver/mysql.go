package dbdriver

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
)

const (
	mysqlLockWaitTimeout = 1205
	mysqlNoSuchTable     = 1051
)

func init() {
	Register(&Dialect{
		Name:             "mysql",
		SQLDriver:        "mysql",
		NeedsCredentials: true,
		dsn:              mysqlDSN,
		createTable:      mysqlCreateTable,
		lockTimeout:      mysqlCode(mysqlLockWaitTimeout),
		missingTable:     mysqlCode(mysqlNoSuchTable),
	})
}

func mysqlCode(code uint16) func(error) bool {
	return func(err error) bool {
		var myErr *mysql.MySQLError
		return errors.As(err, &myErr) && myErr.Number == code
	}
}

// mysqlDSN takes a credential free DSN such as "tcp(db:3306)/bench".
func mysqlDSN(t Target) (string, error) {
	cfg, err := mysql.ParseDSN(t.Service)
	if err != nil {
		return "", errors.Wrap(err, "parse mysql service")
	}
	if t.User != "" {
		cfg.User = t.User
	}
	if t.Password != "" {
		cfg.Passwd = t.Password
	}
	return cfg.FormatDSN(), nil
}

// InnoDB keeps multi-op transactions and lock timeout rollbacks atomic,
// which the MEMORY engine cannot. It accepts USING HASH but builds a btree.
func mysqlCreateTable(spec TableSpec) []string {
	using := "HASH"
	if spec.Index == IndexRange {
		using = "BTREE"
	}
	return []string{
		fmt.Sprintf("CREATE TABLE %s (%s, PRIMARY KEY USING %s (%s)) ENGINE=InnoDB",
			spec.Name, columnDefs(spec), using, keyList(spec)),
	}
}
