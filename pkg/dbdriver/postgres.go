package dbdriver

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgLockNotAvailable = "55P03"
	pgUndefinedTable   = "42P01"
)

func init() {
	Register(&Dialect{
		Name:             "postgres",
		SQLDriver:        "postgres",
		NeedsCredentials: true,
		NumberedParams:   true,
		dsn:              postgresDSN,
		createTable:      postgresCreateTable,
		lockTimeout:      pqCode(pgLockNotAvailable),
		missingTable:     pqCode(pgUndefinedTable),
	}, "pq")

	Register(&Dialect{
		Name:             "pgx",
		SQLDriver:        "pgx",
		NeedsCredentials: true,
		NumberedParams:   true,
		dsn:              postgresDSN,
		createTable:      postgresCreateTable,
		lockTimeout:      pgconnCode(pgLockNotAvailable),
		missingTable:     pgconnCode(pgUndefinedTable),
	})
}

func pqCode(code string) func(error) bool {
	return func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && string(pqErr.Code) == code
	}
}

func pgconnCode(code string) func(error) bool {
	return func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == code
	}
}

// postgresDSN accepts both URL and keyword/value connection strings and
// injects the credentials into them.
func postgresDSN(t Target) (string, error) {
	if strings.HasPrefix(t.Service, "postgres://") || strings.HasPrefix(t.Service, "postgresql://") {
		u, err := url.Parse(t.Service)
		if err != nil {
			return "", errors.Wrap(err, "parse postgres service url")
		}
		switch {
		case t.User != "" && t.Password != "":
			u.User = url.UserPassword(t.User, t.Password)
		case t.User != "":
			u.User = url.User(t.User)
		}
		return u.String(), nil
	}

	parts := []string{t.Service}
	if t.User != "" {
		parts = append(parts, "user="+quoteConnValue(t.User))
	}
	if t.Password != "" {
		parts = append(parts, "password="+quoteConnValue(t.Password))
	}
	return strings.Join(parts, " "), nil
}

func quoteConnValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func postgresCreateTable(spec TableSpec) []string {
	stmts := []string{
		fmt.Sprintf("CREATE TABLE %s (%s, PRIMARY KEY (%s))", spec.Name, columnDefs(spec), keyList(spec)),
	}
	if spec.Index == IndexHash {
		// hash indexes are single column only
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s_hash ON %s USING HASH (%s)", spec.Name, spec.Name, spec.Key[0]))
	}
	return stmts
}
