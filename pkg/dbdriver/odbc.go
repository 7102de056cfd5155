//go:build odbc

package dbdriver

import (
	"fmt"
	"strings"

	"github.com/alexbrainman/odbc"
	"github.com/cockroachdb/errors"
)

const (
	ttLockTimeout   = 6003
	ttTableNotFound = 2206
)

func init() {
	Register(&Dialect{
		Name:             "timesten",
		SQLDriver:        "odbc",
		NeedsCredentials: true,
		dsn:              odbcDSN,
		createTable:      timestenCreateTable,
		dropTable: func(name string) string {
			return "DROP TABLE " + name
		},
		lockTimeout:  odbcNative(ttLockTimeout),
		missingTable: odbcNative(ttTableNotFound),
	}, "odbc")
}

func odbcNative(code int) func(error) bool {
	return func(err error) bool {
		var odbcErr *odbc.Error
		if !errors.As(err, &odbcErr) {
			return false
		}
		for _, diag := range odbcErr.Diag {
			if diag.NativeError == code {
				return true
			}
		}
		return false
	}
}

// odbcDSN accepts either a bare DSN name or a full connection string.
func odbcDSN(t Target) (string, error) {
	conn := t.Service
	if !strings.Contains(conn, "=") {
		conn = "DSN=" + conn
	}
	if t.User != "" {
		conn += ";UID=" + t.User
	}
	if t.Password != "" {
		conn += ";PWD=" + t.Password
	}
	return conn, nil
}

func timestenCreateTable(spec TableSpec) []string {
	create := fmt.Sprintf("CREATE TABLE %s (%s, PRIMARY KEY (%s))", spec.Name, columnDefs(spec), keyList(spec))
	if spec.Index == IndexHash {
		pages := (spec.ExpectedRows + 255) / 256
		if pages < 1 {
			pages = 1
		}
		create += fmt.Sprintf(" UNIQUE HASH ON (%s) PAGES = %d", keyList(spec), pages)
	}
	return []string{create}
}
