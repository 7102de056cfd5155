package dbdriver

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"postgres", "pq", "pgx", "mysql", "sqlite", "SQLite3"} {
		d, err := Lookup(name)
		require.NoError(t, err, name)
		require.NotNil(t, d)
	}

	_, err := Lookup("oracle")
	require.ErrorContains(t, err, `unknown driver "oracle"`)
	require.Contains(t, Names(), "sqlite")
}

func TestRebind(t *testing.T) {
	pg, err := Lookup("postgres")
	require.NoError(t, err)
	require.Equal(t,
		"UPDATE t SET a = $1 WHERE b = $2 AND c = $3",
		pg.Rebind("UPDATE t SET a = ? WHERE b = ? AND c = ?"))

	my, err := Lookup("mysql")
	require.NoError(t, err)
	require.Equal(t, "SELECT ? FROM t", my.Rebind("SELECT ? FROM t"))
}

func TestClassifyTolerance(t *testing.T) {
	cases := []struct {
		driver string
		lock   error
		other  error
	}{
		{"postgres", &pq.Error{Code: "55P03"}, &pq.Error{Code: "40P01"}},
		{"pgx", &pgconn.PgError{Code: "55P03"}, &pgconn.PgError{Code: "40001"}},
		{"mysql", &mysql.MySQLError{Number: 1205}, &mysql.MySQLError{Number: 1213}},
	}

	for _, c := range cases {
		t.Run(c.driver, func(t *testing.T) {
			d, err := Lookup(c.driver)
			require.NoError(t, err)

			require.Equal(t, OK, d.Classify(nil))
			require.Equal(t, NoData, d.Classify(sql.ErrNoRows))
			require.Equal(t, NoData, d.Classify(errors.Wrap(sql.ErrNoRows, "select")))
			require.Equal(t, LockTimeout, d.Classify(c.lock))
			require.Equal(t, LockTimeout, d.Classify(errors.Wrap(c.lock, "update")))
			require.Equal(t, Failed, d.Classify(c.other))
			require.Equal(t, Failed, d.Classify(errors.New("connection reset")))
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn, err := postgresDSN(Target{Service: "host=db dbname=bench", User: "app", Password: "it's"})
	require.NoError(t, err)
	require.Equal(t, `host=db dbname=bench user='app' password='it\'s'`, dsn)

	dsn, err = postgresDSN(Target{Service: "postgres://db:5432/bench?sslmode=disable", User: "app", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "postgres://app:pw@db:5432/bench?sslmode=disable", dsn)
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN(Target{Service: "tcp(db:3306)/bench", User: "app", Password: "pw"})
	require.NoError(t, err)
	require.Contains(t, dsn, "app:pw@tcp(db:3306)/bench")
}

func TestSQLiteDSN(t *testing.T) {
	dsn, err := sqliteDSN(Target{Service: "/tmp/x.db"})
	require.NoError(t, err)
	require.Equal(t, "file:/tmp/x.db?_pragma=busy_timeout(5000)&_txlock=immediate", dsn)

	d, _ := Lookup("sqlite")
	_, err = d.DSN(Target{})
	require.Error(t, err)
}

func TestCreateTable(t *testing.T) {
	spec := TableSpec{
		Name:         "vpn_users",
		Columns:      []Column{{"vpn_id", "INT NOT NULL"}, {"vpn_nb", "INT NOT NULL"}},
		Key:          []string{"vpn_id", "vpn_nb"},
		Index:        IndexHash,
		ExpectedRows: 10000,
	}

	my, _ := Lookup("mysql")
	require.Equal(t,
		[]string{"CREATE TABLE vpn_users (vpn_id INT NOT NULL, vpn_nb INT NOT NULL, PRIMARY KEY USING HASH (vpn_id, vpn_nb)) ENGINE=InnoDB"},
		my.CreateTable(spec))

	pg, _ := Lookup("postgres")
	stmts := pg.CreateTable(spec)
	require.Len(t, stmts, 2)
	require.Equal(t, "CREATE INDEX vpn_users_hash ON vpn_users USING HASH (vpn_id)", stmts[1])

	spec.Index = IndexRange
	require.Len(t, pg.CreateTable(spec), 1)
	require.Contains(t, my.CreateTable(spec)[0], "USING BTREE")
}

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bench.db")

	db, d, err := Open(ctx, Target{Driver: "sqlite", Service: path})
	require.NoError(t, err)
	defer db.Close()
	require.Equal(t, "sqlite", d.Name)
	require.False(t, d.NeedsCredentials)

	_, err = db.ExecContext(ctx, "CREATE TABLE t (k INT PRIMARY KEY, v INT)")
	require.NoError(t, err)

	outcome, err := d.ClassifyResult(db.ExecContext(ctx, "UPDATE t SET v = 1 WHERE k = 1"))
	require.NoError(t, err)
	require.Equal(t, NoData, outcome)

	_, err = db.ExecContext(ctx, "INSERT INTO t VALUES (1, 0)")
	require.NoError(t, err)
	outcome, err = d.ClassifyResult(db.ExecContext(ctx, "UPDATE t SET v = 1 WHERE k = 1"))
	require.NoError(t, err)
	require.Equal(t, OK, outcome)

	var v int
	err = db.QueryRowContext(ctx, "SELECT v FROM t WHERE k = 2").Scan(&v)
	require.Equal(t, NoData, d.Classify(err))

	_, err = db.ExecContext(ctx, "INSERT INTO t VALUES (1, 0)")
	require.Equal(t, Failed, d.Classify(err))
}
