// Package dbdriver adapts database/sql drivers to the small surface the
// benchmark needs: opening a connection for a target, SQL text in the
// dialect's placeholder style, table DDL, and sorting driver errors into the
// outcomes the transaction loop acts on.
package dbdriver

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Outcome classifies the result of one SQL call.
type Outcome int

const (
	OK Outcome = iota
	NoData
	LockTimeout
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case NoData:
		return "no_data"
	case LockTimeout:
		return "lock_timeout"
	default:
		return "error"
	}
}

type IndexKind string

const (
	IndexHash  IndexKind = "hash"
	IndexRange IndexKind = "range"
)

// Target identifies the database to connect to. Service is interpreted by
// the dialect: an ODBC DSN name, a libpq connection string or URL, a MySQL
// DSN without credentials, or a SQLite file path.
type Target struct {
	Driver   string
	Service  string
	User     string
	Password string
}

// TableSpec describes the DDL to generate.
type TableSpec struct {
	Name    string
	Columns []Column
	Key     []string
	Index   IndexKind

	// ExpectedRows sizes hash indexes on engines that need it.
	ExpectedRows int
}

type Column struct {
	Name string
	Type string
}

type Dialect struct {
	// Name is the registry key accepted by --driver.
	Name string

	// SQLDriver is the database/sql driver name passed to sql.Open.
	SQLDriver string

	// NeedsCredentials reports whether a user/password pair is required.
	NeedsCredentials bool

	// Numbered placeholders ($1, $2, ...) instead of '?'.
	NumberedParams bool

	dsn         func(Target) (string, error)
	createTable func(TableSpec) []string
	dropTable   func(name string) string

	// lockTimeout reports the one contention error the benchmark tolerates.
	lockTimeout func(error) bool

	// missingTable reports "table does not exist" errors on drop.
	missingTable func(error) bool

	configure func(*sql.DB)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*Dialect{}
)

func Register(d *Dialect, aliases ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()

	for _, name := range append([]string{d.Name}, aliases...) {
		if _, exists := registry[name]; exists {
			panic(fmt.Sprintf("dbdriver: dialect %q registered twice", name))
		}
		registry[name] = d
	}
}

func Lookup(name string) (*Dialect, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, errors.Newf("unknown driver %q (available: %s)", name, strings.Join(namesLocked(), ", "))
	}
	return d, nil
}

func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open connects to the target with exactly one underlying connection. Each
// benchmark worker owns its own *sql.DB so statements never migrate between
// sessions.
func Open(ctx context.Context, t Target) (*sql.DB, *Dialect, error) {
	d, err := Lookup(t.Driver)
	if err != nil {
		return nil, nil, err
	}

	dsn, err := d.DSN(t)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(d.SQLDriver, dsn)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s", d.Name)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if d.configure != nil {
		d.configure(db)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, errors.Wrapf(err, "connect to %s service %q", d.Name, t.Service)
	}
	return db, d, nil
}

func (d *Dialect) DSN(t Target) (string, error) {
	if t.Service == "" {
		return "", errors.Newf("%s: no service configured", d.Name)
	}
	return d.dsn(t)
}

// Rebind rewrites '?' placeholders for dialects using numbered parameters.
func (d *Dialect) Rebind(query string) string {
	if !d.NumberedParams {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func (d *Dialect) CreateTable(spec TableSpec) []string {
	return d.createTable(spec)
}

func (d *Dialect) DropTable(name string) string {
	if d.dropTable != nil {
		return d.dropTable(name)
	}
	return "DROP TABLE IF EXISTS " + name
}

func (d *Dialect) IsMissingTable(err error) bool {
	return err != nil && d.missingTable != nil && d.missingTable(err)
}

// Classify maps a driver error to an Outcome. Only sql.ErrNoRows and the
// dialect's single lock timeout code are tolerated; everything else fails.
func (d *Dialect) Classify(err error) Outcome {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, sql.ErrNoRows):
		return NoData
	case d.lockTimeout != nil && d.lockTimeout(err):
		return LockTimeout
	default:
		return Failed
	}
}

// ClassifyResult treats a write that touched no rows as NoData.
func (d *Dialect) ClassifyResult(res sql.Result, err error) (Outcome, error) {
	if err != nil {
		return d.Classify(err), err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Failed, errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return NoData, nil
	}
	return OK, nil
}

func columnDefs(spec TableSpec) string {
	defs := make([]string, 0, len(spec.Columns))
	for _, c := range spec.Columns {
		defs = append(defs, c.Name+" "+c.Type)
	}
	return strings.Join(defs, ", ")
}

func keyList(spec TableSpec) string {
	return strings.Join(spec.Key, ", ")
}
