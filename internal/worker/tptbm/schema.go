package tptbm

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"tptbm/pkg/dbdriver"
)

const TableName = "vpn_users"

const (
	sqlSelect = "SELECT directory_nb, last_calling_party, descr FROM " + TableName + " WHERE vpn_id = ? AND vpn_nb = ?"
	sqlUpdate = "UPDATE " + TableName + " SET last_calling_party = ? WHERE vpn_id = ? AND vpn_nb = ?"
	sqlInsert = "INSERT INTO " + TableName + " (vpn_id, vpn_nb, directory_nb, last_calling_party, descr) VALUES (?, ?, ?, ?, ?)"
	sqlDelete = "DELETE FROM " + TableName + " WHERE vpn_id = ? AND vpn_nb = ?"
	sqlCount  = "SELECT COUNT(*) FROM " + TableName
)

func tableSpec(keys int, index dbdriver.IndexKind) dbdriver.TableSpec {
	return dbdriver.TableSpec{
		Name: TableName,
		Columns: []dbdriver.Column{
			{Name: "vpn_id", Type: "INT NOT NULL"},
			{Name: "vpn_nb", Type: "INT NOT NULL"},
			{Name: "directory_nb", Type: "CHAR(10) NOT NULL"},
			{Name: "last_calling_party", Type: "CHAR(10) NOT NULL"},
			{Name: "descr", Type: "CHAR(100) NOT NULL"},
		},
		Key:   []string{"vpn_id", "vpn_nb"},
		Index: index,

		// Room for the insert grid as well.
		ExpectedRows: 2 * keys * keys,
	}
}

// Provision drops and recreates the table and loads the keys x keys grid,
// committing once per vpn_id.
func Provision(ctx context.Context, db *sql.DB, d *dbdriver.Dialect, keys int, index dbdriver.IndexKind, log *zap.Logger) error {
	if err := DropTable(ctx, db, d); err != nil {
		return err
	}

	for _, stmt := range d.CreateTable(tableSpec(keys, index)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "create table: %s", stmt)
		}
	}
	log.Info("created table", zap.String("table", TableName), zap.String("index", string(index)))

	insert, err := db.PrepareContext(ctx, d.Rebind(sqlInsert))
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer insert.Close()

	for id := range keys {
		if err := loadRange(ctx, db, d, insert, id, keys, log); err != nil {
			return err
		}
	}
	log.Info("loaded table", zap.String("table", TableName), zap.Int("rows", keys*keys))
	return nil
}

func loadRange(ctx context.Context, db *sql.DB, d *dbdriver.Dialect, insert *sql.Stmt, id, keys int, log *zap.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	switch d.Classify(err) {
	case dbdriver.OK:
	case dbdriver.LockTimeout:
		log.Warn("lock timeout on load begin", zap.Int("vpn_id", id), zap.Error(err))
		return nil
	default:
		return errors.Wrap(err, "begin load transaction")
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, insert)
	defer stmt.Close()

	for nb := range keys {
		k := Key{ID: id, NB: nb}
		_, err := stmt.ExecContext(ctx, k.ID, k.NB, directoryNumber(k), initialCallingParty, description(k))
		switch d.Classify(err) {
		case dbdriver.OK:
		case dbdriver.LockTimeout:
			log.Warn("lock timeout while loading", zap.Stringer("key", k), zap.Error(err))
		default:
			return errors.Wrapf(err, "load row %s", k)
		}
	}

	err = tx.Commit()
	switch d.Classify(err) {
	case dbdriver.OK:
		return nil
	case dbdriver.LockTimeout:
		log.Warn("lock timeout on load commit", zap.Int("vpn_id", id), zap.Error(err))
		return nil
	default:
		return errors.Wrapf(err, "commit rows of vpn_id %d", id)
	}
}

// DropTable removes the table. A missing table is not an error.
func DropTable(ctx context.Context, db *sql.DB, d *dbdriver.Dialect) error {
	_, err := db.ExecContext(ctx, d.DropTable(TableName))
	if err != nil && !d.IsMissingTable(err) {
		return errors.Wrapf(err, "drop table %s", TableName)
	}
	return nil
}

func CountRows(ctx context.Context, db *sql.DB) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, sqlCount).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count rows of %s", TableName)
	}
	return n, nil
}
