// Package mysqlstore keeps store entries in the kv_nodes table. Version checks
// are done in the WHERE clause; change notifications are process-local, so
// one API node per database.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"huddle/internal/store"
)

const errDuplicateEntry = 1062

type Store struct {
	DB       *sql.DB
	log      logrus.FieldLogger
	notifier *store.Notifier
}

func New(db *sql.DB, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{DB: db, log: log.WithField("store", "mysql"), notifier: store.NewNotifier()}
}

func (s *Store) Get(ctx context.Context, key string) (store.Entry, error) {
	e := store.Entry{Key: key}
	err := s.DB.QueryRowContext(ctx, "SELECT v, version FROM kv_nodes WHERE k = ?", key).Scan(&e.Value, &e.Version)
	if err == sql.ErrNoRows {
		return store.Entry{}, store.ErrNotFound
	}
	if err != nil {
		return store.Entry{}, err
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT k, v, version FROM kv_nodes WHERE k LIKE ? ORDER BY k", likePrefix(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		var e store.Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.Version); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO kv_nodes (k, v, version) VALUES (?, ?, 1) ON DUPLICATE KEY UPDATE v = VALUES(v), version = version + 1",
		key, value); err != nil {
		return 0, err
	}
	var ver uint64
	if err := tx.QueryRowContext(ctx, "SELECT version FROM kv_nodes WHERE k = ?", key).Scan(&ver); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.notifier.Publish(key, store.OpPut)
	return ver, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, version uint64, value []byte) (uint64, error) {
	if version == 0 {
		_, err := s.DB.ExecContext(ctx, "INSERT INTO kv_nodes (k, v, version) VALUES (?, ?, 1)", key, value)
		if isDuplicate(err) {
			return 0, store.ErrConflict
		}
		if err != nil {
			return 0, err
		}
		s.notifier.Publish(key, store.OpPut)
		return 1, nil
	}

	res, err := s.DB.ExecContext(ctx,
		"UPDATE kv_nodes SET v = ?, version = version + 1 WHERE k = ? AND version = ?",
		value, key, version)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, store.ErrConflict
	}
	s.notifier.Publish(key, store.OpPut)
	return version + 1, nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, version uint64) error {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM kv_nodes WHERE k = ? AND version = ?", key, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	s.notifier.Publish(key, store.OpDelete)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM kv_nodes WHERE k = ?", key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notifier.Publish(key, store.OpDelete)
	}
	return nil
}

func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	entries, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if _, err := s.DB.ExecContext(ctx, "DELETE FROM kv_nodes WHERE k LIKE ?", likePrefix(prefix)); err != nil {
		return err
	}
	for _, e := range entries {
		s.notifier.Publish(e.Key, store.OpDelete)
	}
	return nil
}

func (s *Store) Watch(ctx context.Context, prefix string) (store.Watcher, error) {
	return s.notifier.Subscribe(ctx, prefix)
}

// Close stops watchers and closes the underlying *sql.DB.
func (s *Store) Close() error {
	s.notifier.Close()
	return s.DB.Close()
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
