package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestRunMigrationsInOrder(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	dir := writeMigrations(t, map[string]string{
		"002_second.sql": "CREATE TABLE b (id INT)",
		"001_first.sql":  "CREATE TABLE a (id INT)",
		"notes.txt":      "ignored",
	})
	mock.ExpectExec("CREATE TABLE a (id INT)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE b (id INT)").WillReturnResult(sqlmock.NewResult(0, 0))

	log, hook := test.NewNullLogger()
	require.NoError(t, RunMigrations(context.Background(), db, dir, log))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Len(t, hook.AllEntries(), 2)
}

func TestRunMigrationsStopsOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	dir := writeMigrations(t, map[string]string{
		"001_first.sql":  "CREATE TABLE a (id INT)",
		"002_second.sql": "CREATE TABLE b (id INT)",
	})
	mock.ExpectExec("CREATE TABLE a (id INT)").WillReturnError(errors.New("syntax"))

	log, _ := test.NewNullLogger()
	err = RunMigrations(context.Background(), db, dir, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_first.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrationsShippedFiles(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_nodes").WillReturnResult(sqlmock.NewResult(0, 0))
	log, _ := test.NewNullLogger()
	require.NoError(t, RunMigrations(context.Background(), db, "../../migrations", log))
	assert.NoError(t, mock.ExpectationsWereMet())
}
