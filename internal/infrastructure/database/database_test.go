package database

import (
	"path/filepath"
	"testing"

	"loyaltysystem/internal/config"
	"loyaltysystem/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"root:pw@tcp(db:3306)/loyalty?charset=utf8mb4&parseTime=True&loc=UTC",
		MySQLDSN(&config.MySQLConfig{User: "root", Password: "pw", Host: "db", Port: 3306, Database: "loyalty"}))
	assert.Equal(t,
		"host=pg port=5432 user=u password=p dbname=loyalty sslmode=disable TimeZone=UTC",
		PostgresDSN(&config.PostgresConfig{Host: "pg", Port: 5432, User: "u", Password: "p", Database: "loyalty", SSLMode: "disable"}))
}

func TestOpen_SQLiteMigrates(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: "sqlite"},
		SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "loyalty.db")},
	}
	db, err := Open(cfg)
	require.NoError(t, err)
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	for _, table := range []interface{}{&model.Account{}, &model.Transaction{}, &model.Redemption{}, &model.OutboxMessage{}} {
		assert.True(t, db.Migrator().HasTable(table))
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(&config.Config{Storage: config.StorageConfig{Driver: "oracle"}})
	assert.Error(t, err)
}
