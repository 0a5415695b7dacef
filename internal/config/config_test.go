package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 3*time.Second, cfg.Storage.Timeout)
	assert.Equal(t, "log", cfg.MQ.Driver)
	assert.Equal(t, int64(100), cfg.Loyalty.MinRedeemPoints)
	assert.Equal(t, 3, cfg.Loyalty.MaxAttempts)
	assert.Equal(t, int64(25), cfg.Loyalty.Bonuses.Review)

	table, err := cfg.Loyalty.TierTable()
	require.NoError(t, err)
	assert.Len(t, table.All(), 4)

	cat, err := cfg.Loyalty.Catalog()
	require.NoError(t, err)
	assert.Len(t, cat.List(), 6)
}

func TestLoadConfig_RepositoryFile(t *testing.T) {
	t.Setenv("LOYALTY_MYSQL_PASSWORD", "from-env")
	t.Setenv("LOYALTY_LOYALTY_MAX_ATTEMPTS", "5")

	cfg, err := LoadConfig(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Storage.Driver)
	assert.Equal(t, "from-env", cfg.MySQL.Password)
	assert.Equal(t, 5, cfg.Loyalty.MaxAttempts)
	assert.Equal(t, []string{"127.0.0.1:9092"}, cfg.MQ.Kafka.Brokers)
	assert.Equal(t, 20*time.Millisecond, cfg.Redis.LockRetry)

	table, err := cfg.Loyalty.TierTable()
	require.NoError(t, err)
	silver, ok := table.Get("silver")
	require.True(t, ok)
	assert.True(t, silver.PointsMultiplier.Equal(decimal.RequireFromString("1.25")))
	platinum, _ := table.Get("platinum")
	assert.Equal(t, 20, platinum.BirthdayBonusPercentage)
}

func TestLoadConfig_CustomRewardsAndValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
loyalty:
  rewards:
    - id: tote-bag
      name: Tote Bag
      category: product
      points_cost: 800
      value: "149.50"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	cat, err := cfg.Loyalty.Catalog()
	require.NoError(t, err)
	opt, ok := cat.Get("tote-bag")
	require.True(t, ok)
	assert.True(t, opt.Value.Equal(decimal.RequireFromString("149.5")))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("storage:\n  driver: oracle\n"), 0o600))
	_, err = LoadConfig(bad)
	assert.Error(t, err)

	badTier := filepath.Join(dir, "tier.yaml")
	require.NoError(t, os.WriteFile(badTier, []byte("loyalty:\n  tiers:\n    - name: only\n      min_lifetime_points: 10\n      points_multiplier: \"1\"\n"), 0o600))
	_, err = LoadConfig(badTier)
	assert.Error(t, err)
}
