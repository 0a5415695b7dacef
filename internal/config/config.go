package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"loyaltysystem/internal/catalog"
	"loyaltysystem/internal/tier"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the whole service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MQ       MQConfig       `mapstructure:"mq"`
	Loyalty  LoyaltyConfig  `mapstructure:"loyalty"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

type StorageConfig struct {
	Driver  string        `mapstructure:"driver"` // mysql, postgres, sqlite, memory
	Timeout time.Duration `mapstructure:"timeout"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	LockRetry time.Duration `mapstructure:"lock_retry"`
}

type MQConfig struct {
	Driver   string         `mapstructure:"driver"` // kafka, rabbitmq, log
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Topics   TopicConfig    `mapstructure:"topics"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type TopicConfig struct {
	Redemption string `mapstructure:"redemption"`
	Tier       string `mapstructure:"tier"`
}

type LoyaltyConfig struct {
	Tiers                 []TierConfig   `mapstructure:"tiers"`
	Rewards               []RewardConfig `mapstructure:"rewards"`
	Bonuses               BonusConfig    `mapstructure:"bonuses"`
	MinRedeemPoints       int64          `mapstructure:"min_redeem_points"`
	PurchasePointsPerUnit string         `mapstructure:"purchase_points_per_unit"`
	MaxAttempts           int            `mapstructure:"max_attempts"`
	LockWait              time.Duration  `mapstructure:"lock_wait"`
	PointsExpireMonths    int            `mapstructure:"points_expire_months"`
}

type TierConfig struct {
	Name                    string   `mapstructure:"name"`
	MinLifetimePoints       int64    `mapstructure:"min_lifetime_points"`
	PointsMultiplier        string   `mapstructure:"points_multiplier"`
	DiscountPercentage      int      `mapstructure:"discount_percentage"`
	FreeShippingThreshold   string   `mapstructure:"free_shipping_threshold"`
	ExclusivePerks          []string `mapstructure:"exclusive_perks"`
	BirthdayBonusPercentage int      `mapstructure:"birthday_bonus_percentage"`
}

type RewardConfig struct {
	ID          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	Category    string `mapstructure:"category"`
	PointsCost  int64  `mapstructure:"points_cost"`
	Value       string `mapstructure:"value"`
	Description string `mapstructure:"description"`
	ValidDays   int    `mapstructure:"valid_days"`
}

type BonusConfig struct {
	Signup   int64 `mapstructure:"signup"`
	Review   int64 `mapstructure:"review"`
	Birthday int64 `mapstructure:"birthday"`
	Referrer int64 `mapstructure:"referrer"`
	Referred int64 `mapstructure:"referred"`
}

type OutboxJobConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	MaxRetry  int           `mapstructure:"max_retry"`
}

type JobsConfig struct {
	Outbox         OutboxJobConfig `mapstructure:"outbox"`
	ExpirySchedule string          `mapstructure:"expiry_schedule"`
	AuditSchedule  string          `mapstructure:"audit_schedule"`
	BatchSize      int             `mapstructure:"batch_size"`
}

type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.timeout", "3s")
	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "loyalty")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("postgres.host", "127.0.0.1")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "loyalty")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 50)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("sqlite.path", "loyalty.db")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "30s")
	v.SetDefault("redis.lock_retry", "20ms")
	v.SetDefault("mq.driver", "log")
	v.SetDefault("mq.kafka.brokers", []string{})
	v.SetDefault("mq.rabbitmq.url", "")
	v.SetDefault("mq.rabbitmq.exchange", "loyalty.events")
	v.SetDefault("mq.topics.redemption", "loyalty.redemption")
	v.SetDefault("mq.topics.tier", "loyalty.tier")
	v.SetDefault("loyalty.bonuses.signup", 100)
	v.SetDefault("loyalty.bonuses.review", 25)
	v.SetDefault("loyalty.bonuses.birthday", 100)
	v.SetDefault("loyalty.bonuses.referrer", 100)
	v.SetDefault("loyalty.bonuses.referred", 100)
	v.SetDefault("loyalty.min_redeem_points", 100)
	v.SetDefault("loyalty.purchase_points_per_unit", "1")
	v.SetDefault("loyalty.max_attempts", 3)
	v.SetDefault("loyalty.lock_wait", "5s")
	v.SetDefault("loyalty.points_expire_months", 12)
	v.SetDefault("jobs.outbox.interval", "500ms")
	v.SetDefault("jobs.outbox.batch_size", 100)
	v.SetDefault("jobs.outbox.max_retry", 5)
	v.SetDefault("jobs.expiry_schedule", "@daily")
	v.SetDefault("jobs.audit_schedule", "@every 6h")
	v.SetDefault("jobs.batch_size", 200)
	v.SetDefault("admin.api_key", "")
}

// LoadConfig reads the yaml file at configPath, a .env file if present and
// LOYALTY_* environment overrides, e.g. LOYALTY_MYSQL_PASSWORD. A missing
// config file is not an error; defaults apply.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("LOYALTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "mysql", "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.MQ.Driver {
	case "kafka":
		if len(c.MQ.Kafka.Brokers) == 0 {
			return errors.New("config: mq.kafka.brokers is required for the kafka driver")
		}
	case "rabbitmq":
		if c.MQ.RabbitMQ.URL == "" {
			return errors.New("config: mq.rabbitmq.url is required for the rabbitmq driver")
		}
	case "log":
	default:
		return fmt.Errorf("config: unknown mq.driver %q", c.MQ.Driver)
	}
	if c.Loyalty.MinRedeemPoints <= 0 {
		return errors.New("config: loyalty.min_redeem_points must be positive")
	}
	if c.Loyalty.MaxAttempts < 1 {
		return errors.New("config: loyalty.max_attempts must be at least 1")
	}
	if c.Loyalty.PointsExpireMonths < 0 {
		return errors.New("config: loyalty.points_expire_months must not be negative")
	}
	if c.Storage.Timeout <= 0 {
		return errors.New("config: storage.timeout must be positive")
	}
	if _, err := c.Loyalty.PointsPerUnit(); err != nil {
		return err
	}
	if _, err := c.Loyalty.TierTable(); err != nil {
		return err
	}
	if _, err := c.Loyalty.Catalog(); err != nil {
		return err
	}
	return nil
}

// PointsPerUnit is the base points granted per currency unit of an order.
func (l LoyaltyConfig) PointsPerUnit() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(l.PurchasePointsPerUnit)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: loyalty.purchase_points_per_unit: %w", err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, errors.New("config: loyalty.purchase_points_per_unit must be positive")
	}
	return rate, nil
}

// TierTable builds the tier table, falling back to the reference tiers when
// none are configured.
func (l LoyaltyConfig) TierTable() (*tier.Table, error) {
	if len(l.Tiers) == 0 {
		return tier.NewTable(tier.DefaultTiers())
	}
	tiers := make([]tier.Tier, 0, len(l.Tiers))
	for _, tc := range l.Tiers {
		multiplier, err := decimal.NewFromString(tc.PointsMultiplier)
		if err != nil {
			return nil, fmt.Errorf("config: tier %q multiplier: %w", tc.Name, err)
		}
		threshold := decimal.Zero
		if tc.FreeShippingThreshold != "" {
			if threshold, err = decimal.NewFromString(tc.FreeShippingThreshold); err != nil {
				return nil, fmt.Errorf("config: tier %q free shipping threshold: %w", tc.Name, err)
			}
		}
		tiers = append(tiers, tier.Tier{
			Name:                    strings.ToLower(tc.Name),
			MinLifetimePoints:       tc.MinLifetimePoints,
			PointsMultiplier:        multiplier,
			DiscountPercentage:      tc.DiscountPercentage,
			FreeShippingThreshold:   threshold,
			ExclusivePerks:          tc.ExclusivePerks,
			BirthdayBonusPercentage: tc.BirthdayBonusPercentage,
		})
	}
	return tier.NewTable(tiers)
}

// Catalog builds the redemption catalog, falling back to the reference
// options when none are configured.
func (l LoyaltyConfig) Catalog() (*catalog.Catalog, error) {
	if len(l.Rewards) == 0 {
		return catalog.New(catalog.DefaultOptions())
	}
	options := make([]catalog.Option, 0, len(l.Rewards))
	for _, rc := range l.Rewards {
		value := decimal.Zero
		if rc.Value != "" {
			var err error
			if value, err = decimal.NewFromString(rc.Value); err != nil {
				return nil, fmt.Errorf("config: reward %q value: %w", rc.ID, err)
			}
		}
		options = append(options, catalog.Option{
			ID:          rc.ID,
			Name:        rc.Name,
			Category:    catalog.Category(rc.Category),
			PointsCost:  rc.PointsCost,
			Value:       value,
			Description: rc.Description,
			ValidDays:   rc.ValidDays,
		})
	}
	return catalog.New(options)
}
