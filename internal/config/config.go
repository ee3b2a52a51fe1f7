// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/adquify/catalog-harvester/internal/catalog"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "HARVESTER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig           `mapstructure:"logging"`
	Harvest   HarvestConfig           `mapstructure:"harvest"`
	Sources   map[string]SourceConfig `mapstructure:"sources"`
	Pricing   PricingConfig           `mapstructure:"pricing"`
	Dedup     DedupConfig             `mapstructure:"dedup"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Embedding EmbeddingConfig         `mapstructure:"embedding"`
	Index     IndexConfig             `mapstructure:"index"`
	Redis     RedisConfig             `mapstructure:"redis"`
	Audit     AuditConfig             `mapstructure:"audit"`
	PubSub    PubSubConfig            `mapstructure:"pubsub"`
	Kave      KaveConfig              `mapstructure:"kave"`
	Sklum     SklumConfig             `mapstructure:"sklum"`
	Serve     ServeConfig             `mapstructure:"serve"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// HarvestConfig governs the fetch worker pool.
type HarvestConfig struct {
	Workers      int           `mapstructure:"workers" validate:"gt=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gt=0"`
	MinJitter    time.Duration `mapstructure:"min_jitter" validate:"gte=0"`
	MaxJitter    time.Duration `mapstructure:"max_jitter" validate:"gtefield=MinJitter"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
	QueueDepth   int           `mapstructure:"queue_depth" validate:"gte=0"`
	RatePerHost  float64       `mapstructure:"rate_per_host" validate:"gte=0"`
	Burst        int           `mapstructure:"burst" validate:"gte=0"`
	UserAgent    string        `mapstructure:"user_agent"`
	// ReplaceImages rewrites image lists of matched duplicates.
	ReplaceImages bool `mapstructure:"replace_images"`
}

// SourceConfig lists the targets and margin of one source.
type SourceConfig struct {
	Targets []string `mapstructure:"targets"`
	Margin  float64  `mapstructure:"margin" validate:"gte=0"`
}

// PricingConfig sets the default margin and image cap.
type PricingConfig struct {
	DefaultMargin float64 `mapstructure:"default_margin" validate:"gt=0"`
	MaxImages     int     `mapstructure:"max_images" validate:"gt=0"`
}

// DedupConfig tunes duplicate detection.
type DedupConfig struct {
	Threshold float64 `mapstructure:"threshold" validate:"gt=0,lte=1"`
}

// DatabaseConfig controls access to the catalog database. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table" validate:"required"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"gte=0"`
	MinConns        int32         `mapstructure:"min_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider         string        `mapstructure:"provider" validate:"oneof=hash gemini"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	Dimensions       int           `mapstructure:"dimensions" validate:"gt=0"`
	BatchSize        int           `mapstructure:"batch_size" validate:"gt=0"`
	Concurrency      int           `mapstructure:"concurrency" validate:"gt=0"`
	Pacing           time.Duration `mapstructure:"pacing" validate:"gte=0"`
	EmbedBeforeDedup bool          `mapstructure:"embed_before_dedup"`
	Cache            bool          `mapstructure:"cache"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	Backend   string   `mapstructure:"backend" validate:"oneof=memory elastic"`
	Addresses []string `mapstructure:"addresses"`
	Name      string   `mapstructure:"name" validate:"required"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// RedisConfig locates the Redis instance used for caches and run state. An
// empty address disables both.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	StateTTL time.Duration `mapstructure:"state_ttl" validate:"gte=0"`
}

// AuditConfig selects where JSON audit dumps are written.
type AuditConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=none local gcs minio"`
	Dir       string `mapstructure:"dir"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// PubSubConfig holds the run notification topic. Empty values disable it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// KaveConfig holds the search API credentials.
type KaveConfig struct {
	AppID    string `mapstructure:"app_id"`
	APIKey   string `mapstructure:"api_key"`
	Index    string `mapstructure:"index"`
	MaxPages int    `mapstructure:"max_pages" validate:"gte=0"`
}

// SklumConfig controls the HTML catalog adapter.
type SklumConfig struct {
	Headless          bool          `mapstructure:"headless"`
	MaxParallel       int           `mapstructure:"max_parallel" validate:"gte=0"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" validate:"gte=0"`
	LoginURL          string        `mapstructure:"login_url"`
	Email             string        `mapstructure:"email"`
	Password          string        `mapstructure:"password"`
	MaxPages          int           `mapstructure:"max_pages" validate:"gte=0"`
}

// ServeConfig controls the operational HTTP server.
type ServeConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// LoadDotEnv loads environment files when they exist. Missing files are
// ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return load(viper.New(), path)
}

// LoadWith builds a Config from a caller-provided Viper, letting command-line
// flags bound to v take precedence.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	return load(v, path)
}

func load(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("harvest.workers", 4)
	v.SetDefault("harvest.max_attempts", 3)
	v.SetDefault("harvest.min_jitter", 500*time.Millisecond)
	v.SetDefault("harvest.max_jitter", 1500*time.Millisecond)
	v.SetDefault("harvest.fetch_timeout", 5*time.Minute)
	v.SetDefault("harvest.queue_depth", 64)
	v.SetDefault("harvest.rate_per_host", 1.0)
	v.SetDefault("harvest.burst", 1)
	v.SetDefault("harvest.user_agent", "AdquifyHarvester/1.0")
	v.SetDefault("harvest.replace_images", false)

	v.SetDefault("pricing.default_margin", 1.56)
	v.SetDefault("pricing.max_images", 5)

	v.SetDefault("dedup.threshold", 0.92)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "products")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)

	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "text-embedding-004")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.batch_size", 50)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("embedding.pacing", time.Second)
	v.SetDefault("embedding.embed_before_dedup", false)
	v.SetDefault("embedding.cache", true)

	v.SetDefault("index.backend", "memory")
	v.SetDefault("index.addresses", []string{})
	v.SetDefault("index.name", "products")
	v.SetDefault("index.username", "")
	v.SetDefault("index.password", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 30*24*time.Hour)
	v.SetDefault("redis.state_ttl", 24*time.Hour)

	v.SetDefault("audit.backend", "none")
	v.SetDefault("audit.dir", "")
	v.SetDefault("audit.bucket", "")
	v.SetDefault("audit.prefix", "harvests")
	v.SetDefault("audit.endpoint", "")
	v.SetDefault("audit.access_key", "")
	v.SetDefault("audit.secret_key", "")
	v.SetDefault("audit.use_ssl", true)
	v.SetDefault("audit.region", "")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("kave.app_id", "")
	v.SetDefault("kave.api_key", "")
	v.SetDefault("kave.index", "")
	v.SetDefault("kave.max_pages", 0)

	v.SetDefault("sklum.headless", false)
	v.SetDefault("sklum.max_parallel", 2)
	v.SetDefault("sklum.navigation_timeout", 45*time.Second)
	v.SetDefault("sklum.login_url", "")
	v.SetDefault("sklum.email", "")
	v.SetDefault("sklum.password", "")
	v.SetDefault("sklum.max_pages", 20)

	v.SetDefault("serve.addr", ":8080")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name, src := range c.Sources {
		if _, err := catalog.ParseSourceCode(name); err != nil {
			return fmt.Errorf("sources.%s: %w", name, err)
		}
		if src.Margin < 0 {
			return fmt.Errorf("sources.%s.margin must be >= 0", name)
		}
	}
	if c.Embedding.Provider == "gemini" && c.Embedding.APIKey == "" {
		return errors.New("embedding.api_key must be set when embedding.provider is gemini")
	}
	if c.Index.Backend == "elastic" && len(c.Index.Addresses) == 0 {
		return errors.New("index.addresses must be set when index.backend is elastic")
	}
	switch c.Audit.Backend {
	case "local":
		if c.Audit.Dir == "" {
			return errors.New("audit.dir must be set when audit.backend is local")
		}
	case "gcs", "minio":
		if c.Audit.Bucket == "" {
			return fmt.Errorf("audit.bucket must be set when audit.backend is %s", c.Audit.Backend)
		}
		if c.Audit.Backend == "minio" && c.Audit.Endpoint == "" {
			return errors.New("audit.endpoint must be set when audit.backend is minio")
		}
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return errors.New("pubsub.project_id and pubsub.topic must be set together")
	}
	if c.Sklum.LoginURL != "" && (c.Sklum.Email == "" || c.Sklum.Password == "") {
		return errors.New("sklum.email and sklum.password must be set when sklum.login_url is set")
	}
	return nil
}

// Targets returns the configured targets per source. Sources without targets
// are omitted.
func (c Config) Targets() map[catalog.SourceCode][]string {
	out := make(map[catalog.SourceCode][]string)
	for name, src := range c.Sources {
		code, err := catalog.ParseSourceCode(name)
		if err != nil || len(src.Targets) == 0 {
			continue
		}
		out[code] = append([]string(nil), src.Targets...)
	}
	return out
}

// Margins returns the per-source margin overrides.
func (c Config) Margins() map[catalog.SourceCode]float64 {
	out := make(map[catalog.SourceCode]float64)
	for name, src := range c.Sources {
		code, err := catalog.ParseSourceCode(name)
		if err != nil || src.Margin <= 0 {
			continue
		}
		out[code] = src.Margin
	}
	return out
}

// SourceNames lists configured sources in lexical order.
func (c Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, strings.ToUpper(name))
	}
	sort.Strings(names)
	return names
}
