package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Paths    PathsConfig
	Browser  BrowserConfig
	Sources  SourcesConfig
	Control  ControlConfig
	Log      LogConfig
}

type AppConfig struct {
	AppName     string
	Environment string
	HTTPPort    string
}

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

type DatabaseConfig struct {
	Dialect    string
	SQLitePath string

	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	ConnectTimeout        time.Duration
	PoolMaxConns          int32
	PoolMinConns          int32
	PoolMaxConnLifetime   time.Duration
	PoolMaxConnIdleTime   time.Duration
	PoolHealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	TTL      time.Duration
}

type PathsConfig struct {
	DataDir       string
	CookiesFile   string
	CheckpointDir string
	AppIDsFile    string
}

type BrowserConfig struct {
	ExecPath       string
	Headless       bool
	PoolSize       int
	UserAgent      string
	BlockImages    bool
	BlockCSS       bool
	BlockFonts     bool
	ChallengeWait  time.Duration
	RequestTimeout time.Duration
}

const (
	CCUBackendSteamCharts = "steamcharts"
	CCUBackendSteamDB     = "steamdb"
)

type SourcesConfig struct {
	CCUBackend       string
	CCUWithPrices    bool
	CompareBatchSize int

	SteamChartsRPS        float64
	SteamChartsBatchSize  int
	SteamChartsRetries    int
	SteamChartsRetryDelay time.Duration

	ITADAPIKey    string
	ITADBatchSize int
	ITADRPS       float64
	ITADWorkers   int
	ITADSince     string

	SteamStoreRPS       float64
	SteamStoreBatchSize int
	SteamStoreWorkers   int
	SteamStoreTimeout   time.Duration
	SteamStoreRetries   int
	SteamStoreRetryWait time.Duration
}

type ControlConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

var ErrMissingRequiredEnv = errors.New("missing required environment variables")

func Load() (Config, error) {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	cfg := Config{}

	var missing []string
	var invalid []string
	req := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	opt := func(key, def string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return def
		}
		return v
	}
	optInt := func(key string, def int) int {
		raw := opt(key, "")
		if raw == "" {
			return def
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			invalid = append(invalid, key)
			return def
		}
		return v
	}
	optFloat := func(key string, def float64) float64 {
		raw := opt(key, "")
		if raw == "" {
			return def
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			invalid = append(invalid, key)
			return def
		}
		return v
	}
	optBool := func(key string, def bool) bool {
		raw := opt(key, "")
		if raw == "" {
			return def
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			invalid = append(invalid, key)
			return def
		}
		return v
	}
	optDur := func(key string, def time.Duration) time.Duration {
		raw := opt(key, "")
		if raw == "" {
			return def
		}
		d, err := parseDuration(raw)
		if err != nil {
			invalid = append(invalid, key)
			return def
		}
		return d
	}

	cfg.App = AppConfig{
		AppName:     opt("APP_NAME", "steamids-parser"),
		Environment: opt("APP_ENV", "development"),
		HTTPPort:    opt("HTTP_PORT", "8080"),
	}

	dataDir := opt("DATA_DIR", "data")
	cfg.Paths = PathsConfig{
		DataDir:       dataDir,
		CookiesFile:   opt("COOKIES_FILE", filepath.Join(dataDir, "cookies.json")),
		CheckpointDir: opt("CHECKPOINT_DIR", dataDir),
		AppIDsFile:    opt("APP_IDS_FILE", "app_ids.txt"),
	}

	cfg.Database = DatabaseConfig{
		Dialect:               strings.ToLower(opt("DB_DIALECT", DialectSQLite)),
		SQLitePath:            opt("SQLITE_PATH", filepath.Join(dataDir, "steam_data.db")),
		DBHost:                opt("DB_HOST", ""),
		DBPort:                opt("DB_PORT", "5432"),
		DBName:                opt("DB_NAME", ""),
		DBUser:                opt("DB_USER", ""),
		DBPassword:            opt("DB_PASSWORD", ""),
		DBSSLMode:             opt("DB_SSL_MODE", "disable"),
		ConnectTimeout:        optDur("DB_CONNECT_TIMEOUT", 5*time.Second),
		PoolMaxConns:          int32(optInt("DB_POOL_MAX_CONNS", 10)),
		PoolMinConns:          int32(optInt("DB_POOL_MIN_CONNS", 0)),
		PoolMaxConnLifetime:   optDur("DB_POOL_MAX_CONN_LIFETIME", 0),
		PoolMaxConnIdleTime:   optDur("DB_POOL_MAX_CONN_IDLE_TIME", 0),
		PoolHealthCheckPeriod: optDur("DB_POOL_HEALTH_CHECK_PERIOD", 0),
	}
	switch cfg.Database.Dialect {
	case DialectSQLite:
	case DialectPostgres:
		req("DB_HOST")
		req("DB_NAME")
		req("DB_USER")
	default:
		invalid = append(invalid, "DB_DIALECT")
	}

	cfg.Redis = RedisConfig{
		Host:     opt("REDIS_HOST", "localhost"),
		Port:     opt("REDIS_PORT", "6379"),
		Password: opt("REDIS_PASSWORD", ""),
		TTL:      optDur("REDIS_TTL", 5*time.Second),
	}

	cfg.Browser = BrowserConfig{
		ExecPath:       opt("BROWSER_EXEC_PATH", ""),
		Headless:       optBool("BROWSER_HEADLESS", true),
		PoolSize:       optInt("BROWSER_POOL_SIZE", 10),
		UserAgent:      opt("BROWSER_USER_AGENT", DefaultUserAgent),
		BlockImages:    optBool("BLOCK_IMAGES", true),
		BlockCSS:       optBool("BLOCK_CSS", true),
		BlockFonts:     optBool("BLOCK_FONTS", true),
		ChallengeWait:  optDur("CHALLENGE_WAIT", 15*time.Second),
		RequestTimeout: optDur("REQUEST_TIMEOUT", 90*time.Second),
	}

	cfg.Sources = SourcesConfig{
		CCUBackend:            strings.ToLower(opt("CCU_BACKEND", CCUBackendSteamCharts)),
		CCUWithPrices:         optBool("CCU_WITH_PRICES", false),
		CompareBatchSize:      optInt("COMPARE_BATCH_SIZE", 10),
		SteamChartsRPS:        optFloat("STEAMCHARTS_RPS", 5),
		SteamChartsBatchSize:  optInt("STEAMCHARTS_BATCH_SIZE", 100),
		SteamChartsRetries:    optInt("STEAMCHARTS_RETRIES", 3),
		SteamChartsRetryDelay: optDur("STEAMCHARTS_RETRY_DELAY", 2*time.Second),
		ITADAPIKey:            opt("ITAD_API_KEY", ""),
		ITADBatchSize:         optInt("ITAD_BATCH_SIZE", 100),
		ITADRPS:               optFloat("ITAD_RPS", 1),
		ITADWorkers:           optInt("ITAD_WORKERS", 10),
		ITADSince:             opt("ITAD_SINCE", "2012-01-01T00:00:00Z"),
		SteamStoreRPS:         optFloat("STEAM_STORE_RPS", 50),
		SteamStoreBatchSize:   optInt("STEAM_STORE_BATCH_SIZE", 100),
		SteamStoreWorkers:     optInt("STEAM_STORE_WORKERS", 20),
		SteamStoreTimeout:     optDur("STEAM_STORE_TIMEOUT", 10*time.Second),
		SteamStoreRetries:     optInt("STEAM_STORE_RETRIES", 3),
		SteamStoreRetryWait:   optDur("STEAM_STORE_RETRY_DELAY", time.Second),
	}
	switch cfg.Sources.CCUBackend {
	case CCUBackendSteamCharts, CCUBackendSteamDB:
	default:
		invalid = append(invalid, "CCU_BACKEND")
	}

	cfg.Control = ControlConfig{
		JWTSecret: opt("CONTROL_JWT_SECRET", ""),
		TokenTTL:  optDur("CONTROL_TOKEN_TTL", 24*time.Hour),
	}

	cfg.Log = LogConfig{
		Level:  opt("LOG_LEVEL", "info"),
		Format: strings.ToLower(opt("LOG_FORMAT", "text")),
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredEnv, strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variables: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// parseDuration accepts Go durations ("15s") and bare integers as seconds.
func parseDuration(raw string) (time.Duration, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration")
		}
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(raw)
}
