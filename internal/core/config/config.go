package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

// DBCfg mirrors the optional DB_* variables. The Postgres-backed cell store
// is not bundled; the values are parsed so startup can report the selection
// instead of silently ignoring it.
type DBCfg struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

func (d DBCfg) Configured() bool { return d.Host != "" }

type Config struct {
	Addr string
	// MetricsAddr moves /metrics to its own listener when set; empty keeps
	// it on the main mux.
	MetricsAddr string
	LogLevel    string

	UseRealData bool
	H3Res       int

	DataDir    string
	RawDataDir string

	ElevationTileURL string
	ElsusPath        string
	ClcPath          string
	PGAPath          string

	PrecipURL       string
	PrecipTimeout   time.Duration
	PrecipChunkSize int

	CellStore         string
	RedisAddr         string
	CellFlushInterval time.Duration

	TileCacheBudgetMB int
	TileCacheTTL      time.Duration
	TileCacheSweep    time.Duration

	RiskChunkSize int

	Invalidation InvalidationCfg
	DB           DBCfg
}

func FromEnv() Config {
	res := getint("H3_RES_DEFAULT", 6)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:        getenv("ADDR", ":8090"),
		MetricsAddr: getenv("METRICS_ADDR", ""),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		UseRealData: getbool("USE_REAL_DATA", false),
		H3Res:       res,

		DataDir:    getenv("DATA_DIR", "data"),
		RawDataDir: getenv("RAW_DATA_DIR", "data/raw"),

		ElevationTileURL: getenv("ELEVATION_TILE_URL", "https://copernicus-dem-30m.s3.amazonaws.com"),
		ElsusPath:        getenv("ELSUS_PATH", "data/raw/elsus/elsus_v2.grid.json"),
		ClcPath:          getenv("CLC_PATH", "data/raw/clc/clc2018.grid.json"),
		PGAPath:          getenv("PGA_PATH", "data/raw/eshm/pga475.grid.json"),

		PrecipURL:       getenv("NASA_PRECIP_URL", "http://localhost:8111"),
		PrecipTimeout:   getduration("PRECIP_TIMEOUT", 120*time.Second),
		PrecipChunkSize: getint("PRECIP_CHUNK_SIZE", 5000),

		CellStore:         strings.ToLower(getenv("CELL_STORE", "file")),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		CellFlushInterval: getduration("CELL_FLUSH_INTERVAL", 60*time.Second),

		TileCacheBudgetMB: getint("TILE_CACHE_BUDGET_MB", 200),
		TileCacheTTL:      getduration("TILE_CACHE_TTL", 10*time.Minute),
		TileCacheSweep:    getduration("TILE_CACHE_SWEEP", 2*time.Minute),

		RiskChunkSize: getint("RISK_CHUNK_SIZE", 100),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "hazard-dataset-events"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "hazard-cache-invalidator"),
		},

		DB: DBCfg{
			Host:     getenv("DB_HOST", ""),
			Port:     getint("DB_PORT", 5432),
			Name:     getenv("DB_NAME", "hazard"),
			User:     getenv("DB_USER", ""),
			Password: getenv("DB_PASSWORD", ""),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
