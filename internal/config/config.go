// Package config loads the service configuration from an optional yaml file,
// a .env file and the environment, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/royalcat/osmgeo/entitystore"
	"github.com/royalcat/osmgeo/failstore"
	"github.com/royalcat/osmgeo/geosource"
	"github.com/royalcat/osmgeo/kv"
	"github.com/royalcat/osmgeo/osmdb/pgdb"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	Postgres  Postgres  `yaml:"postgres"`
	Redis     Redis     `yaml:"redis"`
	Telemetry Telemetry `yaml:"telemetry"`

	Cache       Cache `yaml:"cache"`
	Batches     Batch `yaml:"batches"`
	Parallelism int   `yaml:"parallelism"`
}

type Postgres struct {
	// DSN wins over the separate connection fields when set.
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DB       string `yaml:"db"`
	SSLMode  string `yaml:"sslmode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Redis is optional, without a URL failed ids are kept in memory only.
type Redis struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

type Telemetry struct {
	Endpoint string `yaml:"endpoint"`
}

// Cache sizes one FIFO cache per kind.
type Cache struct {
	Capacity   int `yaml:"capacity"`
	FlushBatch int `yaml:"flush_batch"`
	MaxQueries int `yaml:"max_queries"`
}

type Batch struct {
	Nodes     int `yaml:"nodes"`
	Ways      int `yaml:"ways"`
	Relations int `yaml:"relations"`
	Members   int `yaml:"members"`
}

func Default() Config {
	fifo := kv.DefaultFIFOConfig()
	batches := geosource.DefaultBatchSizes()
	return Config{
		Listen:   ":8080",
		LogLevel: "info",
		Postgres: Postgres{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			DB:              "osm",
			SSLMode:         "disable",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: Redis{
			Prefix: failstore.DefaultPrefix,
		},
		Cache: Cache{
			Capacity:   fifo.Capacity,
			FlushBatch: fifo.FlushBatch,
			MaxQueries: fifo.MaxQueries,
		},
		Batches: Batch{
			Nodes:     batches.Nodes,
			Ways:      batches.Ways,
			Relations: batches.Relations,
			Members:   batches.Members,
		},
		Parallelism: 1,
	}
}

// Load reads path when it is not empty, then .env from the working
// directory, then the environment. Variables already set in the environment
// are not replaced by .env values.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("loading .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("PG_DSN", &c.Postgres.DSN)
	str("PG_HOST", &c.Postgres.Host)
	str("PG_PORT", &c.Postgres.Port)
	str("PG_USER", &c.Postgres.User)
	str("PG_PASSWORD", &c.Postgres.Password)
	str("PG_DB", &c.Postgres.DB)
	str("PG_SSLMODE", &c.Postgres.SSLMode)
	str("REDIS_URL", &c.Redis.URL)
	str("REDIS_PREFIX", &c.Redis.Prefix)
	str("OSMGEO_LISTEN", &c.Listen)
	str("OTEL_ENDPOINT", &c.Telemetry.Endpoint)
	str("LOG_LEVEL", &c.LogLevel)

	if err := num("PG_MAX_OPEN_CONNS", &c.Postgres.MaxOpenConns); err != nil {
		return err
	}
	if err := num("PG_MAX_IDLE_CONNS", &c.Postgres.MaxIdleConns); err != nil {
		return err
	}
	return nil
}

func (c Config) PostgresConfig() pgdb.Config {
	dsn := c.Postgres.DSN
	if dsn == "" {
		p := c.Postgres
		dsn = pgdb.BuildDSN(p.Host, p.Port, p.User, p.Password, p.DB, p.SSLMode)
	}
	return pgdb.Config{
		DSN:             dsn,
		MaxOpenConns:    c.Postgres.MaxOpenConns,
		MaxIdleConns:    c.Postgres.MaxIdleConns,
		ConnMaxLifetime: c.Postgres.ConnMaxLifetime,
	}
}

// CacheConfig applies the same limits to every kind.
func (c Config) CacheConfig() entitystore.Config {
	fifo := kv.FIFOConfig{
		Capacity:   c.Cache.Capacity,
		FlushBatch: c.Cache.FlushBatch,
		MaxQueries: c.Cache.MaxQueries,
	}
	return entitystore.Config{Nodes: fifo, Ways: fifo, Relations: fifo}
}

func (c Config) BatchSizes() geosource.BatchSizes {
	return geosource.BatchSizes{
		Nodes:     c.Batches.Nodes,
		Ways:      c.Batches.Ways,
		Relations: c.Batches.Relations,
		Members:   c.Batches.Members,
	}
}

// Level parses LogLevel with logrus names.
func (c Config) Level() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}
