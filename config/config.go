// Package config loads process configuration from flags, environment
// variables, and an optional config file, following the precedence the
// teacher repo established in cmd/fx.go's call to config.LoadConfig.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved process configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	ServerID    string // hostname:port, the registry's "S"

	Redis    RedisConfig
	DB       DBConfig
	AMQP     AMQPConfig
	Runtime  RuntimeConfig
	Heartbeat HeartbeatConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	Scheme   string
	Cluster  bool
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type DBConfig struct {
	DSN           string
	ReadPoolSize  int
	WritePoolSize int
}

type AMQPConfig struct {
	URL string
}

type RuntimeConfig struct {
	WorkerCount        int
	TaskWorkerCount     int
	MaxConnsPerWorker   int
	PollInterval        time.Duration
	EnableTUI           bool
}

type HeartbeatConfig struct {
	IdleTimeout time.Duration
}

// LoadConfig resolves configuration in the conventional viper layering:
// flags > environment variables > config file > defaults.
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("im-delivery-service", flag.ContinueOnError)
	configFile := fs.String("config_file", "", "path to the configuration file")
	listenAddr := fs.String("listen", "0.0.0.0:9502", "address to bind the websocket/http listener")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", "0.0.0.0:9502")
	if fs.Changed("listen") {
		v.Set("listen_addr", *listenAddr)
	}
	v.SetDefault("tls_cert_file", "")
	v.SetDefault("tls_key_file", "")
	v.SetDefault("redis_host", "127.0.0.1")
	v.SetDefault("redis_port", "6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_scheme", "redis")
	v.SetDefault("redis_cluster", false)
	v.SetDefault("db_dsn", "")
	v.SetDefault("db_read_pool_size", 15)
	v.SetDefault("db_write_pool_size", 5)
	v.SetDefault("amqp_url", "")
	v.SetDefault("worker_count", 0)
	v.SetDefault("task_worker_count", 0)
	v.SetDefault("max_conns_per_worker", 1024)
	v.SetDefault("poll_interval_seconds", 15)
	v.SetDefault("enable_tui", false)
	v.SetDefault("heartbeat_idle_seconds", 180)

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
		v.OnConfigChange(func(e fsnotify.Event) {
			slog.Info("CONFIG_FILE_CHANGED", "event", e.String())
		})
		v.WatchConfig()
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	cfg := &Config{
		ListenAddr:  v.GetString("listen_addr"),
		TLSCertFile: v.GetString("tls_cert_file"),
		TLSKeyFile:  v.GetString("tls_key_file"),
		ServerID:    fmt.Sprintf("%s:%s", hostname, listenPort(v.GetString("listen_addr"))),
		Redis: RedisConfig{
			Host:     v.GetString("redis_host"),
			Port:     v.GetString("redis_port"),
			Password: v.GetString("redis_password"),
			Scheme:   v.GetString("redis_scheme"),
			Cluster:  v.GetBool("redis_cluster"),
		},
		DB: DBConfig{
			DSN:           v.GetString("db_dsn"),
			ReadPoolSize:  v.GetInt("db_read_pool_size"),
			WritePoolSize: v.GetInt("db_write_pool_size"),
		},
		AMQP: AMQPConfig{URL: v.GetString("amqp_url")},
		Runtime: RuntimeConfig{
			WorkerCount:       v.GetInt("worker_count"),
			TaskWorkerCount:   v.GetInt("task_worker_count"),
			MaxConnsPerWorker: v.GetInt("max_conns_per_worker"),
			PollInterval:      time.Duration(v.GetInt("poll_interval_seconds")) * time.Second,
			EnableTUI:         v.GetBool("enable_tui"),
		},
		Heartbeat: HeartbeatConfig{
			IdleTimeout: time.Duration(v.GetInt("heartbeat_idle_seconds")) * time.Second,
		},
	}

	return cfg, nil
}

func listenPort(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[i+1:]
		}
	}
	return addr
}
