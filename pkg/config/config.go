package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct, merged from a YAML file,
// SOPORTE_* environment overrides and command-line flags (flags win).
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		DBPath  string `yaml:"db_path"`
		// ShutdownTimeout bounds the graceful drain of in-flight
		// requests on SIGTERM.
		ShutdownTimeout Duration `yaml:"shutdown_timeout"`
		TLS             struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
	} `yaml:"server"`
	Security struct {
		CORS struct {
			AllowedOrigins []string `yaml:"allowed_origins"`
		} `yaml:"cors"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
		OperatorKeys []string `yaml:"operator_keys"`
		SigningKeys  []string `yaml:"signing_keys"`
	} `yaml:"security"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Limits struct {
		MaxBodySize SizeBytes `yaml:"max_body_size"`
	} `yaml:"limits"`
	Notify struct {
		Enabled    bool `yaml:"enabled"`
		Queue      int  `yaml:"queue"`
		PreviewMax int  `yaml:"preview_max"`
		SMTP       struct {
			Addr string   `yaml:"addr"`
			From string   `yaml:"from"`
			To   []string `yaml:"to"`
		} `yaml:"smtp"`
	} `yaml:"notify"`
	Repair struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
	} `yaml:"repair"`
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	host := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// ParseFlags parses command-line flags.
func ParseFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: set}
}

// Load reads the YAML config file. A missing file is not fatal: an empty
// config is returned and env/flags fill the gaps.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnv overlays SOPORTE_* environment variables onto cfg. List-valued
// variables are comma separated.
func ApplyEnv(cfg *Config) {
	parseList := func(v string) []string {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if v := os.Getenv("SOPORTE_SERVER_ADDR"); v != "" {
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		}
	}
	if v := os.Getenv("SOPORTE_DB_PATH"); v != "" {
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("SOPORTE_OPERATOR_KEYS"); v != "" {
		cfg.Security.OperatorKeys = parseList(v)
	}
	if v := os.Getenv("SOPORTE_SIGNING_KEYS"); v != "" {
		cfg.Security.SigningKeys = parseList(v)
	}
	if v := os.Getenv("SOPORTE_ALLOWED_ORIGINS"); v != "" {
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("SOPORTE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SOPORTE_NOTIFY_SMTP_ADDR"); v != "" {
		cfg.Notify.SMTP.Addr = v
		cfg.Notify.Enabled = true
	}
	if v := os.Getenv("SOPORTE_NOTIFY_FROM"); v != "" {
		cfg.Notify.SMTP.From = v
	}
	if v := os.Getenv("SOPORTE_NOTIFY_TO"); v != "" {
		cfg.Notify.SMTP.To = parseList(v)
	}
	if v := os.Getenv("SOPORTE_REPAIR_CRON"); v != "" {
		cfg.Repair.Cron = v
		cfg.Repair.Enabled = true
	}
}

// Validate fails fast on configurations the server cannot run with.
func Validate(cfg *Config) error {
	if len(cfg.Security.SigningKeys) == 0 && len(cfg.Security.OperatorKeys) == 0 {
		return fmt.Errorf("no credentials configured: set security.operator_keys and/or security.signing_keys")
	}
	if cfg.Notify.Enabled {
		if cfg.Notify.SMTP.Addr == "" || cfg.Notify.SMTP.From == "" || len(cfg.Notify.SMTP.To) == 0 {
			return fmt.Errorf("notify enabled but smtp addr/from/to incomplete")
		}
	}
	return nil
}
