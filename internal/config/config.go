package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "config.json"
	PathEnv     = "BIZFOLIO_CONFIG"
)

type DatabaseConfig struct {
	Host               string `json:"host" yaml:"host"`
	Port               uint64 `json:"port" yaml:"port"`
	Username           string `json:"username" yaml:"username"`
	Password           string `json:"password" yaml:"password"`
	Database           string `json:"database" yaml:"database"`
	ReplicaSet         string `json:"replica_set" yaml:"replica_set"`
	UseTLS             bool   `json:"use_tls" yaml:"use_tls"`
	ConnectTimeout     string `json:"connect_timeout" yaml:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout" yaml:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout" yaml:"connect_idle_timeout"`
	OperationTimeout   string `json:"operation_timeout" yaml:"operation_timeout"`
	Heartbeat          string `json:"heartbeat" yaml:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size" yaml:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size" yaml:"max_pool_size"`
}

type GeocodingConfig struct {
	BaseURL   string `json:"base_url" yaml:"base_url"`
	UserAgent string `json:"user_agent" yaml:"user_agent"`
	Timeout   string `json:"timeout" yaml:"timeout"`
	CacheSize int    `json:"cache_size" yaml:"cache_size"`
	CacheTTL  string `json:"cache_ttl" yaml:"cache_ttl"`
}

type DispatchConfig struct {
	FallbackTimeout string `json:"fallback_timeout" yaml:"fallback_timeout"`
}

type QRConfig struct {
	RendererURL   string `json:"renderer_url" yaml:"renderer_url"`
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url"`
	Size          int    `json:"size" yaml:"size"`
}

type LogConfig struct {
	Dir       string `json:"dir" yaml:"dir"`
	Retention string `json:"retention" yaml:"retention"`
}

type Config struct {
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Geocoding GeocodingConfig `json:"geocoding" yaml:"geocoding"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
	QR        QRConfig        `json:"qr" yaml:"qr"`
	Log       LogConfig       `json:"log" yaml:"log"`
	DebugMode bool            `json:"debug_mode" yaml:"debug_mode"`
	AppName   string          `json:"app_name" yaml:"app_name"`
}

var (
	mu          sync.Mutex
	config      Config
	initialized = false
)

// Defaults returns a configuration with every optional field populated.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:               "localhost",
			Port:               27017,
			Database:           "bizfolio",
			ConnectTimeout:     "10s",
			SocketTimeout:      "30s",
			ConnectIdleTimeout: "5m",
			OperationTimeout:   "10s",
			Heartbeat:          "10s",
			MinPoolSize:        1,
			MaxPoolSize:        20,
		},
		Geocoding: GeocodingConfig{
			BaseURL:   "https://nominatim.openstreetmap.org",
			UserAgent: "bizfolio/1.0",
			Timeout:   "10s",
			CacheSize: 256,
			CacheTTL:  "1h",
		},
		Dispatch: DispatchConfig{
			FallbackTimeout: "500ms",
		},
		QR: QRConfig{
			RendererURL:   "https://api.qrserver.com/v1/create-qr-code/",
			PublicBaseURL: "https://bizfolio.app/b/",
			Size:          300,
		},
		Log: LogConfig{
			Dir:       "logs",
			Retention: "30d",
		},
		AppName: "bizfolio",
	}
}

// Path returns the configuration path, honoring BIZFOLIO_CONFIG.
func Path() string {
	if path := os.Getenv(PathEnv); path != "" {
		return path
	}
	return DefaultPath
}

func ReadConfig() (Config, error) {
	return ReadConfigFrom(Path())
}

// ReadConfigFrom loads path over Defaults. When the file is missing a template is
// written in its place and an error is returned so the operator can edit it.
func ReadConfigFrom(path string) (Config, error) {
	mu.Lock()
	defer mu.Unlock()

	cfg := Defaults()
	bytes, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if werr := writeTemplate(path, cfg); werr != nil {
				return cfg, fmt.Errorf("the configuration file does not exist and could not be created: %w", werr)
			}
			return cfg, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
		}
		return cfg, fmt.Errorf("read configuration file: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(bytes, &cfg)
	} else {
		err = json.Unmarshal(bytes, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("the configuration file %s is not valid: %w", path, err)
	}

	config = cfg
	initialized = true
	return cfg, nil
}

// GetConfig returns the last loaded configuration, loading it on first use.
func GetConfig() (Config, error) {
	mu.Lock()
	if initialized {
		defer mu.Unlock()
		return config, nil
	}
	mu.Unlock()
	return ReadConfig()
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func writeTemplate(path string, cfg Config) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "\t")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
