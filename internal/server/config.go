package server

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/SpasticCat/findmycar/internal/history"
	"github.com/SpasticCat/findmycar/internal/keyvalue"
	"github.com/SpasticCat/findmycar/internal/location"
)

// Config holds all daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Location LocationConfig `yaml:"location" json:"location"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Premium  PremiumConfig  `yaml:"premium" json:"premium"`
	History  history.Config `yaml:"history" json:"history"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr" validate:"required"`
	// AuthSecret enables JWT bearer auth on /api and /ws when non-empty.
	AuthSecret string `yaml:"auth_secret" json:"-"`
}

type LocationConfig struct {
	Type     string              `yaml:"type" json:"type" validate:"oneof=demo nmea mqtt"` // "demo", "nmea" or "mqtt"
	NMEA     location.NMEAConfig `yaml:"nmea" json:"nmea"`
	MQTT     location.MQTTConfig `yaml:"mqtt" json:"mqtt"`
	MinMoveM float64             `yaml:"min_move_m" json:"minMoveM"`
}

type StorageConfig struct {
	Type  string               `yaml:"type" json:"type" validate:"oneof=file redis memory"` // "file", "redis" or "memory"
	Path  string               `yaml:"path" json:"path"`
	Redis keyvalue.RedisConfig `yaml:"redis" json:"redis"`
}

type PremiumConfig struct {
	Type        string `yaml:"type" json:"type" validate:"oneof=demo http"` // "demo" or "http"
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	Product     string `yaml:"product" json:"product"`
	Entitlement string `yaml:"entitlement" json:"entitlement"`
	// Grant pre-grants entitlements to the demo service.
	Grant []string `yaml:"grant" json:"grant"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Location: LocationConfig{
			Type: "demo",
			NMEA: location.NMEAConfig{
				PortPath: "/dev/ttyGPS",
				BaudRate: 9600,
			},
			MQTT: location.MQTTConfig{
				Broker: "tcp://localhost:1883",
				Topic:  "findmycar/location",
			},
			MinMoveM: 5,
		},
		Storage: StorageConfig{
			Type: "file",
			Path: "/var/lib/findmycar/state.json",
			Redis: keyvalue.RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Premium: PremiumConfig{
			Type:        "demo",
			Product:     "findmycar.pro",
			Entitlement: "pro",
		},
		History: history.Config{
			Enabled: false,
			Path:    "/var/log/findmycar",
		},
	}
}

// LoadConfig reads config from a YAML file, applies environment variable
// overrides and validates the result. Falls back to defaults if the YAML is
// missing or unreadable.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	cfg.applyEnvOverrides()

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: LISTEN_ADDR, AUTH_SECRET, LOCATION_TYPE, GPS_PORT, GPS_BAUD,
// MQTT_BROKER, MQTT_TOPIC, STORAGE_TYPE, STORAGE_PATH, REDIS_ADDR,
// REDIS_PASSWORD, REDIS_DB, PREMIUM_TYPE, PREMIUM_ENDPOINT.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("AUTH_SECRET"); v != "" {
		c.Server.AuthSecret = v
	}
	if v := os.Getenv("LOCATION_TYPE"); v != "" {
		c.Location.Type = v
	}
	if v := os.Getenv("GPS_PORT"); v != "" {
		c.Location.NMEA.PortPath = v
	}
	if v := os.Getenv("GPS_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Location.NMEA.BaudRate = n
		}
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.Location.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		c.Location.MQTT.Topic = v
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Storage.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Storage.Redis.DB = n
		}
	}
	if v := os.Getenv("PREMIUM_TYPE"); v != "" {
		c.Premium.Type = v
	}
	if v := os.Getenv("PREMIUM_ENDPOINT"); v != "" {
		c.Premium.Endpoint = v
	}
}
