package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Session   SessionConfig   `yaml:"session"`
	Results   ResultsConfig   `yaml:"results"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Reference ReferenceConfig `yaml:"reference"`
	Reset     ResetConfig     `yaml:"reset"`
	Almanac   AlmanacConfig   `yaml:"almanac"`
}

type SerialConfig struct {
	// Device may be empty to auto-detect the evaluation board.
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	Driver      string        `yaml:"driver"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type SessionConfig struct {
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	// ReadyTimeout bounds the wait for the chip's handshake. 0 waits forever.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	QueueSize    int           `yaml:"queue_size"`
}

type ResultsConfig struct {
	TopFolder string `yaml:"top_folder"`
	// FolderName defaults to fieldTests_<UTC date> at run start.
	FolderName string `yaml:"folder_name"`
	File       string `yaml:"file"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MetricsConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

type ReferenceConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
	// Address is host:port of an NMEA TCP stream; it replaces Device.
	Address        string        `yaml:"address"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	StaleAfter     time.Duration `yaml:"stale_after"`
}

type ResetConfig struct {
	Enable bool          `yaml:"enable"`
	Chip   string        `yaml:"chip"`
	Line   int           `yaml:"line"`
	Pulse  time.Duration `yaml:"pulse"`
	// Boot is how long to wait after releasing the line.
	Boot time.Duration `yaml:"boot"`
}

type AlmanacConfig struct {
	URLBase string `yaml:"url_base"`
	Token   string `yaml:"token"`
	File    string `yaml:"file"`
}

// Default is the configuration used when no file is given.
func Default() Config {
	var cfg Config
	if err := cfg.applyDefaults(); err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 921600
	}
	if cfg.Serial.Baud < 0 {
		return fmt.Errorf("serial.baud must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Serial.Driver)) {
	case "", "bugst":
		cfg.Serial.Driver = "bugst"
	case "termios":
		cfg.Serial.Driver = "termios"
	default:
		return fmt.Errorf("serial.driver must be bugst or termios")
	}
	if cfg.Serial.ReadTimeout <= 0 {
		cfg.Serial.ReadTimeout = 1 * time.Second
	}

	if cfg.Session.ResponseTimeout <= 0 {
		cfg.Session.ResponseTimeout = 1 * time.Second
	}
	if cfg.Session.ReadyTimeout < 0 {
		return fmt.Errorf("session.ready_timeout must be >= 0")
	}
	if cfg.Session.QueueSize <= 0 {
		cfg.Session.QueueSize = 256
	}

	if cfg.Results.File == "" {
		cfg.Results.File = "results.res"
	}
	if strings.ContainsRune(cfg.Results.File, filepath.Separator) {
		return fmt.Errorf("results.file must be a file name, not a path")
	}

	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 20
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}

	if cfg.Metrics.Enable && cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9110"
	}

	if cfg.MQTT.Enable {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "lr1110-host"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "lr1110/results"
	}

	if cfg.Reference.Enable && cfg.Reference.Device == "" && cfg.Reference.Address == "" {
		return fmt.Errorf("reference.device or reference.address is required when reference.enable is true")
	}
	if cfg.Reference.ReconnectDelay == 0 {
		cfg.Reference.ReconnectDelay = time.Second
	}
	if cfg.Reference.Baud == 0 {
		cfg.Reference.Baud = 9600
	}

	if cfg.Reset.Enable && cfg.Reset.Chip == "" {
		return fmt.Errorf("reset.chip is required when reset.enable is true")
	}
	if cfg.Reset.Line < 0 {
		return fmt.Errorf("reset.line must be >= 0")
	}
	if cfg.Reset.Pulse <= 0 {
		cfg.Reset.Pulse = 100 * time.Millisecond
	}
	if cfg.Reset.Boot <= 0 {
		cfg.Reset.Boot = 2 * time.Second
	}

	if cfg.Almanac.URLBase == "" {
		cfg.Almanac.URLBase = "https://gls.loracloud.com"
	}
	return nil
}

// ResultsDir is where a run started at now writes its results.
func (r ResultsConfig) ResultsDir(now time.Time) string {
	name := r.FolderName
	if name == "" {
		name = "fieldTests_" + now.UTC().Format("20060102-150405")
	}
	top := r.TopFolder
	if top == "" {
		top = "."
	}
	return filepath.Join(top, name)
}
