package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyListen    = errors.New("listen address is not specified")
	ErrEmptyDataDir   = errors.New("data directory is not specified")
	ErrBadCapacity    = errors.New("event capacity must be positive")
	ErrBadTimeout     = errors.New("monitor timeouts must be positive")
	ErrBadConcurrency = errors.New("store write concurrency must be positive")
	ErrEmptyUser      = errors.New("bootstrap user without name or password")
)

const (
	defaultListen        = ":8080"
	defaultDataDir       = "./data"
	defaultEventCapacity = 32
)

type MonitorConfig struct {
	LoadingTimeout     time.Duration `yaml:"loading_timeout"`
	ProbeInterval      time.Duration `yaml:"probe_interval"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	ProbeFailures      int           `yaml:"probe_failures"`
	UnreachableTimeout time.Duration `yaml:"unreachable_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	CacheEntries     int `yaml:"cache_entries"`
	WriteConcurrency int `yaml:"write_concurrency"`
}

type UserConfig struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

type Config struct {
	Listen        string        `yaml:"listen"`
	DataDir       string        `yaml:"data_dir"`
	EventCapacity int           `yaml:"event_capacity"`
	PeerHeader    string        `yaml:"peer_header"`
	Monitor       MonitorConfig `yaml:"monitor"`
	Store         StoreConfig   `yaml:"store"`
	Users         []UserConfig  `yaml:"users"`
}

func DefaultMonitor() MonitorConfig {
	return MonitorConfig{
		LoadingTimeout:     5 * time.Minute,
		ProbeInterval:      5 * time.Second,
		ProbeTimeout:       3 * time.Second,
		ProbeFailures:      3,
		UnreachableTimeout: 5 * time.Minute,
		ShutdownTimeout:    5 * time.Minute,
	}
}

func Default() Config {
	return Config{
		Listen:        defaultListen,
		DataDir:       defaultDataDir,
		EventCapacity: defaultEventCapacity,
		Monitor:       DefaultMonitor(),
		Store: StoreConfig{
			CacheEntries:     256,
			WriteConcurrency: 8,
		},
	}
}

func New(cfgPath string) (Config, error) {
	file, err := os.Open(cfgPath)
	if err != nil {
		return Config{}, err
	}
	defer func() {
		_ = file.Close()
	}()
	cfg := Default()
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return Config{}, errors.WithMessage(err, "decode yaml config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return ErrEmptyListen
	}
	if c.DataDir == "" {
		return ErrEmptyDataDir
	}
	if c.EventCapacity < 1 {
		return ErrBadCapacity
	}
	m := c.Monitor
	if m.LoadingTimeout <= 0 || m.ProbeInterval <= 0 || m.ProbeTimeout <= 0 ||
		m.UnreachableTimeout <= 0 || m.ShutdownTimeout <= 0 || m.ProbeFailures < 1 {
		return ErrBadTimeout
	}
	if c.Store.WriteConcurrency < 1 {
		return ErrBadConcurrency
	}
	for _, u := range c.Users {
		if u.Name == "" || u.Password == "" {
			return ErrEmptyUser
		}
	}
	return nil
}
