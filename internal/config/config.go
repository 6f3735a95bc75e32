package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type LinkConfig struct {
	Name    string `mapstructure:"name"` // "tcp" or "mock"
	Address string `mapstructure:"address"`
}

type Config struct {
	// Scopeless runs without any physical setup attached; the link is
	// forced to the mock regardless of link.name.
	Scopeless        bool       `mapstructure:"scopeless"`
	ScanningTrigger  bool       `mapstructure:"scanning_trigger"`
	Link             LinkConfig `mapstructure:"link"`
	SocketPath       string     `mapstructure:"socket_path"`
	MetricsAddr      string     `mapstructure:"metrics_addr"`  // empty disables the metrics server
	JournalPath      string     `mapstructure:"journal_path"`  // empty disables the cycle journal
	SettingsFile     string     `mapstructure:"settings_file"` // empty disables the settings watcher
	ConfirmTimeoutMS int        `mapstructure:"confirm_timeout_ms"`
}

const defaultAddress = "127.0.0.1:5555"

func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/stimsync")
		v.AddConfigPath("/etc/stimsync/")
	}

	v.SetEnvPrefix("STIMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("scopeless", false)
	v.SetDefault("scanning_trigger", true)
	v.SetDefault("link.name", "tcp")
	v.SetDefault("link.address", defaultAddress)
	v.SetDefault("socket_path", "/tmp/stimsync.sock")
	v.SetDefault("metrics_addr", ":9421")
	v.SetDefault("journal_path", "")
	v.SetDefault("settings_file", "")
	v.SetDefault("confirm_timeout_ms", 1000)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found, using defaults.")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.ConfirmTimeoutMS < 1 {
		log.Println("Warning: confirm_timeout_ms too low, setting to 1000")
		cfg.ConfirmTimeoutMS = 1000
	}
	if cfg.Link.Name != "tcp" && cfg.Link.Name != "mock" {
		log.Printf("Warning: invalid link name '%s', defaulting to 'tcp'", cfg.Link.Name)
		cfg.Link.Name = "tcp"
	}
	if cfg.Link.Address == "" {
		log.Printf("Warning: empty link address, defaulting to '%s'", defaultAddress)
		cfg.Link.Address = defaultAddress
	}

	log.Printf("Configuration loaded: %+v", cfg)
	return &cfg, nil
}

// EffectiveLinkName resolves which link implementation to run: scopeless
// mode always gets the mock.
func (c *Config) EffectiveLinkName() string {
	if c.Scopeless {
		return "mock"
	}
	return c.Link.Name
}

func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutMS) * time.Millisecond
}
