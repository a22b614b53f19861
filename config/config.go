package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// EnvConfigPath overrides the default config file location when set.
const EnvConfigPath = "AUTOTAGGER_CONFIG"

const defaultConfigFile = "config.toml"

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

type LimitsConfig struct {
	MaxUploadMB   int64 `toml:"max_upload_mb"`
	RatePerMinute int   `toml:"rate_per_minute"`
	RateBurst     int   `toml:"rate_burst"`
}

type WDv3Config struct {
	Script         string `toml:"script"`
	Python         string `toml:"python"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxConcurrent  int64  `toml:"max_concurrent"`
}

type RRJConfig struct {
	Repo      string  `toml:"repo"`
	ModelFile string  `toml:"model_file"`
	TagsFile  string  `toml:"tags_file"`
	ModelPath string  `toml:"model_path"`
	TagsPath  string  `toml:"tags_path"`
	Threshold float32 `toml:"threshold"`
	PoolSize  int     `toml:"pool_size"`
	Libonnx   string  `toml:"libonnx"`
}

type FrontendConfig struct {
	HTML   string `toml:"html"`
	Assets string `toml:"assets"`
}

type Config struct {
	Token       string `toml:"token"`
	Host        string `toml:"host"`
	Port        string `toml:"port"`
	OpenBrowser bool   `toml:"open_browser"`

	Log      LogConfig      `toml:"log"`
	Limits   LimitsConfig   `toml:"limits"`
	WDv3     WDv3Config     `toml:"wdv3"`
	RRJ      RRJConfig      `toml:"rrj"`
	Frontend FrontendConfig `toml:"frontend"`
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Default returns the built-in configuration, matching a local single-user
// deployment with both taggers enabled.
func Default() Config {
	return Config{
		Host: "127.0.0.1",
		Port: "8081",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Limits: LimitsConfig{
			MaxUploadMB: 32,
		},
		WDv3: WDv3Config{
			Script:         "autotaggers/wd-vit-tagger-v3/wdv3_timm.py",
			Python:         "python3",
			TimeoutSeconds: 60,
			MaxConcurrent:  2,
		},
		RRJ: RRJConfig{
			Repo:      "RedRocket/JointTaggerProject",
			ModelFile: "JTP_PILOT/JTP_PILOT-e4-vit_so400m_patch14_siglip_384.onnx",
			TagsFile:  "tagger_tags.json",
			Threshold: 0.2,
			PoolSize:  1,
		},
		Frontend: FrontendConfig{
			HTML:   "web/tagger.html",
			Assets: "web/assets",
		},
	}
}

var (
	cfg      = Default()
	loadOnce sync.Once
	loadErr  error
)

// C returns the process configuration. The config file is read once on the
// first call; later calls return the same value.
func C() Config {
	loadOnce.Do(func() {
		loadErr = load(&cfg)
	})
	return cfg
}

// LoadErr reports whether reading the config file failed. The defaults are
// still usable when it did.
func LoadErr() error {
	C()
	return loadErr
}

func load(c *Config) error {
	path := os.Getenv(EnvConfigPath)
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
