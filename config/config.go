package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Address  string `mapstructure:"address"`
		HTTPPort string `mapstructure:"http_port"`
	} `mapstructure:"server"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   string `mapstructure:"file"`
	} `mapstructure:"logging"`

	Database struct {
		Driver string `mapstructure:"driver"` // mysql|postgres|"" (in-memory)
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Storage struct {
		Kind     string `mapstructure:"kind"` // local|s3
		Dir      string `mapstructure:"dir"`
		BaseURL  string `mapstructure:"base_url"`
		S3Bucket string `mapstructure:"s3_bucket"`
		S3Region string `mapstructure:"s3_region"`
	} `mapstructure:"storage"`

	Cache struct {
		RedisAddr  string `mapstructure:"redis_addr"` // пусто = кеш выключен
		RedisDB    int    `mapstructure:"redis_db"`
		TTLSeconds int    `mapstructure:"ttl_seconds"`
	} `mapstructure:"cache"`
}

// Load читает config.yaml (или path) + переменные окружения WISPGEO_*.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.http_port", "8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("database.driver", "")
	v.SetDefault("storage.kind", "local")
	v.SetDefault("storage.dir", "media/floorplans")
	v.SetDefault("storage.base_url", "/media/floorplans")
	v.SetDefault("cache.ttl_seconds", 60)

	v.SetEnvPrefix("WISPGEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/wispgeo")
	}
	if err := v.ReadInConfig(); err != nil {
		// конфиг-файл опционален: дефолты + env достаточно
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
