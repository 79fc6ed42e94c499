// Package config loads and validates speechgw's application configuration,
// reading an env file if present and otherwise falling back to
// environment variables.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// PostgresConfig holds connection parameters for the ledger's store.
type PostgresConfig struct {
	Host               string `mapstructure:"host" validate:"required"`
	Port               int    `mapstructure:"port" validate:"required"`
	DBName             string `mapstructure:"db_name" validate:"required"`
	User               string `mapstructure:"user" validate:"required"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxOpenConnections int    `mapstructure:"max_open_connection"`
	MaxIdleConnections int    `mapstructure:"max_ideal_connection"`
}

// DSN renders the postgres connection string gorm.io/driver/postgres
// expects.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.DBName, p.User, p.Password, p.SSLMode)
}

// RedisConfig holds connection parameters for the capability cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AppConfig is the root configuration structure for the gateway process.
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`

	AuthSecret string `mapstructure:"auth_secret" validate:"required"`

	Postgres PostgresConfig `mapstructure:"postgres" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`

	SegmenterBaseURL   string `mapstructure:"segmenter_base_url" validate:"required"`
	TranscriberBaseURL string `mapstructure:"transcriber_base_url" validate:"required"`
}

// PortString renders Port for use in a "host:port" listen address.
func (c AppConfig) PortString() string {
	return strconv.Itoa(c.Port)
}

// InitViper reads `.env`-style configuration, honoring ENV_PATH to point at
// an alternate file, falling back to environment variables for anything
// left unset.
func InitViper() (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))

	v.AddConfigPath(".")
	v.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		log.Printf("config: reading env file %s", path)
		v.SetConfigFile(path)
	}
	v.SetConfigType("env")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: no env file found, relying on environment variables")
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "speechgw")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9322)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "speechgw")
	v.SetDefault("POSTGRES__USER", "speechgw")
	v.SetDefault("POSTGRES__SSL_MODE", "disable")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDEAL_CONNECTION", 10)

	v.SetDefault("REDIS__ADDR", "localhost:6379")
	v.SetDefault("REDIS__DB", 0)

	v.SetDefault("SEGMENTER_BASE_URL", "ws://127.0.0.1:9323")
	v.SetDefault("TRANSCRIBER_BASE_URL", "http://127.0.0.1:9324")
}

// Load unmarshals and validates the AppConfig from the given viper instance.
func Load(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
