package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env           string        `yaml:"env" env-default:"local"`
	RefreshPepper string        `yaml:"refresh_pepper" env:"REFRESH_PEPPER"`
	HTTP          HTTPConfig    `yaml:"http"`
	Storage       StorageConfig `yaml:"storage"`
	JWT           JWTConfig     `yaml:"jwt"`
	Passkey       PasskeyConfig `yaml:"passkey"`
	Reset         ResetConfig   `yaml:"reset"`
}

type HTTPConfig struct {
	Address string        `yaml:"address" env-default:":8080"`
	Timeout time.Duration `yaml:"timeout" env-default:"10s"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend" env-default:"sqlite"`
	SQLitePath    string `yaml:"sqlite_path"`
	MongoURI      string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase string `yaml:"mongo_database" env-default:"authd"`
}

type JWTConfig struct {
	Secret          string        `yaml:"secret" env:"JWT_SECRET" env-required:"true"`
	Issuer          string        `yaml:"issuer" env-default:"authd"`
	Audience        string        `yaml:"audience" env-default:"authd-clients"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env-default:"30m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env-default:"720h"`
}

type PasskeyConfig struct {
	RPID          string        `yaml:"rp_id" env-default:"localhost"`
	RPDisplayName string        `yaml:"rp_display_name" env-default:"authd"`
	Origins       []string      `yaml:"origins"`
	ChallengeTTL  time.Duration `yaml:"challenge_ttl" env-default:"5m"`
}

type ResetConfig struct {
	CodeTTL time.Duration `yaml:"code_ttl" env-default:"10m"`
}

func LoadConfig(path string) *Config {
	var cfg Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file not found: " + path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}
