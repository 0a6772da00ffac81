package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents an alias to viper config
type Config = viper.Viper

// New returns a new pointer to the config
func New() *Config {
	v := viper.New()
	v.SetEnvPrefix("ICF")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 3000)
	v.SetDefault("build_date", "null")
	v.SetDefault("deployed_at", time.Now().UTC().Format(time.RFC3339))
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "json")
	v.SetDefault("git-timeout", 5*time.Minute)
	v.SetDefault("webhook-timeout", 10*time.Minute)
	v.SetDefault("sync-lock", true)
	return v
}
