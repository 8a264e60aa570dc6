// Package config loads server configuration in three layers: the struct's
// current field values are the defaults, the YAML file overrides them, and
// environment variables override both ("redis.pubsub.pass" reads
// REDIS_PUBSUB_PASS).
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the file into config, which must be a pointer to a struct.
func Load(file string, config any) error {
	v := viper.New()

	// Seed viper with the struct's current values so it knows every key,
	// including ones the file leaves out. Env lookup only works for keys
	// viper has seen.
	defaults := make(map[string]any)
	if err := mapstructure.Decode(config, &defaults); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}
	if err := v.MergeConfigMap(defaults); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	v.SetConfigFile(file)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config from file %s: %v", file, err)
	}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
