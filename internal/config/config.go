package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load config from file into the config struct, config must be a pointer to the config struct.
// Values already set in config are the defaults. Environment variables override both, with
// "." replaced by "_" (http.port is read from HTTP_PORT). An empty file loads defaults and
// environment only.
func Load(file string, config any) error {
	v := viper.New()

	if err := setDefaults(v, config); err != nil {
		return err
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}

// setDefaults registers every leaf of config as a key, so env overrides reach nested fields.
func setDefaults(v *viper.Viper, config any) error {
	m := make(map[string]any)
	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	setLeaves(v, "", m)
	return nil
}

func setLeaves(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}

		if sub, ok := val.(map[string]any); ok {
			setLeaves(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}
