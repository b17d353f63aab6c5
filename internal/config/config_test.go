package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/truenorth/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Prefix string
	}

	Leaderboard struct {
		Timezone string
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	}
}

func defaults() testConfig {
	var c testConfig
	c.HTTP.Port = 8080
	c.Redis.Prefix = "tn"
	c.Leaderboard.Timezone = "UTC"
	c.Leaderboard.CacheTTL = 30 * time.Second
	return c
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
http:
  port: 9000
redis:
  addrs: ["localhost:6379"]
leaderboard:
  cache_ttl: 5s
`), 0o600))

	c := defaults()
	require.NoError(t, config.Load(p, &c))

	assert.Equal(t, int32(9000), c.HTTP.Port)
	assert.Equal(t, []string{"localhost:6379"}, c.Redis.Addrs)
	assert.Equal(t, "tn", c.Redis.Prefix, "default should survive")
	assert.Equal(t, "UTC", c.Leaderboard.Timezone)
	assert.Equal(t, 5*time.Second, c.Leaderboard.CacheTTL)
}

func TestLoad_EnvOverridesNestedKeys(t *testing.T) {
	t.Setenv("HTTP_PORT", "7000")
	t.Setenv("LEADERBOARD_TIMEZONE", "America/Toronto")
	t.Setenv("LEADERBOARD_CACHE_TTL", "1m")

	c := defaults()
	require.NoError(t, config.Load("", &c))

	assert.Equal(t, int32(7000), c.HTTP.Port)
	assert.Equal(t, "America/Toronto", c.Leaderboard.Timezone)
	assert.Equal(t, time.Minute, c.Leaderboard.CacheTTL)
}

func TestLoad_MissingFile(t *testing.T) {
	c := defaults()
	err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), &c)
	assert.Error(t, err)
}
