package archive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsablic/linestat/internal/archive"
)

func TestNewValidatesConfig(t *testing.T) {
	valid := archive.Config{Endpoint: "localhost:9000", AccessKey: "key", SecretKey: "secret", Bucket: "stats"}

	a, err := archive.New(valid)
	require.NoError(t, err)
	assert.NotNil(t, a)

	for name, mutate := range map[string]func(*archive.Config){
		"endpoint": func(c *archive.Config) { c.Endpoint = " " },
		"keys":     func(c *archive.Config) { c.SecretKey = "" },
		"bucket":   func(c *archive.Config) { c.Bucket = "" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			_, err := archive.New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "snapshots/7/2026-03-01.json", archive.Key(7, "2026-03-01"))
}
