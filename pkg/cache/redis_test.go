package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mili-llama-api/pkg/config"
)

func TestKeyNamespacesAndLowercases(t *testing.T) {
	assert.Equal(t, "milillama:school:domain:north.edu", Key("school", "domain", " North.EDU "))
	assert.Equal(t, "milillama:session", Key("session", ""))
}

func TestNewRedisDisabledReturnsNil(t *testing.T) {
	client, err := NewRedis(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, client)
}
