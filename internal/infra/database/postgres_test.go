package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arklim/authcore/internal/infra/config"
)

func TestPoolConfigEscapesCredentials(t *testing.T) {
	cfg := config.PostgresSettings{
		Host:     "db.internal",
		Port:     5433,
		User:     "auth@core",
		Password: "p@ss:w/rd?#",
		Database: "directory",
		SSLMode:  "disable",
	}

	poolConfig, err := PoolConfig(cfg)
	require.NoError(t, err)

	conn := poolConfig.ConnConfig
	assert.Equal(t, "db.internal", conn.Host)
	assert.Equal(t, uint16(5433), conn.Port)
	assert.Equal(t, "auth@core", conn.User)
	assert.Equal(t, "p@ss:w/rd?#", conn.Password)
	assert.Equal(t, "directory", conn.Database)
	assert.Nil(t, conn.TLSConfig)
	assert.Equal(t, "authcore,public", conn.RuntimeParams["search_path"])
}

func TestPoolConfigAppliesLimits(t *testing.T) {
	poolConfig, err := PoolConfig(config.PostgresSettings{
		Host:            "localhost",
		Port:            5432,
		User:            "authcore",
		Database:        "authcore",
		SSLMode:         "disable",
		MaxConns:        12,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
	})
	require.NoError(t, err)

	assert.Equal(t, int32(12), poolConfig.MaxConns)
	assert.Equal(t, int32(2), poolConfig.MinConns)
	assert.Equal(t, time.Hour, poolConfig.MaxConnLifetime)
}
