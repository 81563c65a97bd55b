package database

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_initial_schema.sql"))
	assert.Equal(t, 12, migrationVersion("012_leaderboard_index.sql"))
	assert.Equal(t, 0, migrationVersion("abc_notes.sql"))
	assert.Equal(t, 0, migrationVersion("x.sql"))
}

func TestNewRedisClients(t *testing.T) {
	mr := miniredis.RunT(t)

	clients, err := NewRedisClients("redis://" + mr.Addr())
	require.NoError(t, err)
	defer clients.Close()

	assert.NotSame(t, clients.Store, clients.PubSub)
}

func TestNewRedisClients_BadURL(t *testing.T) {
	_, err := NewRedisClients("not a url")
	assert.Error(t, err)
}
