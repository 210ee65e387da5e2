package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	assert.Equal(t, "001_medications.sql", files[0])
	assert.IsIncreasing(t, files)

	content, err := migrationsFS.ReadFile("migrations/" + files[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), "CREATE TABLE IF NOT EXISTS medications"))
}
