package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	ms, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, "0001_translation_jobs", ms[0].Version)
	require.Len(t, ms[0].Statements, 3)
	assert.Contains(t, ms[0].Statements[0], "CREATE TABLE IF NOT EXISTS translation_jobs")

	require.Len(t, ms, 3)
	assert.Equal(t, "0002_job_plan", ms[1].Version)
	assert.Contains(t, ms[1].Statements[0], "ADD COLUMN plan")
	assert.Equal(t, "0003_translation_corrections", ms[2].Version)
	require.Len(t, ms[2].Statements, 2)
}
