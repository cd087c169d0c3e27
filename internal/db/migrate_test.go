package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_Embedded(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Contains(t, migrations[0].SQL, "bookings_active_slot_key")
}

func TestLoadMigrations_OverlapExclusions(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 2)

	overlap := migrations[1]
	assert.Equal(t, 2, overlap.Version)
	assert.Contains(t, overlap.SQL, "btree_gist")
	assert.Contains(t, overlap.SQL, "bookings_no_overlap")
	assert.Contains(t, overlap.SQL, "availability_templates_no_overlap")
}

func TestLoadMigrations_SortsAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_late.sql":  {Data: []byte("SELECT 10")},
		"m/002_early.sql": {Data: []byte("SELECT 2")},
		"m/README.md":     {Data: []byte("docs")},
		"m/notes.sql":     {Data: []byte("SELECT 0")},
		"m/abc_x.sql":     {Data: []byte("SELECT 0")},
	}

	migrations, err := loadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 2, migrations[0].Version)
	assert.Equal(t, "010_late.sql", migrations[1].Name)
}

func TestLoadMigrations_Directory(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 3)

	directory := migrations[2]
	assert.Equal(t, 3, directory.Version)
	assert.Contains(t, directory.SQL, "therapist_specializations")
	assert.Contains(t, directory.SQL, "released_at")
}
