package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ddi-catalog/internal/config"
)

func TestInitStore_SQLite(t *testing.T) {
	tmpDir := t.TempDir()
	dsn := filepath.Join(tmpDir, "test.db")

	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: dsn,
		},
	}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	// When DatabaseURL is empty, initStore should default to "ddi.db".
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite"},
	}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck

	// Verify the default file was created.
	_, statErr := os.Stat(filepath.Join(tmpDir, defaultSQLitePath))
	assert.NoError(t, statErr)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "mysql"},
	}

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestOpenStore_Migrates(t *testing.T) {
	cfg = &config.Config{
		Store:  config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "ddi.db")},
		Import: config.ImportConfig{BatchSize: 50},
	}

	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	c, err := st.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, c.Surveys)
}

func TestOpenStore_InvalidConfig(t *testing.T) {
	cfg = &config.Config{
		Store:  config.StoreConfig{Driver: "postgres"},
		Import: config.ImportConfig{BatchSize: 50},
	}

	_, err := openStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
}

func TestInitSearch(t *testing.T) {
	cfg = &config.Config{}
	sync, err := initSearch(nil)
	require.NoError(t, err)
	assert.Nil(t, sync, "no addresses means no index")

	cfg = &config.Config{Search: config.SearchConfig{
		Addresses: []string{"http://localhost:9200"},
		Index:     "test_index",
	}}
	sync, err = initSearch(nil)
	require.NoError(t, err)
	require.NotNil(t, sync)
	assert.Equal(t, "test_index", sync.Index())
}
