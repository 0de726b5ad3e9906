package file

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ConfigStore {
	t.Helper()
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestNewConfigStore_Success(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewConfigStore(tmpDir)

	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, filepath.Join(tmpDir, "config.toml"), store.Path())
}

func TestNewConfigStore_DefaultDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	store, err := NewConfigStore("")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".detectsearch", "config.toml"), store.Path())
}

func TestNewConfigStore_WithNestedDirectory(t *testing.T) {
	nestedPath := filepath.Join(t.TempDir(), "nested", "deep", "path")

	store, err := NewConfigStore(nestedPath)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(nestedPath, "config.toml"), store.Path())

	info, err := os.Stat(nestedPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestNewConfigStore_MkdirAllError(t *testing.T) {
	store, err := NewConfigStore("/dev/null/cannot/create/dirs")

	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestNewConfigStore_LoadCorruptedFile(t *testing.T) {
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("this is not valid TOML {{{[["), 0600)
	require.NoError(t, err)

	store, err := NewConfigStore(tmpDir)

	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestConfigStore_TypedGetters(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("vision.api_key", "secret"))
	require.NoError(t, store.Set("index.max_attempts", 5))
	require.NoError(t, store.Set("search.strict", true))
	require.NoError(t, store.Set("repair.rate_per_second", 2.5))

	assert.Equal(t, "secret", store.GetString("vision.api_key"))
	assert.Equal(t, 5, store.GetInt("index.max_attempts"))
	assert.True(t, store.GetBool("search.strict"))
	assert.InDelta(t, 2.5, store.GetFloat("repair.rate_per_second"), 1e-9)
	assert.InDelta(t, 5.0, store.GetFloat("index.max_attempts"), 1e-9, "integers widen")

	// Mismatched types read as zero values.
	assert.Empty(t, store.GetString("index.max_attempts"))
	assert.Zero(t, store.GetInt("vision.api_key"))
	assert.False(t, store.GetBool("vision.api_key"))
	assert.Zero(t, store.GetFloat("search.strict"))

	val, ok := store.Get("missing.key")
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestConfigStore_WritesNestedTables(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("index.mode", "async"))
	require.NoError(t, store.Set("index.max_attempts", 3))
	require.NoError(t, store.Set("storage.op_timeout", "2s"))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "[index]")
	assert.Contains(t, content, "[storage]")
	assert.NotContains(t, content, "index.mode")
}

func TestConfigStore_Persistence(t *testing.T) {
	tmpDir := t.TempDir()
	store1, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	require.NoError(t, store1.Set("index.mode", "async"))
	require.NoError(t, store1.Set("index.drain_batch", 42))
	require.NoError(t, store1.Set("search.strict", true))
	require.NoError(t, store1.Set("repair.rate_per_second", 3.14159))

	store2, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "async", store2.GetString("index.mode"))
	assert.Equal(t, 42, store2.GetInt("index.drain_batch"))
	assert.True(t, store2.GetBool("search.strict"))
	assert.InDelta(t, 3.14159, store2.GetFloat("repair.rate_per_second"), 1e-5)
}

func TestConfigStore_LoadsHandWrittenFile(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
[index]
mode = "async"
max_attempts = 4

[scheduler]
repair_interval = "30m"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(content), 0600))

	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "async", store.GetString("index.mode"))
	assert.Equal(t, 4, store.GetInt("index.max_attempts"))
	assert.Equal(t, "30m", store.GetString("scheduler.repair_interval"))
}

func TestConfigStore_EmptyFiles(t *testing.T) {
	for name, content := range map[string]string{
		"empty":        "",
		"comment only": "# Just a comment\n\n",
	} {
		t.Run(name, func(t *testing.T) {
			tmpDir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(content), 0600))

			store, err := NewConfigStore(tmpDir)
			require.NoError(t, err)

			_, ok := store.Get("any.key")
			assert.False(t, ok)
		})
	}
}

func TestConfigStore_FilePermissions(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("vision.api_key", "secret"))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConfigStore_Set_LeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("index.mode", "async"))
	require.NoError(t, store.Set("index.mode", "sync"))

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, configFile, entries[0].Name())
}

func TestConfigStore_Set_RejectsConflictingKeys(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("index.mode", "sync"))

	err := store.Set("index", "flat")
	assert.Error(t, err)

	_, ok := store.Get("index")
	assert.False(t, ok, "failed set is rolled back")
	assert.Equal(t, "sync", store.GetString("index.mode"))
}

func TestConfigStore_Set_RejectsEmptyKey(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.Set(" ", "value"))
}

func TestConfigStore_Set_UnmarshallableValue(t *testing.T) {
	store := newTestStore(t)

	err := store.Set("channel", make(chan int))
	assert.Error(t, err)

	_, ok := store.Get("channel")
	assert.False(t, ok)
}

func TestConfigStore_Set_WriteFileError(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("index.mode", "sync"))

	// Replace the file with a directory so the write fails.
	require.NoError(t, os.Remove(store.Path()))
	require.NoError(t, os.Mkdir(store.Path(), 0700))

	err := store.Set("index.mode", "async")
	assert.Error(t, err)
	assert.Equal(t, "sync", store.GetString("index.mode"), "previous value restored")
}

func TestConfigStore_Save_Explicit(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	store.mu.Lock()
	store.data["inbox.dir"] = "/srv/inbox"
	store.mu.Unlock()
	require.NoError(t, store.Save())

	store2, err := NewConfigStore(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "/srv/inbox", store2.GetString("inbox.dir"))
}

func TestConfigStore_Load_InvalidTOML(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("index.mode", "sync"))

	require.NoError(t, os.WriteFile(store.Path(), []byte("invalid toml syntax ][}{"), 0600))

	assert.Error(t, store.Load())
}

func TestConfigStore_Concurrency(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "workers.w" + string(rune('0'+i))
			_ = store.Set(key, i)
			_ = store.GetInt(key)
			_ = store.GetFloat(key)
			_, _ = store.Get(key)
		}()
	}
	wg.Wait()

	for i := range 10 {
		assert.Equal(t, i, store.GetInt("workers.w"+string(rune('0'+i))))
	}
}

func TestFlattenAndNestRoundTrip(t *testing.T) {
	flat := map[string]any{
		"index.mode":         "async",
		"index.max_attempts": int64(3),
		"metrics.addr":       ":9090",
		"top":                true,
	}

	nested, err := nestKeys(flat)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"mode": "async", "max_attempts": int64(3)}, nested["index"])
	assert.Equal(t, flat, flattenMap(nested, ""))
}
