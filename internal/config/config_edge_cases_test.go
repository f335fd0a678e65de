package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonMarshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// =============================================================================
// FindProjectRoot Edge Cases
// =============================================================================

func TestFindProjectRoot_NonExistentDir_ReturnsRootOrError(t *testing.T) {
	nonExistent := "/nonexistent/path/that/does/not/exist"

	root, err := FindProjectRoot(nonExistent)

	if err != nil {
		assert.Error(t, err)
	} else {
		assert.NotEmpty(t, root)
	}
}

func TestFindProjectRoot_DeepNesting_FindsGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	deepNested := filepath.Join(tmpDir, "a", "b", "c", "d", "e", "f", "g", "h")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.MkdirAll(deepNested, 0o755))

	root, err := FindProjectRoot(deepNested)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_RelativePath_ResolvesToAbsolute(t *testing.T) {
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))

	oldWd, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldWd) }()
	require.NoError(t, os.Chdir(tmpDir))

	root, err := FindProjectRoot(".")

	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(root), "Root should be absolute path")
	expectedRoot, _ := filepath.EvalSymlinks(tmpDir)
	actualRoot, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, expectedRoot, actualRoot)
}

func TestFindProjectRoot_EmptyString_UsesCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))

	oldWd, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldWd) }()
	require.NoError(t, os.Chdir(tmpDir))

	root, err := FindProjectRoot("")

	require.NoError(t, err)
	expectedRoot, _ := filepath.EvalSymlinks(tmpDir)
	actualRoot, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, expectedRoot, actualRoot)
}

// =============================================================================
// Config Merge Edge Cases
// =============================================================================

func TestLoad_MergeSkipDirectories_AppendsToDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
indexing:
  skip_directories:
    - ".custom_ignore"
embedding:
  provider: local
`
	err := os.WriteFile(filepath.Join(tmpDir, ".fskb.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Contains(t, cfg.Indexing.SkipDirectories, "node_modules", "default skip dir should be preserved")
	assert.Contains(t, cfg.Indexing.SkipDirectories, ".custom_ignore", "custom skip dir should be added")
}

func TestLoad_ZeroValuesNotMerged(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
search:
  top_k: 0
chunking:
  chunk_size: 0
embedding:
  provider: local
`
	err := os.WriteFile(filepath.Join(tmpDir, ".fskb.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Search.TopK, "zero should not override default top_k")
	assert.Equal(t, 3000, cfg.Chunking.ChunkSize, "zero should not override default chunk_size")
}

func TestLoad_NegativeValues_Validated(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
resource:
  max_memory_mb: -10
`
	err := os.WriteFile(filepath.Join(tmpDir, ".fskb.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	require.Nil(t, cfg)
}

func TestLoad_TopKOutOfRange_Validated(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := "search:\n  top_k: 500\n"
	err := os.WriteFile(filepath.Join(tmpDir, ".fskb.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	require.Nil(t, cfg)
	assert.Contains(t, err.Error(), "search.top_k")
}

func TestValidate_MaxMemoryBelowFloor_Rejected(t *testing.T) {
	cfg := NewConfig()
	cfg.Resource.MaxMemoryMB = 128

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_memory_mb")
}

func TestValidate_DebounceOutOfRange_Rejected(t *testing.T) {
	cfg := NewConfig()
	cfg.Resource.DebounceDelayMs = 10

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "debounce_delay_ms")
}

// =============================================================================
// Config File Permission Edge Cases
// =============================================================================

func TestLoad_UnreadableConfigFile_ReturnsError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("Test requires non-root user")
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".fskb.yaml")
	err := os.WriteFile(configPath, []byte("embedding:\n  provider: local\n"), 0o000)
	require.NoError(t, err)
	defer func() { _ = os.Chmod(configPath, 0o644) }()

	cfg, err := Load(tmpDir)

	require.Error(t, err, "Load should fail for unreadable config file")
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "read", "Error should mention read failure")
}

// =============================================================================
// Config JSON Marshaling Edge Cases
// =============================================================================

func TestConfig_JSON_RoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Chunking.ChunkSize = 2000
	cfg.Chunking.ChunkOverlap = 400
	cfg.Search.TopK = 50
	cfg.Embedding.Provider = "local"

	data, err := jsonMarshal(cfg)
	require.NoError(t, err)

	var parsed Config
	err = jsonUnmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, 2000, parsed.Chunking.ChunkSize)
	assert.Equal(t, 400, parsed.Chunking.ChunkOverlap)
	assert.Equal(t, 50, parsed.Search.TopK)
	assert.Equal(t, "local", parsed.Embedding.Provider)
}

func TestConfig_UnmarshalJSON_InvalidJSON_ReturnsError(t *testing.T) {
	invalidJSON := []byte("{invalid json")

	var cfg Config
	err := jsonUnmarshal(invalidJSON, &cfg)

	require.Error(t, err, "Unmarshal should fail for invalid JSON")
}
