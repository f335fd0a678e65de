package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, "static-768", cfg.Embedding.Model)
	assert.Equal(t, 8, cfg.Embedding.BatchSize)

	assert.Equal(t, 3000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 500, cfg.Chunking.ChunkOverlap)
	assert.NotEmpty(t, cfg.Chunking.Separators)

	assert.Equal(t, 80.0, cfg.Resource.MaxCPUPercent)
	assert.Equal(t, 1024.0, cfg.Resource.MaxMemoryMB)
	assert.Equal(t, 300, cfg.Resource.IdleTimeoutSeconds)
	assert.Equal(t, 200, cfg.Resource.DebounceDelayMs)

	assert.Equal(t, 10, cfg.Indexing.MaxFileSizeMB)
	assert.True(t, cfg.Indexing.RespectGitignore)
	assert.True(t, cfg.Indexing.UseFskbignore)
	assert.Contains(t, cfg.Indexing.SkipDirectories, "node_modules")

	assert.Equal(t, 10, cfg.Search.TopK)
	assert.Equal(t, float32(0), cfg.Search.MinSimilarity)
	assert.Equal(t, 3, cfg.Search.ContextLinesBefore)
	assert.Equal(t, 3, cfg.Search.ContextLinesAfter)

	assert.Empty(t, cfg.Roots)
}

func TestNewConfig_PassesValidation(t *testing.T) {
	cfg := NewConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 3000, cfg.Chunking.ChunkSize)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
chunking:
  chunk_size: 2000
  chunk_overlap: 300
search:
  top_k: 25
`
	err := os.WriteFile(filepath.Join(tmpDir, ".fskb.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 300, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 25, cfg.Search.TopK)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
embedding:
  provider: local
`
	err := os.WriteFile(filepath.Join(tmpDir, ".fskb.yml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Embedding.Provider)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	tmpDir := t.TempDir()
	yamlContent := "embedding:\n  model: yaml-model\n"
	ymlContent := "embedding:\n  model: yml-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".fskb.yaml"), []byte(yamlContent), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".fskb.yml"), []byte(ymlContent), 0o644))

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "yaml-model", cfg.Embedding.Model)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := "chunking:\n  chunk_size: [invalid yaml syntax\n"
	err := os.WriteFile(filepath.Join(tmpDir, ".fskb.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoad_InvalidProvider_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	content := "embedding:\n  provider: carrier-pigeon\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".fskb.yaml"), []byte(content), 0o644))

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "embedding.provider")
}

func TestLoad_OverlapMustBeLessThanChunkSize(t *testing.T) {
	tmpDir := t.TempDir()
	content := "chunking:\n  chunk_size: 500\n  chunk_overlap: 500\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".fskb.yaml"), []byte(content), 0o644))

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestFindProjectRoot_GitDirectory_ReturnsGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_ConfigFile_ReturnsConfigLocation(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))
	err := os.WriteFile(filepath.Join(tmpDir, ".fskb.yaml"), []byte("search:\n  top_k: 10\n"), 0o644)
	require.NoError(t, err)

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_NoMarkers_ReturnsCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()

	root, err := FindProjectRoot(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestLoad_EnvVarOverridesProvider(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := "embedding:\n  provider: openai\n"
	err := os.WriteFile(filepath.Join(tmpDir, ".fskb.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("FSKB_EMBEDDING_PROVIDER", "local")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Embedding.Provider)
}

func TestLoad_EnvVarOverridesModel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("FSKB_EMBEDDING_MODEL", "custom-model")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "custom-model", cfg.Embedding.Model)
}

func TestLoad_EnvVarOverridesTopK(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := "search:\n  top_k: 15\n"
	err := os.WriteFile(filepath.Join(tmpDir, ".fskb.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("FSKB_SEARCH_TOP_K", "40")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Search.TopK)
}

func TestLoad_EnvVarEmptyString_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("FSKB_EMBEDDING_MODEL", "")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "static-768", cfg.Embedding.Model)
}

func TestGetUserConfigPath_DefaultsToXDGLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	path := GetUserConfigPath()

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expected := filepath.Join(home, ".config", "fskb", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	customConfig := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", customConfig)

	path := GetUserConfigPath()

	expected := filepath.Join(customConfig, "fskb", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigDir_ReturnsParentOfConfigPath(t *testing.T) {
	dir := GetUserConfigDir()
	path := GetUserConfigPath()

	assert.Equal(t, filepath.Dir(path), dir)
}

func TestUserConfigExists_ReturnsFalseWhenMissing(t *testing.T) {
	emptyDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", emptyDir)

	assert.False(t, UserConfigExists())
}

func TestUserConfigExists_ReturnsTrueWhenPresent(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	fskbDir := filepath.Join(configDir, "fskb")
	require.NoError(t, os.MkdirAll(fskbDir, 0o755))
	configPath := filepath.Join(fskbDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("embedding:\n  provider: local\n"), 0o644))

	assert.True(t, UserConfigExists())
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	fskbDir := filepath.Join(configDir, "fskb")
	require.NoError(t, os.MkdirAll(fskbDir, 0o755))
	userConfig := "search:\n  top_k: 30\n"
	require.NoError(t, os.WriteFile(filepath.Join(fskbDir, "config.yaml"), []byte(userConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Search.TopK)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	fskbDir := filepath.Join(configDir, "fskb")
	require.NoError(t, os.MkdirAll(fskbDir, 0o755))
	userConfig := "embedding:\n  provider: openai\n  model: user-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(fskbDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := "embedding:\n  model: project-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".fskb.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "project-model", cfg.Embedding.Model)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
}

func TestLoad_EnvVarOverridesUserAndProjectConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("FSKB_EMBEDDING_MODEL", "env-model")

	fskbDir := filepath.Join(configDir, "fskb")
	require.NoError(t, os.MkdirAll(fskbDir, 0o755))
	userConfig := "embedding:\n  model: user-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(fskbDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := "embedding:\n  model: project-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".fskb.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.Embedding.Model)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	fskbDir := filepath.Join(configDir, "fskb")
	require.NoError(t, os.MkdirAll(fskbDir, 0o755))
	invalidConfig := "embedding:\n  model: [invalid yaml\n"
	require.NoError(t, os.WriteFile(filepath.Join(fskbDir, "config.yaml"), []byte(invalidConfig), 0o644))

	cfg, err := Load(projectDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "user config")
}
