package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "neo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeManifest(t, `
cluster_name: prod
master_nodes: ["10.0.0.1:7777"]
uuid: "1"
listen: "0.0.0.0:7777"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.ClusterName)
	assert.Equal(t, uint32(12), cfg.Partitions)
	assert.Equal(t, uint32(2), cfg.Replicas)
	assert.Equal(t, "tcp", cfg.Connector)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeManifest(t, `
cluster_name: prod
master_nodes: ["10.0.0.1:7777", "10.0.0.2:7777"]
partitions: 64
replicas: 3
compress: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(64), cfg.Partitions)
	assert.Equal(t, uint32(3), cfg.Replicas)
	assert.True(t, cfg.Compress)
}

func TestValidateRejectsMissingClusterName(t *testing.T) {
	cfg := Default()
	cfg.MasterNodes = []string{"x"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNoMasterNodes(t *testing.T) {
	cfg := Default()
	cfg.ClusterName = "prod"
	assert.Error(t, cfg.Validate())
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
