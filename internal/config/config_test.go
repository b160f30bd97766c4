package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Wizard.AutoSaveInterval)
	assert.Equal(t, 2*time.Hour, cfg.Wizard.StateTTL)
	assert.Equal(t, 10, cfg.Wizard.MaxDrafts)
	assert.NotEmpty(t, cfg.Directory.Users)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("actor:\n  id: pm-1\n  role: PM\nwizard:\n  max_drafts: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, "pm-1", cfg.Actor.ID)
	assert.Equal(t, 3, cfg.Wizard.MaxDrafts)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.API.BaseURL)
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]string{
		"unknown backend":  "storage:\n  backend: etcd\n",
		"redis needs url":  "storage:\n  backend: redis\n",
		"bad base url":     "api:\n  base_url: not a url\n",
		"unknown role":     "actor:\n  role: wizard\n",
		"relative base":    "server:\n  base_path: api\n",
		"too many drafts":  "wizard:\n  max_drafts: 1000\n",
		"bad user role":    "directory:\n  users:\n    - {id: x, name: X, role: pilot}\n",
		"duplicate vendor": "directory:\n  vendors:\n    - {id: a, name: A}\n    - {id: a, name: B}\n",
		"invalid yaml":     "api: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.ErrorContains(t, err, "pfmt config init")

	require.NoError(t, os.WriteFile(Path(dir), []byte(GenerateDefault()), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/api", cfg.Server.BasePath)

	out, err := cfg.Marshal()
	require.NoError(t, err)
	again, err := FromYAML(out)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}
