package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/manifest"
)

const sdlWithGPU = `---
version: "2.0"
services:
  comfyui:
    image: ghcr.io/example/comfyui:latest
    expose:
      - port: 8188
        as: 80
        to:
          - global: true
profiles:
  compute:
    comfyui:
      resources:
        cpu:
          units: 4
        memory:
          size: 16Gi
        gpu:
          units: 1
          attributes:
            vendor:
              nvidia:
                - model: rtx4090
                - model: a100
        storage:
          size: 100Gi
  placement:
    global:
      pricing:
        comfyui:
          denom: uakt
          amount: 1000
deployment:
  comfyui:
    global:
      profile: comfyui
      count: 1
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deploy.yml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadExtractsGPUPreferences(t *testing.T) {
	m, err := manifest.Load(writeManifest(t, sdlWithGPU), nil)
	assert.NoError(t, err)
	assert.Equal(t, []string{"rtx4090", "a100"}, m.GPUPreferences())
}

func TestLoadWithoutGPU(t *testing.T) {
	m, err := manifest.Load(writeManifest(t, "services:\n  web:\n    image: nginx\n"), nil)
	assert.NoError(t, err)
	assert.Empty(t, m.GPUPreferences())
}

func TestLoadRejectsEmptyManifest(t *testing.T) {
	_, err := manifest.Load(writeManifest(t, ""), nil)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := manifest.Load(filepath.Join(t.TempDir(), "nope.yml"), nil)
	assert.Error(t, err)
}

func TestTemplatingRendersToSeparateFile(t *testing.T) {
	source := writeManifest(t, "services:\n  web:\n    image: \"{{image}}\"\n")
	m, err := manifest.Load(source, manifest.Variables{"image": "nginx:1.27"})
	assert.NoError(t, err)
	defer os.Remove(m.Path)

	assert.NotEqual(t, source, m.Path)
	rendered, err := os.ReadFile(m.Path)
	assert.NoError(t, err)
	assert.Contains(t, string(rendered), "nginx:1.27")
}

func TestNoVariablesKeepsOriginalPath(t *testing.T) {
	source := writeManifest(t, sdlWithGPU)
	m, err := manifest.Load(source, nil)
	assert.NoError(t, err)
	assert.Equal(t, source, m.Path)
}

func TestFingerprintIgnoresFormatting(t *testing.T) {
	a, err := manifest.Load(writeManifest(t, "services:\n  web:\n    image: nginx\n    expose: [80]\n"), nil)
	assert.NoError(t, err)
	b, err := manifest.Load(writeManifest(t, "services:\n    web:\n        expose:\n            - 80\n        image: nginx\n"), nil)
	assert.NoError(t, err)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintChangesWithContent(t *testing.T) {
	a, err := manifest.Load(writeManifest(t, "services:\n  web:\n    image: nginx\n"), nil)
	assert.NoError(t, err)
	b, err := manifest.Load(writeManifest(t, "services:\n  web:\n    image: caddy\n"), nil)
	assert.NoError(t, err)

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestVariablesFromSlice(t *testing.T) {
	vars := manifest.VariablesFromSlice([]string{"image=nginx", "debug"})
	assert.Equal(t, "nginx", vars["image"])
	assert.Equal(t, true, vars["debug"])
}
