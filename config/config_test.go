package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
httpPort: 9000
inferenceBackend: onnxruntime
model:
  path: weights/custom.onnx
  names: [cat, dog]
ui:
  inferenceSize: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, 50051, cfg.RPCPort)
	assert.Equal(t, BackendOnnxRuntime, cfg.InferenceBackend)
	assert.Equal(t, "weights/custom.onnx", cfg.Model.Path)
	assert.Equal(t, []string{"cat", "dog"}, cfg.Model.Names)
	assert.Equal(t, 640, cfg.Model.InputSize)
	assert.True(t, cfg.UI.InferenceSize)
	assert.Equal(t, "test_images", cfg.Bank.Dir)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Model, cfg.Model)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("httpPort: [nope"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"YOLOBENCH_HTTP_PORT":         "8080",
		"YOLOBENCH_BANK_DIR":          "/data/bank",
		"YOLOBENCH_UI_INFERENCE_SIZE": "true",
		"YOLOBENCH_RPC_PORT":          "not-a-number",
	}
	cfg := Default()
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "/data/bank", cfg.Bank.Dir)
	assert.True(t, cfg.UI.InferenceSize)
	assert.Equal(t, 50051, cfg.RPCPort)
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		warnings, err := Default().Validate()
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})

	t.Run("soft values reset", func(t *testing.T) {
		cfg := Default()
		cfg.Model.InputSize = 100
		cfg.UI.DefaultConfidence = 0.95
		cfg.InferenceBackend = " OpenCV "
		cfg.WorkersNum = 0
		warnings, err := cfg.Validate()
		require.NoError(t, err)
		assert.Len(t, warnings, 3)
		assert.Equal(t, 1, cfg.WorkersNum)
		assert.Equal(t, 640, cfg.Model.InputSize)
		assert.Equal(t, float32(0.25), cfg.UI.DefaultConfidence)
		assert.Equal(t, BackendOpenCV, cfg.InferenceBackend)
	})

	t.Run("hard errors", func(t *testing.T) {
		cfg := Default()
		cfg.InferenceBackend = "ncnn"
		_, err := cfg.Validate()
		assert.Error(t, err)

		cfg = Default()
		cfg.Model.Path = ""
		_, err = cfg.Validate()
		assert.Error(t, err)

		cfg = Default()
		cfg.Registry.Enabled = true
		_, err = cfg.Validate()
		assert.Error(t, err)
	})
}
