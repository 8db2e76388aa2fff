package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendOpenCV      = "opencv"
	BackendOnnxRuntime = "onnxruntime"

	EnvPrefix = "YOLOBENCH_"
)

type ModelConfig struct {
	Path      string   `yaml:"path"`
	Names     []string `yaml:"names"`
	NamesFile string   `yaml:"namesFile"`
	InputSize int      `yaml:"inputSize"`
	Iou       float32  `yaml:"iou"`
	UseGPU    bool     `yaml:"useGPU"`
}

type BankConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// UIConfig selects between the two app variants: confidence-only
// (InferenceSize false) and confidence plus inference-size selector.
type UIConfig struct {
	InferenceSize     bool    `yaml:"inferenceSize"`
	DefaultConfidence float32 `yaml:"defaultConfidence"`
}

type RegistryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	IntervalSeconds int    `yaml:"intervalSeconds"`
}

type Config struct {
	HTTPPort         int            `yaml:"httpPort"`
	RPCPort          int            `yaml:"rpcPort"`
	MonitorPort      int            `yaml:"monitorPort"`
	WorkersNum       int            `yaml:"workersNum"`
	LogMode          string         `yaml:"logMode"`
	InferenceBackend string         `yaml:"inferenceBackend"`
	OnnxRuntimeLib   string         `yaml:"onnxRuntimeLib"`
	Model            ModelConfig    `yaml:"model"`
	Bank             BankConfig     `yaml:"bank"`
	UI               UIConfig       `yaml:"ui"`
	Registry         RegistryConfig `yaml:"registry"`
}

func Default() *Config {
	return &Config{
		HTTPPort:         8501,
		RPCPort:          50051,
		MonitorPort:      9100,
		WorkersNum:       1,
		LogMode:          "production",
		InferenceBackend: BackendOpenCV,
		Model: ModelConfig{
			Path:      "weights/best.onnx",
			InputSize: 640,
			Iou:       0.7,
		},
		Bank: BankConfig{Dir: "test_images"},
		UI:   UIConfig{DefaultConfidence: 0.25},
		Registry: RegistryConfig{
			IntervalSeconds: 5,
		},
	}
}

// Load reads the yaml file at path over the defaults, then applies a .env file
// (if present) and YOLOBENCH_* environment overrides. A missing config file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	num("HTTP_PORT", &c.HTTPPort)
	num("RPC_PORT", &c.RPCPort)
	num("MONITOR_PORT", &c.MonitorPort)
	num("WORKERS_NUM", &c.WorkersNum)
	str("LOG_MODE", &c.LogMode)
	str("INFERENCE_BACKEND", &c.InferenceBackend)
	str("ONNXRUNTIME_LIB", &c.OnnxRuntimeLib)
	str("MODEL_PATH", &c.Model.Path)
	str("NAMES_FILE", &c.Model.NamesFile)
	num("INPUT_SIZE", &c.Model.InputSize)
	flag("USE_GPU", &c.Model.UseGPU)
	str("BANK_DIR", &c.Bank.Dir)
	flag("BANK_WATCH", &c.Bank.Watch)
	flag("UI_INFERENCE_SIZE", &c.UI.InferenceSize)
	flag("REGISTRY_ENABLED", &c.Registry.Enabled)
	str("REGISTRY_HOST", &c.Registry.Host)
	num("REGISTRY_PORT", &c.Registry.Port)
}

// Validate rejects configurations the service cannot start with and resets
// soft settings to their defaults. The returned warnings describe each reset.
func (c *Config) Validate() ([]string, error) {
	var warnings []string
	def := Default()

	c.InferenceBackend = strings.ToLower(strings.TrimSpace(c.InferenceBackend))
	switch c.InferenceBackend {
	case BackendOpenCV, BackendOnnxRuntime:
	default:
		return nil, fmt.Errorf("unsupported inferenceBackend %q", c.InferenceBackend)
	}
	if c.Model.Path == "" {
		return nil, errors.New("model.path cannot be empty")
	}
	if c.Bank.Dir == "" {
		return nil, errors.New("bank.dir cannot be empty")
	}
	if c.WorkersNum <= 0 {
		warnings = append(warnings, fmt.Sprintf("invalid workersNum %d, defaulting to %d", c.WorkersNum, def.WorkersNum))
		c.WorkersNum = def.WorkersNum
	}
	if c.Model.InputSize <= 0 || c.Model.InputSize%32 != 0 {
		warnings = append(warnings, fmt.Sprintf("invalid model.inputSize %d, defaulting to %d", c.Model.InputSize, def.Model.InputSize))
		c.Model.InputSize = def.Model.InputSize
	}
	if c.Model.Iou <= 0 || c.Model.Iou > 1 {
		warnings = append(warnings, fmt.Sprintf("invalid model.iou %.2f, defaulting to %.2f", c.Model.Iou, def.Model.Iou))
		c.Model.Iou = def.Model.Iou
	}
	if c.UI.DefaultConfidence < 0.1 || c.UI.DefaultConfidence > 0.9 {
		warnings = append(warnings, fmt.Sprintf("invalid ui.defaultConfidence %.2f, defaulting to %.2f", c.UI.DefaultConfidence, def.UI.DefaultConfidence))
		c.UI.DefaultConfidence = def.UI.DefaultConfidence
	}
	if c.Registry.Enabled {
		if c.Registry.Host == "" || c.Registry.Port <= 0 {
			return nil, errors.New("registry enabled without host/port")
		}
		if c.Registry.IntervalSeconds <= 0 {
			warnings = append(warnings, "invalid registry.intervalSeconds, defaulting to 5")
			c.Registry.IntervalSeconds = def.Registry.IntervalSeconds
		}
	}
	for _, p := range []*int{&c.HTTPPort, &c.RPCPort, &c.MonitorPort} {
		if *p < 0 || *p > 65535 {
			return nil, fmt.Errorf("port %d out of range", *p)
		}
	}
	return warnings, nil
}
