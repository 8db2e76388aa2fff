package engine

import (
	"fmt"
	"sort"
	"sync"

	iface "YoloBench/interface"
	"YoloBench/logger"

	"go.uber.org/zap"
)

type BackendFactory func() iface.Backend

// Manager owns the process-wide detectors, one per model path. It is built
// once at startup and passed to whoever needs a detector.
type Manager struct {
	mu        sync.Mutex
	factories map[string]BackendFactory
	annotate  Annotator
	detectors map[string]*Detector
}

func NewManager(annotate Annotator) *Manager {
	return &Manager{
		factories: make(map[string]BackendFactory),
		annotate:  annotate,
		detectors: make(map[string]*Detector),
	}
}

func (m *Manager) Register(name string, f BackendFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[name] = f
}

func (m *Manager) Backends() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.factories))
	for n := range m.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load returns the detector for cfg.ModelPath, loading the model on first use.
// Later calls with the same path return the cached detector unchanged.
func (m *Manager) Load(cfg iface.EngineConfig) (*Detector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.detectors[cfg.ModelPath]; ok {
		return d, nil
	}
	factory, ok := m.factories[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
	d := NewDetector(factory(), m.annotate)
	if err := d.LoadModel(cfg); err != nil {
		return nil, fmt.Errorf("load %s: %w", cfg.ModelPath, err)
	}
	m.detectors[cfg.ModelPath] = d
	logger.Log().Info("model loaded",
		zap.String("backend", cfg.Backend),
		zap.String("model", cfg.ModelPath),
		zap.Int("classes", len(cfg.Names)),
		zap.Int("inputSize", cfg.InputSize),
		zap.Bool("useGPU", cfg.UseGPU))
	return d, nil
}

func (m *Manager) Get(modelPath string) (*Detector, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.detectors[modelPath]
	return d, ok
}

// Close destroys every cached detector.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, d := range m.detectors {
		d.Destroy()
		delete(m.detectors, path)
	}
}
