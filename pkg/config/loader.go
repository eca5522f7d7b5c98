package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stellarlinkco/hookflow/pkg/core/hooks"
)

const (
	hostDirName    = "hookflow"
	projectDirName = ".hookflow"
)

// settingsNames lists the accepted file names in probe order. The first one
// present in a scope directory wins.
var settingsNames = []string{"settings.yaml", "settings.yml", "settings.json"}

// DefaultHostDir resolves the host-scope settings directory from the
// environment: $XDG_CONFIG_HOME/hookflow, falling back to ~/.config/hookflow.
func DefaultHostDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, hostDirName)
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".config", hostDirName)
}

// ProjectDir returns the settings directory under a project root.
func ProjectDir(root string) string {
	return filepath.Join(root, projectDirName)
}

// findSettings returns the first settings file present in dir, or "" when
// none exists.
func findSettings(dir string) string {
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	for _, name := range settingsNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// LoadFile reads and decodes one settings file. Missing files return
// (nil, nil) so absent scopes are not an error.
func LoadFile(path string) (*Settings, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	s, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

// Loader resolves the per-scope settings layers. Overrides is the runtime
// layer: it is applied last and doubles as the component scope's handler
// source when a host embeds the engine with programmatic registrations.
type Loader struct {
	ProjectRoot string
	HostDir     string    // defaults to DefaultHostDir()
	Overrides   *Settings // runtime layer, highest priority
}

// ScopeSet is the loaded result: one settings layer per scope plus the
// resolved file paths (empty when the scope had no file).
type ScopeSet struct {
	Host    *Settings
	Project *Settings
	Runtime *Settings

	HostPath    string
	ProjectPath string
}

func (l *Loader) hostDir() string {
	if l.HostDir != "" {
		return l.HostDir
	}
	return DefaultHostDir()
}

func (l *Loader) projectDir() string {
	root := strings.TrimSpace(l.ProjectRoot)
	if root == "" {
		return ""
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return ProjectDir(root)
}

// Load reads every scope layer that exists and folds environment overrides
// into the runtime layer. Decode errors abort the load; validation is a
// separate step so callers choose between strict and advisory handling.
func (l *Loader) Load() (*ScopeSet, error) {
	set := &ScopeSet{Runtime: l.Overrides}

	set.HostPath = findSettings(l.hostDir())
	host, err := LoadFile(set.HostPath)
	if err != nil {
		return nil, fmt.Errorf("load host settings: %w", err)
	}
	set.Host = host

	if dir := l.projectDir(); dir != "" {
		set.ProjectPath = findSettings(dir)
		project, err := LoadFile(set.ProjectPath)
		if err != nil {
			return nil, fmt.Errorf("load project settings: %w", err)
		}
		set.Project = project
	}

	applyEnvOverrides(set)
	return set, nil
}

// applyEnvOverrides folds process environment knobs into the runtime layer
// so they outrank every file.
func applyEnvOverrides(set *ScopeSet) {
	runtime := func() *Settings {
		if set.Runtime == nil {
			set.Runtime = &Settings{}
		}
		return set.Runtime
	}
	provider := func() *ProviderSettings {
		r := runtime()
		if r.Provider == nil {
			r.Provider = &ProviderSettings{}
		}
		return r.Provider
	}

	if key := os.Getenv("HOOKFLOW_API_KEY"); key != "" {
		provider().APIKey = key
	}
	if url := os.Getenv("HOOKFLOW_BASE_URL"); url != "" {
		provider().BaseURL = url
	}
	if typ := os.Getenv("HOOKFLOW_PROVIDER"); typ != "" {
		provider().Type = typ
	}
	if model := os.Getenv("HOOKFLOW_MODEL"); model != "" {
		runtime().DefaultModel = model
	}
	if v := os.Getenv("HOOKFLOW_DISABLE"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			r := runtime()
			r.Disabled = &parsed
		}
	}
}

// layers yields the scopes in priority order, lowest first.
func (s *ScopeSet) layers() []*Settings {
	return []*Settings{s.Host, s.Project, s.Runtime}
}

// Disabled reports whether handler dispatch is switched off. Higher layers
// override lower ones, so a project file can re-enable what the host file
// disabled and the runtime layer has the final word.
func (s *ScopeSet) Disabled() bool {
	disabled := false
	for _, layer := range s.layers() {
		if layer != nil && layer.Disabled != nil {
			disabled = *layer.Disabled
		}
	}
	return disabled
}

// DefaultModel returns the highest-priority non-empty default model.
func (s *ScopeSet) DefaultModel() string {
	model := ""
	for _, layer := range s.layers() {
		if layer != nil && layer.DefaultModel != "" {
			model = layer.DefaultModel
		}
	}
	return model
}

// Provider merges the provider blocks field-wise, higher layers overriding.
func (s *ScopeSet) Provider() ProviderSettings {
	var out ProviderSettings
	for _, layer := range s.layers() {
		if layer == nil || layer.Provider == nil {
			continue
		}
		if layer.Provider.Type != "" {
			out.Type = layer.Provider.Type
		}
		if layer.Provider.APIKey != "" {
			out.APIKey = layer.Provider.APIKey
		}
		if layer.Provider.BaseURL != "" {
			out.BaseURL = layer.Provider.BaseURL
		}
	}
	return out
}

// Env merges the env maps per key, higher layers overriding.
func (s *ScopeSet) Env() map[string]string {
	var out map[string]string
	for _, layer := range s.layers() {
		if layer == nil || len(layer.Env) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(layer.Env))
		}
		for k, v := range layer.Env {
			out[k] = v
		}
	}
	return out
}

// Specs returns the handler specs contributed by one registry scope. Handler
// lists are never merged across layers; each layer feeds its own scope
// partition and the registry's resolution order handles priority.
func (s *ScopeSet) Specs(scope hooks.Scope) []hooks.HandlerSpec {
	if s.Disabled() {
		return nil
	}
	switch scope {
	case hooks.ScopeHost:
		return s.Host.HandlerSpecs()
	case hooks.ScopeProject:
		return s.Project.HandlerSpecs()
	case hooks.ScopeComponent:
		return s.Runtime.HandlerSpecs()
	default:
		return nil
	}
}

// Validate aggregates validation errors across every loaded layer, tagging
// each with its source.
func (s *ScopeSet) Validate() error {
	var errs []error
	if err := s.Host.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("host (%s): %w", s.HostPath, err))
	}
	if err := s.Project.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("project (%s): %w", s.ProjectPath, err))
	}
	if err := s.Runtime.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", err))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
