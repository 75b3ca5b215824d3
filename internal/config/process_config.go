package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppConfig declares a process the supervisor should know about at startup.
type AppConfig struct {
	Name        string            `yaml:"name"`
	Script      string            `yaml:"script"`
	Args        []string          `yaml:"args,omitempty"`
	Cwd         string            `yaml:"cwd,omitempty"`
	Environment map[string]string `yaml:"env,omitempty"`
	Instances   int               `yaml:"instances,omitempty"`
	ExecMode    string            `yaml:"exec_mode,omitempty"`
	AutoStart   bool              `yaml:"autostart"`
}

type EcosystemConfig struct {
	Apps []AppConfig `yaml:"apps"`
}

// LoadEcosystem reads an ecosystem file. A missing file yields no apps.
func LoadEcosystem(path string) (*EcosystemConfig, error) {
	if path == "" {
		return &EcosystemConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &EcosystemConfig{}, nil
		}
		return nil, err
	}

	var cfg EcosystemConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for i := range cfg.Apps {
		app := &cfg.Apps[i]
		if app.Name == "" || app.Script == "" {
			return nil, fmt.Errorf("%s: app %d needs name and script", path, i)
		}
		if app.Instances == 0 {
			app.Instances = 1
		}
		if app.ExecMode == "" {
			app.ExecMode = "fork"
		}
	}

	return &cfg, nil
}
