// Package engineconfig loads the engine's static YAML configuration: asset
// roots, the runs root, and the runner binary to invoke.
package engineconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration document, conventionally
// loaded from pvtx.yaml.
type Config struct {
	CasesRoot            string `yaml:"casesRoot"`
	SuitesRoot           string `yaml:"suitesRoot"`
	PlansRoot            string `yaml:"plansRoot"`
	RunsRoot             string `yaml:"runsRoot"`
	RunnerPath           string `yaml:"runnerPath"`
	EngineVersion        string `yaml:"engineVersion"`
	LogLevel             string `yaml:"logLevel"`
	Watch                bool   `yaml:"watch"`
	RunnerGracePeriodSec int    `yaml:"runnerGracePeriodSec"`
}

// Default returns a Config with every root resolved relative to the current
// working directory, suitable for a first run with no pvtx.yaml present.
func Default() *Config {
	return &Config{
		CasesRoot:            "cases",
		SuitesRoot:           "suites",
		PlansRoot:            "plans",
		RunsRoot:             "runs",
		RunnerPath:           "pvtx-runner",
		EngineVersion:        "dev",
		LogLevel:             "info",
		RunnerGracePeriodSec: 5,
	}
}

// Load reads path as YAML over top of Default(); a missing file is not an
// error, since an engine with no config file should run with sane defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("engineconfig: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("engineconfig: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveRoots makes every configured root absolute, relative to baseDir
// (the directory containing the config file), so callers never have to
// reason about the process's current working directory.
func (c *Config) ResolveRoots(baseDir string) {
	c.CasesRoot = resolve(baseDir, c.CasesRoot)
	c.SuitesRoot = resolve(baseDir, c.SuitesRoot)
	c.PlansRoot = resolve(baseDir, c.PlansRoot)
	c.RunsRoot = resolve(baseDir, c.RunsRoot)
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
