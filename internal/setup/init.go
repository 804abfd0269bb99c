// Package setup bootstraps a kestrel installation.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/kestrel/internal/config"
	"github.com/msageha/kestrel/templates"
)

const configName = "kestrel.yaml"

const header = `# kestrel configuration.
# Environment variables override file values with the KESTREL_ prefix,
# e.g. KESTREL_ENGINE_AUTH_PASSWORD overrides engine.auth.password.

`

// Run writes a starter configuration file into dir and returns its path.
// engineURL overrides the template's engine.url when non-empty. An existing
// file is never touched.
func Run(dir, engineURL string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve target dir: %w", err)
	}
	path := filepath.Join(absDir, configName)

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%s already exists", path)
	}

	cfg, err := templateConfig(engineURL)
	if err != nil {
		return "", err
	}
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("generated config invalid: %w", err)
	}

	content, err := yamlv3.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	content = append([]byte(header), content...)

	if err := atomicWrite(path, content); err != nil {
		return "", err
	}
	return path, nil
}

func templateConfig(engineURL string) (config.Config, error) {
	data, err := fs.ReadFile(templates.FS, configName)
	if err != nil {
		return config.Config{}, fmt.Errorf("read config template: %w", err)
	}

	var cfg config.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return config.Config{}, fmt.Errorf("parse config template: %w", err)
	}

	if engineURL != "" {
		cfg.Engine.URL = engineURL
	}
	return cfg, nil
}

func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".kestrel-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		// Clean up temp file on any failure
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
