package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the optional YAML overlay. Environment variables still win over it.
type File struct {
	AppName    string `yaml:"app_name"`
	Env        string `yaml:"env"`
	LogLevel   string `yaml:"log_level"`
	DataFolder string `yaml:"data_folder"`
	DevIDPPort string `yaml:"dev_idp_port"`

	Backends struct {
		Identity       string        `yaml:"identity"`
		Primary        string        `yaml:"primary"`
		Admin          string        `yaml:"admin"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		RefreshCookie  string        `yaml:"refresh_cookie"`
	} `yaml:"backends"`

	Session struct {
		CheckInterval    time.Duration `yaml:"check_interval"`
		RefreshThreshold time.Duration `yaml:"refresh_threshold"`
	} `yaml:"session"`
}

// Load reads a YAML config file. An empty path yields the env-only config.
func Load(path string) (Config, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config.Load: parsing %s: %w", path, err)
	}
	return fromFile(&f), nil
}
