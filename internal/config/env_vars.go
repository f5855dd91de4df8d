package config

import (
	"fmt"
	"os"
	"time"
)

const (
	appNameVar    = "APP_NAME"
	envVar        = "ENV"
	logLevelVar   = "LOG_LEVEL"
	folderEnvVar  = "DATA_FOLDER"
	devIDPPortVar = "DEV_IDP_PORT"
)

type EnvVars struct {
	file *File
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return lookup(appNameVar, e.file.AppName, "Alumni Session")
}

func (e EnvVars) GetEnv() string {
	return lookup(envVar, e.file.Env, "DEV")
}

func (e EnvVars) GetLogLevel() string {
	return lookup(logLevelVar, e.file.LogLevel, "info")
}

func (e EnvVars) GetDataFolder() string {
	return lookup(folderEnvVar, e.file.DataFolder, "./data")
}

func (e EnvVars) GetDevIDPPort() string {
	port := lookup(devIDPPortVar, e.file.DevIDPPort, "8081")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// lookup resolves a setting: environment first, then the config file, then the default.
func lookup(envVar, fileValue, defaultValue string) string {
	if fileValue != "" {
		defaultValue = fileValue
	}
	return GetEnv(envVar, defaultValue)
}

func lookupDuration(envVar string, fileValue, defaultValue time.Duration) time.Duration {
	if fileValue > 0 {
		defaultValue = fileValue
	}
	raw := os.Getenv(envVar)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
