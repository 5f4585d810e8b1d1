package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Environment keys read for experiment tracking.
const (
	EnvTrackingURI      = "MLFLOW_TRACKING_URI"
	EnvExperiment       = "MLFLOW_EXPERIMENT"
	EnvTrackingUsername = "MLFLOW_TRACKING_USERNAME"
	EnvTrackingPassword = "MLFLOW_TRACKING_PASSWORD"
)

// TrackingSettings holds the tracking endpoint and credentials. They never
// come from params files.
type TrackingSettings struct {
	URI        string
	Experiment string
	Username   string
	Password   string
	EnvFile    string
}

// Remote reports whether the URI points at a tracking server.
func (s TrackingSettings) Remote() bool {
	u := strings.ToLower(s.URI)
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// HasCredentials reports whether basic auth credentials are configured.
func (s TrackingSettings) HasCredentials() bool {
	return s.Username != "" && s.Password != ""
}

// LoadTrackingSettings reads tracking settings from the process environment,
// falling back to an optional dotenv file. Environment values win.
func LoadTrackingSettings(envFile string) TrackingSettings {
	v := newViper(envFile)
	return TrackingSettings{
		URI:        v.GetString(strings.ToLower(EnvTrackingURI)),
		Experiment: v.GetString(strings.ToLower(EnvExperiment)),
		Username:   v.GetString(strings.ToLower(EnvTrackingUsername)),
		Password:   v.GetString(strings.ToLower(EnvTrackingPassword)),
		EnvFile:    v.ConfigFileUsed(),
	}
}

func newViper(envFile string) *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	for _, key := range []string{EnvTrackingURI, EnvExperiment, EnvTrackingUsername, EnvTrackingPassword} {
		_ = v.BindEnv(strings.ToLower(key), key)
	}

	if envFile == "" {
		return v
	}
	if _, err := os.Stat(envFile); err != nil {
		return v
	}
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return newViper("")
	}
	return v
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}
