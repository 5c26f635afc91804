package commands

import (
	"os"
	"runtime"
	"runtime/debug"

	"github.com/clearmesh/clearmesh/internal/config"
)

// Global CLI flags
var (
	// APIEndpoint is the node API base URL
	APIEndpoint string

	// CallerAddress is the address sent as the request caller
	CallerAddress string
)

// GetAPIEndpoint returns the API endpoint from flag, env, or config.
func GetAPIEndpoint() string {
	if APIEndpoint != "" {
		return APIEndpoint
	}
	if endpoint := os.Getenv("CLEARMESH_API"); endpoint != "" {
		return endpoint
	}
	cfg := loadConfigQuiet()
	if cfg != nil && cfg.API.ListenAddr != "" {
		return "http://" + cfg.API.ListenAddr
	}
	return "http://127.0.0.1:8990"
}

// GetCallerAddress returns the caller address from flag or env.
func GetCallerAddress() string {
	if CallerAddress != "" {
		return CallerAddress
	}
	return os.Getenv("CLEARMESH_CALLER")
}

// loadConfigQuiet loads config from the default path, returning nil on error.
func loadConfigQuiet() *config.Config {
	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		return nil
	}
	return cfg
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}
