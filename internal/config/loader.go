package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/plagctl/pkg/match"
)

// ProjectConfigFile is the project-local config file name.
const ProjectConfigFile = ".plagctl.yaml"

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
)

// EnvSpec maps one environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

// envKeys maps env suffixes to config keys.
var envKeys = []struct{ suffix, path string }{
	{"API_URL", "api.base_url"},
	{"API_TIMEOUT", "api.timeout"},
	{"RATE_LIMIT", "api.rate_limit"},
	{"POLL_INTERVAL", "poll.interval"},
	{"POLL_MAX_DURATION", "poll.max_duration"},
	{"POLL_MAX_ERRORS", "poll.max_consecutive_errors"},
	{"MAX_UPLOAD_SIZE", "upload.max_size"},
	{"CONCURRENCY", "check.concurrency"},
	{"HISTORY_PAGE_SIZE", "history.page_size"},
	{"ARCHIVE", "archive.destination"},
	{"ARCHIVE_REGION", "archive.region"},
	{"ARCHIVE_ENDPOINT", "archive.endpoint"},
	{"ARCHIVE_PROFILE", "archive.profile"},
	{"LOG_LEVEL", "logging.level"},
	{"LOG_PROFILE", "logging.profile"},
	{"HOST", "server.host"},
	{"PORT", "server.port"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"IDLE_TIMEOUT", "server.idle_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"HEALTH_ENABLED", "health.enabled"},
	{"DATA_DIR", "data_dir"},
	{"READONLY", "readonly"},
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000/api/v1")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.rate_limit", 5.0)

	v.SetDefault("poll.interval", "2s")
	v.SetDefault("poll.max_duration", "5m")
	v.SetDefault("poll.max_consecutive_errors", 3)

	v.SetDefault("upload.max_size", "20MiB")

	v.SetDefault("check.concurrency", 1)
	v.SetDefault("check.extensions", []string{".pdf", ".docx", ".txt", ".tex"})

	v.SetDefault("history.page_size", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.async", false)
	v.SetDefault("server.require_auth", false)

	v.SetDefault("health.enabled", true)
	v.SetDefault("readonly", false)
}

// Load resolves configuration with precedence
// runtime overrides > environment > config files > defaults, stores it for
// GetConfig and returns it.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	SetDefaults(v)
	v.SetDefault("data_dir", gfconfig.GetAppDataDir(appIdentity.ConfigName))

	for _, path := range getUserConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		byteSizeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// GetIdentity returns the active identity, or nil before Load.
func GetIdentity() *AppIdentity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

func getEnvSpecs() []EnvSpec {
	if appIdentity == nil {
		return []EnvSpec{}
	}
	specs := make([]EnvSpec, 0, len(envKeys))
	for _, k := range envKeys {
		specs = append(specs, EnvSpec{Name: appIdentity.EnvPrefix + "_" + k.suffix, Path: k.path})
	}
	return specs
}

// getUserConfigPaths lists config files in merge order: user config dir,
// then the project root.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appIdentity.ConfigName, "config.yaml"))
	}
	if root, err := findProjectRoot(); err == nil {
		paths = append(paths, filepath.Join(root, ProjectConfigFile))
	}
	return paths
}

var ciBoundaryVars = []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"}

// findProjectRoot walks up from the working directory to the nearest
// directory holding go.mod or a project config file. In CI the walk stops
// at the workspace root when one is advertised. Falls back to the working
// directory.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	boundary := ""
	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		boundary = ciBoundary(cwd)
	}

	dir := cwd
	for {
		for _, marker := range []string{"go.mod", ProjectConfigFile} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		if dir == boundary {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd, nil
}

func ciBoundary(cwd string) string {
	for _, name := range ciBoundaryVars {
		b := strings.TrimSpace(os.Getenv(name))
		if b == "" || !filepath.IsAbs(b) {
			continue
		}
		b = filepath.Clean(b)
		if fi, err := os.Stat(b); err != nil || !fi.IsDir() {
			continue
		}
		rel, err := filepath.Rel(b, cwd)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return b
	}
	return ""
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func byteSizeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(ByteSize(0)) || from.Kind() != reflect.String {
			return data, nil
		}
		n, err := match.ParseSize(data.(string))
		if err != nil {
			return nil, err
		}
		return ByteSize(n), nil
	}
}
