package runcontext

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
)

// Config is the harness configuration. It is read from an optional TOML
// file and then overridden by environment variables.
type Config struct {
	// BinariesPath is prepended to PATH of every child process.
	BinariesPath string `toml:"binaries_path"`
	SandboxDir   string `toml:"sandbox_dir"`
	PortLocksDir string `toml:"port_locks_dir"`
	// FailedTestsDir receives the sandbox of failed suites.
	FailedTestsDir string `toml:"failed_tests_dir"`
	KeepSandbox    bool   `toml:"keep_sandbox"`

	BuildTypeID string `toml:"build_type_id"`
	BuildNumber string `toml:"build_number"`

	LogLevel string `toml:"log_level"`
	// LogJSON switches the harness log to the JSON encoder.
	LogJSON bool `toml:"log_json"`

	DriverBackend    driver.BackendKind `toml:"driver_backend"`
	DriverAPIVersion int                `toml:"driver_api_version"`

	StartTimeout Duration `toml:"start_timeout"`
	StopTimeout  Duration `toml:"stop_timeout"`
}

// Duration reads TOML strings such as "90s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

const (
	defaultStartTimeout = 3 * time.Minute
	defaultStopTimeout  = 30 * time.Second
)

func DefaultConfig() Config {
	return Config{
		SandboxDir:       filepath.Join(os.TempDir(), "ytharness"),
		PortLocksDir:     filepath.Join(os.TempDir(), "ytharness_port_locks"),
		FailedTestsDir:   "failed_tests",
		BuildTypeID:      "local",
		BuildNumber:      "0",
		LogLevel:         "info",
		DriverBackend:    driver.BackendHTTP,
		DriverAPIVersion: 0,
		StartTimeout:     Duration{defaultStartTimeout},
		StopTimeout:      Duration{defaultStopTimeout},
	}
}

// LoadConfig reads the file named by YTHARNESS_CONFIG (if any) over the
// defaults and applies environment overrides.
func LoadConfig() (Config, error) {
	config := DefaultConfig()
	if path := os.Getenv(consts.EnvConfig); path != "" {
		if err := config.ReadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) ReadFile(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("failed to read harness config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in harness config %s: %v", path, undecoded)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables looked up with lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	overrides := map[string]*string{
		consts.EnvBinariesPath: &c.BinariesPath,
		consts.EnvSandbox:      &c.SandboxDir,
		consts.EnvPortLocks:    &c.PortLocksDir,
		consts.EnvFailedTests:  &c.FailedTestsDir,
		consts.EnvBuildTypeID:  &c.BuildTypeID,
		consts.EnvBuildNumber:  &c.BuildNumber,
	}
	for name, field := range overrides {
		if v, ok := lookup(name); ok && v != "" {
			*field = v
		}
	}
	if v, ok := lookup(consts.EnvKeepSandbox); ok && v != "" {
		keep, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", consts.EnvKeepSandbox, v, err)
		}
		c.KeepSandbox = keep
	}
	return nil
}

func (c *Config) Validate() error {
	if c.SandboxDir == "" {
		return fmt.Errorf("sandbox dir is not set")
	}
	if c.PortLocksDir == "" {
		return fmt.Errorf("port locks dir is not set")
	}
	switch c.DriverBackend {
	case driver.BackendHTTP, driver.BackendSDK, driver.BackendRPC:
	default:
		return fmt.Errorf("unknown driver backend %q", c.DriverBackend)
	}
	if c.DriverAPIVersion != 0 && c.DriverAPIVersion != 3 && c.DriverAPIVersion != 4 {
		return fmt.Errorf("unsupported driver api version %d", c.DriverAPIVersion)
	}
	return nil
}
