// Package config loads worker configuration. Values are resolved from
// (highest to lowest priority): environment variables (TASKFORGE_*), a YAML
// config file, then defaults. A .env file in the working directory is loaded
// into the environment first when present.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/example/taskforge/internal/guardrails"
)

// Config holds everything the worker and API server need at startup.
type Config struct {
	// ListenAddr is the API server bind address.
	ListenAddr string `yaml:"listen_addr"`

	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`

	// WorkspaceRoot is the directory task workspaces are created under.
	WorkspaceRoot string `yaml:"workspace_root"`

	// PollInterval is the worker queue poll interval in seconds.
	PollInterval int `yaml:"poll_interval"`

	// Image holds the local image generation backend settings.
	Image ImageConfig `yaml:"image"`

	// Terminal holds the container sandbox settings.
	Terminal TerminalConfig `yaml:"terminal"`

	// Guard holds per-user admission settings.
	Guard GuardConfig `yaml:"guard"`

	// Constraints are defaults applied to tasks that do not carry their own.
	Constraints guardrails.ConstraintPatch `yaml:"constraints"`
}

// ImageConfig configures the SD3 generation script invocation.
type ImageConfig struct {
	PythonBin string `yaml:"python_bin"`
	Script    string `yaml:"script"`
	ModelPath string `yaml:"model_path"`
}

// TerminalConfig configures the docker sandbox used for TERMINAL_RUN steps.
type TerminalConfig struct {
	ContainerImage string `yaml:"container_image"`
	Network        string `yaml:"network"`
}

// GuardConfig configures per-user credit and concurrency ceilings.
type GuardConfig struct {
	MaxActiveTasks int64 `yaml:"max_active_tasks"`
	StepCost       int64 `yaml:"step_cost"`
	InitialCredits int64 `yaml:"initial_credits"`
}

func Default() *Config {
	return &Config{
		ListenAddr:    ":8080",
		DBPath:        "taskforge.db",
		WorkspaceRoot: "workspaces",
		PollInterval:  2,
		Image: ImageConfig{
			PythonBin: "python3",
			Script:    "tools/sd3/generate.py",
			ModelPath: "models/sd3_medium.safetensors",
		},
		Terminal: TerminalConfig{
			ContainerImage: "alpine:3.20",
		},
		Guard: GuardConfig{
			MaxActiveTasks: 4,
			StepCost:       1,
			InitialCredits: 500,
		},
	}
}

// Load resolves configuration from the optional YAML file at path and the
// environment. An empty path skips the file layer; a missing file is not an
// error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TASKFORGE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TASKFORGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TASKFORGE_WORKSPACE_ROOT"); v != "" {
		cfg.WorkspaceRoot = v
	}
	if v := os.Getenv("TASKFORGE_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = n
		}
	}
	if v := os.Getenv("TASKFORGE_IMAGE_SCRIPT"); v != "" {
		cfg.Image.Script = v
	}
	if v := os.Getenv("TASKFORGE_IMAGE_MODEL"); v != "" {
		cfg.Image.ModelPath = v
	}
	if v := os.Getenv("TASKFORGE_PYTHON_BIN"); v != "" {
		cfg.Image.PythonBin = v
	}
	if v := os.Getenv("TASKFORGE_CONTAINER_IMAGE"); v != "" {
		cfg.Terminal.ContainerImage = v
	}
	if v := os.Getenv("TASKFORGE_CONTAINER_NETWORK"); v != "" {
		cfg.Terminal.Network = v
	}
	if v := os.Getenv("TASKFORGE_MAX_ACTIVE_TASKS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Guard.MaxActiveTasks = n
		}
	}
}
