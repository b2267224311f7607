package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Local     LocalConfig     `mapstructure:"local"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SSHConfig holds the credentials and timeouts used for every remote session.
type SSHConfig struct {
	User            string        `mapstructure:"user"`
	KeyPath         string        `mapstructure:"key_path"`
	Port            int           `mapstructure:"port"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
}

type StaticVM struct {
	ID       string `mapstructure:"id"`
	Networks string `mapstructure:"networks"`
}

type InventoryConfig struct {
	Provider         string        `mapstructure:"provider"`
	DevstackPath     string        `mapstructure:"devstack_path"`
	OpenRCUser       string        `mapstructure:"openrc_user"`
	OpenRCProject    string        `mapstructure:"openrc_project"`
	Command          string        `mapstructure:"command"`
	Timeout          time.Duration `mapstructure:"timeout"`
	AddressPolicy    string        `mapstructure:"address_policy"`
	PreferredNetwork string        `mapstructure:"preferred_network"`
	PreferredCIDR    string        `mapstructure:"preferred_cidr"`
	Static           []StaticVM    `mapstructure:"static"`
}

type WorkspaceConfig struct {
	BaseDir        string        `mapstructure:"base_dir"`
	Interpreter    string        `mapstructure:"interpreter"`
	InstallTimeout time.Duration `mapstructure:"install_timeout"`
	TaskIDPrefix   string        `mapstructure:"task_id_prefix"`
}

// LocalConfig drives the execute-local variant that runs the client on this host.
type LocalConfig struct {
	WorkRoot       string        `mapstructure:"work_root"`
	Python         string        `mapstructure:"python"`
	Packages       []string      `mapstructure:"packages"`
	InstallTimeout time.Duration `mapstructure:"install_timeout"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
}

type RegistryConfig struct {
	Capacity     int  `mapstructure:"capacity"`
	StrictLookup bool `mapstructure:"strict_lookup"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type FeaturesConfig struct {
	RequestIDHeader      string        `mapstructure:"request_id_header"`
	EnableRequestLogging bool          `mapstructure:"enable_request_logging"`
	LogStreamInterval    time.Duration `mapstructure:"log_stream_interval"`
}

// RetentionConfig bounds how long timeline events and finished local runs are
// kept. A zero age disables that part of the sweep.
type RetentionConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Timeline  time.Duration `mapstructure:"timeline"`
	LocalRuns time.Duration `mapstructure:"local_runs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stdout"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("ssh.user", "ubuntu")
	v.SetDefault("ssh.key_path", "~/.ssh/key.pem")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.connect_timeout", 10*time.Second)
	v.SetDefault("ssh.connect_attempts", 1)
	v.SetDefault("ssh.command_timeout", 2*time.Minute)
	v.SetDefault("ssh.probe_timeout", 5*time.Second)

	v.SetDefault("inventory.provider", "openstack")
	v.SetDefault("inventory.devstack_path", "~/devstack")
	v.SetDefault("inventory.openrc_user", "admin")
	v.SetDefault("inventory.openrc_project", "demo")
	v.SetDefault("inventory.timeout", 15*time.Second)
	v.SetDefault("inventory.address_policy", "last")

	v.SetDefault("workspace.base_dir", "/tmp/fl-workspace")
	v.SetDefault("workspace.interpreter", "python3")
	v.SetDefault("workspace.install_timeout", 10*time.Minute)
	v.SetDefault("workspace.task_id_prefix", "fl-task")

	v.SetDefault("local.python", "python3")
	v.SetDefault("local.packages", []string{"flwr>=1.20.0", "torch==2.7.1", "torchvision==0.22.1", "mlflow", "scikit-learn", "Pillow"})
	v.SetDefault("local.install_timeout", 10*time.Minute)
	v.SetDefault("local.run_timeout", time.Hour)

	v.SetDefault("registry.capacity", 1000)
	v.SetDefault("registry.strict_lookup", false)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("features.request_id_header", "X-Request-ID")
	v.SetDefault("features.log_stream_interval", 3*time.Second)

	v.SetDefault("retention.interval", time.Hour)
	v.SetDefault("retention.timeline", 30*24*time.Hour)
	v.SetDefault("retention.local_runs", 24*time.Hour)
}

// Load reads the YAML file at path (optional when empty) and overlays
// FLEECY_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FLEECY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
