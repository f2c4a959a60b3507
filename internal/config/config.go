// Package config loads and validates the benchmark driver configuration and
// renders the per-endpoint client config files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Host is one remote machine that carries endpoints.
type Host struct {
	Addr string `yaml:"addr" validate:"required"`
	User string `yaml:"user"`
}

// Config drives one benchmark run. Endpoint names are derived from
// NumClients; remote runs additionally need Hosts and SSH credentials.
type Config struct {
	NumClients   int    `yaml:"num_clients" validate:"required,min=2"`
	Remote       bool   `yaml:"remote"`
	ClientBinary string `yaml:"client_binary" validate:"required"`

	// Local runs only: scratch directory holding one subdirectory per
	// endpoint.
	WorkDir string `yaml:"work_dir"`

	// Remote runs only.
	Hosts          []Host `yaml:"hosts" validate:"dive"`
	ClientsPerHost int    `yaml:"clients_per_host"`
	SSHUser        string `yaml:"ssh_user"`
	SSHKeyPath     string `yaml:"ssh_key_path"`
	MaxSSHWaitSec  int    `yaml:"max_ssh_wait_sec"`

	// System under test endpoints the clients talk to.
	ServerHost string `yaml:"server_host" validate:"required"`
	ASPort     int    `yaml:"as_port" validate:"required"`
	DSPort     int    `yaml:"ds_port" validate:"required"`

	// Service binaries, started locally when RunServices is set.
	RunServices bool   `yaml:"run_services"`
	ASBinary    string `yaml:"as_binary"`
	DSBinary    string `yaml:"ds_binary"`

	Community string `yaml:"community"`
	Group     string `yaml:"group"`

	// Grouped scenario only: members per disjoint group. Must divide
	// NumClients evenly.
	GroupSize int `yaml:"group_size"`

	ResultDir string `yaml:"result_dir"`
	SubFolder string `yaml:"sub_folder"`

	// Optional result sinks.
	KafkaBroker string `yaml:"kafka_broker"`
	KafkaTopic  string `yaml:"kafka_topic"`
	MongoURI    string `yaml:"mongo_uri"`
	MongoDB     string `yaml:"mongo_db"`
}

// Default returns the baseline configuration a config file overrides.
func Default() *Config {
	return &Config{
		NumClients:     64,
		WorkDir:        "./bench_temp",
		ClientsPerHost: 8,
		MaxSSHWaitSec:  8,
		ServerHost:     "localhost",
		ASPort:         2000,
		DSPort:         3000,
		Community:      "community",
		Group:          "group",
		GroupSize:      2,
		ResultDir:      "./saved_result",
		KafkaTopic:     "benchmark-measurements",
		MongoDB:        "mlsbench",
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(bytes, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints plus the remote-run requirements that
// struct tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Remote {
		if len(c.Hosts) == 0 {
			return fmt.Errorf("config: remote run needs at least one host")
		}
		if c.SSHKeyPath == "" {
			return fmt.Errorf("config: remote run needs ssh_key_path")
		}
		if c.ClientsPerHost < 1 {
			return fmt.Errorf("config: clients_per_host must be at least 1")
		}
	}
	return nil
}

// ClientNames returns the endpoint-name roster: "0" through NumClients-1,
// in input order. The first name doubles as the admin.
func (c *Config) ClientNames() []string {
	names := make([]string, c.NumClients)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}
	return names
}

// Prefix is the argument vector prepended to every timed client command.
func (c *Config) Prefix() []string {
	return []string{c.ClientBinary, "--verbose", "--no-sync", "--auto-retry"}
}

// ResultPath names the result file for this run's group size.
func (c *Config) ResultPath() string {
	dir := c.ResultDir
	if c.SubFolder != "" {
		dir = filepath.Join(dir, c.SubFolder)
	}
	return filepath.Join(dir, fmt.Sprintf("group_size_%d.json", c.NumClients))
}

// ClientConfigName is the config file each client reads in its working
// directory.
const ClientConfigName = "CliClientConfig.yaml"

// clientConfig is the YAML shape of a client's config file.
type clientConfig struct {
	DSURLStr              string `yaml:"ds_url_str"`
	ASURLStr              string `yaml:"as_url_str"`
	NewKeyPackagesPerSync int    `yaml:"new_key_packages_per_sync"`
	DataPath              string `yaml:"data_path"`
	KeystorePath          string `yaml:"keystore_path"`
}

// ClientConfigYAML renders the config file pointing a client at the
// delivery and authentication services.
func (c *Config) ClientConfigYAML() (string, error) {
	bytes, err := yaml.Marshal(clientConfig{
		DSURLStr:              fmt.Sprintf("ws://%s:%d/", c.ServerHost, c.DSPort),
		ASURLStr:              fmt.Sprintf("ws://%s:%d/", c.ServerHost, c.ASPort),
		NewKeyPackagesPerSync: 5,
		DataPath:              "./ClientData.yaml",
		KeystorePath:          "./ClientKeyStore.yaml",
	})
	if err != nil {
		return "", fmt.Errorf("config: render client config: %w", err)
	}
	return "---\n" + string(bytes), nil
}
