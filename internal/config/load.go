package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxConnections is the connection limit when none is configured.
	DefaultMaxConnections = 10

	// StdoutLog selects standard output as the event log sink.
	StdoutLog = "-"

	// PromptPassword as the control password means: ask on the terminal.
	PromptPassword = "-"
)

// ErrInvalid marks a configuration that cannot be started.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved bootstrap configuration.
type Config struct {
	MaxConnections int           `yaml:"max_connections"`
	LogPath        string        `yaml:"log"`
	Bind           string        `yaml:"bind"`
	Control        ControlConfig `yaml:"control"`
	Services       []ServiceSpec `yaml:"services"`
	Proxies        []ProxySpec   `yaml:"proxies"`
}

// ControlConfig describes the control endpoints. A zero port disables one.
type ControlConfig struct {
	Password string `yaml:"password"`
	Port     int    `yaml:"port"`
	SSHPort  int    `yaml:"ssh_port"`
	HostKey  string `yaml:"host_key"`
}

// ServiceSpec starts the catalog service Name on Port.
type ServiceSpec struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

// ProxySpec relays LocalPort to Host:RemotePort.
type ProxySpec struct {
	Host       string `yaml:"host"`
	RemotePort int    `yaml:"remote_port"`
	LocalPort  int    `yaml:"local_port"`
}

// Default returns the configuration used before any source is applied.
func Default() *Config {
	return &Config{
		MaxConnections: DefaultMaxConnections,
		LogPath:        StdoutLog,
	}
}

// Usage describes the positional arguments accepted by Load.
const Usage = `Usage: svchost [flags] [control <password> <port>] [<service> <port> ...]

Starts each named service on its port. With "control", a password protected
control service is started too and can add or remove services at runtime.

Flags:
`

// NewFlagSet returns the flag set Load parses, for printing defaults.
func NewFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.Int("max", DefaultMaxConnections, "maximum number of concurrent connections")
	fs.String("log", StdoutLog, `event log file ("-" for stdout, empty to disable)`)
	fs.String("bind", "", "address every service listens on (default all interfaces)")
	fs.String("config", "", "YAML configuration file")
	fs.String("control-password", "", `control password or bcrypt hash ("-" to prompt)`)
	fs.Int("control-port", 0, "port of the plain TCP control service")
	fs.Int("ssh-control-port", 0, "port of the SSH control service")
	fs.String("host-key", "", "SSH host key file (default in the config directory)")
	fs.StringArray("proxy", nil, "relay a local port to a remote host as host:remoteport:localport (repeatable)")
	return fs
}

// Load resolves the configuration from args (without the program name).
// Sources apply in order: defaults, YAML file, environment, then flags
// and positional arguments.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet()
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if path, _ := fs.GetString("config"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.applyFlags(fs); err != nil {
		return nil, err
	}
	if err := cfg.applyPositional(fs.Args()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	n, err := getEnvInt("SVCHOST_MAX_CONNECTIONS", c.MaxConnections)
	if err != nil {
		return err
	}
	c.MaxConnections = n
	c.Control.Password = getEnv("SVCHOST_CONTROL_PASSWORD", c.Control.Password)
	c.LogPath = getEnv("SVCHOST_LOG", c.LogPath)
	c.Bind = getEnv("SVCHOST_BIND", c.Bind)
	return nil
}

// applyFlags copies the flags that were set explicitly.
func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	if fs.Changed("max") {
		c.MaxConnections, _ = fs.GetInt("max")
	}
	if fs.Changed("log") {
		c.LogPath, _ = fs.GetString("log")
	}
	if fs.Changed("bind") {
		c.Bind, _ = fs.GetString("bind")
	}
	if fs.Changed("control-password") {
		c.Control.Password, _ = fs.GetString("control-password")
	}
	if fs.Changed("control-port") {
		c.Control.Port, _ = fs.GetInt("control-port")
	}
	if fs.Changed("ssh-control-port") {
		c.Control.SSHPort, _ = fs.GetInt("ssh-control-port")
	}
	if fs.Changed("host-key") {
		c.Control.HostKey, _ = fs.GetString("host-key")
	}
	proxies, _ := fs.GetStringArray("proxy")
	for _, p := range proxies {
		spec, err := ParseProxy(p)
		if err != nil {
			return err
		}
		c.Proxies = append(c.Proxies, spec)
	}
	return nil
}

// applyPositional parses "[control <password> <port>] [<name> <port> ...]".
func (c *Config) applyPositional(args []string) error {
	if len(args) > 0 && strings.EqualFold(args[0], "control") {
		if len(args) < 3 {
			return fmt.Errorf("%w: control needs a password and a port", ErrInvalid)
		}
		port, err := parsePort(args[2])
		if err != nil {
			return err
		}
		c.Control.Password = args[1]
		c.Control.Port = port
		args = args[3:]
	}
	if len(args)%2 != 0 {
		return fmt.Errorf("%w: service %q has no port", ErrInvalid, args[len(args)-1])
	}
	for i := 0; i < len(args); i += 2 {
		port, err := parsePort(args[i+1])
		if err != nil {
			return err
		}
		c.Services = append(c.Services, ServiceSpec{Name: args[i], Port: port})
	}
	return nil
}

// ParseProxy parses "host:remoteport:localport". The host may be a
// bracketed IPv6 literal.
func ParseProxy(s string) (ProxySpec, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return ProxySpec{}, fmt.Errorf("%w: proxy %q is not host:remoteport:localport", ErrInvalid, s)
	}
	j := strings.LastIndex(s[:i], ":")
	if j <= 0 {
		return ProxySpec{}, fmt.Errorf("%w: proxy %q is not host:remoteport:localport", ErrInvalid, s)
	}
	remote, err := parsePort(s[j+1 : i])
	if err != nil {
		return ProxySpec{}, err
	}
	local, err := parsePort(s[i+1:])
	if err != nil {
		return ProxySpec{}, err
	}
	host := strings.TrimSuffix(strings.TrimPrefix(s[:j], "["), "]")
	return ProxySpec{Host: host, RemotePort: remote, LocalPort: local}, nil
}

// Validate checks that the configuration can be started as a whole.
func (c *Config) Validate() error {
	if c.MaxConnections < 0 {
		return fmt.Errorf("%w: negative connection limit %d", ErrInvalid, c.MaxConnections)
	}

	used := make(map[int]string)
	claim := func(port int, what string) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: %s has invalid port %d", ErrInvalid, what, port)
		}
		if prev, ok := used[port]; ok {
			return fmt.Errorf("%w: port %d used by both %s and %s", ErrInvalid, port, prev, what)
		}
		used[port] = what
		return nil
	}

	hasControl := c.Control.Port != 0 || c.Control.SSHPort != 0
	if c.Control.Port != 0 {
		if err := claim(c.Control.Port, "control"); err != nil {
			return err
		}
	}
	if c.Control.SSHPort != 0 {
		if err := claim(c.Control.SSHPort, "ssh control"); err != nil {
			return err
		}
	}
	if hasControl && c.Control.Password == "" {
		return fmt.Errorf("%w: control service needs a password", ErrInvalid)
	}
	for _, s := range c.Services {
		if s.Name == "" {
			return fmt.Errorf("%w: service on port %d has no name", ErrInvalid, s.Port)
		}
		if err := claim(s.Port, "service "+s.Name); err != nil {
			return err
		}
	}
	for _, p := range c.Proxies {
		if p.Host == "" {
			return fmt.Errorf("%w: proxy on port %d has no host", ErrInvalid, p.LocalPort)
		}
		if p.RemotePort <= 0 || p.RemotePort > 65535 {
			return fmt.Errorf("%w: proxy to %s has invalid remote port %d", ErrInvalid, p.Host, p.RemotePort)
		}
		if err := claim(p.LocalPort, "proxy to "+p.Host); err != nil {
			return err
		}
	}
	if len(used) == 0 {
		return fmt.Errorf("%w: nothing to serve", ErrInvalid)
	}
	return nil
}

// ReadPassword prompts on stderr and reads a password from stdin, without
// echo when stdin is a terminal.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: invalid port %q", ErrInvalid, s)
	}
	return port, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, value)
	}
	return n, nil
}
