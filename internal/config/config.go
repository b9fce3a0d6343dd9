package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/melih/howls-moving-docker/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// Defaults for optional settings.
const (
	DefaultPasswordListFile    = "password_list.txt"
	DefaultLogFile             = "howls_moving_docker.log"
	DefaultLogLevel            = "info"
	DefaultPollInterval        = 10 // seconds
	DefaultRotationGracePeriod = 10 // seconds
)

// Config mirrors the YAML configuration document.
type Config struct {
	NetworkName              string            `yaml:"network_name"`
	PasswordListURL          string            `yaml:"password_list_url"`
	PasswordListFile         string            `yaml:"password_list_file"`
	ProductionPortRange      PortRange         `yaml:"production_port_range"`
	ProductionUpdateInterval float64           `yaml:"production_update_interval"` // minutes
	DummyRecycleInterval     float64           `yaml:"dummy_recycle_interval"`     // minutes
	PollInterval             float64           `yaml:"poll_interval"`              // seconds
	RotationGracePeriod      *float64          `yaml:"rotation_grace_period"`      // seconds
	APIListen                string            `yaml:"api_listen"`
	LogFile                  string            `yaml:"log_file"`
	LogLevel                 string            `yaml:"log_level"`
	Usernames                []string          `yaml:"usernames"`
	Volumes                  map[string]string `yaml:"volumes"`
	MainServices             []MainService     `yaml:"main_services"`
	DummyServices            []DummyService    `yaml:"dummy_services"`
}

type PortRange struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

type Build struct {
	RepoURL    string `yaml:"repo_url"`
	Dockerfile string `yaml:"dockerfile"`
}

type MainService struct {
	Name        string            `yaml:"name"`
	Image       string            `yaml:"image"`
	Ports       []int             `yaml:"ports"`
	Environment map[string]string `yaml:"environment"`
	Volumes     map[string]string `yaml:"volumes"` // logical volume -> mount point
	Build       *Build            `yaml:"build"`
}

type LogMonitoring struct {
	LogFile        string  `yaml:"log_file"`
	SuccessPattern string  `yaml:"success_pattern"`
	CheckInterval  float64 `yaml:"check_interval"` // seconds
}

type DummyService struct {
	Name          string            `yaml:"name"`
	Image         string            `yaml:"image"`
	MinInstances  int               `yaml:"min_instances"`
	MaxInstances  int               `yaml:"max_instances"`
	PortRange     PortRange         `yaml:"port_range"`
	ContainerPort int               `yaml:"container_port"`
	Environment   map[string]string `yaml:"environment"`
	Volumes       map[string]string `yaml:"volumes"`
	LogMonitoring LogMonitoring     `yaml:"log_monitoring"`
	Build         *Build            `yaml:"build"`
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Err: fmt.Errorf("configuration file '%s' not found: %w", path, err)}
	}
	return Parse(data)
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := new(Config)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &domain.ConfigError{Err: errors.New("configuration file is empty")}
		}
		return nil, &domain.ConfigError{Err: fmt.Errorf("error parsing configuration file: %w", err)}
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetDefaults fills in optional settings left empty.
func (c *Config) SetDefaults() {
	if c.PasswordListFile == "" {
		c.PasswordListFile = DefaultPasswordListFile
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogFile
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RotationGracePeriod == nil {
		grace := float64(DefaultRotationGracePeriod)
		c.RotationGracePeriod = &grace
	}
}

// Validate checks the configuration and returns the first problem found as
// a *domain.ConfigError.
func (c *Config) Validate() error {
	fail := func(field, format string, args ...any) error {
		return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
	}

	if c.NetworkName == "" {
		return fail("network_name", "is required")
	}
	if c.PasswordListURL == "" {
		return fail("password_list_url", "is required")
	}
	if err := c.ProductionPortRange.validate("production_port_range"); err != nil {
		return err
	}
	if c.ProductionUpdateInterval <= 0 {
		return fail("production_update_interval", "must be positive")
	}
	if c.DummyRecycleInterval <= 0 {
		return fail("dummy_recycle_interval", "must be positive")
	}
	if c.PollInterval <= 0 {
		return fail("poll_interval", "must be positive")
	}
	if *c.RotationGracePeriod < 0 {
		return fail("rotation_grace_period", "must not be negative")
	}
	for name, hostPath := range c.Volumes {
		if hostPath == "" {
			return fail("volumes."+name, "host path is required")
		}
	}

	names := map[string]bool{}
	for i, s := range c.MainServices {
		field := fmt.Sprintf("main_services[%d]", i)
		if s.Name == "" {
			return fail(field+".name", "is required")
		}
		if names[s.Name] {
			return fail(field+".name", "duplicate service %q", s.Name)
		}
		names[s.Name] = true
		if s.Image == "" {
			return fail(field+".image", "is required")
		}
		for _, p := range s.Ports {
			if p < 1 || p > 65535 {
				return fail(field+".ports", "invalid port %d", p)
			}
		}
		if err := c.checkVolumes(field, s.Volumes); err != nil {
			return err
		}
		if err := s.Build.validate(field + ".build"); err != nil {
			return err
		}
	}

	for i, s := range c.DummyServices {
		field := fmt.Sprintf("dummy_services[%d]", i)
		if s.Name == "" {
			return fail(field+".name", "is required")
		}
		if names[s.Name] {
			return fail(field+".name", "duplicate service %q", s.Name)
		}
		names[s.Name] = true
		if s.Image == "" {
			return fail(field+".image", "is required")
		}
		if s.MinInstances < 0 || s.MaxInstances < s.MinInstances {
			return fail(field, "instances must satisfy 0 <= min_instances (%d) <= max_instances (%d)", s.MinInstances, s.MaxInstances)
		}
		if err := s.PortRange.validate(field + ".port_range"); err != nil {
			return err
		}
		if s.ContainerPort < 0 || s.ContainerPort > 65535 {
			return fail(field+".container_port", "invalid port %d", s.ContainerPort)
		}
		if err := c.checkVolumes(field, s.Volumes); err != nil {
			return err
		}
		if err := s.LogMonitoring.validate(field + ".log_monitoring"); err != nil {
			return err
		}
		if err := s.Build.validate(field + ".build"); err != nil {
			return err
		}
	}
	return nil
}

func (r PortRange) validate(field string) error {
	if r.Start < 1 || r.End > 65535 || r.Start > r.End {
		return &domain.ConfigError{Field: field, Err: fmt.Errorf("invalid range %d-%d", r.Start, r.End)}
	}
	return nil
}

func (b *Build) validate(field string) error {
	if b != nil && b.RepoURL == "" {
		return &domain.ConfigError{Field: field + ".repo_url", Err: errors.New("is required")}
	}
	return nil
}

func (m LogMonitoring) validate(field string) error {
	if m.CheckInterval < 0 {
		return &domain.ConfigError{Field: field + ".check_interval", Err: errors.New("must not be negative")}
	}
	if m.SuccessPattern == "" {
		return nil
	}
	re, err := regexp.Compile(m.SuccessPattern)
	if err != nil {
		return &domain.ConfigError{Field: field + ".success_pattern", Err: err}
	}
	if re.NumSubexp() < 2 {
		return &domain.ConfigError{
			Field: field + ".success_pattern",
			Err:   fmt.Errorf("needs two capture groups (identity, source), has %d", re.NumSubexp()),
		}
	}
	return nil
}

func (c *Config) checkVolumes(field string, volumes map[string]string) error {
	for name, mount := range volumes {
		if _, ok := c.Volumes[name]; !ok {
			return &domain.ConfigError{Field: field + ".volumes", Err: fmt.Errorf("unknown volume %q", name)}
		}
		if mount == "" {
			return &domain.ConfigError{Field: field + ".volumes." + name, Err: errors.New("mount point is required")}
		}
	}
	return nil
}

// ProductionInterval is the production rotation interval.
func (c *Config) ProductionInterval() time.Duration {
	return minutes(c.ProductionUpdateInterval)
}

// RecycleInterval is the decoy recycle interval.
func (c *Config) RecycleInterval() time.Duration {
	return minutes(c.DummyRecycleInterval)
}

// Poll is the control loop tick period.
func (c *Config) Poll() time.Duration {
	return seconds(c.PollInterval)
}

// GracePeriod is the blind wait between launching a replacement and
// tearing down the container it replaces.
func (c *Config) GracePeriod() time.Duration {
	if c.RotationGracePeriod == nil {
		return DefaultRotationGracePeriod * time.Second
	}
	return seconds(*c.RotationGracePeriod)
}

// ProductionRange is the host port range for production services.
func (c *Config) ProductionRange() domain.PortRange {
	return domain.PortRange(c.ProductionPortRange)
}

// Templates converts the configured services into domain templates,
// resolving logical volumes into bind mounts.
func (c *Config) Templates() ([]domain.ServiceTemplate, []domain.DecoyTemplate) {
	services := make([]domain.ServiceTemplate, 0, len(c.MainServices))
	for _, s := range c.MainServices {
		services = append(services, domain.ServiceTemplate{
			Name:        s.Name,
			Image:       s.Image,
			Ports:       s.Ports,
			Environment: s.Environment,
			Volumes:     c.binds(s.Volumes),
			Build:       s.Build.source(),
		})
	}

	decoys := make([]domain.DecoyTemplate, 0, len(c.DummyServices))
	for _, s := range c.DummyServices {
		mon := domain.LogMonitoring{
			LogFile:       s.LogMonitoring.LogFile,
			CheckInterval: seconds(s.LogMonitoring.CheckInterval),
		}
		if s.LogMonitoring.SuccessPattern != "" {
			// validated by Validate
			mon.SuccessPattern = regexp.MustCompile(s.LogMonitoring.SuccessPattern)
		}
		decoys = append(decoys, domain.DecoyTemplate{
			Name:          s.Name,
			Image:         s.Image,
			MinInstances:  s.MinInstances,
			MaxInstances:  s.MaxInstances,
			PortRange:     domain.PortRange(s.PortRange),
			ContainerPort: s.ContainerPort,
			Environment:   s.Environment,
			Volumes:       c.binds(s.Volumes),
			Monitoring:    mon,
			Build:         s.Build.source(),
		})
	}
	return services, decoys
}

// binds renders host:mount:rw bind specs in a stable order.
func (c *Config) binds(volumes map[string]string) []string {
	binds := make([]string, 0, len(volumes))
	for name, mount := range volumes {
		binds = append(binds, fmt.Sprintf("%s:%s:rw", c.Volumes[name], mount))
	}
	sort.Strings(binds)
	return binds
}

func (b *Build) source() *domain.BuildSource {
	if b == nil {
		return nil
	}
	return &domain.BuildSource{RepoURL: b.RepoURL, Dockerfile: b.Dockerfile}
}

func minutes(v float64) time.Duration {
	return time.Duration(v * float64(time.Minute))
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
