package conf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServiceNowTable = "change_request"
	defaultMetricsAddr     = "127.0.0.1:9224"
	defaultCheckInterval   = 60 * time.Second
	defaultRequestTimeout  = 10 * time.Second
)

var (
	validate *validator.Validate = validator.New()
)

type Config struct {
	Adapters map[string]AdapterConfig `json:"adapters" yaml:"adapters" validate:"required,min=1"`

	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval" validate:"gte=1s"`
	NotifyUrl     string        `json:"notify_url" yaml:"notify_url" validate:"omitempty,url"`

	MetricsFile string `json:"metrics_file" yaml:"metrics_file" validate:"excluded_with=MetricsAddr,omitempty,filepath"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr" validate:"excluded_with=MetricsFile,omitempty,hostname_port"`

	LogFile       string `json:"log_file" yaml:"log_file" validate:"omitempty,filepath"`
	LogMaxSizeMb  int    `json:"log_max_size_mb" yaml:"log_max_size_mb" validate:"gte=0"`
	LogMaxBackups int    `json:"log_max_backups" yaml:"log_max_backups" validate:"gte=0"`
	LogMaxAgeDays int    `json:"log_max_age_days" yaml:"log_max_age_days" validate:"gte=0"`
}

func (c *Config) Validate() error {
	var errs error
	if err := validate.Struct(c); err != nil {
		errs = multierr.Append(errs, err)
	}

	seenUrls := make(map[string]string, len(c.Adapters))
	for id, adapter := range c.Adapters {
		if strings.TrimSpace(id) == "" {
			errs = multierr.Append(errs, errors.New("empty adapter id"))
		}

		if err := adapter.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("adapter %q: %w", id, err))
		}

		key := strings.TrimSuffix(adapter.Url, "/") + "|" + adapter.ServiceNowTable
		if other, found := seenUrls[key]; found {
			errs = multierr.Append(errs, fmt.Errorf("adapters %q and %q point to the same table", other, id))
		}
		seenUrls[key] = id
	}

	return errs
}

// AdapterConfig holds the properties a single adapter instance is constructed from.
type AdapterConfig struct {
	Url             string        `json:"url" yaml:"url" validate:"required,url"`
	Auth            AuthConfig    `json:"auth" yaml:"auth"`
	ServiceNowTable string        `json:"service_now_table" yaml:"service_now_table" validate:"required,excludesall=/?#&"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout" validate:"gte=0s"`

	ProbeConfig map[string]any `json:"probe" yaml:"probe"`
}

func (conf *AdapterConfig) Validate() error {
	var errs error
	if err := validate.Struct(conf); err != nil {
		errs = multierr.Append(errs, err)
	}

	if conf.ProbeConfig != nil {
		if _, found := conf.ProbeConfig["type"]; !found {
			errs = multierr.Append(errs, errors.New("probe configured without type"))
		}
	}

	return errs
}

func (conf *AdapterConfig) UnmarshalYAML(node *yaml.Node) error {
	type Alias AdapterConfig // Create an alias to avoid recursion during unmarshalling

	tmp := &Alias{
		ServiceNowTable: DefaultServiceNowTable,
		Timeout:         defaultRequestTimeout,
	}

	if err := node.Decode(&tmp); err != nil {
		return err
	}

	*conf = AdapterConfig(*tmp)
	return nil
}

type AuthConfig struct {
	Username     string `json:"username" yaml:"username" validate:"required"`
	Password     string `json:"password" yaml:"password" validate:"required_without=PasswordFile,excluded_with=PasswordFile"`
	PasswordFile string `json:"password_file" yaml:"password_file" validate:"omitempty,filepath"`
}

// ResolvePassword returns the inline password or the trimmed content of PasswordFile.
func (a AuthConfig) ResolvePassword() (string, error) {
	if a.PasswordFile == "" {
		return a.Password, nil
	}

	data, err := os.ReadFile(a.PasswordFile)
	if err != nil {
		return "", fmt.Errorf("could not read password file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func ReadFromFile(filePath string) (*Config, error) {
	conf := Config{
		MetricsAddr:   defaultMetricsAddr,
		CheckInterval: defaultCheckInterval,
		LogMaxSizeMb:  100,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, err
	}

	// a metrics file replaces the default listener
	if conf.MetricsFile != "" && conf.MetricsAddr == defaultMetricsAddr {
		conf.MetricsAddr = ""
	}

	return &conf, nil
}
