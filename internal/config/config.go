package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"pfmt/internal/auth"
)

// Config models pfmt.yml.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Actor     ActorConfig     `yaml:"actor"`
	Storage   StorageConfig   `yaml:"storage"`
	Wizard    WizardConfig    `yaml:"wizard"`
	Server    ServerConfig    `yaml:"server"`
	Directory DirectoryConfig `yaml:"directory"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// ActorConfig is the identity the CLI acts as. Token, when set, is sent as
// a bearer token instead of the identity headers.
type ActorConfig struct {
	ID    string `yaml:"id"`
	Role  string `yaml:"role"`
	Token string `yaml:"token"`
}

type StorageConfig struct {
	Backend   string `yaml:"backend" validate:"required,oneof=sqlite memory redis"`
	Scope     string `yaml:"scope"`
	RedisURL  string `yaml:"redis_url" validate:"required_if=Backend redis"`
	KeyPrefix string `yaml:"key_prefix"`
}

type WizardConfig struct {
	AutoSave         bool          `yaml:"auto_save"`
	AutoSaveInterval time.Duration `yaml:"auto_save_interval" validate:"gte=0"`
	OnlyWhenDirty    bool          `yaml:"only_when_dirty"`
	StateTTL         time.Duration `yaml:"state_ttl" validate:"gte=0"`
	MaxDrafts        int           `yaml:"max_drafts" validate:"gte=0,lte=100"`
	CleanupMaxAge    time.Duration `yaml:"cleanup_max_age" validate:"gte=0"`
}

type ServerConfig struct {
	Addr             string `yaml:"addr" validate:"required"`
	BasePath         string `yaml:"base_path"`
	JWTSecret        string `yaml:"jwt_secret"`
	AllowHeaderActor bool   `yaml:"allow_header_actor"`
}

// DirectoryConfig seeds the users and vendors the reference service offers
// for assignment and configuration.
type DirectoryConfig struct {
	Users   []DirectoryUser   `yaml:"users" validate:"dive"`
	Vendors []DirectoryVendor `yaml:"vendors" validate:"dive"`
}

type DirectoryUser struct {
	ID    string `yaml:"id" validate:"required"`
	Name  string `yaml:"name" validate:"required"`
	Email string `yaml:"email" validate:"omitempty,email"`
	Role  string `yaml:"role" validate:"required"`
}

type DirectoryVendor struct {
	ID       string `yaml:"id" validate:"required"`
	Name     string `yaml:"name" validate:"required"`
	Category string `yaml:"category"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config.%s failed %s validation", trimRoot(fe.Namespace()), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Actor.Role != "" && !auth.IsValidRole(c.Actor.Role) {
		return fmt.Errorf("config.actor.role %q is not a known role", c.Actor.Role)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	seen := map[string]bool{}
	for _, u := range c.Directory.Users {
		if !auth.IsValidRole(u.Role) {
			return fmt.Errorf("directory user %s has unknown role %s", u.ID, u.Role)
		}
		if seen[u.ID] {
			return fmt.Errorf("directory user %s is listed twice", u.ID)
		}
		seen[u.ID] = true
	}
	seen = map[string]bool{}
	for _, v := range c.Directory.Vendors {
		if seen[v.ID] {
			return fmt.Errorf("directory vendor %s is listed twice", v.ID)
		}
		seen[v.ID] = true
	}
	return nil
}

func trimRoot(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pfmt config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pfmt.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults, then
// validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `api:
  base_url: http://127.0.0.1:8080
  timeout: 30s

actor:
  id: ""
  role: ""

storage:
  backend: sqlite
  scope: default
  redis_url: ""
  key_prefix: pfmt

wizard:
  auto_save: true
  auto_save_interval: 30s
  only_when_dirty: true
  state_ttl: 2h
  max_drafts: 10
  cleanup_max_age: 168h

server:
  addr: 127.0.0.1:8080
  base_path: /api
  jwt_secret: ""
  allow_header_actor: true

directory:
  users:
    - {id: pmi-1, name: Pat Initiator, email: pat@example.org, role: pmi}
    - {id: dir-1, name: Dana Director, email: dana@example.org, role: director}
    - {id: pm-1, name: Morgan Manager, email: morgan@example.org, role: pm}
    - {id: spm-1, name: Sam Senior, email: sam@example.org, role: spm}
    - {id: admin, name: Administrator, role: admin}
  vendors:
    - {id: v-arch, name: Northline Architects, category: design}
    - {id: v-build, name: Harbor Construction, category: construction}
`
