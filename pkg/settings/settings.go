package settings

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/velocity/pkg/kv"
	"github.com/huandu/go-clone"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL   = "http://localhost:8000"
	DefaultTimeout   = 60 * time.Second
	DefaultUserAgent = "velocity"
)

// Configuration keys, shared by flags, config files and VELOCITY_* variables.
const (
	KeyBaseURL            = "base-url"
	KeyTimeout            = "timeout"
	KeyAuthRequired       = "auth-required"
	KeyAllowHTTP          = "allow-http"
	KeyAllowLocalNetworks = "allow-local-networks"
	KeyRememberStore      = "remember-store"
	KeyRememberPath       = "remember-path"
	KeyStatePath          = "state-path"
	KeyUserAgent          = "user-agent"
)

type ClientSettings struct {
	BaseURL string         `yaml:"base_url,omitempty"`
	Timeout *time.Duration `yaml:"timeout,omitempty"`
	// AuthRequired refuses calls locally while no credential is present.
	AuthRequired       bool `yaml:"auth_required,omitempty"`
	AllowHTTP          bool `yaml:"allow_http,omitempty"`
	AllowLocalNetworks bool `yaml:"allow_local_networks,omitempty"`

	// RememberStore selects the backend of the remembered credential tier.
	RememberStore kv.Backend `yaml:"remember_store,omitempty"`
	RememberPath  string     `yaml:"remember_path,omitempty"`
	// StatePath holds the selected mode; empty keeps it in memory.
	StatePath string `yaml:"state_path,omitempty"`
	UserAgent string `yaml:"user_agent,omitempty"`
}

func NewClientSettings() *ClientSettings {
	timeout := DefaultTimeout
	return &ClientSettings{
		BaseURL:       DefaultBaseURL,
		Timeout:       &timeout,
		RememberStore: kv.BackendMemory,
		UserAgent:     DefaultUserAgent,
	}
}

// UnmarshalYAML accepts the timeout as a number of seconds or a duration string.
func (cs *ClientSettings) UnmarshalYAML(value *yaml.Node) error {
	type Alias ClientSettings
	if value.Kind != yaml.MappingNode {
		return value.Decode((*Alias)(cs))
	}

	rest := *value
	rest.Content = nil
	var timeout *yaml.Node
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "timeout" {
			timeout = value.Content[i+1]
			continue
		}
		rest.Content = append(rest.Content, value.Content[i], value.Content[i+1])
	}
	if err := rest.Decode((*Alias)(cs)); err != nil {
		return err
	}

	if timeout != nil {
		var raw interface{}
		if err := timeout.Decode(&raw); err != nil {
			return err
		}
		d, err := parseTimeout(raw)
		if err != nil {
			return err
		}
		cs.Timeout = &d
	}
	return nil
}

func (cs *ClientSettings) Clone() *ClientSettings {
	return clone.Clone(cs).(*ClientSettings)
}

// TimeoutOrDefault returns the request timeout, DefaultTimeout when unset.
func (cs *ClientSettings) TimeoutOrDefault() time.Duration {
	if cs.Timeout == nil || *cs.Timeout <= 0 {
		return DefaultTimeout
	}
	return *cs.Timeout
}

func (cs *ClientSettings) Validate() error {
	if strings.TrimSpace(cs.BaseURL) == "" {
		return errors.New("base url is required")
	}
	if cs.RememberStore != kv.BackendMemory && cs.RememberPath == "" {
		return errors.Errorf("remember store %q needs a path", cs.RememberStore)
	}
	return nil
}

// LoadFile reads settings from a YAML file on top of the defaults.
func LoadFile(path string) (*ClientSettings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read settings file")
	}
	ret := NewClientSettings()
	if err := yaml.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrapf(err, "could not parse settings file %s", path)
	}
	return ret, nil
}

// EnvKeyReplacer maps configuration keys to environment variable suffixes.
var EnvKeyReplacer = strings.NewReplacer("-", "_")

// FromViper builds settings from the keys above, falling back to the
// defaults for anything viper does not know.
func FromViper(v *viper.Viper) (*ClientSettings, error) {
	ret := NewClientSettings()

	if s := strings.TrimSpace(v.GetString(KeyBaseURL)); s != "" {
		ret.BaseURL = s
	}
	if v.IsSet(KeyTimeout) {
		d, err := parseTimeout(v.Get(KeyTimeout))
		if err != nil {
			return nil, err
		}
		ret.Timeout = &d
	}
	ret.AuthRequired = v.GetBool(KeyAuthRequired)
	ret.AllowHTTP = v.GetBool(KeyAllowHTTP)
	ret.AllowLocalNetworks = v.GetBool(KeyAllowLocalNetworks)

	backend, err := kv.ParseBackend(v.GetString(KeyRememberStore))
	if err != nil {
		return nil, err
	}
	ret.RememberStore = backend
	ret.RememberPath = v.GetString(KeyRememberPath)
	ret.StatePath = v.GetString(KeyStatePath)
	if ua := v.GetString(KeyUserAgent); ua != "" {
		ret.UserAgent = ua
	}

	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "could not load %s", p)
		}
	}
	return nil
}

func parseTimeout(v interface{}) (time.Duration, error) {
	switch t := v.(type) {
	case int:
		return time.Duration(t) * time.Second, nil
	case int64:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	case time.Duration:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		if secs, err := strconv.Atoi(s); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		return 0, errors.Errorf("invalid timeout %q", t)
	default:
		return 0, errors.Errorf("invalid timeout %v", v)
	}
}
