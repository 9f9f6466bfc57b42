package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// Config is the declarative counterpart of the builder options, loadable
// from TOML, YAML or JSON files and overridable from environment
// variables. Loggers, executors, indexes and main-thread adapters are
// code-level concerns and stay on the builder.
type Config struct {
	// LogSubscriberExceptions controls logging of handler failures
	LogSubscriberExceptions bool `json:"logSubscriberExceptions" yaml:"logSubscriberExceptions" toml:"logSubscriberExceptions" env:"LOG_SUBSCRIBER_EXCEPTIONS"`

	// LogNoSubscriberEvents controls logging of unmatched events
	LogNoSubscriberEvents bool `json:"logNoSubscriberEvents" yaml:"logNoSubscriberEvents" toml:"logNoSubscriberEvents" env:"LOG_NO_SUBSCRIBER_EVENTS"`

	// SendSubscriberExceptionEvent controls posting SubscriberExceptionEvent on handler failure
	SendSubscriberExceptionEvent bool `json:"sendSubscriberExceptionEvent" yaml:"sendSubscriberExceptionEvent" toml:"sendSubscriberExceptionEvent" env:"SEND_SUBSCRIBER_EXCEPTION_EVENT"`

	// SendNoSubscriberEvent controls posting NoSubscriberEvent on unmatched events
	SendNoSubscriberEvent bool `json:"sendNoSubscriberEvent" yaml:"sendNoSubscriberEvent" toml:"sendNoSubscriberEvent" env:"SEND_NO_SUBSCRIBER_EVENT"`

	// ThrowSubscriberException re-raises inline handler failures through Post
	ThrowSubscriberException bool `json:"throwSubscriberException" yaml:"throwSubscriberException" toml:"throwSubscriberException" env:"THROW_SUBSCRIBER_EXCEPTION"`

	// EventInheritance delivers events to handlers of embedded and interface types
	EventInheritance bool `json:"eventInheritance" yaml:"eventInheritance" toml:"eventInheritance" env:"EVENT_INHERITANCE"`

	// IgnoreIndexes skips subscriber indexes and always uses reflection
	IgnoreIndexes bool `json:"ignoreIndexes" yaml:"ignoreIndexes" toml:"ignoreIndexes" env:"IGNORE_INDEXES"`

	// StrictMethodVerification fails registration on mis-shaped handler methods
	StrictMethodVerification bool `json:"strictMethodVerification" yaml:"strictMethodVerification" toml:"strictMethodVerification" env:"STRICT_METHOD_VERIFICATION"`

	// HandlerMethodPrefix is the method-name marker for reflective discovery
	HandlerMethodPrefix string `json:"handlerMethodPrefix" yaml:"handlerMethodPrefix" toml:"handlerMethodPrefix" env:"HANDLER_METHOD_PREFIX"`

	// MainThreadSliceMillis is the cooperative main-thread time slice in milliseconds
	MainThreadSliceMillis int `json:"mainThreadSliceMillis" yaml:"mainThreadSliceMillis" toml:"mainThreadSliceMillis" env:"MAIN_THREAD_SLICE_MILLIS"`

	// BackgroundPollTimeoutMillis is the background drainer idle timeout in milliseconds
	BackgroundPollTimeoutMillis int `json:"backgroundPollTimeoutMillis" yaml:"backgroundPollTimeoutMillis" toml:"backgroundPollTimeoutMillis" env:"BACKGROUND_POLL_TIMEOUT_MILLIS"`
}

// DefaultConfig returns a Config mirroring the builder defaults.
func DefaultConfig() *Config {
	return &Config{
		LogSubscriberExceptions:      true,
		LogNoSubscriberEvents:        true,
		SendSubscriberExceptionEvent: true,
		SendNoSubscriberEvent:        true,
		EventInheritance:             true,
		HandlerMethodPrefix:          DefaultHandlerMethodPrefix,
		MainThreadSliceMillis:        int(defaultMainThreadSlice / time.Millisecond),
		BackgroundPollTimeoutMillis:  int(defaultBackgroundPollTimeout / time.Millisecond),
	}
}

// LoadConfig reads a configuration file on top of the defaults. The
// format is chosen by file extension: .toml, .yaml/.yml or .json.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse toml config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConfigFormat, filepath.Ext(path))
	}
	return cfg, nil
}

// FeedEnv overrides config fields from environment variables. Each field
// with an env tag is looked up as PREFIX_TAG (or just TAG with an empty
// prefix) and, when present, converted to the field's type.
func (c *Config) FeedEnv(prefix string) error {
	rv := reflect.ValueOf(c).Elem()
	rt := rv.Type()

	prefix = strings.ToUpper(prefix)
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		envTag, exists := rt.Field(i).Tag.Lookup("env")
		if !exists {
			continue
		}
		envName := strings.ToUpper(envTag)
		if prefix != "" {
			envName = prefix + "_" + envName
		}
		envValue := os.Getenv(envName)
		if envValue == "" {
			continue
		}
		converted, err := cast.FromType(envValue, field.Type())
		if err != nil {
			return fmt.Errorf("env %s: cannot convert value to type %v: %w", envName, field.Type(), err)
		}
		field.Set(reflect.ValueOf(converted))
	}
	return nil
}

// Options translates the config into builder options:
//
//	cfg, _ := eventbus.LoadConfig("eventbus.toml")
//	bus, _ := eventbus.New(cfg.Options()...)
func (c *Config) Options() []Option {
	return []Option{
		WithLogSubscriberExceptions(c.LogSubscriberExceptions),
		WithLogNoSubscriberEvents(c.LogNoSubscriberEvents),
		WithSendSubscriberExceptionEvent(c.SendSubscriberExceptionEvent),
		WithSendNoSubscriberEvent(c.SendNoSubscriberEvent),
		WithThrowSubscriberException(c.ThrowSubscriberException),
		WithEventInheritance(c.EventInheritance),
		WithIgnoreIndexes(c.IgnoreIndexes),
		WithStrictMethodVerification(c.StrictMethodVerification),
		WithHandlerMethodPrefix(c.HandlerMethodPrefix),
		WithMainThreadSlice(time.Duration(c.MainThreadSliceMillis) * time.Millisecond),
		WithBackgroundPollTimeout(time.Duration(c.BackgroundPollTimeoutMillis) * time.Millisecond),
	}
}
