package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"

	libos "github.com/stagegate/stagegate/internal/os"
)

const redacted = "*** redacted ***"

// Credentials is resolved secret material. It exists only in memory at
// invocation time: it is handed to a provider's execution context and is
// never written into a provider spec, a MetricResult or any other persisted
// record. Both String and MarshalJSON redact the value so that accidental
// serialization cannot leak it.
type Credentials struct {
	value string
}

// New returns Credentials wrapping the provided secret value.
func New(value string) Credentials {
	return Credentials{value: value}
}

// Reveal returns the secret value. Callers are responsible for confining the
// value to the execution context of a check.
func (c Credentials) Reveal() string {
	return c.value
}

// String implements fmt.Stringer, redacting the secret value.
func (c Credentials) String() string {
	return redacted
}

// GoString implements fmt.GoStringer, redacting the secret value from %#v
// formatting as well.
func (c Credentials) GoString() string {
	return redacted
}

// MarshalJSON implements json.Marshaler, redacting the secret value.
func (c Credentials) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", redacted)), nil
}

// Database is an interface for a credential store. Implementations resolve
// opaque credential names into secret material on behalf of providers.
type Database interface {
	Get(ctx context.Context, name string) (Credentials, bool, error)
}

// EnvDatabaseConfig represents configuration for an environment-variable
// backed implementation of the Database interface.
type EnvDatabaseConfig struct {
	Prefix string `envconfig:"CREDENTIAL_ENV_PREFIX" default:"STAGEGATE_CREDENTIAL_"`
}

func EnvDatabaseConfigFromEnv() EnvDatabaseConfig {
	cfg := EnvDatabaseConfig{}
	envconfig.MustProcess("", &cfg)
	return cfg
}

// envDatabase resolves credential names against the process environment: the
// credential named "prom-token" resolves from STAGEGATE_CREDENTIAL_PROM_TOKEN.
// This is the hosting environment's injection boundary; the controller never
// sees where the values originally came from.
type envDatabase struct {
	cfg EnvDatabaseConfig
}

// NewEnvDatabase initializes and returns an implementation of the Database
// interface that resolves credentials from the process environment.
func NewEnvDatabase(cfg EnvDatabaseConfig) Database {
	return &envDatabase{cfg: cfg}
}

func (e *envDatabase) Get(
	_ context.Context,
	name string,
) (Credentials, bool, error) {
	if name == "" {
		return Credentials{}, false, fmt.Errorf("empty credential name")
	}
	key := e.cfg.Prefix + sanitizeName(name)
	value := libos.GetEnv(key, "")
	if value == "" {
		return Credentials{}, false, nil
	}
	return New(value), true, nil
}

func sanitizeName(name string) string {
	name = strings.ToUpper(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// StaticDatabase is a fixed, in-memory implementation of the Database
// interface, primarily useful in tests.
type StaticDatabase map[string]string

func (s StaticDatabase) Get(
	_ context.Context,
	name string,
) (Credentials, bool, error) {
	value, ok := s[name]
	if !ok {
		return Credentials{}, false, nil
	}
	return New(value), true, nil
}
