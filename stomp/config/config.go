// Package config loads client settings from a YAML file and STOMP_*
// environment variables and turns them into stomp package values.
package config

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Thejuampi/stomp-client-go/stomp"
)

// EnvPrefix prefixes every environment variable, e.g. STOMP_LOGIN.
const EnvPrefix = "STOMP"

// Reconnect strategy names.
const (
	StrategyFixed       = "fixed"
	StrategyExponential = "exponential"
)

// Config represents the client configuration
type Config struct {
	Brokers  []string `yaml:"brokers" envconfig:"BROKERS"`
	Login    string   `yaml:"login" envconfig:"LOGIN"`
	Passcode string   `yaml:"passcode" envconfig:"PASSCODE"`
	Host     string   `yaml:"host" envconfig:"HOST"`
	ClientID string   `yaml:"client_id" envconfig:"CLIENT_ID"`
	Versions []string `yaml:"versions" envconfig:"VERSIONS"`

	// Dialect is generic, activemq, apollo, rabbitmq or openmq. Empty
	// detects the broker from CONNECTED.
	Dialect string `yaml:"dialect" envconfig:"DIALECT"`

	DialTimeout    time.Duration `yaml:"dial_timeout" envconfig:"DIAL_TIMEOUT"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
	ReceiptTimeout time.Duration `yaml:"receipt_timeout" envconfig:"RECEIPT_TIMEOUT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`

	Heartbeat HeartbeatConfig `yaml:"heartbeat" envconfig:"HEARTBEAT"`
	TLS       TLSConfig       `yaml:"tls" envconfig:"TLS"`
	Reconnect ReconnectConfig `yaml:"reconnect" envconfig:"RECONNECT"`
	Logger    LoggerConfig    `yaml:"logger" envconfig:"LOG"`
}

// HeartbeatConfig represents the heart-beat proposal
type HeartbeatConfig struct {
	Send    time.Duration `yaml:"send" envconfig:"SEND"`
	Receive time.Duration `yaml:"receive" envconfig:"RECEIVE"`
	Grace   float64       `yaml:"grace" envconfig:"GRACE"`
}

// TLSConfig represents settings for ssl:// and wss:// brokers
type TLSConfig struct {
	ServerName         string `yaml:"server_name" envconfig:"SERVER_NAME"`
	CAFile             string `yaml:"ca_file" envconfig:"CA_FILE"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" envconfig:"INSECURE_SKIP_VERIFY"`
}

// ReconnectConfig represents the reconnect delay strategy
type ReconnectConfig struct {
	Strategy    string        `yaml:"strategy" envconfig:"STRATEGY"`
	Delay       time.Duration `yaml:"delay" envconfig:"DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
	Factor      float64       `yaml:"factor" envconfig:"FACTOR"`
	MaxAttempts uint32        `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// LoggerConfig represents logger configuration
type LoggerConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"` // json or text
}

// Default returns the configuration used when neither file nor environment
// set a value.
func Default() *Config {
	return &Config{
		Brokers:        []string{"tcp://localhost:" + stomp.DefaultPort},
		DialTimeout:    30 * time.Second,
		ConnectTimeout: stomp.DefaultConnectTimeout,
		Heartbeat: HeartbeatConfig{
			Grace: stomp.DefaultHeartbeatGrace,
		},
		Reconnect: ReconnectConfig{
			Strategy: StrategyFixed,
			Delay:    time.Second,
			MaxDelay: 30 * time.Second,
			Factor:   2,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads defaults, then the YAML file at path (when not empty), then
// environment variables. Environment variables take precedence over the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to load config from file")
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process environment variables")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	return decoder.Decode(cfg)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one broker URI is required")
	}
	for _, broker := range c.Brokers {
		if strings.TrimSpace(broker) == "" {
			return errors.New("broker URIs must not be empty")
		}
	}

	for _, version := range c.Versions {
		switch version {
		case stomp.Version10, stomp.Version11, stomp.Version12:
		default:
			return errors.Errorf("unsupported protocol version %q", version)
		}
	}

	if _, err := stomp.DialectByName(c.Dialect); err != nil {
		return err
	}

	if c.Heartbeat.Send < 0 || c.Heartbeat.Receive < 0 {
		return errors.New("heartbeat intervals must not be negative")
	}
	if c.Heartbeat.Grace != 0 && c.Heartbeat.Grace < 1 {
		return errors.Errorf("heartbeat grace must be at least 1, got %v", c.Heartbeat.Grace)
	}

	switch c.Reconnect.Strategy {
	case StrategyFixed, StrategyExponential:
	default:
		return errors.Errorf("unknown reconnect strategy %q", c.Reconnect.Strategy)
	}
	if c.Reconnect.Delay < 0 || c.Reconnect.MaxDelay < 0 {
		return errors.New("reconnect delays must not be negative")
	}

	if _, err := logrus.ParseLevel(c.Logger.Level); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	switch c.Logger.Format {
	case "", "text", "json":
	default:
		return errors.Errorf("unknown log format %q", c.Logger.Format)
	}

	return nil
}

// SessionConfig builds the stomp.Config for one session.
func (c *Config) SessionConfig(log *logrus.Entry, metrics *stomp.Metrics) (stomp.Config, error) {
	dialect, err := stomp.DialectByName(c.Dialect)
	if err != nil {
		return stomp.Config{}, err
	}
	if c.Dialect == "" {
		dialect = nil
	}

	return stomp.Config{
		Login:    c.Login,
		Passcode: c.Passcode,
		Versions: c.Versions,
		Host:     c.Host,
		ClientID: c.ClientID,
		Dialect:  dialect,
		Heartbeat: stomp.HeartbeatIntervals{
			Send:    c.Heartbeat.Send,
			Receive: c.Heartbeat.Receive,
		},
		HeartbeatGrace: c.Heartbeat.Grace,
		ConnectTimeout: c.ConnectTimeout,
		ReceiptTimeout: c.ReceiptTimeout,
		ReadTimeout:    c.ReadTimeout,
		Log:            log,
		Metrics:        metrics,
	}, nil
}

// DialOptions builds the transport options.
func (c *Config) DialOptions(log *logrus.Entry) (stomp.DialOptions, error) {
	options := stomp.DialOptions{Timeout: c.DialTimeout, Log: log}
	if c.TLS.ServerName == "" && c.TLS.CAFile == "" && !c.TLS.InsecureSkipVerify {
		return options, nil
	}

	tlsConfig := &tls.Config{
		ServerName:         c.TLS.ServerName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}
	if c.TLS.CAFile != "" {
		pem, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return options, errors.Wrap(err, "failed to read CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return options, errors.Errorf("no certificates found in %s", c.TLS.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	options.TLSConfig = tlsConfig
	return options, nil
}

// ReconnectStrategy builds the configured delay strategy.
func (c *Config) ReconnectStrategy() stomp.ReconnectDelayStrategy {
	if c.Reconnect.Strategy == StrategyExponential {
		return stomp.NewExponentialDelayStrategy(c.Reconnect.Delay, c.Reconnect.MaxDelay, c.Reconnect.Factor).
			SetMaxAttempts(c.Reconnect.MaxAttempts)
	}
	return stomp.NewFixedDelayStrategy(c.Reconnect.Delay)
}

// NewReconnector wires sessions, dial options and the reconnect strategy
// over every configured broker.
func (c *Config) NewReconnector(log *logrus.Entry, metrics *stomp.Metrics) (*stomp.Reconnector, error) {
	sessionConfig, err := c.SessionConfig(log, metrics)
	if err != nil {
		return nil, err
	}
	dialOptions, err := c.DialOptions(log)
	if err != nil {
		return nil, err
	}

	dial := func(ctx context.Context, uri string) (stomp.Transport, error) {
		connection, err := stomp.Dial(ctx, uri, dialOptions)
		if err != nil {
			return nil, err
		}
		return connection, nil
	}

	return stomp.NewReconnector(sessionConfig, dial, c.Brokers...).
		SetReconnectDelayStrategy(c.ReconnectStrategy()).
		SetTimeout(c.Reconnect.Timeout), nil
}

// NewLogger builds the logrus entry every component logs through.
func NewLogger(cfg LoggerConfig) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger.WithField("component", "stomp"), nil
}
