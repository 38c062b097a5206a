// Package config loads stager settings from defaults, an optional YAML file,
// a .env file and STAGER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	u "net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/tanq16/stager/internal/routing"
	"github.com/tanq16/stager/internal/storage"
	"github.com/tanq16/stager/internal/transfer"
	"github.com/tanq16/stager/internal/utils"
)

const EnvPrefix = "STAGER"

type Config struct {
	Storage StorageConfig           `mapstructure:"storage"`
	Secrets SecretsConfig           `mapstructure:"secrets"`
	HTTP    HTTPConfig              `mapstructure:"http"`
	Extract ExtractConfig           `mapstructure:"extract"`
	Batch   BatchConfig             `mapstructure:"batch"`
	Serve   ServeConfig             `mapstructure:"serve"`
	Log     LogConfig               `mapstructure:"log"`
	Routes  map[string]routing.Rule `mapstructure:"routes"`
}

type StorageConfig struct {
	Backend         string `mapstructure:"backend"`
	Bucket          string `mapstructure:"bucket"`
	BucketSecret    string `mapstructure:"bucket_secret"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Root            string `mapstructure:"root"`
	PartSize        int64  `mapstructure:"part_size"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type SecretsConfig struct {
	Backend   string `mapstructure:"backend"`
	Project   string `mapstructure:"project"`
	EnvPrefix string `mapstructure:"env_prefix"`
}

type HTTPConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	Proxy            string        `mapstructure:"proxy"`
	ProxyUsername    string        `mapstructure:"proxy_username"`
	ProxyPassword    string        `mapstructure:"proxy_password"`
	Headers          []string      `mapstructure:"headers"`
	BufferSize       int           `mapstructure:"buffer_size"`
	SocketBuffer     int           `mapstructure:"socket_buffer"`
}

type ExtractConfig struct {
	Prefix            string `mapstructure:"prefix"`
	Extension         string `mapstructure:"extension"`
	CommitConcurrency int    `mapstructure:"commit_concurrency"`
}

type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New returns a viper instance carrying every default and reading STAGER_*
// variables, with dots in keys mapped to underscores.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("storage.backend", "gcs")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.bucket_secret", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.profile", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.root", "")
	v.SetDefault("storage.part_size", 0)
	v.SetDefault("storage.credentials_file", "")

	v.SetDefault("secrets.backend", "env")
	v.SetDefault("secrets.project", "")
	v.SetDefault("secrets.env_prefix", EnvPrefix+"_SECRET_")

	v.SetDefault("http.timeout", 3*time.Minute)
	v.SetDefault("http.keep_alive_timeout", 90*time.Second)
	v.SetDefault("http.user_agent", utils.ToolUserAgent)
	v.SetDefault("http.proxy", "")
	v.SetDefault("http.proxy_username", "")
	v.SetDefault("http.proxy_password", "")
	v.SetDefault("http.headers", []string{})
	v.SetDefault("http.buffer_size", utils.DefaultBufferSize)
	v.SetDefault("http.socket_buffer", 0)

	v.SetDefault("extract.prefix", routing.DefaultRules()[routing.DefaultRoute].Prefix)
	v.SetDefault("extract.extension", routing.DefaultArchiveExtension)
	v.SetDefault("extract.commit_concurrency", transfer.DefaultCommitConcurrency)

	v.SetDefault("batch.workers", 4)
	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")

	for name, rule := range routing.DefaultRules() {
		v.SetDefault("routes."+name+".prefix", rule.Prefix)
		v.SetDefault("routes."+name+".nest_flat", rule.NestFlat)
	}
	return v
}

// Load reads .env (when present) and the optional config file into v and
// decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("op", "config/load").Err(err).Msg("error reading .env file")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
		log.Debug().Str("op", "config/load").Msgf("loaded config file %s", v.ConfigFileUsed())
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	for name, rule := range cfg.Routes {
		rule.Name = name
		cfg.Routes[name] = rule
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Routes) == 0 {
		return fmt.Errorf("no routes configured")
	}
	for name, rule := range c.Routes {
		if rule.Prefix == "" {
			return fmt.Errorf("route %s has no prefix", name)
		}
		if !strings.HasSuffix(rule.Prefix, "/") {
			return fmt.Errorf("route %s prefix must end with '/': %q", name, rule.Prefix)
		}
	}
	if c.Extract.CommitConcurrency < 1 {
		return fmt.Errorf("extract.commit_concurrency must be at least 1")
	}
	return nil
}

// Rule returns the named route, or the default route for an empty name.
func (c *Config) Rule(name string) (routing.Rule, error) {
	if name == "" {
		name = routing.DefaultRoute
	}
	rule, ok := c.Routes[strings.ToLower(name)]
	if !ok {
		return routing.Rule{}, fmt.Errorf("unknown route %q (available: %s)", name, strings.Join(routing.RuleNames(c.Routes), ", "))
	}
	return rule, nil
}

func (c *Config) StorageOptions() storage.Config {
	s := c.Storage
	return storage.Config{
		Backend:         s.Backend,
		Region:          s.Region,
		Profile:         s.Profile,
		Endpoint:        s.Endpoint,
		AccessKey:       s.AccessKey,
		SecretKey:       s.SecretKey,
		UseSSL:          s.UseSSL,
		Root:            s.Root,
		PartSize:        s.PartSize,
		CredentialsFile: s.CredentialsFile,
	}
}

// HTTPClientConfig builds the fetcher's client settings. Credentials embedded
// in the proxy URL are split out unless given explicitly.
func (c *Config) HTTPClientConfig() utils.HTTPClientConfig {
	h := c.HTTP
	proxyURL, proxyUsername, proxyPassword := h.Proxy, h.ProxyUsername, h.ProxyPassword
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	return utils.HTTPClientConfig{
		Timeout:           h.Timeout,
		KATimeout:         h.KeepAliveTimeout,
		ProxyURL:          proxyURL,
		ProxyUsername:     proxyUsername,
		ProxyPassword:     proxyPassword,
		UserAgent:         utils.ResolveUserAgent(h.UserAgent),
		Headers:           utils.ParseHeaderArgs(h.Headers),
		SocketBufferBytes: h.SocketBuffer,
	}
}
