package utils

import (
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

type HTTPClientConfig struct {
	Timeout           time.Duration
	KATimeout         time.Duration
	ProxyURL          string
	ProxyUsername     string
	ProxyPassword     string
	UserAgent         string
	Headers           map[string]string
	SocketBufferBytes int // SO_RCVBUF/SO_SNDBUF for large archive downloads; 0 keeps OS defaults
}

// StagerHTTPClient is the HTTP collaborator of the fetcher. Timeout bounds
// connection setup and response headers only, because archive bodies can take
// far longer to stream than any sane whole-request timeout.
type StagerHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewStagerHTTPClient(cfg HTTPClientConfig) *StagerHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}
	if cfg.SocketBufferBytes > 0 {
		size := cfg.SocketBufferBytes
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				setSocketBuffers(fd, size)
			})
		}
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		IdleConnTimeout:       cfg.KATimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		TLSHandshakeTimeout:   cfg.Timeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		DisableCompression:    true,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		} else {
			log.Warn().Str("op", "utils/http-client").Err(err).Msg("ignoring invalid proxy URL")
		}
	}
	return &StagerHTTPClient{
		client: &http.Client{Transport: transport},
		config: cfg,
	}
}

func (d *StagerHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if d.config.UserAgent != "" {
		req.Header.Set("User-Agent", d.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range d.config.Headers {
		req.Header.Set(k, v)
	}
	return d.client.Do(req)
}
