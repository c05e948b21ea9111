package utils

import (
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

type HTTPClientConfig struct {
	Timeout   time.Duration
	KATimeout time.Duration
	ProxyURL  string
	UserAgent string
	Headers   map[string]string
	RetryMax  int
	RetryWait time.Duration
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
	SetHeader(key, value string)
}

// SplitwireHTTPClient wraps a retrying HTTP client with the shared
// header/proxy/user-agent configuration used by every fetch path.
type SplitwireHTTPClient struct {
	client *retryablehttp.Client
	config HTTPClientConfig
}

func NewSplitwireHTTPClient(cfg HTTPClientConfig) *SplitwireHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 2
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}
	transport := &http.Transport{
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWait
	client.RetryWaitMax = 4 * cfg.RetryWait
	client.Logger = nil
	client.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
	return &SplitwireHTTPClient{
		client: client,
		config: cfg,
	}
}

func (s *SplitwireHTTPClient) SetHeader(key, value string) {
	if s.config.Headers == nil {
		s.config.Headers = make(map[string]string)
	}
	s.config.Headers[key] = value
}

func (s *SplitwireHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}
	retryReq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, err
	}
	return s.client.Do(retryReq)
}
