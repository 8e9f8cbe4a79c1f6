package throttle

import (
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// NewTransport returns a transport routed through the configured proxies.
// With no proxy configured it falls back to the environment.
func NewTransport(httpProxy, httpsProxy, noProxy string) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = proxyFunc(httpProxy, httpsProxy, noProxy)
	t.MaxIdleConnsPerHost = 4
	return t
}

func proxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	cfg := &httpproxy.Config{
		HTTPProxy:  httpProxy,
		HTTPSProxy: httpsProxy,
		NoProxy:    noProxy,
	}
	resolve := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return resolve(req.URL)
	}
}
