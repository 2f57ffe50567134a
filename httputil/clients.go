package httputil

import (
	"net/http"
	"net/url"
	"time"

	"pricepilot/config"
)

type Clients struct {
	Scraping *http.Client // optionally proxied, for vendor sites
	Direct   *http.Client // image downloads and other non-vendor traffic
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	transport := &http.Transport{
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 4,
	}
	if proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	scraping := &http.Client{
		Timeout:   20 * time.Second,
		Transport: transport,
	}

	return &Clients{
		Scraping: scraping,
		Direct:   &http.Client{Timeout: 30 * time.Second},
	}
}
