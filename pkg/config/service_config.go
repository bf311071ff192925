package config

import "time"

// BasicService is used as a simple base for auxiliary node services like
// Pprof or Prometheus monitoring.
type BasicService struct {
	Enabled bool `yaml:"Enabled"`
	// Addresses holds the list of bind addresses in the form of
	// "address:port".
	Addresses []string `yaml:"Addresses"`
}

// GetAddresses returns the set of host:port pairs for the given basic
// service.
func (s BasicService) GetAddresses() []string {
	addrs := make([]string, len(s.Addresses))
	copy(addrs, s.Addresses)
	return addrs
}

// RPC is the HTTP API server configuration.
type RPC struct {
	BasicService `yaml:",inline"`
	// MaxRequestBodyBytes caps the request body size.
	MaxRequestBodyBytes int64 `yaml:"MaxRequestBodyBytes"`
	// WalletCreationRateLimit caps wallet creations per source IP per
	// hour; zero disables the limiter.
	WalletCreationRateLimit int `yaml:"WalletCreationRateLimit"`
	// WalletCreationSlowDownAfter arms a one second delay per request
	// once this many creations were seen within the window.
	WalletCreationSlowDownAfter int `yaml:"WalletCreationSlowDownAfter"`
}

func (r *RPC) applyDefaults() {
	if r.MaxRequestBodyBytes == 0 {
		r.MaxRequestBodyBytes = 1 << 20
	}
	if r.WalletCreationRateLimit == 0 {
		r.WalletCreationRateLimit = 15
	}
	if r.WalletCreationSlowDownAfter == 0 {
		r.WalletCreationSlowDownAfter = 8
	}
}

// Explorer is the ledger explorer client configuration.
type Explorer struct {
	// Endpoint is the base URL of the explorer API.
	Endpoint string `yaml:"Endpoint"`
	// RequestTimeout is the per-call HTTP deadline.
	RequestTimeout time.Duration `yaml:"RequestTimeout"`
}

func (e *Explorer) applyDefaults() {
	if e.RequestTimeout == 0 {
		e.RequestTimeout = 30 * time.Second
	}
}

// Hub is the hub client configuration.
type Hub struct {
	// Endpoint is the websocket URL of the hub.
	Endpoint string `yaml:"Endpoint"`
	// RequestTimeout is the per-call deadline for broadcast requests.
	RequestTimeout time.Duration `yaml:"RequestTimeout"`
	// ReconnectInterval is the delay between reconnection attempts of
	// the event subscription.
	ReconnectInterval time.Duration `yaml:"ReconnectInterval"`
}

func (h *Hub) applyDefaults() {
	if h.RequestTimeout == 0 {
		h.RequestTimeout = 30 * time.Second
	}
	if h.ReconnectInterval == 0 {
		h.ReconnectInterval = 10 * time.Second
	}
}

// FiatRates is the fiat-rate service configuration.
type FiatRates struct {
	Enabled bool `yaml:"Enabled"`
	// FetchInterval is how often providers are polled.
	FetchInterval time.Duration `yaml:"FetchInterval"`
	// MaxLookBackTime bounds how stale a returned rate may be.
	MaxLookBackTime time.Duration `yaml:"MaxLookBackTime"`
	// Providers is the list of provider endpoints to poll.
	Providers []FiatRateProvider `yaml:"Providers"`
}

// FiatRateProvider describes a single fiat-rate source.
type FiatRateProvider struct {
	Name     string `yaml:"Name"`
	Endpoint string `yaml:"Endpoint"`
}

func (f *FiatRates) applyDefaults() {
	if f.FetchInterval == 0 {
		f.FetchInterval = 10 * time.Minute
	}
	if f.MaxLookBackTime == 0 {
		f.MaxLookBackTime = 120 * time.Minute
	}
}

// Monitor is the blockchain monitor configuration.
type Monitor struct {
	Enabled bool `yaml:"Enabled"`
	// AssetRegistries is the set of trusted asset-metadata registry
	// addresses whose published units feed the asset table.
	AssetRegistries []AssetRegistry `yaml:"AssetRegistries"`
}

// AssetRegistry names one trusted asset-metadata registry.
type AssetRegistry struct {
	Name    string `yaml:"Name"`
	Address string `yaml:"Address"`
}
