package module

import (
	"sync"
	"time"
)

// AccessLevel gates who may call an endpoint.
type AccessLevel string

const (
	// AccessPublic endpoints can be called by anyone.
	AccessPublic AccessLevel = "public"
	// AccessProtected endpoints require authentication.
	AccessProtected AccessLevel = "protected"
	// AccessPrivate endpoints require authentication and authorization.
	AccessPrivate AccessLevel = "private"
)

// RateLimit is the declared request budget for an endpoint.
type RateLimit struct {
	MaxRequests int `json:"maxRequests"`
	WindowSecs  int `json:"windowSecs"`
}

// EndpointConfig describes a module endpoint and how to call it.
type EndpointConfig struct {
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	AccessLevel  AccessLevel       `json:"accessLevel"`
	RateLimit    *RateLimit        `json:"rateLimit,omitempty"`
	Timeout      time.Duration     `json:"timeout,omitempty"`
	AllowRetries bool              `json:"allowRetries"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// EndpointRegistry is the whitelist of endpoints a client may call.
type EndpointRegistry struct {
	mu        sync.RWMutex
	endpoints map[string]EndpointConfig
}

func NewEndpointRegistry() *EndpointRegistry {
	return &EndpointRegistry{
		endpoints: make(map[string]EndpointConfig),
	}
}

func (r *EndpointRegistry) Register(cfg EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[cfg.Name] = cfg
}

func (r *EndpointRegistry) Get(name string) (EndpointConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.endpoints[name]
	return cfg, ok
}

func (r *EndpointRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[name]; !ok {
		return false
	}
	delete(r.endpoints, name)
	return true
}

func (r *EndpointRegistry) List() []EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EndpointConfig, 0, len(r.endpoints))
	for _, cfg := range r.endpoints {
		out = append(out, cfg)
	}
	return out
}

func (r *EndpointRegistry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.endpoints[name]
	return ok
}
