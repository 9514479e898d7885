package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"fetcharr/internal/logging"
	"fetcharr/internal/services"
)

// ProviderConfig is the persisted per-provider configuration row. The
// registry reads it to construct instances; the CLI and API mutate it.
type ProviderConfig struct {
	ID                int64
	Name              string
	Enabled           bool
	APIKey            string
	EnabledAssetTypes []AssetType
	LastTestStatus    string
	UpdatedAt         time.Time
}

// ConfigSource loads and stores provider configuration rows.
type ConfigSource interface {
	GetProviderConfig(ctx context.Context, name string) (*ProviderConfig, error)
	SaveProviderConfig(ctx context.Context, cfg *ProviderConfig) error
}

// Constructor builds a provider instance from its configuration.
type Constructor func(cfg ProviderConfig) (Provider, error)

// Limits holds the fallback pacing and breaker settings applied to providers
// whose capabilities do not declare their own.
type Limits struct {
	RequestsPerSecond int
	BurstCapacity     int
	FailureThreshold  int
	ResetTimeout      time.Duration
}

// Registry owns the set of known provider constructors and the cache of
// live instances. It is constructed once at startup and passed explicitly to
// every component that needs providers; registration happens through method
// calls, never through import side effects, so the active set is always
// visible at the call site.
type Registry struct {
	mu           sync.Mutex
	configs      ConfigSource
	limits       Limits
	logger       *slog.Logger
	constructors map[string]Constructor
	clients      map[string]*Client
}

// NewRegistry creates an empty registry. configs may be nil, in which case
// every registered provider is treated as enabled with a zero-value config.
func NewRegistry(configs ConfigSource, limits Limits, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		configs:      configs,
		limits:       limits,
		logger:       logger.With(logging.String(logging.FieldComponent, "provider-registry")),
		constructors: make(map[string]Constructor),
		clients:      make(map[string]*Client),
	}
}

// Register adds a provider constructor under the given name. Registering the
// same name twice is a programming error and fails loudly.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" || ctor == nil {
		return services.Wrap(services.ErrValidation, name, "register", "name and constructor are required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[name]; exists {
		return services.Wrap(services.ErrValidation, name, "register", "provider already registered", nil)
	}
	r.constructors[name] = ctor
	return nil
}

// Names lists registered provider names in lexical order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Client returns the live instance for a provider, constructing and caching
// it on first use. Disabled providers return a validation error.
func (r *Registry) Client(ctx context.Context, name string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientLocked(ctx, name)
}

func (r *Registry) clientLocked(ctx context.Context, name string) (*Client, error) {
	if client, ok := r.clients[name]; ok {
		return client, nil
	}

	ctor, ok := r.constructors[name]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, name, "lookup", "unknown provider", nil)
	}

	cfg, err := r.loadConfig(ctx, name)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, services.Wrap(services.ErrValidation, name, "lookup", "provider is disabled", nil)
	}

	provider, err := ctor(*cfg)
	if err != nil {
		return nil, fmt.Errorf("construct provider %s: %w", name, err)
	}

	client := newClient(provider, r.limits, r.logger)
	r.clients[name] = client
	return client, nil
}

func (r *Registry) loadConfig(ctx context.Context, name string) (*ProviderConfig, error) {
	if r.configs == nil {
		return &ProviderConfig{Name: name, Enabled: true}, nil
	}
	cfg, err := r.configs.GetProviderConfig(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load provider config %s: %w", name, err)
	}
	if cfg == nil {
		return &ProviderConfig{Name: name, Enabled: true}, nil
	}
	return cfg, nil
}

// Clients returns live instances for every registered, enabled provider.
// Construction failures are logged and skipped so one broken provider never
// hides the rest.
func (r *Registry) Clients(ctx context.Context) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)

	clients := make([]*Client, 0, len(names))
	for _, name := range names {
		client, err := r.clientLocked(ctx, name)
		if err != nil {
			r.logger.Debug("provider unavailable",
				logging.String(logging.FieldProvider, name),
				logging.Error(err))
			continue
		}
		clients = append(clients, client)
	}
	return clients
}

// UpdateConfig persists a provider configuration and drops the cached
// instance so the next call rebuilds it with the fresh settings. Stale
// references held elsewhere are never mutated in place.
func (r *Registry) UpdateConfig(ctx context.Context, cfg ProviderConfig) error {
	if cfg.Name == "" {
		return services.Wrap(services.ErrValidation, "", "update config", "provider name is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.configs != nil {
		cfg.UpdatedAt = time.Now().UTC()
		if err := r.configs.SaveProviderConfig(ctx, &cfg); err != nil {
			return fmt.Errorf("save provider config %s: %w", cfg.Name, err)
		}
	}
	delete(r.clients, cfg.Name)
	return nil
}

// Invalidate drops a cached instance without touching stored configuration.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
}
