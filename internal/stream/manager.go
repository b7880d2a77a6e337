package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/coopcam/coopcam/internal/config"
	"github.com/coopcam/coopcam/internal/urlutil"
)

// DefaultAlias is the reserved source id that always resolves to the
// configured default source. It is never a map key.
const DefaultAlias = "default"

// ErrUnknownSource is returned when a source id matches no configured source.
var ErrUnknownSource = errors.New("unknown stream source")

// SourceInfo is the public listing shape for one configured source.
type SourceInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DisplayURL string `json:"displayUrl"`
	IsDefault  bool   `json:"isDefault"`
}

// Manager owns the id->proxy map. Proxies are constructed eagerly for every
// configured source and persist until Shutdown; camera outages are handled
// inside each proxy, not by tearing the proxy down.
type Manager struct {
	cfg      *config.Config
	settings ProxySettings
	pool     *Pool
	logger   *slog.Logger

	mu      sync.RWMutex
	proxies map[string]*Proxy

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager builds the manager and starts a proxy per configured source.
func NewManager(ctx context.Context, cfg *config.Config, settings ProxySettings, pool *Pool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(ctx)
	m := &Manager{
		cfg:      cfg,
		settings: settings,
		pool:     pool,
		logger:   logger.With(slog.String("component", "stream-manager")),
		proxies:  make(map[string]*Proxy, len(cfg.Sources)),
		ctx:      runCtx,
		cancel:   cancel,
	}
	for _, src := range cfg.Sources {
		p := NewProxy(src, settings, pool, logger)
		p.Connect(runCtx)
		m.proxies[src.ID] = p
		m.logger.Info("source registered",
			slog.String("source", src.ID),
			slog.String("url", src.URL),
			slog.Bool("default", src.IsDefault),
		)
	}
	return m
}

// Canonicalize resolves the "default" alias to the default source id.
// Other ids pass through unchanged, valid or not.
func (m *Manager) Canonicalize(id string) string {
	if id == DefaultAlias {
		return m.cfg.DefaultSource().ID
	}
	return id
}

// GetProxy returns the proxy for a source id, resolving the "default" alias
// first. Proxies exist eagerly, so a miss means the id is not configured.
func (m *Manager) GetProxy(id string) (*Proxy, error) {
	canonical := m.Canonicalize(id)

	m.mu.RLock()
	p, ok := m.proxies[canonical]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	return p, nil
}

// Proxies returns every proxy, ordered by source id.
func (m *Manager) Proxies() []*Proxy {
	m.mu.RLock()
	out := make([]*Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Source().ID < out[j].Source().ID
	})
	return out
}

// ListSources returns the configured sources in config order. Display URLs
// are sanitized for UI use; credentials never leave the config.
func (m *Manager) ListSources() []SourceInfo {
	out := make([]SourceInfo, 0, len(m.cfg.Sources))
	for _, s := range m.cfg.Sources {
		out = append(out, SourceInfo{
			ID:         s.ID,
			Name:       s.Name,
			DisplayURL: urlutil.Display(s.URL),
			IsDefault:  s.IsDefault,
		})
	}
	return out
}

// SourceIDs returns the configured source ids in config order.
func (m *Manager) SourceIDs() []string {
	ids := make([]string, 0, len(m.cfg.Sources))
	for _, s := range m.cfg.Sources {
		ids = append(ids, s.ID)
	}
	return ids
}

// Shutdown cancels every upstream connection and closes every viewer.
func (m *Manager) Shutdown() {
	m.cancel()

	m.mu.Lock()
	proxies := make([]*Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		proxies = append(proxies, p)
	}
	m.mu.Unlock()

	for _, p := range proxies {
		p.Disconnect()
	}
	m.logger.Info("stream manager stopped", slog.Int("sources", len(proxies)))
}
