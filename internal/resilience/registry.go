package resilience

import (
	"cmp"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// Registry agrupa os breakers por serviço downstream
type Registry struct {
	mu       sync.RWMutex
	services map[string]map[string]*CircuitBreaker
	logger   zerolog.Logger
}

// NewRegistry cria um Registry vazio
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		services: make(map[string]map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// Breaker retorna o breaker de service/config.Name, criando-o na primeira chamada
func (r *Registry) Breaker(service string, config BreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	breakers, ok := r.services[service]
	if !ok {
		breakers = make(map[string]*CircuitBreaker)
		r.services[service] = breakers
	}
	if cb, ok := breakers[config.Name]; ok {
		return cb
	}

	cb := NewCircuitBreaker(config, r.logger.With().Str("service", service).Logger())
	breakers[config.Name] = cb
	return cb
}

// Services retorna os nomes dos serviços registrados em ordem alfabética
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Each chama fn para cada breaker de cada serviço
func (r *Registry) Each(fn func(service string, cb *CircuitBreaker)) {
	for _, service := range r.Services() {
		r.mu.RLock()
		breakers := make([]*CircuitBreaker, 0, len(r.services[service]))
		for _, cb := range r.services[service] {
			breakers = append(breakers, cb)
		}
		r.mu.RUnlock()

		slices.SortFunc(breakers, func(a, b *CircuitBreaker) int {
			return cmp.Compare(a.Name(), b.Name())
		})
		for _, cb := range breakers {
			fn(service, cb)
		}
	}
}

// Stats retorna o snapshot de todos os breakers agrupado por serviço
func (r *Registry) Stats() map[string][]Stats {
	out := make(map[string][]Stats)
	r.Each(func(service string, cb *CircuitBreaker) {
		out[service] = append(out[service], cb.Stats())
	})
	return out
}
