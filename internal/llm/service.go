package llm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"hearth/internal/domain"
)

// ErrUnknownProvider is returned when a provider name is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Service holds the registered AI providers and the default selection.
// Sessions resolve providers by name through it, so a provider switch is
// just a name change — no state migrates because providers are stateless.
type Service struct {
	mu          sync.RWMutex
	providers   map[string]domain.Provider
	defaultName string
}

// NewService creates an empty provider registry.
func NewService() *Service {
	return &Service{providers: make(map[string]domain.Provider)}
}

// Add registers a provider under its own name. The first provider added
// becomes the default until SetDefault overrides it.
func (s *Service) Add(p domain.Provider) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.Name()] = p
	if s.defaultName == "" {
		s.defaultName = p.Name()
	}
}

// SetDefault selects the provider used for new sessions.
func (s *Service) SetDefault(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	s.defaultName = name
	return nil
}

// DefaultName returns the current default provider name.
func (s *Service) DefaultName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultName
}

// Default returns the default provider.
func (s *Service) Default() (domain.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[s.defaultName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, s.defaultName)
	}
	return p, nil
}

// Get returns the provider registered under name.
func (s *Service) Get(name string) (domain.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// List returns the registered provider names, sorted.
func (s *Service) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
