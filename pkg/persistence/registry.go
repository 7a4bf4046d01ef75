package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrUnknownProvider = errors.New("unknown persistence provider")

// ProviderConfig selects a backend and carries its JSON options.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// PluginConfig is what a factory receives.
type PluginConfig struct {
	Config json.RawMessage

	// Timezone used when decoding stored timestamps.
	Timezone *time.Location
}

type PluginFactory func(config PluginConfig) (PluginPersistence, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]PluginFactory)
)

// RegisterProvider makes a backend available under name. Plugins call it from
// init; registering the same name twice panics.
func RegisterProvider(name string, factory PluginFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || factory == nil {
		panic("persistence: RegisterProvider needs a name and a factory")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic("persistence: provider " + name + " registered twice")
	}
	factories[name] = factory
}

// NewPersistence builds the backend named by pc.Type. An empty option blob is
// passed to the factory as "{}" and a nil timezone as UTC.
func NewPersistence(pc ProviderConfig, plugin PluginConfig) (PluginPersistence, error) {
	name := strings.ToLower(strings.TrimSpace(pc.Type))
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownProvider, pc.Type, strings.Join(ListProviders(), ", "))
	}

	plugin.Config = pc.Config
	if len(plugin.Config) == 0 {
		plugin.Config = json.RawMessage("{}")
	}
	if plugin.Timezone == nil {
		plugin.Timezone = time.UTC
	}
	p, err := factory(plugin)
	if err != nil {
		return nil, fmt.Errorf("persistence %s: %w", name, err)
	}
	return p, nil
}

func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
