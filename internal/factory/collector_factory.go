package factory

import (
	"fmt"
	"sort"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/engine/hostname"
	"Go2FlowSpectra/internal/model"

	"github.com/sirupsen/logrus"
)

// Deps carries the shared collaborators every collector is built with.
type Deps struct {
	Config    *config.Config
	Directory *hostname.Directory
	Logger    logrus.FieldLogger
}

// CollectorFactory defines a function that creates one protocol collector.
type CollectorFactory func(deps Deps) (model.Collector, error)

// registry holds the mapping of collector names to their factory functions.
var registry = make(map[string]CollectorFactory)

// RegisterCollector registers a new collector type with its factory function.
func RegisterCollector(name string, factory CollectorFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("collector type '%s' already registered", name))
	}
	registry[name] = factory
}

// Registered returns the names of every registered collector, sorted.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds the collectors enabled in deps.Config, in configuration order.
func Create(deps Deps) ([]model.Collector, error) {
	collectors := make([]model.Collector, 0, len(deps.Config.Engine.Collectors))
	for _, name := range deps.Config.Engine.Collectors {
		factory, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown collector type: '%s'", name)
		}

		collector, err := factory(deps)
		if err != nil {
			return nil, fmt.Errorf("error creating collector '%s': %w", name, err)
		}
		deps.Logger.WithField("collector", name).Debug("Collector created")
		collectors = append(collectors, collector)
	}
	return collectors, nil
}
