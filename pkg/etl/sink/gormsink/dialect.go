// Package gormsink implements the storage sink on a relational database via
// GORM. Dialects (postgres, mysql, sqlite) register themselves through the
// dialector registry from their own subpackages, so the binary links only the
// drivers it imports.
package gormsink

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
)

// DialectorFactory builds a gorm.Dialector from a DSN.
type DialectorFactory func(dsn string) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[config.SinkKind]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given sink kind.
// Called from dialect subpackage init functions.
func RegisterDialector(kind config.SinkKind, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[kind]; exists {
		logger.Warnf("Dialector for sink kind '%s' already registered. Overwriting.", kind)
	}
	dialectorRegistry[kind] = factory
}

// GetDialectorFactory retrieves the DialectorFactory for the given sink kind.
func GetDialectorFactory(kind config.SinkKind) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for sink kind: %s", kind)
	}
	return factory, nil
}
