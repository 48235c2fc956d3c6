// Package postgres registers the PostgreSQL dialector with the gormsink
// registry.
package postgres

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/sink/gormsink"
)

func init() {
	gormsink.RegisterDialector(config.SinkKindPostgres, func(dsn string) (gorm.Dialector, error) {
		return postgres.Open(dsn), nil
	})
}
