// Package sqlite registers the SQLite dialector with the gormsink registry.
package sqlite

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/sink/gormsink"
)

func init() {
	gormsink.RegisterDialector(config.SinkKindSQLite, func(dsn string) (gorm.Dialector, error) {
		return sqlite.Open(dsn), nil
	})
}
