// Package mysql registers the MySQL dialector with the gormsink registry.
package mysql

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/sink/gormsink"
)

func init() {
	gormsink.RegisterDialector(config.SinkKindMySQL, func(dsn string) (gorm.Dialector, error) {
		return mysql.Open(dsn), nil
	})
}
