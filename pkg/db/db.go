package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/EM-ade/realmkin-sub000/pkg/config"
)

func GetDBDSN(config *config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		config.User,
		config.Password,
		config.Host,
		config.Port,
		config.DBName,
		config.SSLMode,
	)
}

// ApplyPool sets the connection pool limits from configuration. Zero or
// unparsable values leave the driver defaults in place.
func ApplyPool(d *sql.DB, cfg *config.DatabaseConfig) {
	if cfg.MaxOpenConns > 0 {
		d.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		d.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != "" {
		if lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime); err == nil {
			d.SetConnMaxLifetime(lifetime)
		}
	}
}
