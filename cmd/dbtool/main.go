package main

import (
	"context"
	"database/sql"
	"flag"
	"strings"
	"time"
	"trip-planning-service/internal/adapters/cache"
	"trip-planning-service/internal/config"
	"trip-planning-service/internal/platform/db"
	"trip-planning-service/internal/platform/obs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// dbtool creates the response cache schema and optionally purges expired entries.
func main() {
	purge := flag.Bool("purge", false, "delete cache entries older than CACHE_TTL")
	flag.Parse()

	envErr := godotenv.Load()
	obs.SetupLogger(config.Get("LOG_LEVEL", "info"), config.Get("LOG_FORMAT", "console"))
	if envErr != nil {
		log.Info().Msg("no .env file found (using environment variables)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	driver := strings.ToLower(config.Get("CACHE_DRIVER", cache.DriverPostgres))

	var conn *sql.DB
	var err error
	switch driver {
	case cache.DriverPostgres:
		databaseURL := config.Get("DATABASE_URL", "")
		if databaseURL == "" {
			log.Fatal().Msg("DATABASE_URL is required")
		}
		conn, err = db.Open(ctx, databaseURL)
	case cache.DriverSQLite:
		conn, err = db.OpenSQLite(ctx, config.Get("DB_PATH", "data/app.db"))
	default:
		log.Fatal().Str("driver", driver).Msg("CACHE_DRIVER must be postgres or sqlite")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer conn.Close()

	log.Info().Str("driver", driver).Msg("initializing cache schema")
	if err := cache.InitSchema(ctx, conn, driver); err != nil {
		log.Fatal().Err(err).Msg("schema initialization failed")
	}
	log.Info().Msg("schema ready")

	if *purge {
		ttl, err := time.ParseDuration(config.Get("CACHE_TTL", "24h"))
		if err != nil {
			log.Fatal().Err(err).Msg("parse CACHE_TTL")
		}
		n, err := cache.Purge(ctx, conn, driver, time.Now().Add(-ttl).Unix())
		if err != nil {
			log.Fatal().Err(err).Msg("purge failed")
		}
		log.Info().Int64("removed", n).Msg("purge complete")
	}
}
