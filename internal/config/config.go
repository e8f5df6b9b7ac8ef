package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// DBDSN is a pgx connection string, or the literal "memory" to run
	// against the in-process store (useful for demos and local work).
	DBDSN string `envconfig:"DB_DSN" default:"memory"`

	JWTSecret     string `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer     string `envconfig:"JWT_ISSUER" default:"papertrade"`
	InternalToken string `envconfig:"INTERNAL_API_TOKEN"`
	WSOrigin      string `envconfig:"WS_ORIGIN" default:"*"`

	DefaultInitialCapital string `envconfig:"DEFAULT_INITIAL_CAPITAL" default:"10000"`
	DefaultBrokerProfile  string `envconfig:"DEFAULT_BROKER_PROFILE" default:"standard"`

	// Cron expressions with a seconds field.
	OvernightSchedule string `envconfig:"OVERNIGHT_SCHEDULE" default:"0 5 0 * * *"`
	SnapshotSchedule  string `envconfig:"SNAPSHOT_SCHEDULE" default:"0 0 * * * *"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return c, fmt.Errorf("process env config: %w", err)
	}
	return c, nil
}
