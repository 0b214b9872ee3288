package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger from the environment.
//
//	TRAIL_LOG_LEVEL   debug, info, warn, error (default: info)
//	TRAIL_LOG_FORMAT  json (default) or console
//
// JSON lines on stderr are what CloudWatch Logs indexes best; console is for
// running the CLI by hand.
func Init() {
	switch strings.ToLower(os.Getenv("TRAIL_LOG_LEVEL")) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if strings.EqualFold(os.Getenv("TRAIL_LOG_FORMAT"), "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
