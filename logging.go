package nanokernel

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogging sets the global zerolog level and, when out is not nil,
// the output. Console mode writes human readable lines, otherwise JSON.
func (c LogConfig) ConfigureLogging(out io.Writer) error {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	if out == nil {
		return nil
	}
	if c.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: "15:04:05.000"})
		return nil
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}
