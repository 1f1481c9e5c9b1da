package logging

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds a JSON-formatted logrus logger at the given level name.
// Unknown level names fall back to info.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log
}

// Component returns an entry tagged with a component name, the unit the
// rest of the codebase injects into constructors.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
