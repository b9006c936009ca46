package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup configures the global logrus logger from config values.
// Unknown levels fall back to info, unknown formats to text.
func Setup(level, format string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
