// Package logs настраивает глобальный logrus-логгер сервиса.
package logs

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide logger. It is usable before Init with logrus defaults.
var Logger = logrus.New()

type Options struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	File   string // пусто — только stderr
}

// Init configures Logger. Unknown levels fall back to info.
func Init(o Options) {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(o.Level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)

	switch strings.ToLower(o.Format) {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stderr
	if o.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    100, // mb
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}
	Logger.SetOutput(out)
}

// WithComponent returns an entry tagged with the component name.
func WithComponent(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}
