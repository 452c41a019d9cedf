package monitoring

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// base is the shared logrus logger behind Logf and Component.
var base = newBaseLogger(os.Stderr)

// Logf is the package-level diagnostic logger. It defaults to the shared
// logrus logger but may be replaced by SetLogger. Tests or production code
// can redirect or mute it.
var Logf func(format string, v ...interface{}) = base.Infof

func newBaseLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetLevel parses a logrus level name ("debug", "info", ...) and applies it.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}

// SetOutput redirects the structured logger. nil restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	base.SetOutput(w)
}

// Component returns a structured entry tagged with the component name.
// Engines keep one of these and add per-call fields.
func Component(name string) *logrus.Entry {
	return base.WithField("component", name)
}
