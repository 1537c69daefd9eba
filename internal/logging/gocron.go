package logging

import (
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// gocronLogger adapts a logrus entry to gocron's key/value Logger interface.
type gocronLogger struct {
	entry *logrus.Entry
}

// NewGocronLogger returns a gocron.Logger that writes through entry, tagging
// every line with the scheduler event.
func NewGocronLogger(entry *logrus.Entry) gocron.Logger {
	if entry == nil {
		entry = Logger()
	}
	return &gocronLogger{entry: entry.WithField("event", "scheduler")}
}

func (l *gocronLogger) Debug(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Debug(msg)
}

func (l *gocronLogger) Info(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Info(msg)
}

func (l *gocronLogger) Warn(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Warn(msg)
}

func (l *gocronLogger) Error(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Error(msg)
}

// argsToFields pairs alternating key/value arguments. A trailing key without
// a value is kept under "extra".
func argsToFields(args []any) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields["extra"] = args[i]
			break
		}

		key := fmt.Sprint(args[i])
		val := args[i+1]
		if err, ok := val.(error); ok && key == "error" {
			fields[logrus.ErrorKey] = err.Error()
			continue
		}
		fields[key] = val
	}
	return fields
}
