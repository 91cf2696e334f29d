// Package rtlog is a thin wrapper over the standard library logger, tagging
// every line with a component name the way the teacher library's mcp.go
// prefixes its own diagnostic output. No third-party logging dependency is
// introduced here: the repo this runtime is modeled on uses stdlib log
// exclusively, so this ambient concern follows that choice rather than
// reaching for zerolog/zap/logrus.
package rtlog

import (
	"log"
	"os"
)

// Logger writes tagged lines to an underlying *log.Logger.
type Logger struct {
	component string
	std       *log.Logger
}

// New returns a Logger tagging every line with component, e.g. "broker".
func New(component string) *Logger {
	return &Logger{
		component: component,
		std:       log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	l.std.Printf("["+l.component+"] "+format, args...)
}

func (l *Logger) Println(args ...interface{}) {
	all := make([]interface{}, 0, len(args)+1)
	all = append(all, "["+l.component+"]")
	all = append(all, args...)
	l.std.Println(all...)
}
