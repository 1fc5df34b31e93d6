// Package logger holds the process-wide zerolog logger.
//
// main calls Init once and hands the result to constructors, which tag it
// with their component. Code without an injected logger uses For.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ComponentKey is the field every derived logger is tagged with.
const ComponentKey = "component"

// Options configures Init.
type Options struct {
	// Level is one of trace, debug, info, warn or error. Anything else
	// means info.
	Level string
	// Pretty writes coloured console lines instead of JSON.
	Pretty bool
	// Output defaults to os.Stdout.
	Output io.Writer
	// Service and Env are stamped on every line when non-empty.
	Service string
	Env     string
}

var (
	mu      sync.Mutex
	once    sync.Once
	root    zerolog.Logger
	hasRoot bool
)

// Init builds the root logger on first use and returns it. Later calls return
// the same logger and ignore their options. Debug and trace levels add the
// caller to each line.
func Init(opts Options) zerolog.Logger {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano

		w := opts.Output
		if w == nil {
			w = os.Stdout
		}
		if opts.Pretty {
			w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		}

		lvl := ParseLevel(opts.Level)
		zerolog.SetGlobalLevel(lvl)

		fields := zerolog.New(w).Level(lvl).With().Timestamp()
		if opts.Service != "" {
			fields = fields.Str("service", opts.Service)
		}
		if opts.Env != "" {
			fields = fields.Str("env", opts.Env)
		}
		if lvl <= zerolog.DebugLevel {
			fields = fields.Caller()
		}

		mu.Lock()
		root, hasRoot = fields.Logger(), true
		mu.Unlock()
	})
	return Get()
}

// Get returns the root logger and panics before Init.
func Get() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if !hasRoot {
		panic("logger: Get() called before Init()")
	}
	return root
}

// For returns the root logger tagged with component.
func For(component string) zerolog.Logger {
	return Get().With().Str(ComponentKey, component).Logger()
}

// Reset forgets the root logger so the next Init starts over. Tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	once = sync.Once{}
	root, hasRoot = zerolog.Logger{}, false
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// ParseLevel maps a LOG_LEVEL value onto zerolog, falling back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
