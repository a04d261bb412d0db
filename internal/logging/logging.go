// Package logging configures the process-wide structured logger from the
// config string format used throughout this system: a base level optionally
// followed by comma-separated "module=level" overrides, e.g.
// "info,monitor=debug".
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// Setup parses spec and installs the root slog handler. Per-module overrides
// are recorded but, since go-ethereum/log's handler is global rather than
// per-logger, are only honored by constructing child loggers with
// log.New("module", name) at call sites that care — Setup wires the base
// level globally and returns the parsed overrides for callers that want
// finer control.
func Setup(spec string) (map[string]string, error) {
	base, overrides, err := parse(spec)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	handler := log.NewTerminalHandlerWithLevel(os.Stderr, base, true)
	log.SetDefault(log.NewLogger(handler))
	return overrides, nil
}

func levelFromString(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		return log.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func parse(spec string) (slog.Level, map[string]string, error) {
	parts := strings.Split(spec, ",")
	if len(parts) == 0 || parts[0] == "" {
		return log.LevelInfo, nil, fmt.Errorf("empty log spec")
	}

	base, err := levelFromString(parts[0])
	if err != nil {
		return log.LevelInfo, nil, fmt.Errorf("base level: %w", err)
	}

	overrides := make(map[string]string, len(parts)-1)
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return log.LevelInfo, nil, fmt.Errorf("malformed override %q", part)
		}
		overrides[kv[0]] = kv[1]
	}
	return base, overrides, nil
}
