package journal

import (
	"fmt"
	"strings"

	logx "wsched/pkg/logx"
)

// Open returns the store for cfg.Driver, or (nil, nil) when the journal is
// off ("" or "none").
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, d)
	}
}
