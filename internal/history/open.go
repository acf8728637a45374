package history

import (
	"errors"
	"strings"
	"time"

	"usagewatch/internal/config"
	logx "usagewatch/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled; the monitor then keeps its
// state in memory only.
func Open(cfg config.StorageConfig, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		busy, err := config.DurationOr("storage.busy_timeout", cfg.BusyTimeout, 5*time.Second)
		if err != nil {
			return nil, err
		}
		return openSQLite(cfg.Path, busy, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
