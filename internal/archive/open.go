package archive

import (
	"context"
	"errors"
	"strings"

	logx "jobmill/pkg/logx"
)

// Store is the persistence API used by the recorder and the ops server.
type Store interface {
	AppendRecord(ctx context.Context, r Record) error
	// RecentRecords returns up to limit records, newest first.
	RecentRecords(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the archive is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
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
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown archive driver: " + driver)
	}
}
