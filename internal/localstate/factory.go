package localstate

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Open selects a backend from its name: "memory", "file", or "sqlite".
// dir is the data directory for the durable backends; every account gets
// its own file (or its own rows, for sqlite).
func Open(backend, dir, accountID string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "file":
		return NewFileStore(dir, accountID)
	case "sqlite", "sqlite3":
		return NewSQLiteStore(filepath.Join(dir, "inkwell.db"), accountID)
	case "memory", "mem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("localstate: unsupported backend %q", backend)
	}
}
