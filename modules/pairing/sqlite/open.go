package sqlite

import (
	"github.com/tgrelay/tgrelay/internal/pairing"
)

// OpenStore opens the pairing database at path without the module
// lifecycle. Offline tools (the pairing CLI) use it to inspect and
// approve requests while the relay may or may not be running; WAL mode
// keeps the two writers from blocking each other.
func OpenStore(path string) (pairing.Store, func() error, error) {
	cfg := Config{Path: path}
	cfg.defaults()

	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	return &store{db: db}, db.Close, nil
}
