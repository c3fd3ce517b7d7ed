package scanrun

import (
	"fmt"
	"io"
	"time"

	"github.com/EPFL-ENAC/AddLidar/internal/config"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
	"github.com/EPFL-ENAC/AddLidar/internal/state"
	"github.com/EPFL-ENAC/AddLidar/internal/stateclient"
	"github.com/EPFL-ENAC/AddLidar/internal/statedb"
)

// OpenStore returns the state backend selected by cfg: the local database
// when paths.state_db is set, the record service otherwise. The closer is
// never nil.
func OpenStore(cfg *config.Config) (state.Store, io.Closer, error) {
	if cfg.Paths.StateDB != "" {
		db, err := statedb.Open(cfg.Paths.StateDB)
		if err != nil {
			return nil, nopCloser{}, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
		}
		return db, db, nil
	}
	timeout := time.Duration(cfg.Backend.TimeoutSeconds) * time.Second
	client, err := stateclient.New(cfg.Backend.URL, stateclient.WithTimeout(timeout))
	if err != nil {
		return nil, nopCloser{}, err
	}
	return client, nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
