package session

import (
	"context"

	"github.com/manash/seedgraph/internal/logging"
	"github.com/manash/seedgraph/internal/provider"
	"github.com/manash/seedgraph/pkg/models"
)

// HistorySource says where LoadHistory got its records from.
type HistorySource int

const (
	FromServer HistorySource = iota
	FromMirror
)

func (s HistorySource) String() string {
	if s == FromMirror {
		return "local mirror"
	}
	return "server"
}

// LoadHistory fetches the server's run log and mirrors it into store. When the
// server is unreachable the mirror is returned instead. store may be nil, in
// which case a server error is returned as is.
func LoadHistory(ctx context.Context, backend provider.Backend, store *Store, log *logging.Logger) ([]models.GenerationRecord, HistorySource, error) {
	if log == nil {
		log = logging.Nop()
	}

	records, err := backend.History(ctx)
	if err != nil {
		if store == nil {
			return nil, FromServer, err
		}
		log.Warn("history unavailable, using local mirror", "error", err)
		records, err = store.ListRecords(ctx)
		return records, FromMirror, err
	}

	if store != nil {
		added, err := store.SyncRecords(ctx, records)
		if err != nil {
			log.Warn("failed to mirror history", "error", err)
		} else {
			log.Debug("history mirrored", "records", len(records), "new", added)
		}
	}
	return records, FromServer, nil
}
