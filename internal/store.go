package internal

import (
	"github.com/arialabs/aria/internal/database"
	"github.com/arialabs/aria/internal/media"
	"github.com/jmoiron/sqlx"
)

// storeOrchestrator sits between the services and the 'dumb' data store,
// supplying the live database handle to each call. Services hold a
// reference to this orchestrator rather than to the database itself.
type storeOrchestrator struct {
	db         database.Manager
	mediaStore *media.Store
}

func newStoreOrchestrator(db database.Manager) *storeOrchestrator {
	return &storeOrchestrator{db: db, mediaStore: media.NewStore()}
}

func (orchestrator *storeOrchestrator) CreateItem(item *media.Item) error {
	return orchestrator.mediaStore.Create(orchestrator.db.GetSqlxDb(), item)
}

func (orchestrator *storeOrchestrator) GetItem(id string) (*media.Item, error) {
	return orchestrator.mediaStore.GetWithID(orchestrator.db.GetSqlxDb(), id)
}

func (orchestrator *storeOrchestrator) ListCompletedItems(limit int) ([]*media.Item, error) {
	return orchestrator.mediaStore.ListCompleted(orchestrator.db.GetSqlxDb(), limit)
}

func (orchestrator *storeOrchestrator) UpdateItemMetadata(item *media.Item) error {
	return orchestrator.mediaStore.UpdateMetadata(orchestrator.db.GetSqlxDb(), item)
}

func (orchestrator *storeOrchestrator) MarkProcessing(id string) error {
	return orchestrator.mediaStore.TransitionToProcessing(orchestrator.db.GetSqlxDb(), id)
}

// MarkCompleted finalizes an item inside a single transaction: the display
// metadata from the resolve which produced the files is written alongside
// the Completed transition, so a completed row can never carry metadata
// from a different attempt than its files.
func (orchestrator *storeOrchestrator) MarkCompleted(item *media.Item, audioFilename string, thumbnailFilename *string) error {
	return orchestrator.db.WrapTx(func(tx *sqlx.Tx) error {
		if err := orchestrator.mediaStore.UpdateMetadata(tx, item); err != nil {
			return err
		}

		return orchestrator.mediaStore.TransitionToCompleted(tx, item.ID, audioFilename, thumbnailFilename)
	})
}

func (orchestrator *storeOrchestrator) MarkFailed(id string, message string) error {
	return orchestrator.mediaStore.TransitionToFailed(orchestrator.db.GetSqlxDb(), id, message)
}

func (orchestrator *storeOrchestrator) FailAbandonedItems(message string) error {
	return orchestrator.mediaStore.FailAbandoned(orchestrator.db.GetSqlxDb(), message)
}
