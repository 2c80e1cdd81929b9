package media

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/arialabs/aria/internal/database"
)

var (
	ErrItemNotFound = errors.New("media item does not exist")

	// ErrIllegalTransition is returned when a conditional status update
	// matched no row; either the item is missing or its current status
	// does not permit the requested transition.
	ErrIllegalTransition = errors.New("media item status does not permit this transition")
)

type (
	// itemModel is a combination of the media_items table columns, combined with
	// a JSON representation of the keywords column. We use a separate struct as
	// part of the internal API of this store to hide the use of the JsonColumn
	// container.
	itemModel struct {
		Item
		Keywords database.JsonColumn[[]string] `db:"keywords"`
	}

	Store struct{}
)

func NewStore() *Store {
	return &Store{}
}

// Create inserts a brand new item row. The item must carry a distinct ID;
// inserting a second row for an existing ID is a constraint violation as the
// ID column is this tables primary key.
func (store *Store) Create(db database.Queryable, item *Item) error {
	_, err := db.NamedExec(`
		INSERT INTO media_items(id, title, artist, duration_seconds, duration_formatted, keywords,
			status, source_url, thumbnail_url, created_at, updated_at)
		VALUES(:id, :title, :artist, :duration_seconds, :duration_formatted, :keywords,
			:status, :source_url, :thumbnail_url, current_timestamp, current_timestamp)
	`, itemToModel(item))
	if err != nil {
		return fmt.Errorf("failed to insert new media item: %w", err)
	}

	return nil
}

// GetWithID returns the item with the matching ID, or ErrItemNotFound.
func (store *Store) GetWithID(db database.Queryable, id string) (*Item, error) {
	var model itemModel
	if err := db.Get(&model, `SELECT * FROM media_items WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}

		return nil, err
	}

	return modelToItem(&model), nil
}

// ListCompleted returns up to 'limit' completed items, newest first. Only
// rows which have a non-null audio filename are considered; the two should
// always agree but the filename is what delivery actually depends on.
func (store *Store) ListCompleted(db database.Queryable, limit int) ([]*Item, error) {
	query, args, err := squirrel.
		Select("*").
		From("media_items").
		Where("status=?", CompletedStatus).
		Where("audio_filename IS NOT NULL").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list completed query: %w", err)
	}

	var models []itemModel
	if err := db.Select(&models, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	items := make([]*Item, len(models))
	for k, v := range models {
		items[k] = modelToItem(&v)
	}

	return items, nil
}

// UpdateMetadata overwrites the display metadata of an item. This is only
// legal while an item is being resolved; completed items are immutable.
func (store *Store) UpdateMetadata(db database.Queryable, item *Item) error {
	_, err := db.NamedExec(`
		UPDATE media_items
		SET title=:title, artist=:artist, duration_seconds=:duration_seconds,
			duration_formatted=:duration_formatted, keywords=:keywords,
			thumbnail_url=:thumbnail_url, updated_at=current_timestamp
		WHERE id=:id AND status != '`+string(CompletedStatus)+`'
	`, itemToModel(item))
	return err
}

// TransitionToProcessing moves an item from Pending or Failed in to the
// Processing state, clearing any error message left by a previous failed
// attempt. The update is conditional on the current status so that two
// concurrent attempts cannot both claim the same item.
func (store *Store) TransitionToProcessing(db database.Queryable, id string) error {
	return store.transition(db, id, `
		UPDATE media_items
		SET status=$1, error_message=NULL, updated_at=current_timestamp
		WHERE id=$2 AND status IN ($3, $4)
	`, ProcessingStatus, id, PendingStatus, FailedStatus)
}

// TransitionToCompleted finalises a Processing item, recording the audio and
// (optional) thumbnail filenames and stamping completed_at exactly once.
func (store *Store) TransitionToCompleted(db database.Queryable, id string, audioFilename string, thumbnailFilename *string) error {
	return store.transition(db, id, `
		UPDATE media_items
		SET status=$1, audio_filename=$2, thumbnail_filename=$3,
			completed_at=current_timestamp, updated_at=current_timestamp
		WHERE id=$4 AND status=$5
	`, CompletedStatus, audioFilename, thumbnailFilename, id, ProcessingStatus)
}

// TransitionToFailed marks a Pending or Processing item as Failed with the
// human-readable message provided. Completed items can never regress to
// Failed; attempting to do so returns ErrIllegalTransition.
func (store *Store) TransitionToFailed(db database.Queryable, id string, message string) error {
	return store.transition(db, id, `
		UPDATE media_items
		SET status=$1, error_message=$2, audio_filename=NULL, thumbnail_filename=NULL,
			updated_at=current_timestamp
		WHERE id=$3 AND status IN ($4, $5)
	`, FailedStatus, message, id, PendingStatus, ProcessingStatus)
}

// FailAbandoned marks every item sitting in a non-terminal acquisition state
// as Failed with the message provided. Intended for startup: the work queue
// is in-memory only, so a Pending or Processing row found on boot belongs to
// a previous process and has no owner.
func (store *Store) FailAbandoned(db database.Queryable, message string) error {
	return database.InExec(db, `
		UPDATE media_items
		SET status=?, error_message=?, audio_filename=NULL, thumbnail_filename=NULL,
			updated_at=current_timestamp
		WHERE status IN (?)
	`, FailedStatus, message, []Status{PendingStatus, ProcessingStatus})
}

func (store *Store) transition(db database.Queryable, id string, query string, args ...any) error {
	result, err := db.Exec(query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		if _, err := store.GetWithID(db, id); errors.Is(err, ErrItemNotFound) {
			return ErrItemNotFound
		}

		return ErrIllegalTransition
	}

	return nil
}

func itemToModel(item *Item) *itemModel {
	return &itemModel{
		Item:     *item,
		Keywords: database.NewJsonColumn(item.Keywords),
	}
}

func modelToItem(model *itemModel) *Item {
	item := model.Item
	if keywords := model.Keywords.Get(); keywords != nil {
		item.Keywords = *keywords
	} else {
		item.Keywords = []string{}
	}

	return &item
}
