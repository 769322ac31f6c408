package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/vbonduro/storagesync/internal/bus"
	"github.com/vbonduro/storagesync/internal/domain"
	"github.com/vbonduro/storagesync/internal/imaging"
	"github.com/vbonduro/storagesync/internal/photostore"
	"github.com/vbonduro/storagesync/internal/push"
	"github.com/vbonduro/storagesync/internal/search"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout = 15 * time.Second

	// photoCleanupWorkers bounds concurrent file deletions when a box goes.
	photoCleanupWorkers = 4
)

// boxRepository is the subset of store.BoxStore that InventoryService requires.
type boxRepository interface {
	Create(ctx context.Context, title, barcode string) (*domain.Box, error)
	GetByID(ctx context.Context, id string) (*domain.Box, error)
	GetByBarcode(ctx context.Context, barcode string) (*domain.Box, error)
	List(ctx context.Context) ([]*domain.Box, error)
	SetShareHandle(ctx context.Context, id, handle string) (bool, error)
	DeleteCascade(ctx context.Context, id string) ([]*domain.Photo, error)
}

// itemRepository is the subset of store.ItemStore that InventoryService requires.
type itemRepository interface {
	Create(ctx context.Context, boxID, name, note string) (*domain.Item, error)
	GetByID(ctx context.Context, id string) (*domain.Item, error)
	ListByBoxID(ctx context.Context, boxID string) ([]*domain.Item, error)
	ListAll(ctx context.Context, limit int) ([]*domain.Item, error)
	Replace(ctx context.Context, id, name, note string) error
	Delete(ctx context.Context, id string) error
}

// photoRepository is the subset of store.PhotoStore that InventoryService requires.
type photoRepository interface {
	Create(ctx context.Context, boxID, storageKey, mimeType string) (*domain.Photo, error)
	GetByID(ctx context.Context, id string) (*domain.Photo, error)
	ListByBoxID(ctx context.Context, boxID string) ([]*domain.Photo, error)
	Delete(ctx context.Context, id string) error
}

// itemCache is the subset of cache.ItemCache that InventoryService requires.
type itemCache interface {
	search.ItemCache
	Invalidate()
}

// publisher is the subset of bus.Bus that InventoryService requires.
type publisher interface {
	Publish(topic bus.Topic)
}

type Options struct {
	// Timeout bounds every record store operation. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxPhotoDimension is the longest side of a stored photo, in pixels.
	MaxPhotoDimension uint
}

var recordTopics = map[string]bus.Topic{
	domain.RecordTypeBox:   bus.BoxesChanged,
	domain.RecordTypeItem:  bus.ItemsChanged,
	domain.RecordTypePhoto: bus.PhotosChanged,
}

// InventoryService owns every write to boxes, items and photos. A write is
// reported (cache invalidation, bus publish, remote push) only after the
// record store has confirmed it; a failed write changes nothing.
type InventoryService struct {
	boxStore   boxRepository
	itemStore  itemRepository
	photoStore photoRepository
	photoStg   photostore.PhotoStore
	cache      itemCache
	events     publisher
	notifier   push.Notifier
	opts       Options
	logger     *slog.Logger
}

func NewInventoryService(
	boxStore boxRepository,
	itemStore itemRepository,
	photoStore photoRepository,
	photoStg photostore.PhotoStore,
	cache itemCache,
	events publisher,
	notifier push.Notifier,
	opts Options,
	logger *slog.Logger,
) *InventoryService {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if notifier == nil {
		notifier = push.NopNotifier{}
	}
	return &InventoryService{
		boxStore:   boxStore,
		itemStore:  itemStore,
		photoStore: photoStore,
		photoStg:   photoStg,
		cache:      cache,
		events:     events,
		notifier:   notifier,
		opts:       opts,
		logger:     logger,
	}
}

// BoxContents bundles a box with everything stored in it.
type BoxContents struct {
	*domain.Box
	Items  []*domain.Item
	Photos []*domain.Photo
}

func (s *InventoryService) CreateBox(ctx context.Context, title, barcode string) (*domain.Box, error) {
	title = strings.TrimSpace(title)
	barcode = strings.TrimSpace(barcode)
	if title == "" {
		return nil, &domain.ValidationError{Field: "title", Reason: "must not be blank"}
	}

	ctx, cancel := s.remote(ctx)
	defer cancel()

	if barcode != "" {
		existing, err := s.boxStore.GetByBarcode(ctx, barcode)
		if err != nil {
			return nil, storeErr("fetch box", err)
		}
		if existing != nil {
			return nil, &domain.ValidationError{Field: "barcode", Reason: "already assigned to another box"}
		}
	}

	box, err := s.boxStore.Create(ctx, title, barcode)
	if errors.Is(err, domain.ErrDuplicate) {
		// Another box took the barcode after the lookup above.
		return nil, &domain.ValidationError{Field: "barcode", Reason: "already assigned to another box"}
	}
	if err != nil {
		return nil, storeErr("save box", err)
	}

	s.logger.Info("box created", "box_id", box.ID)
	s.changed(ctx, domain.RecordTypeBox)
	return box, nil
}

// ListBoxes returns every box, newest first.
func (s *InventoryService) ListBoxes(ctx context.Context) ([]*domain.Box, error) {
	ctx, cancel := s.remote(ctx)
	defer cancel()

	boxes, err := s.boxStore.List(ctx)
	if err != nil {
		return nil, storeErr("fetch boxes", err)
	}
	return boxes, nil
}

func (s *InventoryService) GetBox(ctx context.Context, id string) (*domain.Box, error) {
	ctx, cancel := s.remote(ctx)
	defer cancel()
	return s.getBox(ctx, id)
}

func (s *InventoryService) GetBoxContents(ctx context.Context, id string) (*BoxContents, error) {
	ctx, cancel := s.remote(ctx)
	defer cancel()

	box, err := s.getBox(ctx, id)
	if err != nil {
		return nil, err
	}

	items, err := s.itemStore.ListByBoxID(ctx, id)
	if err != nil {
		return nil, storeErr("fetch items", err)
	}

	photos, err := s.photoStore.ListByBoxID(ctx, id)
	if err != nil {
		return nil, storeErr("fetch photos", err)
	}

	return &BoxContents{Box: box, Items: items, Photos: photos}, nil
}

// FindBoxByBarcode resolves a scanned code to its box.
func (s *InventoryService) FindBoxByBarcode(ctx context.Context, code string) (*domain.Box, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &domain.ValidationError{Field: "barcode", Reason: "must not be blank"}
	}

	ctx, cancel := s.remote(ctx)
	defer cancel()

	box, err := s.boxStore.GetByBarcode(ctx, code)
	if err != nil {
		return nil, storeErr("fetch box", err)
	}
	if box == nil {
		return nil, fmt.Errorf("no box for code %s: %w", code, domain.ErrNotFound)
	}
	return box, nil
}

// ShareBox issues a share handle for the box. Sharing an already shared box
// returns the existing handle.
func (s *InventoryService) ShareBox(ctx context.Context, id string) (*domain.Box, error) {
	ctx, cancel := s.remote(ctx)
	defer cancel()

	box, err := s.getBox(ctx, id)
	if err != nil {
		return nil, err
	}
	if box.Shared() {
		return box, nil
	}

	handle := ulid.Make().String()
	applied, err := s.boxStore.SetShareHandle(ctx, id, handle)
	if err != nil {
		return nil, storeErr("share box", err)
	}
	if !applied {
		// A concurrent share won; hand out its handle.
		return s.getBox(ctx, id)
	}
	box.ShareHandle = handle

	s.logger.Info("box shared", "box_id", id)
	s.changed(ctx, domain.RecordTypeBox)
	return box, nil
}

// DeleteBox removes the box together with its items, photo records and photo
// files. The records go in one transaction; files are removed only after it
// commits, and file removal failures are logged, not returned.
func (s *InventoryService) DeleteBox(ctx context.Context, id string) error {
	ctx, cancel := s.remote(ctx)
	defer cancel()

	if _, err := s.getBox(ctx, id); err != nil {
		return err
	}

	photos, err := s.boxStore.DeleteCascade(ctx, id)
	if err != nil {
		return storeErr("delete box", err)
	}

	s.deletePhotoFiles(ctx, photos)
	s.logger.Info("box deleted", "box_id", id, "photos", len(photos))
	s.changed(ctx, domain.RecordTypeBox, domain.RecordTypeItem, domain.RecordTypePhoto)
	return nil
}

func (s *InventoryService) deletePhotoFiles(ctx context.Context, photos []*domain.Photo) {
	if len(photos) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(photoCleanupWorkers)
	for _, photo := range photos {
		g.Go(func() error {
			if err := s.photoStg.Delete(gctx, photo.StorageKey); err != nil && !errors.Is(err, domain.ErrNotFound) {
				s.logger.Error("failed to delete photo file", "storage_key", photo.StorageKey, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// AddItem stores a new item in box boxID.
func (s *InventoryService) AddItem(ctx context.Context, boxID, name, note string) (*domain.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "must not be blank"}
	}

	ctx, cancel := s.remote(ctx)
	defer cancel()

	if _, err := s.getBox(ctx, boxID); err != nil {
		return nil, err
	}

	item, err := s.itemStore.Create(ctx, boxID, name, strings.TrimSpace(note))
	if err != nil {
		return nil, storeErr("save item", err)
	}

	s.logger.Debug("item added", "item_id", item.ID, "box_id", boxID)
	s.changed(ctx, domain.RecordTypeItem)
	return item, nil
}

// UpdateItem replaces the name and note of an item.
func (s *InventoryService) UpdateItem(ctx context.Context, id, name, note string) (*domain.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "must not be blank"}
	}

	ctx, cancel := s.remote(ctx)
	defer cancel()

	if err := s.itemStore.Replace(ctx, id, name, strings.TrimSpace(note)); err != nil {
		return nil, storeErr("save item", err)
	}
	item, err := s.itemStore.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr("fetch item", err)
	}
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}

	s.changed(ctx, domain.RecordTypeItem)
	return item, nil
}

func (s *InventoryService) DeleteItem(ctx context.Context, id string) error {
	ctx, cancel := s.remote(ctx)
	defer cancel()

	if err := s.itemStore.Delete(ctx, id); err != nil {
		return storeErr("delete item", err)
	}

	s.logger.Debug("item deleted", "item_id", id)
	s.changed(ctx, domain.RecordTypeItem)
	return nil
}

// ListItems returns the items of a box sorted by name.
func (s *InventoryService) ListItems(ctx context.Context, boxID string) ([]*domain.Item, error) {
	ctx, cancel := s.remote(ctx)
	defer cancel()

	if _, err := s.getBox(ctx, boxID); err != nil {
		return nil, err
	}
	items, err := s.itemStore.ListByBoxID(ctx, boxID)
	if err != nil {
		return nil, storeErr("fetch items", err)
	}
	return items, nil
}

// SearchItems matches keyword against every cached item name. If the cache
// cannot be refreshed the previous snapshot is searched and the failure is
// logged.
func (s *InventoryService) SearchItems(ctx context.Context, keyword string) ([]*domain.Item, error) {
	items, stale, err := search.SearchStale(ctx, keyword, s.cache, s.fetchItems)
	if stale != nil {
		s.logger.Warn("item refresh failed, searching previous snapshot", "keyword", keyword, "error", stale)
	}
	return items, err
}

// fetchItems is the cache's view of the record store.
func (s *InventoryService) fetchItems(ctx context.Context, limit int) ([]*domain.Item, error) {
	ctx, cancel := s.remote(ctx)
	defer cancel()

	items, err := s.itemStore.ListAll(ctx, limit)
	if err != nil {
		return nil, storeErr("fetch items", err)
	}
	return items, nil
}

// AddPhoto converts the uploaded image to JPEG and attaches it to the box. The
// stored file is removed again if the photo record cannot be saved.
func (s *InventoryService) AddPhoto(ctx context.Context, boxID string, r io.Reader) (*domain.Photo, error) {
	ctx, cancel := s.remote(ctx)
	defer cancel()

	if _, err := s.getBox(ctx, boxID); err != nil {
		return nil, err
	}

	data, err := imaging.Normalize(r, s.opts.MaxPhotoDimension)
	if err != nil {
		return nil, err
	}

	storageKey, err := s.photoStg.Save(ctx, "box_"+boxID, imaging.MimeType, bytes.NewReader(data))
	if err != nil {
		return nil, &domain.ConversionError{Op: "save", Err: err}
	}
	s.logger.Debug("photo saved", "box_id", boxID, "storage_key", storageKey, "bytes", len(data))

	photo, err := s.photoStore.Create(ctx, boxID, storageKey, imaging.MimeType)
	if err != nil {
		if stgErr := s.photoStg.Delete(context.WithoutCancel(ctx), storageKey); stgErr != nil {
			s.logger.Error("failed to roll back photo file", "storage_key", storageKey, "error", stgErr)
		}
		return nil, storeErr("save photo", err)
	}

	s.logger.Info("photo added", "photo_id", photo.ID, "box_id", boxID)
	s.changed(ctx, domain.RecordTypePhoto)
	return photo, nil
}

// OpenPhoto returns the stored image. The caller must close the reader.
func (s *InventoryService) OpenPhoto(ctx context.Context, id string) (io.ReadCloser, string, error) {
	photo, err := s.getPhoto(ctx, id)
	if err != nil {
		return nil, "", err
	}

	rc, mimeType, err := s.photoStg.Get(ctx, photo.StorageKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", fmt.Errorf("photo file %s: %w", id, domain.ErrNotFound)
		}
		return nil, "", &domain.ConversionError{Op: "read", Err: err}
	}
	return rc, mimeType, nil
}

// DeletePhoto removes the photo record, then its file.
func (s *InventoryService) DeletePhoto(ctx context.Context, id string) error {
	photo, err := s.getPhoto(ctx, id)
	if err != nil {
		return err
	}

	rctx, cancel := s.remote(ctx)
	defer cancel()
	if err := s.photoStore.Delete(rctx, id); err != nil {
		return storeErr("delete photo", err)
	}

	if err := s.photoStg.Delete(context.WithoutCancel(ctx), photo.StorageKey); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Error("failed to delete photo file", "storage_key", photo.StorageKey, "error", err)
	}

	s.changed(ctx, domain.RecordTypePhoto)
	return nil
}

// HandleRemoteNotification reacts to a change made elsewhere. It reports
// whether the subscription id was recognised.
func (s *InventoryService) HandleRemoteNotification(p push.Payload) bool {
	topic, ok := push.TopicFor(p.SubscriptionID)
	if !ok {
		s.logger.Debug("ignoring unknown subscription", "subscription_id", p.SubscriptionID)
		return false
	}
	if topic == bus.ItemsChanged {
		s.cache.Invalidate()
	}
	s.events.Publish(topic)
	return true
}

func (s *InventoryService) getBox(ctx context.Context, id string) (*domain.Box, error) {
	box, err := s.boxStore.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr("fetch box", err)
	}
	if box == nil {
		return nil, fmt.Errorf("box %s: %w", id, domain.ErrNotFound)
	}
	return box, nil
}

func (s *InventoryService) getPhoto(ctx context.Context, id string) (*domain.Photo, error) {
	ctx, cancel := s.remote(ctx)
	defer cancel()

	photo, err := s.photoStore.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr("fetch photo", err)
	}
	if photo == nil {
		return nil, fmt.Errorf("photo %s: %w", id, domain.ErrNotFound)
	}
	return photo, nil
}

// changed reports confirmed writes: the item cache is invalidated first so no
// subscriber reacting to the publish can observe pre-write search results.
func (s *InventoryService) changed(ctx context.Context, recordTypes ...string) {
	for _, recordType := range recordTypes {
		if recordType == domain.RecordTypeItem {
			s.cache.Invalidate()
		}
		s.events.Publish(recordTopics[recordType])
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()
	for _, recordType := range recordTypes {
		if err := s.notifier.Notify(nctx, recordType); err != nil {
			s.logger.Warn("failed to send push notification", "record_type", recordType, "error", err)
		}
	}
}

func (s *InventoryService) remote(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// storeErr classifies a record store failure. Missing records keep their
// ErrNotFound identity; anything else is a NetworkError.
func storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return &domain.NetworkError{Op: op, Err: err}
}
