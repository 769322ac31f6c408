package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/storagesync/internal/bus"
	"github.com/vbonduro/storagesync/internal/cache"
	"github.com/vbonduro/storagesync/internal/db"
	"github.com/vbonduro/storagesync/internal/domain"
	"github.com/vbonduro/storagesync/internal/imaging"
	"github.com/vbonduro/storagesync/internal/logging"
	"github.com/vbonduro/storagesync/internal/push"
	"github.com/vbonduro/storagesync/internal/store"
)

// stubPhotoStore is a minimal in-memory photostore.PhotoStore for tests.
type stubPhotoStore struct {
	mu      sync.Mutex
	saved   map[string][]byte
	saveErr error
	next    int
}

func newStubPhotoStore() *stubPhotoStore {
	return &stubPhotoStore{saved: make(map[string][]byte)}
}

func (s *stubPhotoStore) Save(_ context.Context, prefix, _ string, r io.Reader) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	key := fmt.Sprintf("%s_%d.jpg", prefix, s.next)
	s.saved[key] = data
	return key, nil
}

func (s *stubPhotoStore) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.saved[key]
	if !ok {
		return nil, "", domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), "image/jpeg", nil
}

func (s *stubPhotoStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, key)
	return nil
}

func (s *stubPhotoStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []bus.Topic
}

func (p *recordingPublisher) Publish(topic bus.Topic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
}

func (p *recordingPublisher) published() []bus.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Topic(nil), p.topics...)
}

type recordingNotifier struct {
	mu          sync.Mutex
	recordTypes []string
	err         error
}

func (n *recordingNotifier) Notify(_ context.Context, recordType string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recordTypes = append(n.recordTypes, recordType)
	return n.err
}

func (n *recordingNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.recordTypes...)
}

// failingPhotoRepo wraps the real store but rejects new records.
type failingPhotoRepo struct {
	*store.PhotoStore
}

func (failingPhotoRepo) Create(context.Context, string, string, string) (*domain.Photo, error) {
	return nil, errors.New("quota exceeded")
}

// slowBoxRepo blocks every lookup until the context gives up.
type slowBoxRepo struct {
	*store.BoxStore
}

func (slowBoxRepo) GetByID(ctx context.Context, _ string) (*domain.Box, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// lostLookupBoxRepo never finds a barcode, as if a concurrent create landed
// between the lookup and the insert.
type lostLookupBoxRepo struct {
	*store.BoxStore
}

func (lostLookupBoxRepo) GetByBarcode(context.Context, string) (*domain.Box, error) {
	return nil, nil
}

// racedShareBoxRepo reports the box as unshared on the first lookup, as if
// another share committed right after it.
type racedShareBoxRepo struct {
	*store.BoxStore
	mu      sync.Mutex
	lookups int
}

func (r *racedShareBoxRepo) GetByID(ctx context.Context, id string) (*domain.Box, error) {
	box, err := r.BoxStore.GetByID(ctx, id)
	if err != nil || box == nil {
		return box, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.lookups == 1 {
		box.ShareHandle = ""
	}
	return box, nil
}

// offlineItemRepo fails every full fetch of the item population.
type offlineItemRepo struct {
	*store.ItemStore
}

func (offlineItemRepo) ListAll(context.Context, int) ([]*domain.Item, error) {
	return nil, errors.New("connection refused")
}

type testEnv struct {
	svc      *InventoryService
	db       *sql.DB
	boxes    *store.BoxStore
	items    *store.ItemStore
	photos   *store.PhotoStore
	photoStg *stubPhotoStore
	cache    *cache.ItemCache
	events   *recordingPublisher
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	env := &testEnv{
		db:       d,
		boxes:    store.NewBoxStore(d),
		items:    store.NewItemStore(d),
		photos:   store.NewPhotoStore(d),
		photoStg: newStubPhotoStore(),
		cache:    cache.New(cache.Options{}, logging.Discard()),
		events:   &recordingPublisher{},
		notifier: &recordingNotifier{},
	}
	env.svc = env.build(env.boxes, env.photos, Options{MaxPhotoDimension: 64})
	return env
}

func (e *testEnv) build(boxes boxRepository, photos photoRepository, opts Options) *InventoryService {
	return NewInventoryService(boxes, e.items, photos, e.photoStg, e.cache, e.events, e.notifier, opts, logging.Discard())
}

// reset forgets everything recorded so far.
func (e *testEnv) reset() {
	e.events.mu.Lock()
	e.events.topics = nil
	e.events.mu.Unlock()
	e.notifier.mu.Lock()
	e.notifier.recordTypes = nil
	e.notifier.mu.Unlock()
}

func (e *testEnv) createBox(t *testing.T, title string) *domain.Box {
	t.Helper()
	box, err := e.svc.CreateBox(context.Background(), title, "")
	require.NoError(t, err)
	return box
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCreateBox(t *testing.T) {
	env := newTestEnv(t)

	box, err := env.svc.CreateBox(context.Background(), "  Garage Shelf ", "SS-0001")
	require.NoError(t, err)
	assert.NotEmpty(t, box.ID)
	assert.Equal(t, "Garage Shelf", box.Title)
	assert.Equal(t, "SS-0001", box.Barcode)

	assert.Equal(t, []bus.Topic{bus.BoxesChanged}, env.events.published())
	assert.Equal(t, []string{domain.RecordTypeBox}, env.notifier.notified())
}

func TestCreateBox_BlankTitle(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateBox(context.Background(), "   ", "")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)
	assert.Empty(t, env.events.published())
}

func TestCreateBox_DuplicateBarcode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateBox(ctx, "First", "SS-0001")
	require.NoError(t, err)
	env.reset()

	_, err = env.svc.CreateBox(ctx, "Second", "SS-0001")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "barcode", verr.Field)
	assert.Empty(t, env.events.published())
}

func TestCreateBox_DuplicateBarcodeAfterLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.build(lostLookupBoxRepo{env.boxes}, env.photos, Options{})

	_, err := svc.CreateBox(ctx, "First", "SS-0002")
	require.NoError(t, err)
	env.reset()

	_, err = svc.CreateBox(ctx, "Second", "SS-0002")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "barcode", verr.Field)
	assert.Empty(t, env.events.published())
}

func TestListBoxes_NewestFirst(t *testing.T) {
	env := newTestEnv(t)

	env.createBox(t, "Old")
	time.Sleep(2 * time.Millisecond)
	env.createBox(t, "New")

	boxes, err := env.svc.ListBoxes(context.Background())
	require.NoError(t, err)
	require.Len(t, boxes, 2)
	assert.Equal(t, "New", boxes[0].Title)
	assert.Equal(t, "Old", boxes[1].Title)
}

func TestGetBox_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.GetBox(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindBoxByBarcode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateBox(ctx, "Kitchen", "SS-0042")
	require.NoError(t, err)

	found, err := env.svc.FindBoxByBarcode(ctx, " SS-0042 ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = env.svc.FindBoxByBarcode(ctx, "SS-9999")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var verr *domain.ValidationError
	_, err = env.svc.FindBoxByBarcode(ctx, "")
	assert.ErrorAs(t, err, &verr)
}

func TestShareBox_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Shared")
	env.reset()

	shared, err := env.svc.ShareBox(ctx, box.ID)
	require.NoError(t, err)
	require.True(t, shared.Shared())
	assert.Len(t, shared.ShareHandle, 26)

	again, err := env.svc.ShareBox(ctx, box.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.ShareHandle, again.ShareHandle)

	stored, err := env.svc.GetBox(ctx, box.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.ShareHandle, stored.ShareHandle)

	assert.Equal(t, []bus.Topic{bus.BoxesChanged}, env.events.published())
}

func TestShareBox_ConcurrentShareKeepsFirstHandle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Shared")
	const winner = "01HZX3J0M6Q7R8S9T0V1W2X3Y4"
	applied, err := env.boxes.SetShareHandle(ctx, box.ID, winner)
	require.NoError(t, err)
	require.True(t, applied)
	env.reset()

	svc := env.build(&racedShareBoxRepo{BoxStore: env.boxes}, env.photos, Options{})
	shared, err := svc.ShareBox(ctx, box.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, shared.ShareHandle)

	stored, err := env.boxes.GetByID(ctx, box.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, stored.ShareHandle)
	assert.Empty(t, env.events.published())
}

func TestShareBox_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ShareBox(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddItem_PublishesOnceAndInvalidatesCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Cables")
	_, err := env.svc.AddItem(ctx, box.ID, "Charger", "")
	require.NoError(t, err)

	_, err = env.svc.SearchItems(ctx, "charger")
	require.NoError(t, err)
	require.True(t, env.cache.IsFresh())
	env.reset()

	item, err := env.svc.AddItem(ctx, box.ID, "Cable", "USB-C")
	require.NoError(t, err)
	assert.Equal(t, "Cable", item.Name)
	assert.Equal(t, "USB-C", item.Note)
	assert.Equal(t, box.ID, item.BoxID)

	assert.Equal(t, []bus.Topic{bus.ItemsChanged}, env.events.published())
	assert.Equal(t, []string{domain.RecordTypeItem}, env.notifier.notified())
	assert.False(t, env.cache.IsFresh())

	found, err := env.svc.SearchItems(ctx, "cable")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, item.ID, found[0].ID)
}

func TestAddItem_BlankName(t *testing.T) {
	env := newTestEnv(t)
	box := env.createBox(t, "Box")
	env.reset()

	_, err := env.svc.AddItem(context.Background(), box.ID, "  ", "")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
	assert.Empty(t, env.events.published())
}

func TestAddItem_UnknownBox(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.AddItem(context.Background(), "missing", "Cable", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, env.events.published())
}

func TestAddItem_StoreFailurePublishesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Box")
	_, err := env.svc.AddItem(ctx, box.ID, "Charger", "")
	require.NoError(t, err)
	_, err = env.svc.SearchItems(ctx, "charger")
	require.NoError(t, err)
	env.reset()

	require.NoError(t, env.db.Close())

	_, err = env.svc.AddItem(ctx, box.ID, "Cable", "")
	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Empty(t, env.events.published())
	assert.Empty(t, env.notifier.notified())
	assert.True(t, env.cache.IsFresh(), "a failed write must not invalidate the cache")
}

func TestUpdateItem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Box")
	item, err := env.svc.AddItem(ctx, box.ID, "Cable", "old")
	require.NoError(t, err)
	env.reset()

	updated, err := env.svc.UpdateItem(ctx, item.ID, "HDMI Cable", "")
	require.NoError(t, err)
	assert.Equal(t, "HDMI Cable", updated.Name)
	assert.Empty(t, updated.Note)
	assert.Equal(t, []bus.Topic{bus.ItemsChanged}, env.events.published())
}

func TestUpdateItem_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.UpdateItem(context.Background(), "missing", "Cable", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, env.events.published())
}

func TestDeleteItem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Box")
	item, err := env.svc.AddItem(ctx, box.ID, "Cable", "")
	require.NoError(t, err)
	env.reset()

	require.NoError(t, env.svc.DeleteItem(ctx, item.ID))
	assert.Equal(t, []bus.Topic{bus.ItemsChanged}, env.events.published())

	items, err := env.svc.ListItems(ctx, box.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeleteItem_NotFoundPublishesNothing(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.DeleteItem(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, env.events.published())
}

func TestListItems_SortedByName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Box")
	for _, name := range []string{"Zip ties", "Adapter", "Mouse"} {
		_, err := env.svc.AddItem(ctx, box.ID, name, "")
		require.NoError(t, err)
	}

	items, err := env.svc.ListItems(ctx, box.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "Adapter", items[0].Name)
	assert.Equal(t, "Mouse", items[1].Name)
	assert.Equal(t, "Zip ties", items[2].Name)

	_, err = env.svc.ListItems(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddPhoto(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Box")
	env.reset()

	photo, err := env.svc.AddPhoto(ctx, box.ID, bytes.NewReader(pngImage(t, 128, 32)))
	require.NoError(t, err)
	assert.Equal(t, imaging.MimeType, photo.MimeType)
	assert.Equal(t, box.ID, photo.BoxID)
	assert.Equal(t, []bus.Topic{bus.PhotosChanged}, env.events.published())

	rc, mimeType, err := env.svc.OpenPhoto(ctx, photo.ID)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "image/jpeg", mimeType)

	img, format, err := image.Decode(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 64, img.Bounds().Dx(), "longest side is shrunk to the configured maximum")
	assert.Equal(t, 16, img.Bounds().Dy())
}

func TestAddPhoto_InvalidImage(t *testing.T) {
	env := newTestEnv(t)
	box := env.createBox(t, "Box")
	env.reset()

	_, err := env.svc.AddPhoto(context.Background(), box.ID, strings.NewReader("not an image"))
	var convErr *domain.ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Zero(t, env.photoStg.count())
	assert.Empty(t, env.events.published())
}

func TestAddPhoto_StorageFailure(t *testing.T) {
	env := newTestEnv(t)
	box := env.createBox(t, "Box")
	env.photoStg.saveErr = errors.New("disk full")

	_, err := env.svc.AddPhoto(context.Background(), box.ID, bytes.NewReader(pngImage(t, 8, 8)))
	var convErr *domain.ConversionError
	assert.ErrorAs(t, err, &convErr)
}

func TestAddPhoto_RecordFailureRollsBackFile(t *testing.T) {
	env := newTestEnv(t)
	box := env.createBox(t, "Box")
	env.reset()
	svc := env.build(env.boxes, failingPhotoRepo{env.photos}, Options{})

	_, err := svc.AddPhoto(context.Background(), box.ID, bytes.NewReader(pngImage(t, 8, 8)))
	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, env.photoStg.count())
	assert.Empty(t, env.events.published())
}

func TestAddPhoto_UnknownBox(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.AddPhoto(context.Background(), "missing", bytes.NewReader(pngImage(t, 8, 8)))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeletePhoto(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Box")
	photo, err := env.svc.AddPhoto(ctx, box.ID, bytes.NewReader(pngImage(t, 8, 8)))
	require.NoError(t, err)
	env.reset()

	require.NoError(t, env.svc.DeletePhoto(ctx, photo.ID))
	assert.Zero(t, env.photoStg.count())
	assert.Equal(t, []bus.Topic{bus.PhotosChanged}, env.events.published())

	_, _, err = env.svc.OpenPhoto(ctx, photo.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, env.svc.DeletePhoto(ctx, photo.ID), domain.ErrNotFound)
}

func TestGetBoxContents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Box")
	_, err := env.svc.AddItem(ctx, box.ID, "Cable", "")
	require.NoError(t, err)
	_, err = env.svc.AddPhoto(ctx, box.ID, bytes.NewReader(pngImage(t, 8, 8)))
	require.NoError(t, err)

	contents, err := env.svc.GetBoxContents(ctx, box.ID)
	require.NoError(t, err)
	assert.Equal(t, box.ID, contents.ID)
	assert.Len(t, contents.Items, 1)
	assert.Len(t, contents.Photos, 1)
}

func TestDeleteBox_Cascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Box")
	keep := env.createBox(t, "Keep")
	_, err := env.svc.AddItem(ctx, box.ID, "Cable", "")
	require.NoError(t, err)
	_, err = env.svc.AddItem(ctx, keep.ID, "Charger", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = env.svc.AddPhoto(ctx, box.ID, bytes.NewReader(pngImage(t, 8, 8)))
		require.NoError(t, err)
	}
	_, err = env.svc.AddPhoto(ctx, keep.ID, bytes.NewReader(pngImage(t, 8, 8)))
	require.NoError(t, err)
	env.reset()

	require.NoError(t, env.svc.DeleteBox(ctx, box.ID))

	_, err = env.svc.GetBox(ctx, box.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, env.photoStg.count())

	remaining, err := env.items.ListAll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "Charger", remaining[0].Name)

	assert.ElementsMatch(t, bus.Topics, env.events.published())
	assert.ElementsMatch(t, []string{domain.RecordTypeBox, domain.RecordTypeItem, domain.RecordTypePhoto}, env.notifier.notified())
}

func TestDeleteBox_FailureLeavesEverythingInPlace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Box")
	_, err := env.svc.AddItem(ctx, box.ID, "Cable", "")
	require.NoError(t, err)
	_, err = env.svc.AddPhoto(ctx, box.ID, bytes.NewReader(pngImage(t, 8, 8)))
	require.NoError(t, err)
	env.reset()

	// The items and photos rows are removed before the box row, so a failing
	// box delete shows whether those earlier deletes were rolled back.
	_, err = env.db.Exec(`
		CREATE TRIGGER reject_box_delete BEFORE DELETE ON boxes
		BEGIN SELECT RAISE(ABORT, 'box is locked'); END
	`)
	require.NoError(t, err)

	err = env.svc.DeleteBox(ctx, box.ID)
	var nerr *domain.NetworkError
	require.ErrorAs(t, err, &nerr)

	contents, err := env.svc.GetBoxContents(ctx, box.ID)
	require.NoError(t, err)
	assert.Len(t, contents.Items, 1)
	assert.Len(t, contents.Photos, 1)
	assert.Equal(t, 1, env.photoStg.count())
	assert.Empty(t, env.events.published())
	assert.Empty(t, env.notifier.notified())
}

func TestDeleteBox_NotFound(t *testing.T) {
	env := newTestEnv(t)

	assert.ErrorIs(t, env.svc.DeleteBox(context.Background(), "missing"), domain.ErrNotFound)
	assert.Empty(t, env.events.published())
}

func TestNotifierFailureDoesNotFailWrite(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("redis down")

	box, err := env.svc.CreateBox(context.Background(), "Box", "")
	require.NoError(t, err)
	assert.NotNil(t, box)
	assert.Equal(t, []bus.Topic{bus.BoxesChanged}, env.events.published())
}

func TestRemoteOperationsTimeOut(t *testing.T) {
	env := newTestEnv(t)
	svc := env.build(slowBoxRepo{env.boxes}, env.photos, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := svc.GetBox(context.Background(), "any")

	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandleRemoteNotification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Box")
	_, err := env.svc.AddItem(ctx, box.ID, "Cable", "")
	require.NoError(t, err)
	_, err = env.svc.SearchItems(ctx, "cable")
	require.NoError(t, err)
	require.True(t, env.cache.IsFresh())
	env.reset()

	assert.True(t, env.svc.HandleRemoteNotification(push.Payload{SubscriptionID: push.BoxesSubscription}))
	assert.True(t, env.cache.IsFresh(), "box changes leave the item cache alone")

	assert.True(t, env.svc.HandleRemoteNotification(push.Payload{SubscriptionID: push.ItemsSubscription}))
	assert.False(t, env.cache.IsFresh())

	assert.False(t, env.svc.HandleRemoteNotification(push.Payload{SubscriptionID: "shelves-sub"}))

	assert.Equal(t, []bus.Topic{bus.BoxesChanged, bus.ItemsChanged}, env.events.published())
	assert.Empty(t, env.notifier.notified(), "remote changes are not echoed back")
}

func TestSearchItems_LogsRefreshFailureWhenServingStaleResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	box := env.createBox(t, "Desk")
	_, err := env.svc.AddItem(ctx, box.ID, "Charger", "")
	require.NoError(t, err)
	got, err := env.svc.SearchItems(ctx, "charger")
	require.NoError(t, err)
	require.Len(t, got, 1)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	svc := NewInventoryService(env.boxes, offlineItemRepo{env.items}, env.photos, env.photoStg, env.cache, env.events, env.notifier, Options{}, logger)
	env.cache.Invalidate()

	got, err = svc.SearchItems(ctx, "charger")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, logs.String(), "item refresh failed")
	assert.Contains(t, logs.String(), "connection refused")
}
