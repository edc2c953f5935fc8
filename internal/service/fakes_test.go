package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"classifieds/internal/domain"
	"classifieds/internal/infrastructure/metrics"
	"classifieds/internal/repository"
	"classifieds/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// callLog records repository and object store calls in the order they happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeRepository struct {
	log    *callLog
	mu     sync.Mutex
	ads    map[int64]*domain.Ad
	nextID int64

	getErr    error
	insertErr error
	updateErr error
	deleteErr error
}

func newFakeRepository(log *callLog) *fakeRepository {
	return &fakeRepository{log: log, ads: make(map[int64]*domain.Ad), nextID: 1}
}

func (f *fakeRepository) seed(ad domain.Ad) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ads[ad.ID] = &ad
	if ad.ID >= f.nextID {
		f.nextID = ad.ID + 1
	}
}

func (f *fakeRepository) get(id int64) (*domain.Ad, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ad, ok := f.ads[id]
	if !ok {
		return nil, false
	}
	copied := *ad
	return &copied, true
}

func (f *fakeRepository) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ads)
}

func (f *fakeRepository) Insert(ctx context.Context, fields domain.AdFields, imageKey *string) (*domain.Ad, error) {
	f.log.add("repo.insert")
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ad := &domain.Ad{
		ID:         f.nextID,
		SellerName: fields.SellerName,
		Email:      fields.Email,
		Phone:      fields.Phone,
		AdTitle:    fields.AdTitle,
		AdText:     fields.AdText,
		Price:      fields.Price,
		ImageKey:   imageKey,
		CreatedAt:  time.Now(),
	}
	f.ads[ad.ID] = ad
	f.nextID++
	copied := *ad
	return &copied, nil
}

func (f *fakeRepository) GetByID(ctx context.Context, id int64) (*domain.Ad, error) {
	f.log.add("repo.get %d", id)
	if f.getErr != nil {
		return nil, f.getErr
	}
	ad, ok := f.get(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ad, nil
}

func (f *fakeRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Ad, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeRepository) GetAll(ctx context.Context) ([]*domain.AdSummary, error) {
	f.log.add("repo.getAll")
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ads := make([]*domain.AdSummary, 0, len(f.ads))
	for _, ad := range f.ads {
		ads = append(ads, &domain.AdSummary{ID: ad.ID, AdTitle: ad.AdTitle, Price: ad.Price, SellerName: ad.SellerName, ImageKey: ad.ImageKey})
	}
	sort.Slice(ads, func(i, j int) bool { return ads[i].ID > ads[j].ID })
	return ads, nil
}

func (f *fakeRepository) Update(ctx context.Context, id int64, fields domain.AdFields, imageKey *string) error {
	f.log.add("repo.update %d", id)
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ad, ok := f.ads[id]
	if !ok {
		return repository.ErrNotFound
	}
	ad.SellerName = fields.SellerName
	ad.Email = fields.Email
	ad.Phone = fields.Phone
	ad.AdTitle = fields.AdTitle
	ad.AdText = fields.AdText
	ad.Price = fields.Price
	ad.ImageKey = imageKey
	return nil
}

func (f *fakeRepository) Delete(ctx context.Context, id int64) (int64, error) {
	f.log.add("repo.delete %d", id)
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ads[id]; !ok {
		return 0, nil
	}
	delete(f.ads, id)
	return 1, nil
}

type fakeStore struct {
	log     *callLog
	mu      sync.Mutex
	objects map[string][]byte

	putErr    error
	deleteErr map[string]error
	// hang makes Delete block until its context is done.
	hang bool
}

func newFakeStore(log *callLog) *fakeStore {
	return &fakeStore{log: log, objects: make(map[string][]byte), deleteErr: make(map[string]error)}
}

func (f *fakeStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.log.add("store.put %s", key)
	if f.putErr != nil {
		return "", f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return key, nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.log.add("store.delete %s", key)
	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[key]; err != nil {
		return err
	}
	delete(f.objects, key)
	return nil
}

var errBackend = errors.New("backend unavailable")

type fixture struct {
	log     *callLog
	repo    *fakeRepository
	store   *fakeStore
	metrics *metrics.ServiceMetrics
	service *adService
}

func newFixture() *fixture {
	log := &callLog{}
	repo := newFakeRepository(log)
	store := newFakeStore(log)
	m := metrics.NewServiceMetrics(prometheus.NewRegistry())

	svc := NewAdService(repo, store, "uploads/", time.Second, m, logger.Discard()).(*adService)
	keys := 0
	svc.newKey = func(prefix, filename string) string {
		keys++
		return fmt.Sprintf("%s%d-%s", prefix, keys, sanitizeFilename(filename))
	}

	return &fixture{log: log, repo: repo, store: store, metrics: m, service: svc}
}

func strPtr(s string) *string {
	return &s
}

func jpeg(name string) *domain.Attachment {
	return &domain.Attachment{Filename: name, ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff, 0xe0}}
}
