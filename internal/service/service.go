package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"classifieds/internal/domain"
	"classifieds/internal/infrastructure/metrics"
	"classifieds/internal/infrastructure/objectstore"
	"classifieds/internal/repository"
	"classifieds/pkg/logger"
	"classifieds/pkg/utils"

	"github.com/im7mortal/kmutex"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidID     = errors.New("invalid ad ID")
	ErrAdNotFound    = errors.New("ad not found")
	ErrValidation    = errors.New("seller_name and ad_title are required")
	ErrStorageWrite  = errors.New("could not store image")
	ErrStorageDelete = errors.New("could not remove image")
	ErrRepository    = errors.New("ad repository failure")
)

type AdService interface {
	GetAllAds(ctx context.Context) ([]*domain.AdSummary, error)
	GetAdByID(ctx context.Context, id int64) (*domain.Ad, error)
	CreateAd(ctx context.Context, fields domain.AdFields, attachment *domain.Attachment) (*domain.Ad, error)
	UpdateAd(ctx context.Context, id int64, fields domain.AdFields, attachment *domain.Attachment) (*domain.Ad, error)
	DeleteAd(ctx context.Context, id int64) (*domain.DeletionResult, error)
}

const defaultCleanupTimeout = 30 * time.Second

type adService struct {
	repository repository.AdRepository
	store      objectstore.Gateway
	metrics    *metrics.ServiceMetrics
	logger     *logger.Loggers
	tracer     trace.Tracer
	locks      *kmutex.Kmutex
	keyPrefix  string
	newKey     func(prefix, filename string) string

	cleanupTimeout time.Duration
}

// NewAdService coordinates the ad repository and the object store holding ad
// images. Records never reference an image that failed to upload; objects
// that can no longer be cleaned up are logged and counted, never surfaced.
//
// cleanupTimeout bounds the removal of replaced or deleted images, which is
// detached from request cancellation.
func NewAdService(repository repository.AdRepository, store objectstore.Gateway, keyPrefix string, cleanupTimeout time.Duration, metrics *metrics.ServiceMetrics, loggers *logger.Loggers) AdService {
	if cleanupTimeout <= 0 {
		cleanupTimeout = defaultCleanupTimeout
	}

	tracer := otel.Tracer("classifieds/service")
	return &adService{
		repository: repository,
		store:      store,
		metrics:    metrics,
		logger:     loggers,
		tracer:     tracer,
		locks:      kmutex.New(),
		keyPrefix:  keyPrefix,
		newKey:     newImageKey,

		cleanupTimeout: cleanupTimeout,
	}
}

func (s *adService) observe(method string, startTime time.Time, status *string) {
	duration := time.Since(startTime).Seconds()
	s.metrics.MethodCount.WithLabelValues(method, *status).Inc()
	s.metrics.MethodDuration.WithLabelValues(method, *status).Observe(duration)
}

func validate(fields domain.AdFields) error {
	if fields.SellerName == "" || fields.AdTitle == "" {
		return ErrValidation
	}
	return nil
}

func (s *adService) GetAllAds(ctx context.Context) ([]*domain.AdSummary, error) {
	ctx, span := s.tracer.Start(ctx, "GetAllAds")
	defer span.End()

	startTime := time.Now()
	status := "success"
	defer s.observe("GetAllAds", startTime, &status)

	ads, err := s.repository.GetAll(ctx)
	if err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	span.SetAttributes(attribute.Int("ads.count", len(ads)))
	return ads, nil
}

func (s *adService) GetAdByID(ctx context.Context, id int64) (*domain.Ad, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}

	ctx, span := s.tracer.Start(ctx, "GetAdByID")
	defer span.End()

	startTime := time.Now()
	status := "success"
	defer s.observe("GetAdByID", startTime, &status)

	span.SetAttributes(attribute.Int64("ad.id", id))

	ad, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			status = "not_found"
			return nil, ErrAdNotFound
		}
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	return ad, nil
}

func (s *adService) CreateAd(ctx context.Context, fields domain.AdFields, attachment *domain.Attachment) (*domain.Ad, error) {
	ctx, span := s.tracer.Start(ctx, "CreateAd")
	defer span.End()

	startTime := time.Now()
	status := "success"
	defer s.observe("CreateAd", startTime, &status)

	fields = fields.Normalize()
	if err := validate(fields); err != nil {
		status = "invalid"
		return nil, err
	}

	var imageKey *string
	if attachment != nil {
		key, err := s.upload(ctx, attachment)
		if err != nil {
			status = "error"
			span.RecordError(err)
			return nil, err
		}
		imageKey = &key
	}

	ad, err := s.repository.Insert(ctx, fields, imageKey)
	if err != nil {
		status = "error"
		span.RecordError(err)
		if imageKey != nil {
			s.orphaned("CreateAd", 0, *imageKey, "insert_failed", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	span.SetAttributes(
		attribute.Int64("ad.id", ad.ID),
		attribute.String("ad.title", ad.AdTitle),
		attribute.Bool("ad.has_image", ad.ImageKey != nil),
	)
	return ad, nil
}

func (s *adService) UpdateAd(ctx context.Context, id int64, fields domain.AdFields, attachment *domain.Attachment) (*domain.Ad, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}

	ctx, span := s.tracer.Start(ctx, "UpdateAd")
	defer span.End()

	startTime := time.Now()
	status := "success"
	defer s.observe("UpdateAd", startTime, &status)

	span.SetAttributes(attribute.Int64("ad.id", id))

	fields = fields.Normalize()
	if err := validate(fields); err != nil {
		status = "invalid"
		return nil, err
	}

	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	existing, err := s.repository.GetForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			status = "not_found"
			return nil, ErrAdNotFound
		}
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	imageKey := existing.ImageKey
	var replacement string
	if attachment != nil {
		replacement, err = s.upload(ctx, attachment)
		if err != nil {
			status = "error"
			span.RecordError(err)
			return nil, err
		}
		imageKey = &replacement
	}

	if err := s.repository.Update(ctx, id, fields, imageKey); err != nil {
		if replacement != "" {
			s.orphaned("UpdateAd", id, replacement, "update_failed", err)
		}
		if errors.Is(err, repository.ErrNotFound) {
			status = "not_found"
			return nil, ErrAdNotFound
		}
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	// Only after the row references the replacement.
	if replacement != "" && existing.ImageKey != nil && *existing.ImageKey != replacement {
		s.removeObjects(ctx, "UpdateAd", id, *existing.ImageKey)
	}

	updated := &domain.Ad{
		ID:           id,
		SellerName:   fields.SellerName,
		Email:        fields.Email,
		Phone:        fields.Phone,
		AdTitle:      fields.AdTitle,
		AdText:       fields.AdText,
		Price:        fields.Price,
		ImageKey:     imageKey,
		ThumbnailKey: existing.ThumbnailKey,
		CreatedAt:    existing.CreatedAt,
	}

	span.SetAttributes(
		attribute.String("ad.title", updated.AdTitle),
		attribute.Bool("ad.image_replaced", replacement != ""),
	)
	return updated, nil
}

func (s *adService) DeleteAd(ctx context.Context, id int64) (*domain.DeletionResult, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}

	ctx, span := s.tracer.Start(ctx, "DeleteAd")
	defer span.End()

	startTime := time.Now()
	status := "success"
	defer s.observe("DeleteAd", startTime, &status)

	span.SetAttributes(attribute.Int64("ad.id", id))

	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	// Image references must be read from the row before it disappears.
	existing, err := s.repository.GetForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			status = "not_found"
			return nil, ErrAdNotFound
		}
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	affected, err := s.repository.Delete(ctx, id)
	if err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	if affected == 0 {
		status = "not_found"
		return nil, ErrAdNotFound
	}

	var keys []string
	if existing.ImageKey != nil {
		keys = append(keys, *existing.ImageKey)
	}
	if existing.ThumbnailKey != nil && (existing.ImageKey == nil || *existing.ThumbnailKey != *existing.ImageKey) {
		keys = append(keys, *existing.ThumbnailKey)
	}

	result := &domain.DeletionResult{
		ID:           id,
		AffectedRows: affected,
	}
	result.OrphanedKeys, result.CleanupErr = s.removeObjects(ctx, "DeleteAd", id, keys...)

	span.SetAttributes(
		attribute.Int64("ad.affected_rows", affected),
		attribute.Int("ad.orphaned_objects", len(result.OrphanedKeys)),
	)
	return result, nil
}

func (s *adService) upload(ctx context.Context, attachment *domain.Attachment) (string, error) {
	key := s.newKey(s.keyPrefix, attachment.Filename)
	stored, err := s.store.Put(ctx, key, attachment.Data, attachment.ContentType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	return stored, nil
}

// removeObjects deletes keys concurrently after their ad row has been
// committed. Failures never fail the caller: each one is logged, counted as an
// orphan and returned.
func (s *adService) removeObjects(ctx context.Context, method string, id int64, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	// Survives request cancellation but not a hung store.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cleanupTimeout)
	defer cancel()

	var (
		g        errgroup.Group
		mu       sync.Mutex
		orphaned []string
		errs     error
	)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if err := s.store.Delete(ctx, key); err != nil {
				err = fmt.Errorf("%w: %w", ErrStorageDelete, err)
				s.orphaned(method, id, key, "delete_failed", err)
				mu.Lock()
				orphaned = append(orphaned, key)
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return nil
			}
			s.logger.InfoLogger.Info("removed ad image", "ad_id", id, "key", key)
			return nil
		})
	}
	_ = g.Wait()

	return orphaned, errs
}

func (s *adService) orphaned(method string, id int64, key, reason string, err error) {
	s.metrics.OrphanedObjects.WithLabelValues(method, reason).Inc()
	s.logger.WarnLogger.Warn("object left orphaned in store",
		"method", method,
		"ad_id", id,
		"key", key,
		"reason", reason,
		utils.Err(err),
	)
}
