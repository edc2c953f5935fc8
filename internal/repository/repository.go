package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"classifieds/internal/domain"
	"classifieds/internal/infrastructure/cache"
	"classifieds/internal/infrastructure/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned when no advertisement has the requested id.
var ErrNotFound = sql.ErrNoRows

const listCacheKey = "ads:all"

type AdRepository interface {
	Insert(ctx context.Context, fields domain.AdFields, imageKey *string) (*domain.Ad, error)
	GetByID(ctx context.Context, id int64) (*domain.Ad, error)
	GetForUpdate(ctx context.Context, id int64) (*domain.Ad, error)
	GetAll(ctx context.Context) ([]*domain.AdSummary, error)
	Update(ctx context.Context, id int64, fields domain.AdFields, imageKey *string) error
	Delete(ctx context.Context, id int64) (int64, error)
}

type sqlAdRepository struct {
	db       *sql.DB
	cache    cache.Cache
	cacheTTL time.Duration
	metrics  *metrics.RepositoryMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewSQLAdRepository returns a repository over the advertisements table. The
// statements use '?' placeholders and run unchanged on MySQL and SQLite.
func NewSQLAdRepository(db *sql.DB, cache cache.Cache, cacheTTL time.Duration, metrics *metrics.RepositoryMetrics) AdRepository {
	tracer := otel.Tracer("classifieds/repository")
	return &sqlAdRepository{
		db:       db,
		cache:    cache,
		cacheTTL: cacheTTL,
		metrics:  metrics,
		tracer:   tracer,
		now:      time.Now,
	}
}

func adCacheKey(id int64) string {
	return fmt.Sprintf("ad:%d", id)
}

func (r *sqlAdRepository) observe(query string, startTime time.Time, status *string) {
	duration := time.Since(startTime).Seconds()
	r.metrics.QueryCount.WithLabelValues(query, *status).Inc()
	r.metrics.QueryDuration.WithLabelValues(query, *status).Observe(duration)
}

func (r *sqlAdRepository) Insert(ctx context.Context, fields domain.AdFields, imageKey *string) (*domain.Ad, error) {
	ctx, span := r.tracer.Start(ctx, "Repository Insert")
	defer span.End()

	span.SetAttributes(attribute.String("ad.title", fields.AdTitle))

	startTime := time.Now()
	status := "success"
	defer r.observe("Insert", startTime, &status)

	createdAt := r.now().UTC().Truncate(time.Microsecond)

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO advertisements
			(seller_name, email, phone, ad_title, ad_text, price, image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fields.SellerName,
		nullString(fields.Email),
		nullString(fields.Phone),
		fields.AdTitle,
		nullString(fields.AdText),
		nullString(fields.Price),
		imageKey,
		createdAt,
	)
	if err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("failed to insert ad: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	span.SetAttributes(attribute.Int64("ad.id", id))
	r.invalidate(ctx)

	return &domain.Ad{
		ID:         id,
		SellerName: fields.SellerName,
		Email:      fields.Email,
		Phone:      fields.Phone,
		AdTitle:    fields.AdTitle,
		AdText:     fields.AdText,
		Price:      fields.Price,
		ImageKey:   imageKey,
		CreatedAt:  createdAt,
	}, nil
}

func (r *sqlAdRepository) GetByID(ctx context.Context, id int64) (*domain.Ad, error) {
	ctx, span := r.tracer.Start(ctx, "Repository GetByID")
	defer span.End()

	span.SetAttributes(attribute.Int64("ad.id", id))

	startTime := time.Now()
	status := "success"
	defer r.observe("GetByID", startTime, &status)

	cacheKey := adCacheKey(id)

	cacheSpanCtx, cacheSpan := r.tracer.Start(ctx, "Redis Get")
	cachedAd, err := r.cache.Get(cacheSpanCtx, cacheKey)
	cacheSpan.End()

	if err == nil {
		var ad domain.Ad
		if err := json.Unmarshal([]byte(cachedAd), &ad); err == nil {
			status = "cache_hit"
			return &ad, nil
		}
	}

	ad, err := r.fetch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			status = "not_found"
			return nil, err
		}
		status = "error"
		span.RecordError(err)
		return nil, err
	}

	r.store(ctx, cacheKey, ad)

	return ad, nil
}

// GetForUpdate reads the ad from the database, bypassing the cache. Image keys
// that are about to be deleted must come from here.
func (r *sqlAdRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Ad, error) {
	ctx, span := r.tracer.Start(ctx, "Repository GetForUpdate")
	defer span.End()

	span.SetAttributes(attribute.Int64("ad.id", id))

	startTime := time.Now()
	status := "success"
	defer r.observe("GetForUpdate", startTime, &status)

	ad, err := r.fetch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			status = "not_found"
			return nil, err
		}
		status = "error"
		span.RecordError(err)
		return nil, err
	}

	return ad, nil
}

func (r *sqlAdRepository) fetch(ctx context.Context, id int64) (*domain.Ad, error) {
	query := `
		SELECT id, seller_name, email, phone, ad_title, ad_text, price, image_url, thumbnail_url, created_at
		FROM advertisements
		WHERE id = ?
	`

	var (
		ad                          domain.Ad
		email, phone, adText, price sql.NullString
		imageKey, thumbnailKey      sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&ad.ID,
		&ad.SellerName,
		&email,
		&phone,
		&ad.AdTitle,
		&adText,
		&price,
		&imageKey,
		&thumbnailKey,
		&ad.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch ad: %w", err)
	}

	ad.Email = email.String
	ad.Phone = phone.String
	ad.AdText = adText.String
	ad.Price = price.String
	ad.ImageKey = stringPtr(imageKey)
	ad.ThumbnailKey = stringPtr(thumbnailKey)

	return &ad, nil
}

func (r *sqlAdRepository) GetAll(ctx context.Context) ([]*domain.AdSummary, error) {
	ctx, span := r.tracer.Start(ctx, "Repository GetAll")
	defer span.End()

	startTime := time.Now()
	status := "success"
	defer r.observe("GetAll", startTime, &status)

	cacheSpanCtx, cacheSpan := r.tracer.Start(ctx, "Redis Get")
	cachedAds, err := r.cache.Get(cacheSpanCtx, listCacheKey)
	cacheSpan.End()

	if err == nil {
		var ads []*domain.AdSummary
		if err := json.Unmarshal([]byte(cachedAds), &ads); err == nil {
			status = "cache_hit"
			return ads, nil
		}
	}

	query := `
		SELECT id, ad_title, price, seller_name, image_url, thumbnail_url
		FROM advertisements
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("failed to retrieve ads: %w", err)
	}
	defer rows.Close()

	ads := make([]*domain.AdSummary, 0)
	for rows.Next() {
		var (
			ad                     domain.AdSummary
			price                  sql.NullString
			imageKey, thumbnailKey sql.NullString
		)
		if err := rows.Scan(&ad.ID, &ad.AdTitle, &price, &ad.SellerName, &imageKey, &thumbnailKey); err != nil {
			status = "error"
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan ad: %w", err)
		}
		ad.Price = price.String
		ad.ImageKey = stringPtr(imageKey)
		ad.ThumbnailKey = stringPtr(thumbnailKey)
		ads = append(ads, &ad)
	}

	if err := rows.Err(); err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("rows error: %w", err)
	}

	span.SetAttributes(attribute.Int("ads.count", len(ads)))
	r.store(ctx, listCacheKey, ads)

	return ads, nil
}

func (r *sqlAdRepository) Update(ctx context.Context, id int64, fields domain.AdFields, imageKey *string) error {
	ctx, span := r.tracer.Start(ctx, "Repository Update")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("ad.id", id),
		attribute.String("ad.title", fields.AdTitle),
	)

	startTime := time.Now()
	status := "success"
	defer r.observe("Update", startTime, &status)

	query := `
		UPDATE advertisements
		SET seller_name = ?, email = ?, phone = ?, ad_title = ?, ad_text = ?, price = ?, image_url = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		fields.SellerName,
		nullString(fields.Email),
		nullString(fields.Phone),
		fields.AdTitle,
		nullString(fields.AdText),
		nullString(fields.Price),
		imageKey,
		id,
	)
	if err != nil {
		status = "error"
		span.RecordError(err)
		return fmt.Errorf("failed to update ad: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		status = "error"
		span.RecordError(err)
		return fmt.Errorf("failed to retrieve rows affected: %w", err)
	}

	// MySQL connections are opened with clientFoundRows, so an update that
	// leaves the row unchanged still counts as matched.
	if rowsAffected == 0 {
		status = "not_found"
		return ErrNotFound
	}

	r.invalidate(ctx, adCacheKey(id))

	return nil
}

func (r *sqlAdRepository) Delete(ctx context.Context, id int64) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "Repository Delete")
	defer span.End()

	span.SetAttributes(attribute.Int64("ad.id", id))

	startTime := time.Now()
	status := "success"
	defer r.observe("Delete", startTime, &status)

	result, err := r.db.ExecContext(ctx, "DELETE FROM advertisements WHERE id = ?", id)
	if err != nil {
		status = "error"
		span.RecordError(err)
		return 0, fmt.Errorf("failed to delete ad: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		status = "error"
		span.RecordError(err)
		return 0, fmt.Errorf("failed to retrieve rows affected: %w", err)
	}

	if rowsAffected == 0 {
		status = "not_found"
		return 0, nil
	}

	r.invalidate(ctx, adCacheKey(id))

	return rowsAffected, nil
}

func (r *sqlAdRepository) store(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	cacheSpanCtx, cacheSpan := r.tracer.Start(ctx, "Redis Set")
	if err := r.cache.Set(cacheSpanCtx, key, string(data), r.cacheTTL); err != nil {
		cacheSpan.RecordError(err)
	}
	cacheSpan.End()
}

// invalidate drops the listing and any given per-ad entries.
func (r *sqlAdRepository) invalidate(ctx context.Context, keys ...string) {
	cacheSpanCtx, cacheSpan := r.tracer.Start(ctx, "Redis Delete")
	if err := r.cache.Delete(cacheSpanCtx, append(keys, listCacheKey)...); err != nil {
		cacheSpan.RecordError(err)
	}
	cacheSpan.End()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
