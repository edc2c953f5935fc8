package service

import (
	"context"
	"errors"
	"testing"

	"classifieds/internal/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var validFields = domain.AdFields{SellerName: "Kovács", AdTitle: "Eke"}

func TestCreateAd_ValidationGate(t *testing.T) {
	cases := []domain.AdFields{
		{},
		{SellerName: "Kovács"},
		{AdTitle: "Eke"},
		{SellerName: "   ", AdTitle: "Eke"},
		{SellerName: "Kovács", AdTitle: "\t\n"},
	}

	for _, fields := range cases {
		f := newFixture()

		_, err := f.service.CreateAd(context.Background(), fields, jpeg("tractor.jpg"))
		require.ErrorIs(t, err, ErrValidation)

		_, err = f.service.UpdateAd(context.Background(), 5, fields, jpeg("tractor.jpg"))
		require.ErrorIs(t, err, ErrValidation)

		assert.Empty(t, f.log.snapshot(), "no store may be touched for %+v", fields)
	}
}

func TestCreateAd_WithoutImage(t *testing.T) {
	f := newFixture()

	ad, err := f.service.CreateAd(context.Background(), validFields, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), ad.ID)
	assert.Nil(t, ad.ImageKey)
	assert.Equal(t, []string{"repo.insert"}, f.log.snapshot())
}

func TestCreateAd_TrimsFields(t *testing.T) {
	f := newFixture()

	ad, err := f.service.CreateAd(context.Background(), domain.AdFields{SellerName: "  Kovács ", AdTitle: " Eke", Price: " 1000 "}, nil)
	require.NoError(t, err)

	stored, ok := f.repo.get(ad.ID)
	require.True(t, ok)
	assert.Equal(t, "Kovács", stored.SellerName)
	assert.Equal(t, "Eke", stored.AdTitle)
	assert.Equal(t, "1000", stored.Price)
}

func TestCreateAd_UploadsBeforeInsert(t *testing.T) {
	f := newFixture()

	ad, err := f.service.CreateAd(context.Background(), validFields, jpeg("tractor.jpg"))
	require.NoError(t, err)

	require.NotNil(t, ad.ImageKey)
	assert.Equal(t, "uploads/1-tractor.jpg", *ad.ImageKey)
	assert.True(t, f.store.has("uploads/1-tractor.jpg"))
	assert.Equal(t, []string{"store.put uploads/1-tractor.jpg", "repo.insert"}, f.log.snapshot())
}

func TestCreateAd_UploadFailureInsertsNothing(t *testing.T) {
	f := newFixture()
	f.store.putErr = errBackend

	_, err := f.service.CreateAd(context.Background(), validFields, jpeg("tractor.jpg"))
	require.ErrorIs(t, err, ErrStorageWrite)
	require.ErrorIs(t, err, errBackend)

	assert.Equal(t, 0, f.repo.count())
	assert.Equal(t, []string{"store.put uploads/1-tractor.jpg"}, f.log.snapshot())
}

func TestCreateAd_InsertFailureOrphansUpload(t *testing.T) {
	f := newFixture()
	f.repo.insertErr = errBackend

	_, err := f.service.CreateAd(context.Background(), validFields, jpeg("tractor.jpg"))
	require.ErrorIs(t, err, ErrRepository)

	// Not rolled back: the object stays and is counted as an orphan.
	assert.True(t, f.store.has("uploads/1-tractor.jpg"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrphanedObjects.WithLabelValues("CreateAd", "insert_failed")))
}

func TestUpdateAd_NotFoundLeavesNoTrace(t *testing.T) {
	f := newFixture()

	_, err := f.service.UpdateAd(context.Background(), 42, validFields, jpeg("new.jpg"))
	require.ErrorIs(t, err, ErrAdNotFound)

	assert.Equal(t, []string{"repo.get 42"}, f.log.snapshot())
	assert.Equal(t, 0, f.store.count())
}

func TestUpdateAd_KeepsImageWithoutAttachment(t *testing.T) {
	f := newFixture()
	f.repo.seed(domain.Ad{ID: 5, SellerName: "Kovács", AdTitle: "Eke", ImageKey: strPtr("uploads/1-old.jpg")})

	ad, err := f.service.UpdateAd(context.Background(), 5, domain.AdFields{SellerName: "Kovács", AdTitle: "Eke eladó"}, nil)
	require.NoError(t, err)

	require.NotNil(t, ad.ImageKey)
	assert.Equal(t, "uploads/1-old.jpg", *ad.ImageKey)
	assert.Equal(t, "Eke eladó", ad.AdTitle)
	assert.Equal(t, []string{"repo.get 5", "repo.update 5"}, f.log.snapshot())
}

func TestUpdateAd_ReplacesImage(t *testing.T) {
	f := newFixture()
	f.store.objects["uploads/1-old.jpg"] = []byte("old")
	f.repo.seed(domain.Ad{ID: 5, SellerName: "Kovács", AdTitle: "Eke", ImageKey: strPtr("uploads/1-old.jpg")})

	ad, err := f.service.UpdateAd(context.Background(), 5, validFields, jpeg("new.jpg"))
	require.NoError(t, err)

	require.NotNil(t, ad.ImageKey)
	assert.Equal(t, "uploads/1-new.jpg", *ad.ImageKey)
	assert.False(t, f.store.has("uploads/1-old.jpg"))
	assert.True(t, f.store.has("uploads/1-new.jpg"))
	assert.Equal(t, []string{
		"repo.get 5",
		"store.put uploads/1-new.jpg",
		"repo.update 5",
		"store.delete uploads/1-old.jpg",
	}, f.log.snapshot())
}

func TestUpdateAd_OldImageDeleteFailureIsNonFatal(t *testing.T) {
	f := newFixture()
	f.store.objects["uploads/1-old.jpg"] = []byte("old")
	f.store.deleteErr["uploads/1-old.jpg"] = errBackend
	f.repo.seed(domain.Ad{ID: 5, SellerName: "Kovács", AdTitle: "Eke", ImageKey: strPtr("uploads/1-old.jpg")})

	ad, err := f.service.UpdateAd(context.Background(), 5, validFields, jpeg("new.jpg"))
	require.NoError(t, err)

	stored, _ := f.repo.get(5)
	assert.Equal(t, "uploads/1-new.jpg", *stored.ImageKey)
	assert.Equal(t, "uploads/1-new.jpg", *ad.ImageKey)
	assert.Contains(t, f.log.snapshot(), "store.delete uploads/1-old.jpg")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrphanedObjects.WithLabelValues("UpdateAd", "delete_failed")))
}

func TestUpdateAd_UploadFailureLeavesRecordUntouched(t *testing.T) {
	f := newFixture()
	f.store.objects["uploads/1-old.jpg"] = []byte("old")
	f.store.putErr = errBackend
	f.repo.seed(domain.Ad{ID: 5, SellerName: "Kovács", AdTitle: "Eke", ImageKey: strPtr("uploads/1-old.jpg")})

	_, err := f.service.UpdateAd(context.Background(), 5, domain.AdFields{SellerName: "Nagy", AdTitle: "Borona"}, jpeg("new.jpg"))
	require.ErrorIs(t, err, ErrStorageWrite)

	stored, _ := f.repo.get(5)
	assert.Equal(t, "Kovács", stored.SellerName)
	assert.Equal(t, "uploads/1-old.jpg", *stored.ImageKey)
	assert.True(t, f.store.has("uploads/1-old.jpg"))
	assert.NotContains(t, f.log.snapshot(), "repo.update 5")
}

func TestUpdateAd_RepositoryFailureKeepsOldImage(t *testing.T) {
	f := newFixture()
	f.store.objects["uploads/1-old.jpg"] = []byte("old")
	f.repo.updateErr = errBackend
	f.repo.seed(domain.Ad{ID: 5, SellerName: "Kovács", AdTitle: "Eke", ImageKey: strPtr("uploads/1-old.jpg")})

	_, err := f.service.UpdateAd(context.Background(), 5, validFields, jpeg("new.jpg"))
	require.ErrorIs(t, err, ErrRepository)

	// The row still references the old image, so it must survive.
	assert.True(t, f.store.has("uploads/1-old.jpg"))
	assert.True(t, f.store.has("uploads/1-new.jpg"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrphanedObjects.WithLabelValues("UpdateAd", "update_failed")))
}

func TestUpdateAd_AddsFirstImage(t *testing.T) {
	f := newFixture()
	f.repo.seed(domain.Ad{ID: 3, SellerName: "Kovács", AdTitle: "Eke"})

	ad, err := f.service.UpdateAd(context.Background(), 3, validFields, jpeg("first.png"))
	require.NoError(t, err)

	assert.Equal(t, "uploads/1-first.png", *ad.ImageKey)
	for _, call := range f.log.snapshot() {
		assert.NotContains(t, call, "store.delete")
	}
}

func TestDeleteAd_RemovesRowThenObjects(t *testing.T) {
	f := newFixture()
	f.store.objects["uploads/2-new.jpg"] = []byte("img")
	f.store.objects["thumbnails/2-new.jpg"] = []byte("thumb")
	f.repo.seed(domain.Ad{ID: 5, SellerName: "Kovács", AdTitle: "Eke", ImageKey: strPtr("uploads/2-new.jpg"), ThumbnailKey: strPtr("thumbnails/2-new.jpg")})

	result, err := f.service.DeleteAd(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, int64(5), result.ID)
	assert.Equal(t, int64(1), result.AffectedRows)
	assert.Empty(t, result.OrphanedKeys)
	assert.NoError(t, result.CleanupErr)
	assert.Equal(t, 0, f.store.count())

	calls := f.log.snapshot()
	require.Len(t, calls, 4)
	assert.Equal(t, []string{"repo.get 5", "repo.delete 5"}, calls[:2])
	assert.ElementsMatch(t, []string{"store.delete uploads/2-new.jpg", "store.delete thumbnails/2-new.jpg"}, calls[2:])
}

func TestDeleteAd_CleanupFailureIsNonFatal(t *testing.T) {
	f := newFixture()
	f.store.deleteErr["uploads/2-new.jpg"] = errBackend
	f.repo.seed(domain.Ad{ID: 5, SellerName: "Kovács", AdTitle: "Eke", ImageKey: strPtr("uploads/2-new.jpg")})

	result, err := f.service.DeleteAd(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.AffectedRows)
	assert.Equal(t, []string{"uploads/2-new.jpg"}, result.OrphanedKeys)
	assert.ErrorIs(t, result.CleanupErr, ErrStorageDelete)
	_, exists := f.repo.get(5)
	assert.False(t, exists)
}

func TestDeleteAd_NotFoundLeavesNoTrace(t *testing.T) {
	f := newFixture()

	_, err := f.service.DeleteAd(context.Background(), 42)
	require.ErrorIs(t, err, ErrAdNotFound)

	assert.Equal(t, []string{"repo.get 42"}, f.log.snapshot())
}

func TestDeleteAd_RowVanishedBeforeDelete(t *testing.T) {
	f := newFixture()
	f.repo.seed(domain.Ad{ID: 5, SellerName: "Kovács", AdTitle: "Eke", ImageKey: strPtr("uploads/2-new.jpg")})
	// Another process removes the row between the read and the delete.
	f.service.repository = &vanishingRepository{fakeRepository: f.repo}

	_, err := f.service.DeleteAd(context.Background(), 5)
	require.ErrorIs(t, err, ErrAdNotFound)

	for _, call := range f.log.snapshot() {
		assert.NotContains(t, call, "store.delete", "objects must not be touched when no row was deleted")
	}
}

type vanishingRepository struct {
	*fakeRepository
}

func (v *vanishingRepository) Delete(ctx context.Context, id int64) (int64, error) {
	v.log.add("repo.delete %d", id)
	return 0, nil
}

func TestDeleteAd_RepositoryFailureSkipsCleanup(t *testing.T) {
	f := newFixture()
	f.repo.seed(domain.Ad{ID: 5, SellerName: "Kovács", AdTitle: "Eke", ImageKey: strPtr("uploads/2-new.jpg")})
	f.repo.deleteErr = errBackend

	_, err := f.service.DeleteAd(context.Background(), 5)
	require.ErrorIs(t, err, ErrRepository)

	assert.Equal(t, []string{"repo.get 5", "repo.delete 5"}, f.log.snapshot())
}

func TestGetAdByID_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.service.GetAdByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrAdNotFound)
}

func TestInvalidIDs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.service.GetAdByID(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = f.service.UpdateAd(ctx, -1, validFields, nil)
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = f.service.DeleteAd(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidID)

	assert.Empty(t, f.log.snapshot())
}

func TestGetAllAds_RepositoryError(t *testing.T) {
	f := newFixture()
	f.repo.getErr = errBackend

	_, err := f.service.GetAllAds(context.Background())
	assert.True(t, errors.Is(err, ErrRepository))
}

func TestGetAllAds_NewestFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, title := range []string{"Eke", "Borona", "Vetőgép"} {
		_, err := f.service.CreateAd(ctx, domain.AdFields{SellerName: "Kovács", AdTitle: title}, nil)
		require.NoError(t, err)
	}

	ads, err := f.service.GetAllAds(ctx)
	require.NoError(t, err)
	require.Len(t, ads, 3)
	assert.Equal(t, "Vetőgép", ads[0].AdTitle)
	assert.Equal(t, "Eke", ads[2].AdTitle)
}
