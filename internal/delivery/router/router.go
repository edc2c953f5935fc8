package router

import (
	"net/http"
	"time"

	"classifieds/internal/delivery/handler"
	"classifieds/internal/infrastructure/metrics"
	"classifieds/internal/service"
	"classifieds/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Options struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

func SetupAdRoutes(adRouter *chi.Mux, adService service.AdService, loggers *logger.Loggers, metrics *metrics.HandlerMetrics, opts Options) {
	adHandler := handler.NewAdHandler(adService, loggers, metrics, opts.MaxUploadBytes)

	adRouter.Use(middleware.RequestID)
	adRouter.Use(middleware.RealIP)
	adRouter.Use(middleware.Recoverer)
	adRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	if opts.RequestTimeout > 0 {
		adRouter.Use(middleware.Timeout(opts.RequestTimeout))
	}

	adRouter.Get("/health", adHandler.Health)
	adRouter.Get("/ads", adHandler.GetAllAds)
	adRouter.Get("/ads/{id}", adHandler.GetAdByID)
	adRouter.Post("/ads", adHandler.CreateAd)
	adRouter.Put("/ads/{id}", adHandler.UpdateAd)
	adRouter.Delete("/ads/{id}", adHandler.DeleteAd)
}
