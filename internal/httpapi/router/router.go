package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"platformd/backend/internal/config"
	"platformd/backend/internal/httpapi/handlers"
	appmw "platformd/backend/internal/httpapi/middleware"
	"platformd/backend/internal/k8s"
	"platformd/backend/internal/lifecycle"
	"platformd/backend/internal/platform"
	"platformd/backend/internal/security"
)

// Deps are the long-lived services the API is built on.
type Deps struct {
	DB       *gorm.DB
	Config   config.Settings
	Registry *platform.Registry
	Ctrl     *lifecycle.Controller
	Codec    *security.Codec
	Resolver *k8s.Service
	Events   *handlers.EventsHandler
	Logger   *slog.Logger
}

func New(deps Deps) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.StripSlashes)
	r.Use(appmw.RequestID)
	r.Use(appmw.RequestLogger(deps.Logger))
	r.Use(appmw.Recoverer(deps.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", appmw.HeaderProjectID, lifecycle.HeaderResourceName},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	systemHandler := handlers.NewSystemHandler(deps.DB, deps.Registry)
	projectHandler := handlers.NewProjectHandler(deps.DB, deps.Registry)
	clusterHandler := handlers.NewClusterHandler(deps.DB, deps.Codec, deps.Resolver, deps.Registry, k8s.Options{
		Timeout: cfg.KubeTimeout,
		QPS:     cfg.KubeQPS,
		Burst:   cfg.KubeBurst,
	})
	storageHandler := handlers.NewStorageHandler(deps.DB, deps.Codec, deps.Registry)
	platformHandler := handlers.NewPlatformHandler(deps.Registry, deps.Ctrl)
	events := deps.Events
	if events == nil {
		events = handlers.NewEventsHandler(deps.Logger)
	}

	authMiddleware := appmw.Auth{Secret: cfg.JWTSecretKey}

	r.Get("/", systemHandler.Root)
	r.Get("/health", systemHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(authMiddleware.RequireAuth)
		api.Use(appmw.ProjectScope)

		// Websocket connections outlive any request timeout.
		api.Get("/platform/events", events.Connect)
		api.Get("/platform/events/stats", events.Stats)

		api.Group(func(timed chi.Router) {
			timed.Use(chimw.Timeout(requestTimeout(cfg)))

			timed.Route("/project", func(projects chi.Router) {
				projects.Get("/", projectHandler.List)
				projects.Post("/", projectHandler.Create)
				projects.Get("/{id}", projectHandler.Get)
				projects.Put("/{id}", projectHandler.Update)
				projects.Delete("/{id}", projectHandler.Delete)
			})

			timed.Route("/k8s-cluster", func(clusters chi.Router) {
				clusters.Get("/", clusterHandler.List)
				clusters.Post("/", clusterHandler.Create)
				clusters.Get("/{id}", clusterHandler.Get)
				clusters.Put("/{id}", clusterHandler.Update)
				clusters.Delete("/{id}", clusterHandler.Delete)
				clusters.Post("/{id}/_test-connection", clusterHandler.TestConnection)
			})

			timed.Route("/s3-storage", func(storages chi.Router) {
				storages.Get("/", storageHandler.List)
				storages.Post("/", storageHandler.Create)
				storages.Get("/{id}", storageHandler.Get)
				storages.Put("/{id}", storageHandler.Update)
				storages.Delete("/{id}", storageHandler.Delete)
			})

			timed.Route("/platform/{kind}", func(platforms chi.Router) {
				platforms.Get("/", platformHandler.List)
				platforms.Post("/", platformHandler.Create)
				platforms.Get("/{id}", platformHandler.Get)
				platforms.Put("/{id}", platformHandler.Update)
				platforms.Patch("/{id}", platformHandler.Update)
				platforms.Delete("/{id}", platformHandler.Delete)
				platforms.Get("/{id}/_state", platformHandler.GetState)
				platforms.Post("/{id}/_state", platformHandler.PostState)
				platforms.Post("/{id}/_deploy", platformHandler.Deploy)
				platforms.Post("/{id}/_decommission", platformHandler.Decommission)
				platforms.Post("/{id}/_refresh", platformHandler.Refresh)
				platforms.Get("/{id}/_manifest", platformHandler.Manifest)
			})
		})
	})

	return r
}

// requestTimeout leaves room for a deploy followed by a full poll.
func requestTimeout(cfg config.Settings) time.Duration {
	timeout := 2*cfg.PollTimeout + cfg.KubeTimeout
	if timeout < 60*time.Second {
		timeout = 60 * time.Second
	}
	return timeout
}
