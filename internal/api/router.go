package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pushfleet/pushfleet/internal/engine"
	"github.com/pushfleet/pushfleet/internal/store"
	ws "github.com/pushfleet/pushfleet/internal/websocket"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(pgStore *store.PostgresStore, hub *ws.Hub, breaker *engine.CircuitBreaker) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS for dashboard and the browser SDK
	r.Use(corsMiddleware)

	// Handlers
	clientHandler := NewClientHandler(pgStore)
	subHandler := NewSubscriberHandler(pgStore)
	notifHandler := NewNotificationHandler(pgStore)
	deliveryHandler := NewDeliveryHandler(pgStore)
	trackHandler := NewTrackHandler(pgStore)
	dashHandler := NewDashboardHandler(pgStore, hub, breaker)

	// WebSocket endpoint
	r.Get("/ws", hub.HandleWebSocket)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(pgStore.Pool()))

		r.Route("/clients", func(r chi.Router) {
			r.Post("/", clientHandler.Create)
			r.Get("/", clientHandler.List)
			r.Get("/{id}", clientHandler.Get)
			r.Post("/{id}/domains", clientHandler.CreateDomain)
			r.Get("/{id}/domains", clientHandler.ListDomains)
			r.Get("/{id}/vapid", clientHandler.VapidPublicKey)
			r.Post("/{id}/vapid/rotate", clientHandler.RotateVapidKey)
			r.Post("/{id}/subscribe", subHandler.Subscribe)
			r.Get("/{id}/subscribers", subHandler.List)
		})

		r.Post("/unsubscribe", subHandler.Unsubscribe)
		r.Get("/subscribers/{id}", subHandler.Get)

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", notifHandler.Create)
			r.Get("/", notifHandler.List)
			r.Get("/{id}", notifHandler.Get)
			r.Post("/{id}/schedule", notifHandler.Schedule)
			r.Get("/{id}/deliveries", deliveryHandler.ListForNotification)
		})

		r.Get("/deliveries/{id}", deliveryHandler.Get)

		r.Post("/track/click", trackHandler.Click)

		r.Get("/metrics", dashHandler.Metrics)
		r.Get("/push-services/{host}/circuit", dashHandler.CircuitState)
	})

	return r
}

// corsMiddleware adds CORS headers for dashboard development and the
// subscribe/track calls that come from customer origins.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
