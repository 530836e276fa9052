package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/btcpush/relay/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(gc *handlers.GroundControlHandler) *mux.Router {
	router := mux.NewRouter()

	// Health check routes
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/ping", gc.Ping).Methods(http.MethodGet)
	router.HandleFunc("/", gc.Ping).Methods(http.MethodGet)

	// Device registration and configuration
	router.HandleFunc("/majorTomToGroundControl", gc.MajorTomToGroundControl).Methods(http.MethodPost)
	router.HandleFunc("/unsubscribe", gc.Unsubscribe).Methods(http.MethodPost)
	router.HandleFunc("/getTokenConfiguration", gc.GetTokenConfiguration).Methods(http.MethodPost)
	router.HandleFunc("/setTokenConfiguration", gc.SetTokenConfiguration).Methods(http.MethodPost)

	// Producers
	router.HandleFunc("/lightningInvoiceGotSettled", gc.LightningInvoiceGotSettled).Methods(http.MethodPost)
	router.HandleFunc("/enqueue", gc.Enqueue).Methods(http.MethodPost)

	return router
}
