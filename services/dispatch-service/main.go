package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"emergency-dispatch-system/pkg/config"
	"emergency-dispatch-system/pkg/database"
	"emergency-dispatch-system/pkg/geo"
	"emergency-dispatch-system/pkg/middleware"
	"emergency-dispatch-system/pkg/queue"
	"emergency-dispatch-system/pkg/response"
	"emergency-dispatch-system/services/dispatch-service/dispatcher"
	"emergency-dispatch-system/services/dispatch-service/models"
	"emergency-dispatch-system/services/dispatch-service/store"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	db       *mongo.Database
	amqpConn *amqp.Connection
	repo     *store.Mongo
	dispatch *dispatcher.Dispatcher
)

func main() {
	config.Load()

	var err error
	db, err = database.ConnectMongo(config.MongoURI(), config.MongoDatabase())
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to MongoDB: %v", err)
	}
	log.Println("[OK] Connected to MongoDB")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := database.EnsureIndexes(ctx, db); err != nil {
		cancel()
		log.Fatalf("[ERROR] Failed to create indexes: %v", err)
	}
	cancel()

	conn, ch, err := queue.ConnectRabbitMQ(config.AMQPURI())
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()
	defer ch.Close()
	amqpConn = conn
	log.Println("[OK] Connected to RabbitMQ")

	publisher, err := queue.NewPublisher(ch)
	if err != nil {
		log.Fatalf("[ERROR] Failed to set up publisher: %v", err)
	}

	repo = store.NewMongo(db)
	dispatch = dispatcher.New(repo, publisher)

	middleware.RegisterMetrics()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/emergencies/create", middleware.AuthMiddleware(createEmergencyHandler))
	mux.HandleFunc("/api/emergencies", middleware.AuthMiddleware(listEmergenciesHandler))
	mux.HandleFunc("/api/emergencies/", middleware.AuthMiddleware(emergencyDetailHandler))
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", middleware.GetMetricsHandler())

	handler := middleware.TraceMiddleware(
		middleware.MetricsMiddleware(
			middleware.LoggerMiddleware(mux),
		),
	)

	port := ":" + config.Get("DISPATCH_PORT", "8082")
	log.Printf("[INFO] Dispatch Service running on port %s", port)
	if err := http.ListenAndServe(port, handler); err != nil {
		log.Fatalf("[ERROR] Server failed: %v", err)
	}
}

func createEmergencyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var input struct {
		Type     string    `json:"type"`
		Location geo.Point `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	if input.Type == "" {
		response.Error(w, http.StatusBadRequest, "Emergency type is required", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	result, err := dispatch.Dispatch(ctx, claims.UserID, input.Type, input.Location)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}

	message := "Emergency created. Volunteers notified."
	outcome := "notified"
	if result.Escalated {
		message = "Emergency created. No nearby volunteers found. Admin notified."
		outcome = "escalated"
	}
	middleware.CountDispatchOutcome(outcome)
	log.Printf("[OK] Emergency dispatched - ID: %s, Notified: %d, Escalated: %v",
		result.Emergency.ID.Hex(), result.NotifiedVolunteers, result.Escalated)

	response.Success(w, http.StatusCreated, message, map[string]interface{}{
		"emergency":          result.Emergency,
		"notifiedVolunteers": result.NotifiedVolunteers,
		"escalated":          result.Escalated,
	})
}

func listEmergenciesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	var filter models.EmergencyFilter

	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid status filter", err.Error())
			return
		}
		filter.Status = status
	}

	// The location filter applies only when all three parameters arrive.
	lonStr := r.URL.Query().Get("longitude")
	latStr := r.URL.Query().Get("latitude")
	radiusStr := r.URL.Query().Get("radius")
	if lonStr != "" && latStr != "" && radiusStr != "" {
		lon, err1 := strconv.ParseFloat(lonStr, 64)
		lat, err2 := strconv.ParseFloat(latStr, 64)
		radius, err3 := strconv.ParseFloat(radiusStr, 64)
		if err1 != nil || err2 != nil || err3 != nil || radius <= 0 {
			response.Error(w, http.StatusBadRequest, "Invalid location filter", "longitude, latitude, and a positive radius are required")
			return
		}
		point := geo.NewPoint(lon, lat)
		if err := point.Validate(); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid location filter", err.Error())
			return
		}
		filter.Near = &point
		filter.RadiusKm = radius
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	emergencies, err := repo.FindEmergencies(ctx, filter)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	if emergencies == nil {
		emergencies = []models.Emergency{}
	}

	response.Success(w, http.StatusOK, "Emergencies fetched successfully", emergencies)
}

func emergencyDetailHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/emergencies/")
	id = strings.Trim(id, "/")

	if suffix := "/status"; strings.HasSuffix(id, suffix) {
		updateStatusHandler(w, r, strings.TrimSuffix(id, suffix))
		return
	}
	if id == "" || strings.Contains(id, "/") {
		response.Error(w, http.StatusBadRequest, "Missing emergency ID", "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		getEmergencyHandler(w, r, id)
	case http.MethodDelete:
		deleteEmergencyHandler(w, r, id)
	default:
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	}
}

func getEmergencyHandler(w http.ResponseWriter, r *http.Request, id string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	emergency, err := repo.FindEmergencyByID(ctx, id)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}

	response.Success(w, http.StatusOK, "Emergency fetched successfully", emergency)
}

func updateStatusHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	var input struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	emergency, err := dispatch.UpdateStatus(ctx, id, input.Status)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}

	log.Printf("[OK] Emergency status updated - ID: %s, Status: %s", emergency.ID.Hex(), emergency.Status)
	response.Success(w, http.StatusOK, "Emergency status updated successfully", emergency)
}

func deleteEmergencyHandler(w http.ResponseWriter, r *http.Request, id string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := repo.DeleteEmergency(ctx, id); err != nil {
		writeDispatchError(w, r, err)
		return
	}

	log.Printf("[OK] Emergency deleted - ID: %s", id)
	response.Success(w, http.StatusOK, "Emergency deleted successfully", nil)
}

// writeDispatchError maps engine errors onto the HTTP taxonomy:
// invalid input 400, unknown references 404, everything else 500.
func writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, geo.ErrInvalidLocation):
		response.Error(w, http.StatusBadRequest, "Invalid location format", err.Error())
	case errors.Is(err, models.ErrInvalidStatus):
		response.Error(w, http.StatusBadRequest, "Invalid status", err.Error())
	case errors.Is(err, dispatcher.ErrReporterNotFound):
		response.Error(w, http.StatusNotFound, "User not found", "")
	case errors.Is(err, dispatcher.ErrEmergencyNotFound):
		response.Error(w, http.StatusNotFound, "Emergency not found", "")
	default:
		middleware.LogError(middleware.GetTraceID(r), "dispatch operation failed", err)
		response.Error(w, http.StatusInternalServerError, "Internal server error", err.Error())
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "UP",
		"service": "dispatch-service",
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := db.Client().Ping(ctx, nil); err != nil {
		health["status"] = "DOWN"
		health["database"] = "disconnected"
	} else {
		health["database"] = "connected"
	}

	if amqpConn == nil || amqpConn.IsClosed() {
		health["status"] = "DOWN"
		health["queue"] = "disconnected"
	} else {
		health["queue"] = "connected"
	}

	status := http.StatusOK
	if health["status"] == "DOWN" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(health)
}
