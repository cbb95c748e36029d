package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"emergency-dispatch-system/pkg/config"
	"emergency-dispatch-system/pkg/middleware"
	"emergency-dispatch-system/pkg/queue"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Event kinds mirror the routing keys on the dispatch exchange.
const (
	kindNewEmergency = "new-emergency"
	kindAdminAlert   = "admin-alert"
)

// DispatchEvent carries a consumed message to subscribers. The body is
// passed through untouched; this service only routes, it never rewrites
// payloads.
type DispatchEvent struct {
	Kind string
	Body json.RawMessage
}

type Client struct {
	UserID string
	Role   string
	Send   chan DispatchEvent
}

var (
	clients    = make(map[*Client]bool)
	broadcast  = make(chan DispatchEvent, 100)
	register   = make(chan *Client)
	unregister = make(chan *Client)
	mu         sync.RWMutex
)

func main() {
	config.Load()

	conn, ch, err := queue.ConnectRabbitMQ(config.AMQPURI())
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()
	defer ch.Close()
	log.Println("[OK] Connected to RabbitMQ")

	msgs, err := queue.Subscribe(ch, "dispatch_notifications", kindNewEmergency, kindAdminAlert)
	if err != nil {
		log.Fatalf("[ERROR] Failed to subscribe: %v", err)
	}
	log.Println("[INFO] Listening for dispatch events")

	middleware.RegisterMetrics()

	go consumeMessages(msgs)
	go handleClients()

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/health", healthHandler)
	apiMux.Handle("/metrics", middleware.GetMetricsHandler())

	apiHandler := middleware.TraceMiddleware(
		middleware.MetricsMiddleware(
			middleware.LoggerMiddleware(apiMux),
		),
	)

	rootMux := http.NewServeMux()
	rootMux.Handle("/subscribe", middleware.TraceMiddleware(http.HandlerFunc(subscribeHandler)))
	rootMux.Handle("/", apiHandler)

	port := ":" + config.Get("NOTIFICATION_PORT", "8084")
	log.Printf("[INFO] Notification Service running on port %s", port)
	if err := http.ListenAndServe(port, rootMux); err != nil {
		log.Fatalf("[ERROR] Server failed: %v", err)
	}
}

func consumeMessages(msgs <-chan amqp.Delivery) {
	for d := range msgs {
		event := DispatchEvent{
			Kind: d.RoutingKey,
			Body: json.RawMessage(d.Body),
		}
		log.Printf("[OK] Dispatch event received - Kind: %s", event.Kind)
		broadcast <- event
	}
}

// shouldDeliver decides a subscriber's audience: volunteer alerts go to
// volunteer clients, escalations to admin consoles.
func shouldDeliver(client *Client, kind string) bool {
	switch kind {
	case kindNewEmergency:
		return client.Role == "volunteer"
	case kindAdminAlert:
		return client.Role == "admin" || client.Role == "super_admin"
	}
	return false
}

func handleClients() {
	for {
		select {
		case client := <-register:
			mu.Lock()
			clients[client] = true
			mu.Unlock()
			log.Printf("[INFO] Client registered - UserID: %s, Role: %s (Total clients: %d)", client.UserID, client.Role, len(clients))

		case client := <-unregister:
			mu.Lock()
			if _, ok := clients[client]; ok {
				delete(clients, client)
				close(client.Send)
			}
			mu.Unlock()
			log.Printf("[INFO] Client unregistered - UserID: %s (Total clients: %d)", client.UserID, len(clients))

		case event := <-broadcast:
			mu.RLock()
			for client := range clients {
				if !shouldDeliver(client, event.Kind) {
					continue
				}
				select {
				case client.Send <- event:
				default:
					// Client's send channel is full, skip
				}
			}
			mu.RUnlock()
		}
	}
}

// subscribeHandler streams dispatch events to a client over SSE. Tokens
// arrive in the query string or the Authorization header; EventSource
// cannot set headers, hence the query fallback.
func subscribeHandler(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if tokenString == "" {
		http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
		return
	}

	claims, err := middleware.ValidateToken(tokenString)
	if err != nil {
		log.Printf("[WARN] Invalid token attempt: %v", err)
		http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client := &Client{
		UserID: claims.UserID,
		Role:   claims.Role,
		Send:   make(chan DispatchEvent, 10),
	}

	register <- client
	defer func() {
		unregister <- client
	}()

	fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected","message":"Connection established"}`)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case event, ok := <-client.Send:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, event.Body)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	mu.RLock()
	connectedClients := len(clients)
	mu.RUnlock()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":            "UP",
		"service":           "notification-service",
		"connected_clients": connectedClients,
	})
}
