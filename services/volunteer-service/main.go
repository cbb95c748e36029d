package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"emergency-dispatch-system/pkg/config"
	"emergency-dispatch-system/pkg/database"
	"emergency-dispatch-system/pkg/geo"
	"emergency-dispatch-system/pkg/middleware"
	"emergency-dispatch-system/pkg/response"
	"emergency-dispatch-system/services/volunteer-service/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

var db *mongo.Database

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

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

	mux := http.NewServeMux()
	mux.HandleFunc("/internal/users", createUserHandler)
	mux.HandleFunc("/api/users/", middleware.AuthMiddleware(userDetailHandler))
	mux.HandleFunc("/api/volunteers", middleware.AuthMiddleware(createVolunteerHandler))
	mux.HandleFunc("/api/volunteers/", middleware.AuthMiddleware(volunteerDetailHandler))
	mux.HandleFunc("/health", healthHandler)

	handler := middleware.TraceMiddleware(middleware.LoggerMiddleware(mux))

	port := ":" + config.Get("VOLUNTEER_PORT", "8083")
	log.Printf("[INFO] Volunteer Service running on port %s", port)
	if err := http.ListenAndServe(port, handler); err != nil {
		log.Fatalf("[ERROR] Server failed: %v", err)
	}
}

// createUserHandler provisions a location-bearing user. Internal seam:
// the public registration flow lives outside this system.
func createUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	var input struct {
		Name     string    `json:"name"`
		Email    string    `json:"email"`
		Password string    `json:"password"`
		Phone    string    `json:"phone_number"`
		Role     string    `json:"role"`
		Location geo.Point `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	if input.Name == "" || input.Email == "" || input.Password == "" {
		response.Error(w, http.StatusBadRequest, "Name, Email, and Password are required", "")
		return
	}
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if !emailRegex.MatchString(input.Email) {
		response.Error(w, http.StatusBadRequest, "Invalid email format", "")
		return
	}
	if input.Role == "" {
		input.Role = models.RoleUser
	}
	if !models.ValidRole(input.Role) {
		response.Error(w, http.StatusBadRequest, "Invalid role", "")
		return
	}
	if err := input.Location.Validate(); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid location format", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	count, err := db.Collection("users").CountDocuments(ctx, bson.M{"email": input.Email})
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to check existing users", err.Error())
		return
	}
	if count > 0 {
		response.Error(w, http.StatusConflict, "Email already registered", "")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to process credentials", "")
		return
	}

	now := time.Now()
	user := models.User{
		ID:        primitive.NewObjectID(),
		Name:      strings.TrimSpace(input.Name),
		Email:     input.Email,
		Password:  string(hashed),
		Phone:     input.Phone,
		Role:      input.Role,
		Location:  input.Location.Normalize(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := db.Collection("users").InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			response.Error(w, http.StatusConflict, "Email already registered", "")
			return
		}
		response.Error(w, http.StatusInternalServerError, "Failed to save user", err.Error())
		return
	}

	log.Printf("[OK] User provisioned - ID: %s, Role: %s", user.ID.Hex(), user.Role)
	response.Success(w, http.StatusCreated, "User created successfully", user)
}

func userDetailHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	if id == "" || strings.Contains(id, "/") {
		response.Error(w, http.StatusBadRequest, "Missing user ID", "")
		return
	}

	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		response.Error(w, http.StatusNotFound, "User not found", "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		getUserHandler(w, r, objID)
	case http.MethodPatch:
		updateUserHandler(w, r, objID)
	case http.MethodDelete:
		deleteUserHandler(w, r, objID)
	default:
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	}
}

func getUserHandler(w http.ResponseWriter, r *http.Request, id primitive.ObjectID) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var user models.User
	err := db.Collection("users").FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		response.Error(w, http.StatusNotFound, "User not found", "")
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to fetch user", err.Error())
		return
	}

	response.Success(w, http.StatusOK, "User fetched successfully", user)
}

func updateUserHandler(w http.ResponseWriter, r *http.Request, id primitive.ObjectID) {
	var input struct {
		Name     string     `json:"name"`
		Phone    string     `json:"phone_number"`
		Location *geo.Point `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	set := bson.M{"updated_at": time.Now()}
	if input.Name != "" {
		set["name"] = strings.TrimSpace(input.Name)
	}
	if input.Phone != "" {
		set["phone_number"] = input.Phone
	}
	if input.Location != nil {
		if err := input.Location.Validate(); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid location format", err.Error())
			return
		}
		set["location"] = input.Location.Normalize()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var user models.User
	err := db.Collection("users").
		FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).
		Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		response.Error(w, http.StatusNotFound, "User not found", "")
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to update user", err.Error())
		return
	}

	response.Success(w, http.StatusOK, "User updated successfully", user)
}

// deleteUserHandler removes a user and cascades to any volunteer
// profile the user owns.
func deleteUserHandler(w http.ResponseWriter, r *http.Request, id primitive.ObjectID) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var user models.User
	err := db.Collection("users").FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		response.Error(w, http.StatusNotFound, "User not found", "")
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to fetch user", err.Error())
		return
	}

	if user.Role == models.RoleVolunteer {
		if _, err := db.Collection("volunteers").DeleteOne(ctx, bson.M{"user_id": id}); err != nil {
			response.Error(w, http.StatusInternalServerError, "Failed to delete volunteer profile", err.Error())
			return
		}
	}

	if _, err := db.Collection("users").DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to delete user", err.Error())
		return
	}

	log.Printf("[OK] User deleted - ID: %s", id.Hex())
	response.Success(w, http.StatusOK, "User deleted successfully", map[string]interface{}{
		"id": id.Hex(),
	})
}

func createVolunteerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	var input struct {
		UserID      string   `json:"user_id"`
		Skills      []string `json:"skills"`
		IsAvailable bool     `json:"is_available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	userID, err := primitive.ObjectIDFromHex(input.UserID)
	if err != nil {
		response.Error(w, http.StatusNotFound, "User not found", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var user models.User
	err = db.Collection("users").FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		response.Error(w, http.StatusNotFound, "User not found", "")
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to fetch user", err.Error())
		return
	}
	if user.Role != models.RoleVolunteer {
		response.Error(w, http.StatusBadRequest, "User is not a volunteer", "")
		return
	}

	count, err := db.Collection("volunteers").CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to check existing profile", err.Error())
		return
	}
	if count > 0 {
		response.Error(w, http.StatusConflict, "Volunteer profile already exists", "")
		return
	}

	now := time.Now()
	volunteer := models.Volunteer{
		ID:          primitive.NewObjectID(),
		UserID:      userID,
		Skills:      input.Skills,
		IsAvailable: input.IsAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := db.Collection("volunteers").InsertOne(ctx, volunteer); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			response.Error(w, http.StatusConflict, "Volunteer profile already exists", "")
			return
		}
		response.Error(w, http.StatusInternalServerError, "Failed to save volunteer profile", err.Error())
		return
	}

	log.Printf("[OK] Volunteer profile created - ID: %s, UserID: %s", volunteer.ID.Hex(), userID.Hex())
	response.Success(w, http.StatusCreated, "Volunteer profile created successfully", volunteer)
}

func volunteerDetailHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/volunteers/"), "/")

	if id, ok := strings.CutSuffix(rest, "/availability"); ok {
		toggleAvailabilityHandler(w, r, id)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		response.Error(w, http.StatusNotFound, "Route not found", "")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		updateVolunteerHandler(w, r, rest)
	default:
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	}
}

// updateVolunteerHandler applies a partial patch to the capability
// profile: skills, and optionally the availability flag directly.
func updateVolunteerHandler(w http.ResponseWriter, r *http.Request, id string) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Volunteer not found", "")
		return
	}

	var input models.VolunteerUpdate
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var volunteer models.Volunteer
	err = db.Collection("volunteers").
		FindOneAndUpdate(ctx, bson.M{"_id": objID}, bson.M{"$set": input.Set(time.Now())}, opts).
		Decode(&volunteer)
	if errors.Is(err, mongo.ErrNoDocuments) {
		response.Error(w, http.StatusNotFound, "Volunteer not found", "")
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to update volunteer profile", err.Error())
		return
	}

	log.Printf("[OK] Volunteer profile updated - ID: %s", objID.Hex())
	response.Success(w, http.StatusOK, "Volunteer profile updated successfully", volunteer)
}

// toggleAvailabilityHandler flips the availability flag, which is the
// knob the dispatch candidate query filters on.
func toggleAvailabilityHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Volunteer not found", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var volunteer models.Volunteer
	err = db.Collection("volunteers").FindOne(ctx, bson.M{"_id": objID}).Decode(&volunteer)
	if errors.Is(err, mongo.ErrNoDocuments) {
		response.Error(w, http.StatusNotFound, "Volunteer not found", "")
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to fetch volunteer", err.Error())
		return
	}

	newValue := !volunteer.IsAvailable
	update := bson.M{"$set": bson.M{
		"is_available": newValue,
		"updated_at":   time.Now(),
	}}
	if _, err := db.Collection("volunteers").UpdateOne(ctx, bson.M{"_id": objID}, update); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to toggle availability", err.Error())
		return
	}

	log.Printf("[OK] Volunteer availability toggled - ID: %s, Available: %v", objID.Hex(), newValue)
	response.Success(w, http.StatusOK, "Volunteer availability updated", map[string]interface{}{
		"is_available": newValue,
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "UP",
		"service": "volunteer-service",
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := db.Client().Ping(ctx, nil); err != nil {
		health["status"] = "DOWN"
		health["database"] = "disconnected"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		health["database"] = "connected"
	}

	json.NewEncoder(w).Encode(health)
}
