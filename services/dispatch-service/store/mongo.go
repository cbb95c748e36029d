// Package store provides the Mongo-backed repository for the dispatch
// service. All entities share one database so the candidate query can
// join volunteers to their users' locations in a single aggregation.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emergency-dispatch-system/pkg/geo"
	"emergency-dispatch-system/services/dispatch-service/dispatcher"
	"emergency-dispatch-system/services/dispatch-service/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Mongo struct {
	db *mongo.Database
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{db: db}
}

func (s *Mongo) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, dispatcher.ErrReporterNotFound
	}

	var user models.User
	err = s.db.Collection("users").FindOne(ctx, bson.M{"_id": objID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, dispatcher.ErrReporterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return &user, nil
}

func (s *Mongo) CreateEmergency(ctx context.Context, e *models.Emergency) error {
	now := time.Now()
	e.ID = primitive.NewObjectID()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = models.StatusPending
	}

	if _, err := s.db.Collection("emergencies").InsertOne(ctx, e); err != nil {
		return fmt.Errorf("inserting emergency: %w", err)
	}
	return nil
}

// FindAvailableVolunteersNear runs the candidate aggregation: available
// volunteers joined to their users, kept when the user location falls
// inside the spherical cap of radiusKm around center.
func (s *Mongo) FindAvailableVolunteersNear(ctx context.Context, center geo.Point, radiusKm float64) ([]models.Candidate, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"is_available": true}},
		{"$lookup": bson.M{
			"from":         "users",
			"localField":   "user_id",
			"foreignField": "_id",
			"as":           "user",
		}},
		{"$unwind": "$user"},
		{"$match": bson.M{
			"user.location": bson.M{
				"$geoWithin": bson.M{
					"$centerSphere": []interface{}{
						center.Coordinates,
						radiusKm / geo.EarthRadiusKm,
					},
				},
			},
		}},
	}

	cursor, err := s.db.Collection("volunteers").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregating candidates: %w", err)
	}
	defer cursor.Close(ctx)

	var candidates []models.Candidate
	if err := cursor.All(ctx, &candidates); err != nil {
		return nil, fmt.Errorf("decoding candidates: %w", err)
	}
	return candidates, nil
}

func (s *Mongo) FindEmergencyByID(ctx context.Context, id string) (*models.Emergency, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, dispatcher.ErrEmergencyNotFound
	}

	var emergency models.Emergency
	err = s.db.Collection("emergencies").FindOne(ctx, bson.M{"_id": objID}).Decode(&emergency)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, dispatcher.ErrEmergencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding emergency: %w", err)
	}
	return &emergency, nil
}

func (s *Mongo) FindEmergencies(ctx context.Context, filter models.EmergencyFilter) ([]models.Emergency, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Near != nil && filter.RadiusKm > 0 {
		query["location"] = bson.M{
			"$near": bson.M{
				"$geometry": bson.M{
					"type":        "Point",
					"coordinates": filter.Near.Coordinates,
				},
				"$maxDistance": filter.RadiusKm * 1000, // km to meters
			},
		}
	}

	cursor, err := s.db.Collection("emergencies").Find(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing emergencies: %w", err)
	}
	defer cursor.Close(ctx)

	var emergencies []models.Emergency
	if err := cursor.All(ctx, &emergencies); err != nil {
		return nil, fmt.Errorf("decoding emergencies: %w", err)
	}
	return emergencies, nil
}

func (s *Mongo) UpdateEmergencyStatus(ctx context.Context, id string, status models.EmergencyStatus) (*models.Emergency, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, dispatcher.ErrEmergencyNotFound
	}

	update := bson.M{"$set": bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var emergency models.Emergency
	err = s.db.Collection("emergencies").
		FindOneAndUpdate(ctx, bson.M{"_id": objID}, update, opts).
		Decode(&emergency)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, dispatcher.ErrEmergencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating emergency status: %w", err)
	}
	return &emergency, nil
}

func (s *Mongo) DeleteEmergency(ctx context.Context, id string) (*models.Emergency, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, dispatcher.ErrEmergencyNotFound
	}

	var emergency models.Emergency
	err = s.db.Collection("emergencies").
		FindOneAndDelete(ctx, bson.M{"_id": objID}).
		Decode(&emergency)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, dispatcher.ErrEmergencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deleting emergency: %w", err)
	}
	return &emergency, nil
}
