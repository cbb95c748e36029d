package models

import (
	"errors"
	"fmt"
	"time"

	"emergency-dispatch-system/pkg/geo"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EmergencyStatus is the lifecycle state of a report: pending is the
// initial state, resolved and cancelled are terminal. Updates are plain
// overwrites; terminal states are not sticky.
type EmergencyStatus string

const (
	StatusPending   EmergencyStatus = "pending"
	StatusResolved  EmergencyStatus = "resolved"
	StatusCancelled EmergencyStatus = "cancelled"
)

var ErrInvalidStatus = errors.New("invalid emergency status")

func ParseStatus(s string) (EmergencyStatus, error) {
	switch EmergencyStatus(s) {
	case StatusPending, StatusResolved, StatusCancelled:
		return EmergencyStatus(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s EmergencyStatus) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

type Emergency struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	Type      string             `bson:"type" json:"type"`
	Location  geo.Point          `bson:"location" json:"location"`
	Status    EmergencyStatus    `bson:"status" json:"status"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// User is this service's read-only view of the users collection: just
// what dispatch needs to validate a reporter and reach them by phone.
type User struct {
	ID       primitive.ObjectID `bson:"_id" json:"id"`
	Name     string             `bson:"name" json:"name"`
	Email    string             `bson:"email" json:"email"`
	Phone    string             `bson:"phone_number" json:"phone_number"`
	Role     string             `bson:"role" json:"role"`
	Location geo.Point          `bson:"location" json:"location"`
}

// Candidate is a volunteer joined with its owning user, as produced by
// the availability + radius aggregation.
type Candidate struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	UserID      primitive.ObjectID `bson:"user_id" json:"user_id"`
	Skills      []string           `bson:"skills" json:"skills"`
	IsAvailable bool               `bson:"is_available" json:"is_available"`
	User        User               `bson:"user" json:"user"`
}

// EmergencyFilter narrows listings. Near/RadiusKm only apply together.
type EmergencyFilter struct {
	Status   EmergencyStatus
	Near     *geo.Point
	RadiusKm float64
}

// Event topics double as AMQP routing keys on the dispatch exchange.
const (
	TopicNewEmergency = "new-emergency"
	TopicAdminAlert   = "admin-alert"
)

// EscalationReason is the fixed reason carried on every admin alert.
const EscalationReason = "No available volunteers in radius"

// NewEmergencyEvent is fanned out to available volunteers' apps.
type NewEmergencyEvent struct {
	EmergencyID      string    `json:"emergencyId"`
	EmergencyType    string    `json:"emergencyType"`
	Location         []float64 `json:"location"`
	VolunteersNeeded int       `json:"volunteersNeeded"`
	UserPhone        string    `json:"userPhone"`
}

// AdminAlertEvent escalates a report no volunteer can cover.
type AdminAlertEvent struct {
	EmergencyID    string    `json:"emergencyId"`
	Location       []float64 `json:"location"`
	Reason         string    `json:"reason"`
	Severity       string    `json:"severity"`
	ActionRequired bool      `json:"actionRequired"`
}
