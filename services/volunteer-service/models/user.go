package models

import (
	"time"

	"emergency-dispatch-system/pkg/geo"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleUser       = "user"
	RoleVolunteer  = "volunteer"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleVolunteer, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	Email     string             `bson:"email" json:"email"`
	Password  string             `bson:"password" json:"-"`
	Phone     string             `bson:"phone_number" json:"phone_number"`
	Role      string             `bson:"role" json:"role"`
	Location  geo.Point          `bson:"location" json:"location"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// Volunteer is the capability profile attached 1:1 to a user with role
// volunteer. The user_id unique index enforces the 1:1.
type Volunteer struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      primitive.ObjectID `bson:"user_id" json:"user_id"`
	Skills      []string           `bson:"skills" json:"skills"`
	IsAvailable bool               `bson:"is_available" json:"is_available"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
}

// VolunteerUpdate is a partial patch to a volunteer profile. Absent
// fields leave the stored value untouched.
type VolunteerUpdate struct {
	Skills      []string `json:"skills"`
	IsAvailable *bool    `json:"is_available"`
}

// Set builds the field overwrites for the patch. updated_at is always
// bumped, even for an empty patch.
func (u VolunteerUpdate) Set(now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	if u.Skills != nil {
		set["skills"] = u.Skills
	}
	if u.IsAvailable != nil {
		set["is_available"] = *u.IsAvailable
	}
	return set
}
