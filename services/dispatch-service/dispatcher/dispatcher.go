// Package dispatcher implements the emergency dispatch matching engine:
// validate the report, persist it, find nearby available volunteers, and
// take exactly one notification path: volunteer fan-out or admin
// escalation.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"emergency-dispatch-system/pkg/geo"
	"emergency-dispatch-system/services/dispatch-service/models"
)

// Matching policy. Fixed for this deployment: candidates are available
// volunteers within SearchRadiusKm of the report, and the alert asks for
// VolunteersNeeded responders.
const (
	SearchRadiusKm   = 5.0
	VolunteersNeeded = 3
)

var (
	ErrReporterNotFound  = errors.New("reporter not found")
	ErrEmergencyNotFound = errors.New("emergency not found")
)

// Repository is the persistence seam. The Mongo implementation lives in
// the store package; tests inject an in-memory fake.
type Repository interface {
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	CreateEmergency(ctx context.Context, e *models.Emergency) error
	FindAvailableVolunteersNear(ctx context.Context, center geo.Point, radiusKm float64) ([]models.Candidate, error)
	FindEmergencyByID(ctx context.Context, id string) (*models.Emergency, error)
	FindEmergencies(ctx context.Context, filter models.EmergencyFilter) ([]models.Emergency, error)
	UpdateEmergencyStatus(ctx context.Context, id string, status models.EmergencyStatus) (*models.Emergency, error)
	DeleteEmergency(ctx context.Context, id string) (*models.Emergency, error)
}

// EventPublisher is the notification channel seam: best-effort publish,
// no delivery confirmation surfaced.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

type Dispatcher struct {
	repo Repository
	pub  EventPublisher
}

func New(repo Repository, pub EventPublisher) *Dispatcher {
	return &Dispatcher{repo: repo, pub: pub}
}

// Result reports which branch a dispatch took. Exactly one of
// NotifiedVolunteers > 0 or Escalated holds after a successful dispatch.
type Result struct {
	Emergency          *models.Emergency
	NotifiedVolunteers int
	Escalated          bool
}

// Dispatch runs the matching flow for a new report. The emergency write
// strictly precedes the candidate query and the publish, so a consumer
// reacting to either event can always resolve the referenced ID. Any
// failure past that write surfaces as an error while the record stays
// persisted: a report is never silently dropped just because
// notification failed.
func (d *Dispatcher) Dispatch(ctx context.Context, reporterID, emergencyType string, location geo.Point) (*Result, error) {
	reporter, err := d.repo.FindUserByID(ctx, reporterID)
	if err != nil {
		return nil, err
	}

	if err := location.Validate(); err != nil {
		return nil, err
	}
	location = location.Normalize()

	emergency := &models.Emergency{
		UserID:   reporter.ID,
		Type:     emergencyType,
		Location: location,
		Status:   models.StatusPending,
	}
	if err := d.repo.CreateEmergency(ctx, emergency); err != nil {
		return nil, fmt.Errorf("persisting emergency: %w", err)
	}

	candidates, err := d.repo.FindAvailableVolunteersNear(ctx, location, SearchRadiusKm)
	if err != nil {
		return nil, fmt.Errorf("matching volunteers for emergency %s: %w", emergency.ID.Hex(), err)
	}

	if len(candidates) > 0 {
		event := models.NewEmergencyEvent{
			EmergencyID:      emergency.ID.Hex(),
			EmergencyType:    emergencyType,
			Location:         location.Coordinates,
			VolunteersNeeded: VolunteersNeeded,
			UserPhone:        reporter.Phone,
		}
		if err := d.pub.Publish(ctx, models.TopicNewEmergency, event); err != nil {
			return nil, fmt.Errorf("notifying volunteers for emergency %s: %w", emergency.ID.Hex(), err)
		}
		return &Result{Emergency: emergency, NotifiedVolunteers: len(candidates)}, nil
	}

	alert := models.AdminAlertEvent{
		EmergencyID:    emergency.ID.Hex(),
		Location:       location.Coordinates,
		Reason:         models.EscalationReason,
		Severity:       "critical",
		ActionRequired: true,
	}
	if err := d.pub.Publish(ctx, models.TopicAdminAlert, alert); err != nil {
		return nil, fmt.Errorf("escalating emergency %s: %w", emergency.ID.Hex(), err)
	}
	return &Result{Emergency: emergency, Escalated: true}, nil
}

// UpdateStatus applies a lifecycle transition as a direct overwrite of
// the stored status. Any of the three states is accepted as a target.
func (d *Dispatcher) UpdateStatus(ctx context.Context, id, rawStatus string) (*models.Emergency, error) {
	status, err := models.ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	return d.repo.UpdateEmergencyStatus(ctx, id, status)
}
