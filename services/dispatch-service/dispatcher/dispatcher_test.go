package dispatcher

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"emergency-dispatch-system/pkg/geo"
	"emergency-dispatch-system/services/dispatch-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeRepo mirrors the Mongo store's behavior in memory. The radius
// filter reuses geo.WithinRadius so the spherical-cap math under test is
// the same the production aggregation encodes.
type fakeRepo struct {
	users       map[string]*models.User
	candidates  []models.Candidate
	emergencies map[string]*models.Emergency
	matchErr    error
	createCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:       make(map[string]*models.User),
		emergencies: make(map[string]*models.Emergency),
	}
}

func (f *fakeRepo) FindUserByID(_ context.Context, id string) (*models.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, ErrReporterNotFound
	}
	return user, nil
}

func (f *fakeRepo) CreateEmergency(_ context.Context, e *models.Emergency) error {
	f.createCalls++
	now := time.Now()
	e.ID = primitive.NewObjectID()
	e.CreatedAt = now
	e.UpdatedAt = now
	stored := *e
	f.emergencies[e.ID.Hex()] = &stored
	return nil
}

func (f *fakeRepo) FindAvailableVolunteersNear(_ context.Context, center geo.Point, radiusKm float64) ([]models.Candidate, error) {
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	var matched []models.Candidate
	for _, c := range f.candidates {
		if c.IsAvailable && geo.WithinRadius(center, c.User.Location, radiusKm) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

func (f *fakeRepo) FindEmergencyByID(_ context.Context, id string) (*models.Emergency, error) {
	e, ok := f.emergencies[id]
	if !ok {
		return nil, ErrEmergencyNotFound
	}
	copied := *e
	return &copied, nil
}

func (f *fakeRepo) FindEmergencies(_ context.Context, filter models.EmergencyFilter) ([]models.Emergency, error) {
	var out []models.Emergency
	for _, e := range f.emergencies {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Near != nil && !geo.WithinRadius(*filter.Near, e.Location, filter.RadiusKm) {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeRepo) UpdateEmergencyStatus(_ context.Context, id string, status models.EmergencyStatus) (*models.Emergency, error) {
	e, ok := f.emergencies[id]
	if !ok {
		return nil, ErrEmergencyNotFound
	}
	e.Status = status
	e.UpdatedAt = time.Now()
	copied := *e
	return &copied, nil
}

func (f *fakeRepo) DeleteEmergency(_ context.Context, id string) (*models.Emergency, error) {
	e, ok := f.emergencies[id]
	if !ok {
		return nil, ErrEmergencyNotFound
	}
	delete(f.emergencies, id)
	return e, nil
}

type publishedEvent struct {
	topic   string
	payload interface{}
}

type fakePublisher struct {
	events    []publishedEvent
	err       error
	onPublish func(topic string, payload interface{})
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload interface{}) error {
	if f.err != nil {
		return f.err
	}
	if f.onPublish != nil {
		f.onPublish(topic, payload)
	}
	f.events = append(f.events, publishedEvent{topic: topic, payload: payload})
	return nil
}

// latOffsetKm shifts a point north by the given number of kilometers.
func latOffsetKm(p geo.Point, km float64) geo.Point {
	degPerKm := 180 / (math.Pi * geo.EarthRadiusKm)
	return geo.NewPoint(p.Longitude(), p.Latitude()+km*degPerKm)
}

func seedReporter(repo *fakeRepo, phone string) *models.User {
	user := &models.User{
		ID:       primitive.NewObjectID(),
		Name:     "Report Er",
		Email:    "reporter@example.com",
		Phone:    phone,
		Role:     "user",
		Location: geo.NewPoint(12.34, 56.78),
	}
	repo.users[user.ID.Hex()] = user
	return user
}

func seedCandidate(repo *fakeRepo, location geo.Point, available bool) {
	repo.candidates = append(repo.candidates, models.Candidate{
		ID:          primitive.NewObjectID(),
		UserID:      primitive.NewObjectID(),
		Skills:      []string{"first aid"},
		IsAvailable: available,
		User: models.User{
			ID:       primitive.NewObjectID(),
			Role:     "volunteer",
			Location: location,
		},
	})
}

func TestDispatchNotifiesNearbyVolunteers(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	reporter := seedReporter(repo, "+4712345678")
	center := geo.NewPoint(12.34, 56.78)

	// Three available volunteers inside the 5 km radius, one just
	// outside, one nearby but unavailable.
	seedCandidate(repo, latOffsetKm(center, 1), true)
	seedCandidate(repo, latOffsetKm(center, 2.5), true)
	seedCandidate(repo, latOffsetKm(center, 4.5), true)
	seedCandidate(repo, latOffsetKm(center, 6), true)
	seedCandidate(repo, latOffsetKm(center, 1), false)

	result, err := New(repo, pub).Dispatch(context.Background(), reporter.ID.Hex(), "medical", center)
	require.NoError(t, err)

	assert.Equal(t, 3, result.NotifiedVolunteers)
	assert.False(t, result.Escalated)
	assert.Equal(t, models.StatusPending, result.Emergency.Status)

	require.Len(t, pub.events, 1, "exactly one notification path must fire")
	require.Equal(t, models.TopicNewEmergency, pub.events[0].topic)

	event, ok := pub.events[0].payload.(models.NewEmergencyEvent)
	require.True(t, ok)
	assert.Equal(t, result.Emergency.ID.Hex(), event.EmergencyID)
	assert.Equal(t, "medical", event.EmergencyType)
	assert.Equal(t, VolunteersNeeded, event.VolunteersNeeded)
	assert.Equal(t, "+4712345678", event.UserPhone)
	assert.Equal(t, center.Coordinates, event.Location)
}

func TestDispatchEscalatesWhenNoVolunteers(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	reporter := seedReporter(repo, "+4712345678")
	center := geo.NewPoint(12.34, 56.78)

	result, err := New(repo, pub).Dispatch(context.Background(), reporter.ID.Hex(), "fire", center)
	require.NoError(t, err)

	assert.Zero(t, result.NotifiedVolunteers)
	assert.True(t, result.Escalated)
	assert.Equal(t, models.StatusPending, result.Emergency.Status)

	require.Len(t, pub.events, 1, "exactly one notification path must fire")
	require.Equal(t, models.TopicAdminAlert, pub.events[0].topic)

	alert, ok := pub.events[0].payload.(models.AdminAlertEvent)
	require.True(t, ok)
	assert.Equal(t, result.Emergency.ID.Hex(), alert.EmergencyID)
	assert.Equal(t, "No available volunteers in radius", alert.Reason)
	assert.Equal(t, "critical", alert.Severity)
	assert.True(t, alert.ActionRequired)
}

func TestDispatchRejectsInvalidLocationBeforePersisting(t *testing.T) {
	tests := []struct {
		name     string
		location geo.Point
	}{
		{"out of range", geo.NewPoint(200, 95)},
		{"single coordinate", geo.Point{Type: "Point", Coordinates: []float64{12.3}}},
		{"missing location", geo.Point{}},
		{"non-finite coordinate", geo.NewPoint(math.NaN(), 45)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			pub := &fakePublisher{}
			reporter := seedReporter(repo, "")

			_, err := New(repo, pub).Dispatch(context.Background(), reporter.ID.Hex(), "medical", tt.location)

			require.ErrorIs(t, err, geo.ErrInvalidLocation)
			assert.Zero(t, repo.createCalls, "nothing may be persisted for invalid input")
			assert.Empty(t, pub.events)
		})
	}
}

func TestDispatchRejectsUnknownReporter(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}

	_, err := New(repo, pub).Dispatch(context.Background(), primitive.NewObjectID().Hex(), "medical", geo.NewPoint(12.34, 56.78))

	require.ErrorIs(t, err, ErrReporterNotFound)
	assert.Zero(t, repo.createCalls)
	assert.Empty(t, pub.events)
}

func TestDispatchPersistsBeforePublishing(t *testing.T) {
	repo := newFakeRepo()
	reporter := seedReporter(repo, "")
	seedCandidate(repo, latOffsetKm(geo.NewPoint(12.34, 56.78), 1), true)

	pub := &fakePublisher{}
	pub.onPublish = func(topic string, payload interface{}) {
		var id string
		switch event := payload.(type) {
		case models.NewEmergencyEvent:
			id = event.EmergencyID
		case models.AdminAlertEvent:
			id = event.EmergencyID
		default:
			t.Fatalf("unexpected payload type %T", payload)
		}
		_, err := repo.FindEmergencyByID(context.Background(), id)
		assert.NoError(t, err, "emergency must be retrievable when its event is published")
	}

	_, err := New(repo, pub).Dispatch(context.Background(), reporter.ID.Hex(), "medical", geo.NewPoint(12.34, 56.78))
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
}

func TestDispatchKeepsEmergencyWhenPublishFails(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{err: errors.New("broker gone")}
	reporter := seedReporter(repo, "")

	_, err := New(repo, pub).Dispatch(context.Background(), reporter.ID.Hex(), "medical", geo.NewPoint(12.34, 56.78))

	require.Error(t, err)
	assert.Len(t, repo.emergencies, 1, "a report is never dropped because notification failed")
	for _, e := range repo.emergencies {
		assert.Equal(t, models.StatusPending, e.Status)
	}
}

func TestDispatchKeepsEmergencyWhenMatchingFails(t *testing.T) {
	repo := newFakeRepo()
	repo.matchErr = errors.New("store unavailable")
	pub := &fakePublisher{}
	reporter := seedReporter(repo, "")

	_, err := New(repo, pub).Dispatch(context.Background(), reporter.ID.Hex(), "medical", geo.NewPoint(12.34, 56.78))

	require.Error(t, err)
	assert.Len(t, repo.emergencies, 1)
	assert.Empty(t, pub.events)
}

func TestUpdateStatus(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	d := New(repo, pub)

	id := primitive.NewObjectID()
	repo.emergencies[id.Hex()] = &models.Emergency{
		ID:       id,
		Type:     "medical",
		Location: geo.NewPoint(12.34, 56.78),
		Status:   models.StatusPending,
	}

	updated, err := d.UpdateStatus(context.Background(), id.Hex(), "resolved")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, updated.Status)

	// Terminal states are not sticky: the update is a plain overwrite.
	updated, err = d.UpdateStatus(context.Background(), id.Hex(), "cancelled")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, updated.Status)

	_, err = d.UpdateStatus(context.Background(), id.Hex(), "archived")
	assert.ErrorIs(t, err, models.ErrInvalidStatus)

	_, err = d.UpdateStatus(context.Background(), primitive.NewObjectID().Hex(), "resolved")
	assert.ErrorIs(t, err, ErrEmergencyNotFound)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, models.StatusPending.Terminal())
	assert.True(t, models.StatusResolved.Terminal())
	assert.True(t, models.StatusCancelled.Terminal())
}
