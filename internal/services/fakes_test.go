package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/estoque-labs/goal-engine/internal/dispatch"
	"github.com/estoque-labs/goal-engine/internal/messaging"
	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/pkg/apperrors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ---- ledger store fake ----

type memLedger struct {
	mu        sync.Mutex
	resources map[string]*models.Resource
	// failures makes the next N ApplyDelta calls fail with the given error.
	failures int
	failWith error
}

func newMemLedger() *memLedger {
	return &memLedger{resources: make(map[string]*models.Resource)}
}

func (m *memLedger) ApplyDelta(_ context.Context, name string, delta int64, entry models.HistoryEntry) (*models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return nil, m.failWith
	}

	name = models.NormalizeResourceName(name)
	resource, ok := m.resources[name]
	if !ok {
		resource = &models.Resource{
			Name:      name,
			Category:  "geral",
			Active:    true,
			CreatedAt: time.Now(),
		}
		m.resources[name] = resource
	}
	resource.Quantity += delta
	resource.History = append(resource.History, entry)
	resource.UpdatedAt = time.Now()

	snapshot := *resource
	return &snapshot, nil
}

func (m *memLedger) CreateResource(_ context.Context, resource *models.Resource) (*models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := models.NormalizeResourceName(resource.Name)
	if _, exists := m.resources[name]; exists {
		return nil, apperrors.NewValidation("resource_exists", "resource %q already exists", name)
	}
	resource.Name = name
	resource.Active = true
	m.resources[name] = resource
	return resource, nil
}

func (m *memLedger) GetResource(_ context.Context, name string) (*models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resource, ok := m.resources[models.NormalizeResourceName(name)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	snapshot := *resource
	return &snapshot, nil
}

func (m *memLedger) ListResources(_ context.Context, category string, activeOnly bool, _ int) ([]models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Resource
	for _, resource := range m.resources {
		if category != "" && resource.Category != category {
			continue
		}
		if activeOnly && !resource.Active {
			continue
		}
		out = append(out, *resource)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memLedger) SetActive(_ context.Context, name string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	resource, ok := m.resources[models.NormalizeResourceName(name)]
	if !ok {
		return apperrors.ErrNotFound
	}
	resource.Active = active
	return nil
}

func (m *memLedger) ResetQuantity(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resource, ok := m.resources[models.NormalizeResourceName(name)]
	if !ok || resource.Quantity == 0 {
		return 0, nil
	}
	resource.Quantity = 0
	return 1, nil
}

// ---- goal store fake ----

type memGoals struct {
	mu      sync.Mutex
	records map[string]*models.GoalRecord
}

func newMemGoals() *memGoals {
	return &memGoals{records: make(map[string]*models.GoalRecord)}
}

func goalFakeKey(resource string, targetType models.TargetType, targetID string) string {
	return fmt.Sprintf("%s|%s|%s", models.NormalizeResourceName(resource), targetType, targetID)
}

func (m *memGoals) RecordProgress(_ context.Context, resource string, targetType models.TargetType, targetID string, delta int64) (*models.GoalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[goalFakeKey(resource, targetType, targetID)]
	if !ok {
		return nil, nil
	}
	record.DailyProgress += delta
	record.WeeklyProgress += delta
	record.LastUpdated = time.Now()

	snapshot := *record
	return &snapshot, nil
}

func (m *memGoals) ReplaceGoal(_ context.Context, record *models.GoalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.ResourceName = models.NormalizeResourceName(record.ResourceName)
	record.DailyProgress = 0
	record.WeeklyProgress = 0
	record.LastUpdated = time.Now()

	stored := *record
	m.records[goalFakeKey(record.ResourceName, record.TargetType, record.TargetID)] = &stored
	return nil
}

func (m *memGoals) GetGoal(_ context.Context, resource string, targetType models.TargetType, targetID string) (*models.GoalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[goalFakeKey(resource, targetType, targetID)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	snapshot := *record
	return &snapshot, nil
}

func (m *memGoals) ListGoals(_ context.Context, resource string, targetType models.TargetType, targetID string) ([]models.GoalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.GoalRecord
	for _, record := range m.records {
		if resource != "" && record.ResourceName != models.NormalizeResourceName(resource) {
			continue
		}
		if targetType != "" && record.TargetType != targetType {
			continue
		}
		if targetID != "" && record.TargetID != targetID {
			continue
		}
		out = append(out, *record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceName != out[j].ResourceName {
			return out[i].ResourceName < out[j].ResourceName
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out, nil
}

func (m *memGoals) ResetProgress(_ context.Context, resource string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var modified int64
	for _, record := range m.records {
		if resource != "" && record.ResourceName != models.NormalizeResourceName(resource) {
			continue
		}
		if record.DailyProgress == 0 && record.WeeklyProgress == 0 {
			continue
		}
		record.DailyProgress = 0
		record.WeeklyProgress = 0
		record.LastUpdated = time.Now()
		modified++
	}
	return modified, nil
}

// ---- notification store fake ----

type memNotifications struct {
	mu      sync.Mutex
	records []*models.NotificationRecord
}

func newMemNotifications() *memNotifications {
	return &memNotifications{}
}

func (m *memNotifications) CreateNotification(_ context.Context, record *models.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.ID = primitive.NewObjectID()
	if record.SentAt.IsZero() {
		record.SentAt = time.Now()
	}
	record.Read = false
	stored := *record
	m.records = append(m.records, &stored)
	return nil
}

func (m *memNotifications) CountUnread(_ context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, record := range m.records {
		if record.RecipientID == recipientID && !record.Read {
			count++
		}
	}
	return count, nil
}

func (m *memNotifications) ListUnread(_ context.Context, recipientID string, skip, limit int64) ([]models.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var unread []models.NotificationRecord
	for _, record := range m.records {
		if record.RecipientID == recipientID && !record.Read {
			unread = append(unread, *record)
		}
	}
	sort.Slice(unread, func(i, j int) bool { return unread[i].SentAt.After(unread[j].SentAt) })

	if skip >= int64(len(unread)) {
		return nil, nil
	}
	unread = unread[skip:]
	if limit < int64(len(unread)) {
		unread = unread[:limit]
	}
	return unread, nil
}

func (m *memNotifications) MarkRead(_ context.Context, recipientID string, id primitive.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, record := range m.records {
		if record.ID == id && record.RecipientID == recipientID && !record.Read {
			now := time.Now()
			record.Read = true
			record.ReadAt = &now
			return 1, nil
		}
	}
	return 0, nil
}

func (m *memNotifications) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var modified int64
	now := time.Now()
	for _, record := range m.records {
		if record.RecipientID == recipientID && !record.Read {
			record.Read = true
			record.ReadAt = &now
			modified++
		}
	}
	return modified, nil
}

// ---- preference store fake ----

type memPrefs struct {
	mu    sync.Mutex
	prefs map[string]*models.NotificationPreference
}

func newMemPrefs() *memPrefs {
	return &memPrefs{prefs: make(map[string]*models.NotificationPreference)}
}

func (m *memPrefs) GetPreference(_ context.Context, userID string) (*models.NotificationPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pref, ok := m.prefs[userID]; ok {
		snapshot := *pref
		return &snapshot, nil
	}
	return models.DefaultPreference(userID), nil
}

func (m *memPrefs) UpsertPreference(_ context.Context, pref *models.NotificationPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *pref
	m.prefs[pref.UserID] = &stored
	return nil
}

// ---- messenger fake ----

type sentMessage struct {
	Destination messaging.Destination
	Message     string
	Payload     map[string]interface{}
}

type fakeMessenger struct {
	mu       sync.Mutex
	users    map[string]string // id -> name
	channels map[string]string
	members  map[string][]messaging.Member
	failSend bool
	sends    []sentMessage
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		users:    make(map[string]string),
		channels: make(map[string]string),
		members:  make(map[string][]messaging.Member),
	}
}

func (f *fakeMessenger) ResolveIndividual(_ context.Context, id string) (*messaging.Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &messaging.Destination{Kind: messaging.KindIndividual, ID: id, Name: name}, nil
}

func (f *fakeMessenger) ResolveBroadcastChannel(_ context.Context, id string) (*messaging.Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.channels[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &messaging.Destination{Kind: messaging.KindBroadcast, ID: id, Name: name}, nil
}

func (f *fakeMessenger) Send(_ context.Context, dest *messaging.Destination, message string, payload map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return fmt.Errorf("%w: recipient unreachable", apperrors.ErrDelivery)
	}
	f.sends = append(f.sends, sentMessage{Destination: *dest, Message: message, Payload: payload})
	return nil
}

func (f *fakeMessenger) FetchRoleMembers(_ context.Context, roleID string) ([]messaging.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[roleID], nil
}

func (f *fakeMessenger) sentTo(destID string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, s := range f.sends {
		if s.Destination.ID == destID {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeMessenger) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// ---- dispatcher fake ----

// syncDispatcher runs tasks inline so tests see dispatch effects immediately.
type syncDispatcher struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newSyncDispatcher() *syncDispatcher {
	return &syncDispatcher{seen: make(map[string]struct{})}
}

func (d *syncDispatcher) Enqueue(task dispatch.Task) bool {
	if task.EventID != "" {
		d.mu.Lock()
		if _, dup := d.seen[task.EventID]; dup {
			d.mu.Unlock()
			return false
		}
		d.seen[task.EventID] = struct{}{}
		d.mu.Unlock()
	}
	task.Run(context.Background())
	return true
}
