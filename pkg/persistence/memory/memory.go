// Package memory provides an in-process persistence implementation used by
// tests and local development. Locking semantics match the SQL backends:
// entity and alert critical sections are exclusive per key and independent
// across keys.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/persistence"
)

type entityKey struct {
	kind models.Kind
	id   string
}

type alertKey struct {
	kind  models.Kind
	id    string
	state string
}

// keyedMutex hands out one mutex per key, created on first use.
type keyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*sync.Mutex
}

func newKeyedMutex[K comparable]() *keyedMutex[K] {
	return &keyedMutex[K]{locks: make(map[K]*sync.Mutex)}
}

func (k *keyedMutex[K]) get(key K) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}

	return lock
}

// Persistence implements persistence.Persistence with in-memory maps.
type Persistence struct {
	mu          sync.RWMutex
	entities    map[entityKey]*models.Entity
	transitions []*models.TransitionRecord
	alerts      []*models.AlertRecord

	entityLocks *keyedMutex[entityKey]
	alertLocks  *keyedMutex[alertKey]
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		entities:    make(map[entityKey]*models.Entity),
		entityLocks: newKeyedMutex[entityKey](),
		alertLocks:  newKeyedMutex[alertKey](),
	}
}

func (p *Persistence) Entities() persistence.EntityRepository {
	return &entityRepository{p: p}
}

func (p *Persistence) Transitions() persistence.TransitionRepository {
	return &transitionRepository{p: p}
}

func (p *Persistence) Alerts() persistence.AlertRepository {
	return &alertRepository{p: p}
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// WithEntityLock serializes critical sections per entity key.
func (p *Persistence) WithEntityLock(ctx context.Context, kind models.Kind, objectID string, fn func(persistence.TransitionStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := entityKey{kind: kind, id: objectID}
	lock := p.entityLocks.get(key)
	lock.Lock()
	defer lock.Unlock()

	return fn(&transitionStore{p: p, key: key})
}

// WithAlertLock serializes critical sections per (kind, object, state) key.
func (p *Persistence) WithAlertLock(ctx context.Context, kind models.Kind, objectID, state string, fn func(persistence.AlertStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := alertKey{kind: kind, id: objectID, state: state}
	lock := p.alertLocks.get(key)
	lock.Lock()
	defer lock.Unlock()

	return fn(&alertStore{p: p, key: key})
}

func copyEntity(e *models.Entity) *models.Entity {
	out := *e

	return &out
}

func copyRecord(r *models.TransitionRecord) *models.TransitionRecord {
	out := *r

	return &out
}

func copyAlert(a *models.AlertRecord) *models.AlertRecord {
	out := *a

	if a.ResolvedAt != nil {
		resolved := *a.ResolvedAt
		out.ResolvedAt = &resolved
	}

	return &out
}

type entityRepository struct {
	p *Persistence
}

func (r *entityRepository) GetByID(_ context.Context, kind models.Kind, objectID string) (*models.Entity, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	entity, ok := r.p.entities[entityKey{kind: kind, id: objectID}]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", kind, objectID, persistence.ErrEntityNotFound)
	}

	return copyEntity(entity), nil
}

func (r *entityRepository) ListByKind(_ context.Context, kind models.Kind, laboratoryID string) ([]*models.Entity, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	entities := make([]*models.Entity, 0)

	for key, entity := range r.p.entities {
		if key.kind != kind {
			continue
		}

		if laboratoryID != "" && entity.LaboratoryID != laboratoryID {
			continue
		}

		entities = append(entities, copyEntity(entity))
	}

	return entities, nil
}

func (r *entityRepository) Create(_ context.Context, entity *models.Entity) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := entityKey{kind: entity.Kind, id: entity.ID}
	if _, exists := r.p.entities[key]; exists {
		return persistence.NewEntityError("Create", entity.Kind, entity.ID, persistence.ErrEntityAlreadyExists)
	}

	stored := copyEntity(entity)

	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}

	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}

	r.p.entities[key] = stored

	return nil
}

// Save persists non-status fields. A changed status is rejected here: status
// only moves through the transition store.
func (r *entityRepository) Save(_ context.Context, entity *models.Entity) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := entityKey{kind: entity.Kind, id: entity.ID}

	stored, ok := r.p.entities[key]
	if !ok {
		return persistence.NewEntityError("Save", entity.Kind, entity.ID, persistence.ErrEntityNotFound)
	}

	if entity.Status != stored.Status {
		return persistence.NewEntityError("Save", entity.Kind, entity.ID, persistence.ErrStatusWriteDenied)
	}

	updated := copyEntity(entity)
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	r.p.entities[key] = updated

	return nil
}

type transitionRepository struct {
	p *Persistence
}

func (r *transitionRepository) ListByObject(_ context.Context, kind models.Kind, objectID string) ([]*models.TransitionRecord, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	records := make([]*models.TransitionRecord, 0)

	for _, record := range r.p.transitions {
		if record.Kind == kind && record.ObjectID == objectID {
			records = append(records, copyRecord(record))
		}
	}

	return records, nil
}

func (r *transitionRepository) LatestEntry(_ context.Context, kind models.Kind, objectID, toStatus string) (*models.TransitionRecord, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	// Records are stored in append order; newest match wins.
	for i := len(r.p.transitions) - 1; i >= 0; i-- {
		record := r.p.transitions[i]
		if record.Kind == kind && record.ObjectID == objectID && record.ToStatus == toStatus {
			return copyRecord(record), nil
		}
	}

	return nil, nil
}

type alertRepository struct {
	p *Persistence
}

func (r *alertRepository) ListOpen(_ context.Context, laboratoryID string) ([]*models.AlertRecord, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	alerts := make([]*models.AlertRecord, 0)

	for _, alert := range r.p.alerts {
		if !alert.Open() {
			continue
		}

		if laboratoryID != "" {
			entity, ok := r.p.entities[entityKey{kind: alert.Kind, id: alert.ObjectID}]
			if !ok || entity.LaboratoryID != laboratoryID {
				continue
			}
		}

		alerts = append(alerts, copyAlert(alert))
	}

	return alerts, nil
}

func (r *alertRepository) ListByObject(_ context.Context, kind models.Kind, objectID string) ([]*models.AlertRecord, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	alerts := make([]*models.AlertRecord, 0)

	for _, alert := range r.p.alerts {
		if alert.Kind == kind && alert.ObjectID == objectID {
			alerts = append(alerts, copyAlert(alert))
		}
	}

	return alerts, nil
}

type transitionStore struct {
	p   *Persistence
	key entityKey
}

func (s *transitionStore) Entity() (*models.Entity, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	entity, ok := s.p.entities[s.key]
	if !ok {
		return nil, persistence.NewEntityError("Entity", s.key.kind, s.key.id, persistence.ErrEntityNotFound)
	}

	return copyEntity(entity), nil
}

func (s *transitionStore) ApplyTransition(toStatus string, record *models.TransitionRecord) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	entity, ok := s.p.entities[s.key]
	if !ok {
		return persistence.NewEntityError("ApplyTransition", s.key.kind, s.key.id, persistence.ErrEntityNotFound)
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	stored := copyRecord(record)

	entity.Status = toStatus
	entity.UpdatedAt = stored.CreatedAt
	s.p.transitions = append(s.p.transitions, stored)

	return nil
}

type alertStore struct {
	p   *Persistence
	key alertKey
}

func (s *alertStore) open() *models.AlertRecord {
	for _, alert := range s.p.alerts {
		if alert.Kind == s.key.kind && alert.ObjectID == s.key.id && alert.State == s.key.state && alert.Open() {
			return alert
		}
	}

	return nil
}

func (s *alertStore) Open() (*models.AlertRecord, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	if alert := s.open(); alert != nil {
		return copyAlert(alert), nil
	}

	return nil, nil
}

func (s *alertStore) Create(alert *models.AlertRecord) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	if existing := s.open(); existing != nil {
		return persistence.ErrDuplicateOpenAlert
	}

	alert.Kind = s.key.kind
	alert.ObjectID = s.key.id
	alert.State = s.key.state

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = time.Now().UTC()
	}

	s.p.alerts = append(s.p.alerts, copyAlert(alert))

	return nil
}

func (s *alertStore) ResolveOpen(now time.Time) (*models.AlertRecord, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	alert := s.open()
	if alert == nil {
		return nil, nil
	}

	resolved := now.UTC()
	alert.ResolvedAt = &resolved

	duration := int64(resolved.Sub(alert.TriggeredAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	alert.DurationSeconds = duration

	return copyAlert(alert), nil
}
