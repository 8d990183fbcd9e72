package services

import (
	"context"

	"github.com/labflow/labflow/pkg/models"
)

// RoleResolver resolves the verified role set an actor holds within one
// laboratory. Role provisioning lives outside the engine; the engine fails
// closed, so an actor the resolver does not know gets an empty role set and
// can only perform unrestricted transitions.
type RoleResolver interface {
	RolesFor(ctx context.Context, actor, laboratoryID string) ([]models.Role, error)
}

type staticKey struct {
	actor        string
	laboratoryID string
}

// StaticRoleResolver serves role sets from an in-memory grant table. It backs
// tests and single-tenant deployments configured at startup.
type StaticRoleResolver struct {
	grants map[staticKey][]models.Role
}

func NewStaticRoleResolver() *StaticRoleResolver {
	return &StaticRoleResolver{grants: make(map[staticKey][]models.Role)}
}

// Grant records roles for actor within laboratoryID, replacing any previous
// grant. Labels are normalized before storage.
func (r *StaticRoleResolver) Grant(actor, laboratoryID string, roles ...string) {
	r.grants[staticKey{actor: actor, laboratoryID: laboratoryID}] = models.NormalizeRoles(roles)
}

func (r *StaticRoleResolver) RolesFor(_ context.Context, actor, laboratoryID string) ([]models.Role, error) {
	roles := r.grants[staticKey{actor: actor, laboratoryID: laboratoryID}]
	out := make([]models.Role, len(roles))
	copy(out, roles)

	return out, nil
}
