package shared

import "context"

// Role identifies the acting user's role as issued by the identity provider.
type Role string

const (
	RoleRequester      Role = "requester"
	RoleDepartmentHead Role = "department_head"
	RoleProcurement    Role = "procurement_officer"
	RoleFinanceManager Role = "finance_manager"
	RoleDirector       Role = "director"
	RoleAdmin          Role = "admin"
	RoleSystem         Role = "system"
)

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	TenantID    string
	UserID      string
	Role        Role
	DisplayName string
}

// SystemActor is used by background jobs.
func SystemActor(tenantID string) Actor {
	return Actor{TenantID: tenantID, UserID: "system", Role: RoleSystem, DisplayName: "system"}
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
