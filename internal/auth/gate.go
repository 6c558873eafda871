package auth

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/adumitrescu/onlineshop/internal/domain"
)

// Operation is the category an authorization decision is keyed on,
// together with the actor's role.
type Operation string

const (
	OpPlaceOrder    Operation = "order.place"
	OpDeliverOrder  Operation = "order.deliver"
	OpCancelOrder   Operation = "order.cancel"
	OpReturnOrder   Operation = "order.return"
	OpAddProduct    Operation = "product.add"
	OpUpdateProduct Operation = "product.update"
	OpDeleteProduct Operation = "product.delete"
	OpAddStock      Operation = "product.add_stock"
)

// policy is the full (operation, role) table. Anything not listed is
// denied. Admins govern products, never the order lifecycle; that
// asymmetry is intentional.
var policy = map[Operation]map[domain.Role]bool{
	OpPlaceOrder:    {domain.RoleClient: true},
	OpCancelOrder:   {domain.RoleClient: true},
	OpReturnOrder:   {domain.RoleClient: true},
	OpDeliverOrder:  {domain.RoleExpeditor: true},
	OpAddProduct:    {domain.RoleAdmin: true},
	OpDeleteProduct: {domain.RoleAdmin: true},
	OpAddStock:      {domain.RoleAdmin: true},
	OpUpdateProduct: {domain.RoleAdmin: true, domain.RoleEditor: true},
}

// RoleResolver maps an actor id to its role. The Postgres
// UserRepository is the production implementation.
type RoleResolver interface {
	GetRole(ctx context.Context, actorID string) (domain.Role, error)
}

type Gate struct {
	resolver RoleResolver
	logger   *slog.Logger
}

func NewGate(resolver RoleResolver, logger *slog.Logger) *Gate {
	return &Gate{
		resolver: resolver,
		logger:   logger,
	}
}

// Authorize resolves the actor's role and evaluates the policy table.
// An unknown actor yields domain.ErrInvalidCustomerID; a known actor
// whose role is not allowed yields domain.ErrNotPermitted.
func (g *Gate) Authorize(ctx context.Context, actorID string, op Operation) error {
	if uuid.Validate(actorID) != nil {
		return domain.ErrInvalidCustomerID
	}

	role, err := g.resolver.GetRole(ctx, actorID)
	if err != nil {
		return err
	}

	if !policy[op][role] {
		g.logger.Info("operation denied", "actor_id", actorID, "role", role, "operation", op)
		return domain.ErrNotPermitted
	}

	return nil
}
