package access

import (
	"context"
	"fmt"
	"log/slog"

	"CardVault/service/cards/internal/domain"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Modello Casbin: la catena owner > admin > moderator > none e' espressa
// come ereditarieta' di ruoli (g), ogni ruolo autorizza solo se stesso (p).
const roleModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj
`

// StaffRepository espone le letture/scritture dei grant staff.
type StaffRepository interface {
	FindStaff(ctx context.Context, userID string) (domain.StaffGrant, bool, error)
	UpsertStaff(ctx context.Context, grant domain.StaffGrant) error
	DeleteStaff(ctx context.Context, userID string) error
	ListStaff(ctx context.Context) ([]domain.StaffGrant, error)
}

// Checker risolve il ruolo di un principal e autorizza le azioni.
type Checker struct {
	logger   *slog.Logger
	repo     StaffRepository
	enforcer *casbin.Enforcer
}

// NewChecker costruisce l'enforcer in memoria con la gerarchia dei ruoli.
func NewChecker(logger *slog.Logger, repo StaffRepository) (*Checker, error) {
	m, err := model.NewModelFromString(roleModel)
	if err != nil {
		return nil, fmt.Errorf("load role model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	for _, role := range []domain.Role{domain.RoleNone, domain.RoleModerator, domain.RoleAdmin, domain.RoleOwner} {
		if _, err := enforcer.AddPolicy(string(role), string(role)); err != nil {
			return nil, fmt.Errorf("add policy %s: %w", role, err)
		}
	}
	chain := [][2]domain.Role{
		{domain.RoleOwner, domain.RoleAdmin},
		{domain.RoleAdmin, domain.RoleModerator},
		{domain.RoleModerator, domain.RoleNone},
	}
	for _, link := range chain {
		if _, err := enforcer.AddGroupingPolicy(string(link[0]), string(link[1])); err != nil {
			return nil, fmt.Errorf("add role link %s>%s: %w", link[0], link[1], err)
		}
	}

	return &Checker{logger: logger, repo: repo, enforcer: enforcer}, nil
}

// Role risolve il ruolo con un solo lookup; l'assenza di grant vale RoleNone.
func (c *Checker) Role(ctx context.Context, userID string) (domain.Role, error) {
	grant, found, err := c.repo.FindStaff(ctx, userID)
	if err != nil {
		c.logger.Error("errore lettura staff", "error", err, "user_id", userID)
		return domain.RoleNone, err
	}
	if !found {
		return domain.RoleNone, nil
	}
	role, err := domain.ParseRole(string(grant.Role))
	if err != nil {
		c.logger.Warn("ruolo staff sconosciuto, trattato come none", "user_id", userID, "role", grant.Role)
		return domain.RoleNone, nil
	}
	return role, nil
}

// Dominates indica se il ruolo have soddisfa il ruolo required.
func (c *Checker) Dominates(have, required domain.Role) bool {
	ok, err := c.enforcer.Enforce(string(have), string(required))
	if err != nil {
		c.logger.Error("errore enforce casbin", "error", err, "have", have, "required", required)
		return false
	}
	return ok
}

// Authorize ritorna true se il ruolo del principal e' required o lo domina.
func (c *Checker) Authorize(ctx context.Context, userID string, required domain.Role) (bool, error) {
	role, err := c.Role(ctx, userID)
	if err != nil {
		return false, err
	}
	return c.Dominates(role, required), nil
}

// Require e' come Authorize ma ritorna UnauthorizedError quando negato.
func (c *Checker) Require(ctx context.Context, userID string, required domain.Role) error {
	ok, err := c.Authorize(ctx, userID, required)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.UnauthorizedError{Required: required}
	}
	return nil
}

// RoleOf ritorna il ruolo di target; chi ispeziona un altro utente deve essere almeno moderator.
func (c *Checker) RoleOf(ctx context.Context, actorID, targetID string) (domain.Role, error) {
	if targetID != "" && targetID != actorID {
		if err := c.Require(ctx, actorID, domain.RoleModerator); err != nil {
			return domain.RoleNone, err
		}
		return c.Role(ctx, targetID)
	}
	return c.Role(ctx, actorID)
}

// SetRole assegna un ruolo staff. Toccare un owner o assegnare owner richiede un owner.
func (c *Checker) SetRole(ctx context.Context, actorID, targetID string, role domain.Role) error {
	if _, err := domain.ParseRole(string(role)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPrincipal, err)
	}
	if err := c.guardChange(ctx, actorID, targetID, role); err != nil {
		return err
	}
	if err := c.repo.UpsertStaff(ctx, domain.StaffGrant{UserID: targetID, Role: role}); err != nil {
		c.logger.Error("errore scrittura staff", "error", err, "user_id", targetID)
		return err
	}
	c.logger.Info("ruolo staff assegnato", "actor_id", actorID, "user_id", targetID, "role", role)
	return nil
}

// Revoke rimuove il grant di target con le stesse regole di SetRole.
func (c *Checker) Revoke(ctx context.Context, actorID, targetID string) error {
	if err := c.guardChange(ctx, actorID, targetID, domain.RoleNone); err != nil {
		return err
	}
	if err := c.repo.DeleteStaff(ctx, targetID); err != nil {
		c.logger.Error("errore rimozione staff", "error", err, "user_id", targetID)
		return err
	}
	c.logger.Info("ruolo staff revocato", "actor_id", actorID, "user_id", targetID)
	return nil
}

// ListStaff ritorna tutti i grant; riservato agli admin.
func (c *Checker) ListStaff(ctx context.Context, actorID string) ([]domain.StaffGrant, error) {
	if err := c.Require(ctx, actorID, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return c.repo.ListStaff(ctx)
}

// guardChange applica le invarianti sulle modifiche dei grant.
func (c *Checker) guardChange(ctx context.Context, actorID, targetID string, role domain.Role) error {
	if targetID == "" || targetID == actorID {
		return domain.ErrInvalidPrincipal
	}
	actorRole, err := c.Role(ctx, actorID)
	if err != nil {
		return err
	}
	if !c.Dominates(actorRole, domain.RoleAdmin) {
		return &domain.UnauthorizedError{Required: domain.RoleAdmin}
	}

	current, err := c.Role(ctx, targetID)
	if err != nil {
		return err
	}
	if (current == domain.RoleOwner || role == domain.RoleOwner) && actorRole != domain.RoleOwner {
		return &domain.UnauthorizedError{Required: domain.RoleOwner}
	}
	return nil
}
