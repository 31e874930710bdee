package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hearth-ehr/hearth/internal/audit"
	"github.com/hearth-ehr/hearth/internal/guard"
	"github.com/hearth-ehr/hearth/internal/platform/httpx"
	"github.com/hearth-ehr/hearth/internal/rbac"
)

const resourceType = "client"

// Roles allowed to delete a client record.
var deleteRoles = []rbac.Role{rbac.RoleAdmin, rbac.RoleSupervisor}

// Service runs every client operation through the guard.
type Service struct {
	repo      Repository
	guard     *guard.Guard
	validator *validator.Validate
	newID     func() uuid.UUID
}

// NewService constructs a Service.
func NewService(repo Repository, g *guard.Guard) *Service {
	return &Service{repo: repo, guard: g, validator: validator.New(), newID: uuid.New}
}

// List returns a page of clients. Listing is a sensitive read.
func (s *Service) List(ctx context.Context, req guard.Request, filter ListFilter) ([]Client, error) {
	var out []Client
	op := s.operation("clients.list", audit.ActionRead, "")
	_, err := s.guard.Run(ctx, req, op, func(ctx context.Context) (guard.Result, error) {
		var err error
		out, err = s.repo.List(ctx, filter)
		return guard.Result{}, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one client.
func (s *Service) Get(ctx context.Context, req guard.Request, id uuid.UUID) (Client, error) {
	var out Client
	op := s.operation("clients.get", audit.ActionRead, id.String())
	_, err := s.guard.Run(ctx, req, op, func(ctx context.Context) (guard.Result, error) {
		var err error
		out, err = s.repo.Get(ctx, id)
		return guard.Result{}, err
	})
	if err != nil {
		return Client{}, err
	}
	return out, nil
}

// Create validates in and stores a new client.
func (s *Service) Create(ctx context.Context, req guard.Request, in Input) (Client, error) {
	var out Client
	op := s.operation("clients.create", audit.ActionCreate, "")
	_, err := s.guard.Run(ctx, req, op, func(ctx context.Context) (guard.Result, error) {
		c, err := s.fromInput(in)
		if err != nil {
			return guard.Result{}, err
		}
		c.ID = s.newID()
		out, err = s.repo.Create(ctx, c)
		if err != nil {
			return guard.Result{}, err
		}
		return guard.Result{ResourceID: out.ID.String(), NewValue: out.Ref()}, nil
	})
	if err != nil {
		return Client{}, err
	}
	return out, nil
}

// Update replaces the writable fields of client id.
func (s *Service) Update(ctx context.Context, req guard.Request, id uuid.UUID, in Input) (Client, error) {
	var out Client
	op := s.operation("clients.update", audit.ActionUpdate, id.String())
	_, err := s.guard.Run(ctx, req, op, func(ctx context.Context) (guard.Result, error) {
		c, err := s.fromInput(in)
		if err != nil {
			return guard.Result{}, err
		}
		c.ID = id
		before, after, err := s.repo.Update(ctx, c)
		if err != nil {
			return guard.Result{}, err
		}
		out = after
		return guard.Result{OldValue: before.Ref(), NewValue: after.Ref()}, nil
	})
	if err != nil {
		return Client{}, err
	}
	return out, nil
}

// Delete removes client id. Only admins and supervisors may delete.
func (s *Service) Delete(ctx context.Context, req guard.Request, id uuid.UUID) error {
	op := s.operation("clients.delete", audit.ActionDelete, id.String())
	op.AllowedRoles = deleteRoles
	_, err := s.guard.Run(ctx, req, op, func(ctx context.Context) (guard.Result, error) {
		deleted, err := s.repo.Delete(ctx, id)
		if err != nil {
			return guard.Result{}, err
		}
		return guard.Result{OldValue: deleted.Ref()}, nil
	})
	return err
}

func (s *Service) operation(name string, action audit.Action, resourceID string) guard.Operation {
	return guard.Operation{
		Name:         name,
		Module:       rbac.ModuleClients,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Sensitive:    true,
	}
}

func (s *Service) fromInput(in Input) (Client, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	if err := s.validator.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return Client{}, fmt.Errorf("clients: invalid %s: %w", strings.Join(fields, ", "), httpx.ErrValidation)
		}
		return Client{}, fmt.Errorf("clients: %v: %w", err, httpx.ErrValidation)
	}
	dob, err := time.Parse(time.DateOnly, in.DateOfBirth)
	if err != nil {
		return Client{}, fmt.Errorf("clients: date_of_birth: %w", httpx.ErrValidation)
	}
	status := in.Status
	if status == "" {
		status = StatusActive
	}
	return Client{
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		DateOfBirth: dob,
		Phone:       in.Phone,
		Email:       in.Email,
		Status:      status,
	}, nil
}
