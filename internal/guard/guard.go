// Package guard composes authorization and audit around a governed operation.
//
// Every operation runs the same ordered steps:
//
//	authorize -> record-attempt -> invoke -> record-outcome
//
// Denied or malformed requests stop after authorize with a single denied
// entry and the handler is never invoked.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hearth-ehr/hearth/internal/audit"
	"github.com/hearth-ehr/hearth/internal/rbac"
)

var (
	// ErrForbidden is returned for every denied operation.
	ErrForbidden = errors.New("guard: forbidden")
	// ErrUnauthenticated is returned when the request carries no principal.
	ErrUnauthenticated = errors.New("guard: unauthenticated")
)

// Operation describes one governed access.
type Operation struct {
	// Name identifies the operation in logs, e.g. "clients.update".
	Name         string
	Module       rbac.Module
	Action       audit.Action
	ResourceType string
	ResourceID   string
	// AllowedRoles narrows access further than the module check; empty admits every role.
	AllowedRoles []rbac.Role
	// Sensitive marks reads that must be audited. Mutations are always audited.
	Sensitive   bool
	Description string
}

func (op Operation) audited() bool {
	return op.Sensitive || op.Action.IsMutation()
}

// Request carries the caller identity and connection metadata.
type Request struct {
	Principal rbac.Principal
	IPAddress string
	UserAgent string
}

// Result is what a handler reports back for the outcome entry.
type Result struct {
	ResourceID string
	OldValue   string
	NewValue   string
}

// Handler performs the governed operation.
type Handler func(ctx context.Context) (Result, error)

// DecisionObserver receives one call per authorization decision.
type DecisionObserver interface {
	ObserveDecision(module, result string)
}

// Option customises a Guard.
type Option func(*Guard)

// WithPolicy sets the audit failure policy.
func WithPolicy(p audit.Policy) Option {
	return func(g *Guard) { g.policy = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithObserver sets the decision observer.
func WithObserver(o DecisionObserver) Option {
	return func(g *Guard) { g.observer = o }
}

type step struct {
	name string
	run  func(context.Context, *exchange) error
}

type exchange struct {
	req        Request
	op         Operation
	handler    Handler
	attempt    audit.Attempt
	result     Result
	handlerErr error
}

// Guard runs operations through the evaluator and recorder.
type Guard struct {
	evaluator *rbac.Evaluator
	recorder  *audit.Recorder
	policy    audit.Policy
	logger    *slog.Logger
	observer  DecisionObserver
	steps     []step
}

// New constructs a Guard.
func New(evaluator *rbac.Evaluator, recorder *audit.Recorder, opts ...Option) *Guard {
	g := &Guard{
		evaluator: evaluator,
		recorder:  recorder,
		policy:    audit.DefaultPolicy(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.steps = []step{
		{name: "authorize", run: g.authorize},
		{name: "record-attempt", run: g.recordAttempt},
		{name: "invoke", run: g.invoke},
		{name: "record-outcome", run: g.recordOutcome},
	}
	return g
}

// Steps lists the pipeline step names in execution order.
func (g *Guard) Steps() []string {
	names := make([]string, len(g.steps))
	for i, s := range g.steps {
		names[i] = s.name
	}
	return names
}

// Evaluator exposes the evaluator used by the guard.
func (g *Guard) Evaluator() *rbac.Evaluator {
	return g.evaluator
}

// Run executes h under authorization and audit. Denials return ErrForbidden;
// audit failures that the policy treats as blocking return an error matching
// audit.ErrAuditWrite; handler errors are returned after being audited.
func (g *Guard) Run(ctx context.Context, req Request, op Operation, h Handler) (Result, error) {
	if h == nil {
		return Result{}, errors.New("guard: handler required")
	}
	ex := &exchange{req: req, op: op, handler: h}
	for _, s := range g.steps {
		if err := s.run(ctx, ex); err != nil {
			return ex.result, err
		}
	}
	return ex.result, nil
}

// Authorize runs only the authorize step. Denials are audited; allowed
// requests produce no entry.
func (g *Guard) Authorize(ctx context.Context, req Request, op Operation) error {
	return g.authorize(ctx, &exchange{req: req, op: op})
}

func (g *Guard) authorize(ctx context.Context, ex *exchange) error {
	p := ex.req.Principal
	if strings.TrimSpace(p.ID) == "" {
		g.observe(ex.op.Module, "denied")
		g.recordDenial(ctx, ex, "anonymous", audit.SeverityWarning)
		return ErrUnauthenticated
	}
	allowed, err := g.evaluator.AuthorizeRoute(p.Role, ex.op.AllowedRoles...)
	if err == nil && allowed {
		allowed, err = g.evaluator.Authorize(p.Role, ex.op.Module)
	}
	switch {
	case err != nil:
		g.observe(ex.op.Module, "malformed")
		g.logger.Error("rbac misconfiguration",
			slog.String("operation", ex.op.Name),
			slog.String("principal", p.ID),
			slog.String("role", string(p.Role)),
			slog.String("module", string(ex.op.Module)),
			slog.Any("error", err))
		g.recordDenial(ctx, ex, p.ID, audit.SeverityCritical)
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	case !allowed:
		g.observe(ex.op.Module, "denied")
		g.logger.Warn("access denied",
			slog.String("operation", ex.op.Name),
			slog.String("principal", p.ID),
			slog.String("role", string(p.Role)),
			slog.String("module", string(ex.op.Module)),
			slog.String("action", string(ex.op.Action)))
		g.recordDenial(ctx, ex, p.ID, audit.SeverityWarning)
		return ErrForbidden
	}
	g.observe(ex.op.Module, "allowed")
	return nil
}

// recordDenial writes the denied entry. A failed write is already logged and
// reported by the recorder; the request is denied either way.
func (g *Guard) recordDenial(ctx context.Context, ex *exchange, principalID string, severity audit.Severity) {
	rec := g.record(ex, audit.OutcomeDenied)
	rec.PrincipalID = principalID
	rec.Severity = severity
	_, _ = g.recorder.RecordAccess(ctx, rec)
}

func (g *Guard) recordAttempt(ctx context.Context, ex *exchange) error {
	if !ex.op.audited() {
		return nil
	}
	attempt, err := g.recorder.Begin(ctx, g.record(ex, audit.OutcomeAttempt))
	ex.attempt = attempt
	if err == nil {
		return nil
	}
	if g.blocks(ex.op.Action, err) {
		return fmt.Errorf("guard: %s %s not started: %w", ex.op.Action, ex.op.ResourceType, err)
	}
	g.logger.Warn("audit attempt not persisted, continuing read",
		slog.String("principal", ex.req.Principal.ID),
		slog.String("resource_type", ex.op.ResourceType),
		slog.String("resource_id", ex.op.ResourceID))
	return nil
}

func (g *Guard) invoke(ctx context.Context, ex *exchange) error {
	defer func() {
		if r := recover(); r != nil {
			ex.handlerErr = fmt.Errorf("guard: handler panic: %v", r)
		}
	}()
	ex.result, ex.handlerErr = ex.handler(ctx)
	return nil
}

func (g *Guard) recordOutcome(ctx context.Context, ex *exchange) error {
	if !ex.op.audited() {
		return ex.handlerErr
	}
	completion := audit.Completion{
		Outcome:    audit.OutcomeSuccess,
		ResourceID: ex.result.ResourceID,
		OldValue:   ex.result.OldValue,
		NewValue:   ex.result.NewValue,
	}
	if ex.handlerErr != nil {
		completion.Outcome = audit.OutcomeFailure
		completion.Severity = audit.SeverityWarning
	}
	var err error
	if ex.attempt.CorrelationID() != uuid.Nil {
		_, err = ex.attempt.Finish(ctx, completion)
	} else {
		rec := g.record(ex, completion.Outcome)
		rec.Severity = completion.Severity
		if completion.ResourceID != "" {
			rec.ResourceID = completion.ResourceID
		}
		rec.OldValue, rec.NewValue = completion.OldValue, completion.NewValue
		_, err = g.recorder.RecordAccess(ctx, rec)
	}
	if err == nil {
		return ex.handlerErr
	}
	if g.blocks(ex.op.Action, err) {
		auditErr := fmt.Errorf("guard: %s %s outcome not audited: %w", ex.op.Action, ex.op.ResourceType, err)
		if ex.handlerErr != nil {
			return errors.Join(ex.handlerErr, auditErr)
		}
		return auditErr
	}
	g.logger.Warn("audit outcome not persisted, releasing read",
		slog.String("principal", ex.req.Principal.ID),
		slog.String("resource_type", ex.op.ResourceType),
		slog.String("resource_id", ex.op.ResourceID))
	return ex.handlerErr
}

// blocks reports whether an audit error stops the operation. A rejected
// record is never a transient outage, so it blocks reads too.
func (g *Guard) blocks(action audit.Action, err error) bool {
	return errors.Is(err, audit.ErrInvalidRecord) || g.policy.Blocks(action)
}

func (g *Guard) record(ex *exchange, outcome audit.Outcome) audit.Record {
	return audit.Record{
		PrincipalID:  ex.req.Principal.ID,
		Role:         string(ex.req.Principal.Role),
		Action:       ex.op.Action,
		Module:       string(ex.op.Module),
		ResourceType: ex.op.ResourceType,
		ResourceID:   ex.op.ResourceID,
		Outcome:      outcome,
		Description:  ex.op.Description,
		IPAddress:    ex.req.IPAddress,
		UserAgent:    ex.req.UserAgent,
	}
}

func (g *Guard) observe(module rbac.Module, result string) {
	if g.observer != nil {
		g.observer.ObserveDecision(string(module), result)
	}
}
