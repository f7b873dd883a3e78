package authz

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-lms/meridian-lms/internal/audit"
)

// Decision outcomes reported to metrics and the audit trail.
const (
	OutcomeAllowed     = "allowed"
	OutcomeDenied      = "denied"
	OutcomeUnavailable = "unavailable"
)

// DenialRecorder receives denial events for the compliance trail. Recording
// is best effort; a failing recorder never turns a denial into an error.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, ev audit.DenialEvent) error
}

// DecisionMetrics counts authorization outcomes.
type DecisionMetrics interface {
	ObserveDecision(outcome string)
}

// Gate is the enforcement point request handlers consult. Resolution
// failures fail closed: an authorization check always yields a boolean.
type Gate struct {
	resolver *Resolver
	denials  DenialRecorder
	metrics  DecisionMetrics
	logger   *slog.Logger
	clock    func() time.Time
}

// NewGate constructs a Gate. Denial recorder and metrics may be nil.
func NewGate(resolver *Resolver, denials DenialRecorder, metrics DecisionMetrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		resolver: resolver,
		denials:  denials,
		metrics:  metrics,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Authorize checks a single permission key.
func (g *Gate) Authorize(ctx context.Context, subjectID, tenantID uuid.UUID, key PermissionKey) bool {
	perms, ok := g.resolve(ctx, subjectID, tenantID, string(key))
	if !ok {
		return false
	}
	if perms[key] {
		g.observe(OutcomeAllowed)
		return true
	}
	g.deny(ctx, subjectID, tenantID, string(key), OutcomeDenied)
	return false
}

// AuthorizeAny checks that at least one of the keys is granted.
func (g *Gate) AuthorizeAny(ctx context.Context, subjectID, tenantID uuid.UUID, keys ...PermissionKey) bool {
	perms, ok := g.resolve(ctx, subjectID, tenantID, joinKeys(keys))
	if !ok {
		return false
	}
	for _, key := range keys {
		if perms[key] {
			g.observe(OutcomeAllowed)
			return true
		}
	}
	g.deny(ctx, subjectID, tenantID, joinKeys(keys), OutcomeDenied)
	return false
}

// AuthorizeAll checks that every key is granted.
func (g *Gate) AuthorizeAll(ctx context.Context, subjectID, tenantID uuid.UUID, keys ...PermissionKey) bool {
	perms, ok := g.resolve(ctx, subjectID, tenantID, joinKeys(keys))
	if !ok {
		return false
	}
	for _, key := range keys {
		if !perms[key] {
			g.deny(ctx, subjectID, tenantID, string(key), OutcomeDenied)
			return false
		}
	}
	g.observe(OutcomeAllowed)
	return true
}

func (g *Gate) resolve(ctx context.Context, subjectID, tenantID uuid.UUID, checked string) (map[PermissionKey]bool, bool) {
	perms, err := g.resolver.Resolve(ctx, subjectID, tenantID)
	if err != nil {
		g.logger.Error("authorization unavailable, failing closed",
			slog.Any("error", err),
			slog.String("subject_id", subjectID.String()),
			slog.String("tenant_id", tenantID.String()))
		g.deny(ctx, subjectID, tenantID, checked, OutcomeUnavailable)
		return nil, false
	}
	return perms, true
}

func (g *Gate) deny(ctx context.Context, subjectID, tenantID uuid.UUID, key, outcome string) {
	g.observe(outcome)
	if g.denials == nil {
		return
	}
	ev := audit.DenialEvent{
		SubjectID: subjectID,
		TenantID:  tenantID,
		Key:       key,
		Outcome:   outcome,
		At:        g.clock(),
	}
	if err := g.denials.RecordDenial(ctx, ev); err != nil {
		g.logger.Error("record denial event", slog.Any("error", err), slog.String("key", key))
	}
}

func (g *Gate) observe(outcome string) {
	if g.metrics != nil {
		g.metrics.ObserveDecision(outcome)
	}
}

func joinKeys(keys []PermissionKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}
