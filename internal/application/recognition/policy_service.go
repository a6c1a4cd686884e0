package recognition

import (
	"context"
	"fmt"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PolicyService manages recognition policies
type PolicyService struct {
	policies  recognition.PolicyRepository
	publisher shared.EventPublisher
	logger    *zap.Logger
}

// NewPolicyService creates a new PolicyService
func NewPolicyService(policies recognition.PolicyRepository, logger *zap.Logger) *PolicyService {
	return &PolicyService{policies: policies, logger: logger}
}

// SetEventPublisher sets the publisher for PolicyChanged events
func (s *PolicyService) SetEventPublisher(publisher shared.EventPublisher) {
	s.publisher = publisher
}

// Create creates an enabled policy. Only one active policy may hold a given scope.
func (s *PolicyService) Create(ctx context.Context, cmd PolicyCommand) (*recognition.Policy, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "policy", "create")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrCompany, cmd.Scope.Company)

	policy, err := recognition.NewPolicy(cmd.Name, cmd.Scope, cmd.Priority, cmd.WIP, cmd.Accrual)
	if err != nil {
		return nil, err
	}
	if cmd.Enabled != nil {
		policy.Enabled = *cmd.Enabled
	}
	if policy.IsActive() {
		if err := s.checkScopeFree(ctx, policy); err != nil {
			return nil, err
		}
	}
	if err := s.policies.Create(ctx, policy); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}

	s.logger.Info("recognition policy created",
		zap.String("policy_id", policy.ID.String()),
		zap.String("company", policy.Company),
		zap.String("name", policy.Name),
	)
	publishEvents(ctx, s.publisher, s.logger, policy)
	return policy, nil
}

// Update replaces the editable fields of a policy. The enabled flag is
// changed through Enable and Disable only.
func (s *PolicyService) Update(ctx context.Context, id uuid.UUID, cmd PolicyCommand) (*recognition.Policy, error) {
	return s.mutate(ctx, "update", id, func(p *recognition.Policy) error {
		return p.Update(cmd.Name, cmd.Scope, cmd.Priority, cmd.WIP, cmd.Accrual)
	})
}

// Enable makes a policy eligible for resolution
func (s *PolicyService) Enable(ctx context.Context, id uuid.UUID) (*recognition.Policy, error) {
	return s.mutate(ctx, "enable", id, func(p *recognition.Policy) error {
		return p.Enable()
	})
}

// Disable removes a policy from resolution
func (s *PolicyService) Disable(ctx context.Context, id uuid.UUID) (*recognition.Policy, error) {
	return s.mutate(ctx, "disable", id, func(p *recognition.Policy) error {
		p.Disable()
		return nil
	})
}

// Delete soft-deletes a policy. Postings already made under it keep their reference.
func (s *PolicyService) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.mutate(ctx, "delete", id, func(p *recognition.Policy) error {
		p.Delete()
		return nil
	})
	return err
}

// mutate loads a policy, applies fn and saves it with a version check
func (s *PolicyService) mutate(ctx context.Context, op string, id uuid.UUID, fn func(*recognition.Policy) error) (*recognition.Policy, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "policy", op)
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrPolicyID, id.String())

	policy, err := s.policies.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	version := policy.Version
	if err := fn(policy); err != nil {
		return nil, err
	}
	if policy.Version == version {
		return policy, nil
	}
	if policy.IsActive() {
		if err := s.checkScopeFree(ctx, policy); err != nil {
			return nil, err
		}
	}
	if err := s.policies.SaveWithLock(ctx, policy); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to save policy: %w", err)
	}

	s.logger.Info("recognition policy changed",
		zap.String("policy_id", policy.ID.String()),
		zap.String("action", op),
	)
	publishEvents(ctx, s.publisher, s.logger, policy)
	return policy, nil
}

func (s *PolicyService) checkScopeFree(ctx context.Context, policy *recognition.Policy) error {
	taken, err := s.policies.ExistsActiveWithScope(ctx, policy.Scope(), policy.ID)
	if err != nil {
		return fmt.Errorf("failed to check policy scope: %w", err)
	}
	if taken {
		return recognition.ErrPolicyScopeConflict
	}
	return nil
}

// Get returns a policy by ID
func (s *PolicyService) Get(ctx context.Context, id uuid.UUID) (*recognition.Policy, error) {
	return s.policies.FindByID(ctx, id)
}

// List lists the policies of a company
func (s *PolicyService) List(ctx context.Context, filter recognition.PolicyFilter) ([]*recognition.Policy, int64, error) {
	if err := (recognition.Scope{Company: filter.Company}).Validate(); err != nil {
		return nil, 0, err
	}
	return s.policies.FindAll(ctx, filter)
}

// Preview explains which policy a job with the given scope would resolve to
func (s *PolicyService) Preview(ctx context.Context, scope recognition.Scope) (*PolicyPreview, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "policy", "preview")
	defer span.End()

	scope = scope.Normalize()
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	policies, err := s.policies.FindActiveByCompany(ctx, scope.Company)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	ranked := recognition.RankPolicies(policies, scope)
	preview := &PolicyPreview{Scope: scope, Ranking: make([]RankedPolicyView, 0, len(ranked))}
	for i, r := range ranked {
		preview.Ranking = append(preview.Ranking, RankedPolicyView{
			Rank:          i + 1,
			Policy:        r.Policy,
			Specificity:   r.Specificity,
			MatchedFields: r.MatchedFields,
			Selected:      i == 0,
		})
	}
	if len(ranked) > 0 {
		id := ranked[0].Policy.ID
		preview.Selected = &id
	}
	return preview, nil
}
