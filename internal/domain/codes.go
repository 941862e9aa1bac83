package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"example.com/smartcheck/internal/cache"
	"example.com/smartcheck/internal/observability"
)

const (
	codePrefix = "SUB-"
	// maxRotateAttempts bounds retries when a freshly generated code loses a
	// uniqueness race to a concurrent insert.
	maxRotateAttempts = 5
)

// CodeService owns the activation lifecycle of access codes. At most one code per
// target is active at any time; every mutation runs under the target lock.
type CodeService struct {
	targets     TargetReader
	codes       CodeRepository
	invalidator cache.Invalidator
	opts        options
}

// NewCodeService constructs a CodeService.
func NewCodeService(targets TargetReader, codes CodeRepository, invalidator cache.Invalidator, opts ...Option) *CodeService {
	if invalidator == nil {
		invalidator = cache.NoopInvalidator{}
	}
	return &CodeService{targets: targets, codes: codes, invalidator: invalidator, opts: buildOptions(opts)}
}

// Generate deactivates every code of the target and creates a new active one.
func (s *CodeService) Generate(ctx context.Context, targetID string) (*AccessCode, error) {
	if _, err := s.requireTarget(ctx, targetID); err != nil {
		return nil, err
	}

	var created AccessCode
	var err error
	for attempt := 1; attempt <= maxRotateAttempts; attempt++ {
		err = s.codes.WithTargetLock(ctx, targetID, func(tx CodeTx) error {
			if err := tx.DeactivateAll(ctx); err != nil {
				return err
			}
			value, err := s.uniqueCode(ctx, tx)
			if err != nil {
				return err
			}
			now := s.opts.now().UTC()
			created = AccessCode{
				ID:        uuid.NewString(),
				Code:      value,
				TargetID:  targetID,
				Active:    true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			return tx.Insert(ctx, created)
		})
		if !errors.Is(err, ErrUniqueViolation) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("generate access code: %w", err)
	}

	observability.RecordCodeTransition("generated")
	s.invalidate(ctx, created, "generated")
	return &created, nil
}

// uniqueCode draws codes until one is not already stored.
func (s *CodeService) uniqueCode(ctx context.Context, tx CodeTx) (string, error) {
	for {
		value := codePrefix + s.opts.newCode()
		exists, err := tx.CodeExists(ctx, value)
		if err != nil {
			return "", err
		}
		if !exists {
			return value, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

// Resolve maps a scanned code to its target. Unknown codes are not found and
// revoked codes are rejected.
func (s *CodeService) Resolve(ctx context.Context, code string) (*Target, error) {
	accessCode, err := s.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if !accessCode.Active {
		return nil, codeInactive()
	}
	return s.requireTarget(ctx, accessCode.TargetID)
}

// Lookup returns the code metadata regardless of its state.
func (s *CodeService) Lookup(ctx context.Context, code string) (*AccessCode, error) {
	accessCode, err := s.codes.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if accessCode == nil {
		return nil, notFound("access code")
	}
	return accessCode, nil
}

// Deactivate switches a code off. Deactivating an inactive code is a conflict.
func (s *CodeService) Deactivate(ctx context.Context, codeID string) (*AccessCode, error) {
	return s.transition(ctx, codeID, false)
}

// Activate switches a code on and every sibling of the same target off.
// Activating an active code is a conflict.
func (s *CodeService) Activate(ctx context.Context, codeID string) (*AccessCode, error) {
	return s.transition(ctx, codeID, true)
}

func (s *CodeService) transition(ctx context.Context, codeID string, activate bool) (*AccessCode, error) {
	existing, err := s.codes.GetCode(ctx, codeID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, notFound("access code")
	}

	var updated AccessCode
	err = s.codes.WithTargetLock(ctx, existing.TargetID, func(tx CodeTx) error {
		current, err := tx.GetCode(ctx, codeID)
		if err != nil {
			return err
		}
		if current == nil {
			return notFound("access code")
		}
		switch {
		case activate && current.Active:
			return alreadyActive()
		case !activate && !current.Active:
			return alreadyInactive()
		}

		if activate {
			if err := tx.DeactivateAll(ctx); err != nil {
				return err
			}
		}
		now := s.opts.now().UTC()
		if err := tx.SetActive(ctx, codeID, activate, now); err != nil {
			return err
		}
		updated = *current
		updated.Active = activate
		updated.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	reason := "deactivated"
	if activate {
		reason = "activated"
	}
	observability.RecordCodeTransition(reason)
	s.invalidate(ctx, updated, reason)
	return &updated, nil
}

// List returns every code of a target, newest first.
func (s *CodeService) List(ctx context.Context, targetID string) ([]AccessCode, error) {
	if _, err := s.requireTarget(ctx, targetID); err != nil {
		return nil, err
	}
	return s.codes.ListByTarget(ctx, targetID)
}

// Active returns the active code of a target.
func (s *CodeService) Active(ctx context.Context, targetID string) (*AccessCode, error) {
	if _, err := s.requireTarget(ctx, targetID); err != nil {
		return nil, err
	}
	code, err := s.codes.ActiveByTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, notFound("active access code")
	}
	return code, nil
}

func (s *CodeService) requireTarget(ctx context.Context, targetID string) (*Target, error) {
	target, err := s.targets.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, notFound("target")
	}
	return target, nil
}

// invalidate tells QR displays to re-render. The state change is already
// committed, so failures are only logged.
func (s *CodeService) invalidate(ctx context.Context, code AccessCode, reason string) {
	notice := cache.Notice{
		TargetID: code.TargetID,
		CodeID:   code.ID,
		Active:   code.Active,
		Reason:   reason,
		IssuedAt: code.UpdatedAt,
	}
	if err := s.invalidator.Invalidate(ctx, notice); err != nil {
		s.opts.logger.Printf("display invalidation failed (target=%s): %v", code.TargetID, err)
	}
}
