// Package accounts guards role and status updates with the admin floor:
// at least one active admin must exist after every update.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/roombook/core"
	"github.com/warp/roombook/lock"
	"github.com/warp/roombook/logging"
	"github.com/warp/roombook/metrics"
)

// UsersLockKey serializes admin-floor checks across processes.
const UsersLockKey = "users"

// Patch leaves nil fields unchanged.
type Patch struct {
	Email       *string
	Name        *string
	CompanyName *string
	Role        *core.Role
	Status      *core.UserStatus
}

// Query filters the user listing. Q matches name, email or company.
type Query struct {
	Q      string
	Role   string
	Status string
}

type Service struct {
	store   core.Store
	locker  lock.Locker
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

func NewService(store core.Store, locker lock.Locker, timeout time.Duration) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		store:   store,
		locker:  locker,
		timeout: timeout,
		now:     time.Now,
		logger:  logging.WithComponent("accounts"),
	}
}

// List returns users matching q, ordered by email.
func (s *Service) List(ctx context.Context, caller core.Caller, q Query) ([]core.User, error) {
	if !caller.IsAdmin() {
		return nil, core.ErrForbidden
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(q.Q))
	result := users[:0]
	for _, u := range users {
		if q.Role != "" && string(u.Role) != q.Role {
			continue
		}
		if q.Status != "" && string(u.Status) != q.Status {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(u.Name), needle) &&
			!strings.Contains(strings.ToLower(u.Email), needle) &&
			!strings.Contains(strings.ToLower(u.CompanyName), needle) {
			continue
		}
		result = append(result, u)
	}
	return result, nil
}

// Update applies patch to user id. Demoting or deactivating the last
// active admin fails with an InvariantViolation and changes nothing.
func (s *Service) Update(ctx context.Context, caller core.Caller, id core.UserID, patch Patch) (updated *core.User, err error) {
	defer func() { metrics.Admissions.WithLabelValues("update_user", outcome(err)).Inc() }()

	if !caller.IsAdmin() {
		return nil, core.ErrForbidden
	}
	if err := patch.check(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	release, err := s.locker.Lock(ctx, UsersLockKey)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.store.WithTx(ctx, func(tx core.Tx) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				return &core.NotFoundError{Kind: "User", ID: string(id)}
			}
			return fmt.Errorf("load user: %w", err)
		}

		next := patch.apply(*u)
		if u.ActiveAdmin() && !next.ActiveAdmin() {
			admins, err := tx.CountActiveAdmins(ctx)
			if err != nil {
				return fmt.Errorf("count admins: %w", err)
			}
			if admins <= 1 {
				return &core.InvariantViolation{Rule: "admin_floor", Message: "At least one active admin is required"}
			}
		}

		next.UpdatedAt = s.now()
		if err := tx.SaveUser(ctx, next); err != nil {
			return fmt.Errorf("save user: %w", err)
		}
		updated = &next
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, core.ErrTransient) {
			err = &core.TransientError{Op: "update user", Err: err}
		}
		return nil, err
	}

	s.logger.Info().
		Str("user_id", string(id)).
		Str("role", string(updated.Role)).
		Str("status", string(updated.Status)).
		Str(logging.FieldCaller, string(caller.ID)).
		Msg("user updated")
	return updated, nil
}

func (p Patch) check() error {
	if p.Role != nil && *p.Role != core.RoleAdmin && *p.Role != core.RoleUser {
		return core.NewValidationError(core.RuleInput, "Unknown role %q", *p.Role)
	}
	if p.Status != nil && *p.Status != core.UserActive && *p.Status != core.UserInactive {
		return core.NewValidationError(core.RuleInput, "Unknown status %q", *p.Status)
	}
	return nil
}

func (p Patch) apply(u core.User) core.User {
	if p.Email != nil && *p.Email != "" {
		u.Email = *p.Email
	}
	if p.Name != nil && *p.Name != "" {
		u.Name = *p.Name
	}
	if p.CompanyName != nil && *p.CompanyName != "" {
		u.CompanyName = *p.CompanyName
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Status != nil {
		u.Status = *p.Status
	}
	return u
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case core.IsRetryable(err):
		return metrics.OutcomeTransient
	case core.IsClientError(err):
		return metrics.OutcomeValidation
	case core.IsNotFound(err):
		return metrics.OutcomeNotFound
	case errors.Is(err, core.ErrForbidden):
		return metrics.OutcomeForbidden
	default:
		return metrics.OutcomeError
	}
}
