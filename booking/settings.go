package booking

import (
	"context"
	"fmt"

	"github.com/warp/roombook/core"
	"github.com/warp/roombook/metrics"
)

// GetPolicy returns the current scheduling policy.
func (c *Coordinator) GetPolicy(ctx context.Context, caller core.Caller) (core.PolicyConfig, error) {
	if err := requireAdmin(caller); err != nil {
		return core.PolicyConfig{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	p, err := c.store.GetPolicy(ctx)
	return p, transient("get policy", err)
}

// SetPolicy applies patch and stores the result. Operations already in
// flight keep the snapshot they loaded; later ones see the new policy.
func (c *Coordinator) SetPolicy(ctx context.Context, caller core.Caller, patch core.PolicyPatch) (p core.PolicyConfig, err error) {
	defer func() { metrics.Admissions.WithLabelValues("set_policy", Outcome(err)).Inc() }()

	if err := requireAdmin(caller); err != nil {
		return core.PolicyConfig{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var saved core.PolicyConfig
	err = c.store.WithTx(ctx, func(tx core.Tx) error {
		current, err := tx.GetPolicy(ctx)
		if err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
		next := patch.Apply(current)
		if err := next.Check(); err != nil {
			return err
		}
		next.UpdatedAt, next.UpdatedBy = c.now(), caller.ID
		if err := tx.SavePolicy(ctx, next); err != nil {
			return fmt.Errorf("save policy: %w", err)
		}
		saved = next
		return nil
	})
	if err != nil {
		return core.PolicyConfig{}, transient("set policy", err)
	}

	c.logger.Info().
		Bool("approval_mode", saved.ApprovalMode).
		Int("slot_minutes", saved.SlotMinutes).
		Int("max_duration_minutes", saved.MaxDurationMinutes).
		Str("hours", saved.OpenTime+"-"+saved.CloseTime).
		Str("updated_by", string(caller.ID)).
		Msg("reservation policy updated")
	return saved, nil
}
