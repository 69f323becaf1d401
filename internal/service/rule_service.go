package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"gatewatch/internal/domain/vehicle"
	"gatewatch/internal/repository"
)

// RuleCache is notified when a gate's rule set changes so stale cached rules
// are not used for dispatch.
type RuleCache interface {
	InvalidateGate(gateID int64)
}

type RuleService struct {
	rules *repository.RuleRepository
	cache RuleCache
	log   zerolog.Logger
}

func NewRuleService(rules *repository.RuleRepository, cache RuleCache, log zerolog.Logger) *RuleService {
	return &RuleService{
		rules: rules,
		cache: cache,
		log:   log,
	}
}

func validateRule(rule vehicle.NotificationRule) error {
	switch rule.Channel {
	case vehicle.ChannelEmail, vehicle.ChannelSMS, vehicle.ChannelPush:
	default:
		return fmt.Errorf("%w: channel must be email, sms or push", ErrInvalidInput)
	}
	if rule.GateID <= 0 {
		return fmt.Errorf("%w: gate_id is required", ErrInvalidInput)
	}
	if rule.MinConfidence < 0 || rule.MinConfidence > 100 {
		return fmt.Errorf("%w: min_confidence must be between 0 and 100", ErrInvalidInput)
	}
	return nil
}

func (s *RuleService) ListRules(ctx context.Context) ([]vehicle.NotificationRule, error) {
	rules, err := s.rules.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

func (s *RuleService) GetRule(ctx context.Context, id int64) (*vehicle.NotificationRule, error) {
	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	if rule == nil {
		return nil, fmt.Errorf("%w: rule %d", ErrNotFound, id)
	}
	return rule, nil
}

func (s *RuleService) CreateRule(ctx context.Context, rule *vehicle.NotificationRule) error {
	if err := validateRule(*rule); err != nil {
		return err
	}
	if err := s.rules.CreateRule(ctx, rule); err != nil {
		s.log.Error().Err(err).Int64("gate_id", rule.GateID).Msg("failed to create rule")
		return fmt.Errorf("failed to create rule: %w", err)
	}
	s.invalidate(rule.GateID)
	s.log.Info().
		Int64("rule_id", rule.ID).
		Int64("gate_id", rule.GateID).
		Str("channel", string(rule.Channel)).
		Msg("notification rule created")
	return nil
}

func (s *RuleService) UpdateRule(ctx context.Context, rule vehicle.NotificationRule) (*vehicle.NotificationRule, error) {
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	existing, err := s.rules.GetRule(ctx, rule.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: rule %d", ErrNotFound, rule.ID)
	}

	// rules never move between gates, the update keeps the stored gate
	rule.GateID = existing.GateID
	if err := s.rules.UpdateRule(ctx, rule); err != nil {
		s.log.Error().Err(err).Int64("rule_id", rule.ID).Msg("failed to update rule")
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	s.invalidate(existing.GateID)

	updated, err := s.rules.GetRule(ctx, rule.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return updated, nil
}

func (s *RuleService) DeleteRule(ctx context.Context, id int64) error {
	existing, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get rule: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("%w: rule %d", ErrNotFound, id)
	}
	deleted, err := s.rules.DeleteRule(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Int64("rule_id", id).Msg("failed to delete rule")
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: rule %d", ErrNotFound, id)
	}
	s.invalidate(existing.GateID)
	s.log.Info().Int64("rule_id", id).Int64("gate_id", existing.GateID).Msg("notification rule deleted")
	return nil
}

func (s *RuleService) invalidate(gateID int64) {
	if s.cache != nil {
		s.cache.InvalidateGate(gateID)
	}
}
