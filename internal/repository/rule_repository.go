package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"gatewatch/internal/domain/vehicle"
)

type RuleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

type NotificationRule struct {
	ID            int64  `gorm:"primaryKey"`
	GateID        int64  `gorm:"not null"`
	Channel       string `gorm:"not null"`
	Enabled       bool
	MinConfidence int
	Directions    *string
	VehicleTypes  *string
	Recipients    *string
	CreatedAt     time.Time
}

func toDomainRule(m NotificationRule) vehicle.NotificationRule {
	r := vehicle.NotificationRule{
		ID:            m.ID,
		GateID:        m.GateID,
		Channel:       vehicle.Channel(m.Channel),
		Enabled:       m.Enabled,
		MinConfidence: m.MinConfidence,
		CreatedAt:     m.CreatedAt,
	}
	if m.Directions != nil {
		r.Directions = *m.Directions
	}
	if m.VehicleTypes != nil {
		r.VehicleTypes = *m.VehicleTypes
	}
	if m.Recipients != nil {
		r.Recipients = *m.Recipients
	}
	return r
}

func fromDomainRule(r vehicle.NotificationRule) NotificationRule {
	m := NotificationRule{
		ID:            r.ID,
		GateID:        r.GateID,
		Channel:       string(r.Channel),
		Enabled:       r.Enabled,
		MinConfidence: r.MinConfidence,
		CreatedAt:     r.CreatedAt,
	}
	if r.Directions != "" {
		m.Directions = &r.Directions
	}
	if r.VehicleTypes != "" {
		m.VehicleTypes = &r.VehicleTypes
	}
	if r.Recipients != "" {
		m.Recipients = &r.Recipients
	}
	return m
}

// RulesForGate returns the enabled rules for a gate, for dispatch filtering.
func (r *RuleRepository) RulesForGate(ctx context.Context, gateID int64) ([]vehicle.NotificationRule, error) {
	var models []NotificationRule
	err := r.db.WithContext(ctx).
		Where("gate_id = ? AND enabled = ?", gateID, true).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	rules := make([]vehicle.NotificationRule, 0, len(models))
	for _, m := range models {
		rules = append(rules, toDomainRule(m))
	}
	return rules, nil
}

func (r *RuleRepository) ListRules(ctx context.Context) ([]vehicle.NotificationRule, error) {
	var models []NotificationRule
	if err := r.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, err
	}
	rules := make([]vehicle.NotificationRule, 0, len(models))
	for _, m := range models {
		rules = append(rules, toDomainRule(m))
	}
	return rules, nil
}

func (r *RuleRepository) GetRule(ctx context.Context, id int64) (*vehicle.NotificationRule, error) {
	var m NotificationRule
	err := r.db.WithContext(ctx).First(&m, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rule := toDomainRule(m)
	return &rule, nil
}

func (r *RuleRepository) CreateRule(ctx context.Context, rule *vehicle.NotificationRule) error {
	m := fromDomainRule(*rule)
	m.CreatedAt = time.Now()
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	rule.ID = m.ID
	rule.CreatedAt = m.CreatedAt
	return nil
}

func (r *RuleRepository) UpdateRule(ctx context.Context, rule vehicle.NotificationRule) error {
	m := fromDomainRule(rule)
	return r.db.WithContext(ctx).
		Model(&NotificationRule{}).
		Where("id = ?", rule.ID).
		Select("channel", "enabled", "min_confidence", "directions", "vehicle_types", "recipients").
		Updates(map[string]interface{}{
			"channel":        m.Channel,
			"enabled":        m.Enabled,
			"min_confidence": m.MinConfidence,
			"directions":     m.Directions,
			"vehicle_types":  m.VehicleTypes,
			"recipients":     m.Recipients,
		}).Error
}

func (r *RuleRepository) DeleteRule(ctx context.Context, id int64) (int64, error) {
	res := r.db.WithContext(ctx).Delete(&NotificationRule{}, id)
	return res.RowsAffected, res.Error
}
