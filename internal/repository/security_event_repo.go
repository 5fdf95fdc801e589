package repository

import (
	"context"
	"time"

	"stockroom/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ActionCount struct {
	Action entity.SecurityAction `json:"action"`
	Count  int64                 `json:"count"`
}

type IPActivity struct {
	IPAddress  string  `json:"ip"`
	EventCount int64   `json:"eventCount"`
	AvgRisk    float64 `json:"avgRisk"`
	MaxRisk    float64 `json:"maxRisk"`
}

type SecurityEventRepository interface {
	Create(ctx context.Context, event *entity.SecurityEvent) error
	CountByIP(ctx context.Context, ip string, actions []entity.SecurityAction, since time.Time) (int64, error)
	HasHighRiskFromIP(ctx context.Context, ip string, threshold float64, since time.Time) (bool, error)
	HasLoginFromIP(ctx context.Context, userID uuid.UUID, ip string, since time.Time) (bool, error)
	CountByAction(ctx context.Context, since time.Time) ([]ActionCount, error)
	TopIPs(ctx context.Context, since time.Time, limit int) ([]IPActivity, error)
	SuspiciousIPs(ctx context.Context, since time.Time, avgRisk float64, minEvents int64) ([]IPActivity, error)
	Recent(ctx context.Context, since time.Time, minRisk float64, limit int) ([]entity.SecurityEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type securityEventRepository struct {
	db *gorm.DB
}

func NewSecurityEventRepository(db *gorm.DB) SecurityEventRepository {
	return &securityEventRepository{db: db}
}

func (r *securityEventRepository) Create(ctx context.Context, event *entity.SecurityEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *securityEventRepository) CountByIP(
	ctx context.Context,
	ip string,
	actions []entity.SecurityAction,
	since time.Time,
) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).
		Model(&entity.SecurityEvent{}).
		Where("ip_address = ? AND created_at >= ?", ip, since)
	if len(actions) > 0 {
		query = query.Where("action IN ?", actions)
	}
	err := query.Count(&count).Error
	return count, err
}

func (r *securityEventRepository) HasHighRiskFromIP(ctx context.Context, ip string, threshold float64, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.SecurityEvent{}).
		Where("ip_address = ? AND risk_score >= ? AND created_at >= ?", ip, threshold, since).
		Count(&count).Error
	return count > 0, err
}

func (r *securityEventRepository) HasLoginFromIP(ctx context.Context, userID uuid.UUID, ip string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.SecurityEvent{}).
		Where("user_id = ? AND ip_address = ? AND action = ? AND created_at >= ?", userID, ip, entity.LoginSuccess, since).
		Count(&count).Error
	return count > 0, err
}

func (r *securityEventRepository) CountByAction(ctx context.Context, since time.Time) ([]ActionCount, error) {
	var rows []ActionCount
	err := r.db.WithContext(ctx).
		Model(&entity.SecurityEvent{}).
		Select("action, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("action").
		Order("count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *securityEventRepository) TopIPs(ctx context.Context, since time.Time, limit int) ([]IPActivity, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []IPActivity
	err := r.ipActivity(ctx, since).
		Order("event_count DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SuspiciousIPs returns addresses whose average risk exceeds avgRisk or whose
// event volume exceeds minEvents inside the window.
func (r *securityEventRepository) SuspiciousIPs(
	ctx context.Context,
	since time.Time,
	avgRisk float64,
	minEvents int64,
) ([]IPActivity, error) {
	var rows []IPActivity
	err := r.ipActivity(ctx, since).
		Having("AVG(risk_score) > ? OR COUNT(*) > ?", avgRisk, minEvents).
		Order("avg_risk DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *securityEventRepository) ipActivity(ctx context.Context, since time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&entity.SecurityEvent{}).
		Select("ip_address, COUNT(*) AS event_count, AVG(risk_score) AS avg_risk, MAX(risk_score) AS max_risk").
		Where("created_at >= ?", since).
		Group("ip_address")
}

func (r *securityEventRepository) Recent(ctx context.Context, since time.Time, minRisk float64, limit int) ([]entity.SecurityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []entity.SecurityEvent
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND risk_score >= ?", since, minRisk).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *securityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&entity.SecurityEvent{})
	return result.RowsAffected, result.Error
}
