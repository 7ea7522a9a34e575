package repository

import (
	"gorm.io/gorm"

	"yanbao-go/internal/model"
)

// StatsRepository 提供状态与校验接口需要的关系库计数。
type StatsRepository interface {
	CountCompanies() (int64, error)
	CountActiveMetrics() (int64, error)
}

type statsRepository struct {
	db *gorm.DB
}

// NewStatsRepository 创建一个新的 StatsRepository 实例。
func NewStatsRepository(db *gorm.DB) StatsRepository {
	return &statsRepository{db: db}
}

func (r *statsRepository) CountCompanies() (int64, error) {
	var count int64
	err := r.db.Model(&model.Company{}).Count(&count).Error
	return count, err
}

func (r *statsRepository) CountActiveMetrics() (int64, error) {
	var count int64
	err := r.db.Model(&model.Metric{}).Where("retired_at IS NULL").Count(&count).Error
	return count, err
}
