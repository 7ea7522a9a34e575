package repository

import (
	"time"

	"gorm.io/gorm"

	"yanbao-go/internal/model"
)

// MetricRepository 接口定义了量化指标的持久化操作。
// 指标行只增不改：文档重处理时旧行先整体退役（软删除），新行随后批量写入。
type MetricRepository interface {
	BatchCreate(metrics []model.Metric) error
	// RetireByDocumentHash 把某文档的全部在役指标标记为退役。
	RetireByDocumentHash(contentHash string) error
	// ActiveDocumentHashes 返回仍有在役指标的文档哈希集合。
	ActiveDocumentHashes() ([]string, error)
	CountActive() (int64, error)
	CountActiveByDocument(contentHash string) (int64, error)
	FindActiveByCompany(companyID uint, fieldName string) ([]model.Metric, error)
	FindActiveByCompanies(companyIDs []uint, fieldName string) ([]model.Metric, error)
}

type metricRepository struct {
	db *gorm.DB
}

// NewMetricRepository 创建一个新的 MetricRepository 实例。
func NewMetricRepository(db *gorm.DB) MetricRepository {
	return &metricRepository{db: db}
}

func (r *metricRepository) BatchCreate(metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	return r.db.CreateInBatches(metrics, 200).Error
}

func (r *metricRepository) RetireByDocumentHash(contentHash string) error {
	now := time.Now()
	return r.db.Model(&model.Metric{}).
		Where("document_hash = ? AND retired_at IS NULL", contentHash).
		Update("retired_at", now).Error
}

func (r *metricRepository) ActiveDocumentHashes() ([]string, error) {
	var hashes []string
	err := r.db.Model(&model.Metric{}).
		Where("retired_at IS NULL").
		Distinct("document_hash").
		Pluck("document_hash", &hashes).Error
	return hashes, err
}

func (r *metricRepository) CountActive() (int64, error) {
	var count int64
	err := r.db.Model(&model.Metric{}).Where("retired_at IS NULL").Count(&count).Error
	return count, err
}

func (r *metricRepository) CountActiveByDocument(contentHash string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Metric{}).
		Where("document_hash = ? AND retired_at IS NULL", contentHash).
		Count(&count).Error
	return count, err
}

func (r *metricRepository) FindActiveByCompany(companyID uint, fieldName string) ([]model.Metric, error) {
	query := r.db.Where("company_id = ? AND retired_at IS NULL", companyID)
	if fieldName != "" {
		query = query.Where("field_name = ?", fieldName)
	}
	var metrics []model.Metric
	err := query.Order("field_name, time_period").Find(&metrics).Error
	return metrics, err
}

func (r *metricRepository) FindActiveByCompanies(companyIDs []uint, fieldName string) ([]model.Metric, error) {
	var metrics []model.Metric
	err := r.db.
		Where("company_id IN ? AND field_name = ? AND retired_at IS NULL", companyIDs, fieldName).
		Order("company_id, time_period").
		Find(&metrics).Error
	return metrics, err
}
