package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"yanbao-go/internal/model"
	"yanbao-go/internal/repository"
)

// ErrCompanyNotFound 表示公司不存在。
var ErrCompanyNotFound = errors.New("company not found")

// MetricService 接口定义了公司与量化指标的查询操作。
type MetricService interface {
	ListCompanies() ([]model.Company, error)
	// CompanyMetrics 返回某公司的在役指标, field 为空时返回全部。
	CompanyMetrics(name, field string) ([]model.Metric, error)
	// Compare 按规范字段名横向对比多家公司, 返回 公司名->指标列表。
	Compare(names []string, field string) (map[string][]model.Metric, error)
}

type metricService struct {
	companies repository.CompanyRepository
	metrics   repository.MetricRepository
}

// NewMetricService 创建一个新的 MetricService 实例。
func NewMetricService(companies repository.CompanyRepository, metrics repository.MetricRepository) MetricService {
	return &metricService{companies: companies, metrics: metrics}
}

func (s *metricService) ListCompanies() ([]model.Company, error) {
	return s.companies.FindAll()
}

func (s *metricService) CompanyMetrics(name, field string) ([]model.Metric, error) {
	company, err := s.companies.FindByName(name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询公司失败: %w", err)
	}
	return s.metrics.FindActiveByCompany(company.ID, field)
}

func (s *metricService) Compare(names []string, field string) (map[string][]model.Metric, error) {
	if field == "" {
		return nil, errors.New("对比查询必须指定字段名")
	}

	idToName := make(map[uint]string, len(names))
	ids := make([]uint, 0, len(names))
	for _, name := range names {
		company, err := s.companies.FindByName(name)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCompanyNotFound, name)
		}
		if err != nil {
			return nil, fmt.Errorf("查询公司失败: %w", err)
		}
		idToName[company.ID] = company.Name
		ids = append(ids, company.ID)
	}

	metrics, err := s.metrics.FindActiveByCompanies(ids, field)
	if err != nil {
		return nil, fmt.Errorf("查询对比指标失败: %w", err)
	}

	grouped := make(map[string][]model.Metric, len(names))
	for _, name := range names {
		grouped[name] = []model.Metric{}
	}
	for _, m := range metrics {
		name := idToName[m.CompanyID]
		grouped[name] = append(grouped[name], m)
	}
	return grouped, nil
}
