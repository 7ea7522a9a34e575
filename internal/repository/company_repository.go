// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"yanbao-go/internal/model"
)

// CompanyRepository 接口定义了公司数据的持久化操作。
type CompanyRepository interface {
	// Upsert 按 (name, ticker) 幂等写入公司，占位记录被真实数据覆盖。
	Upsert(company *model.Company) error
	// EnsurePlaceholder 确保存在一条占位公司记录，已有记录（含真实记录）不被覆盖。
	EnsurePlaceholder(name, ticker, sourceDocHash string) (*model.Company, error)
	FindByName(name string) (*model.Company, error)
	// FindByNameAndTicker 按唯一键 (name, ticker) 精确查找。
	FindByNameAndTicker(name, ticker string) (*model.Company, error)
	FindByID(id uint) (*model.Company, error)
	FindAll() ([]model.Company, error)
}

// companyRepository 是 CompanyRepository 接口的 GORM 实现。
type companyRepository struct {
	db *gorm.DB
}

// NewCompanyRepository 创建一个新的 CompanyRepository 实例。
func NewCompanyRepository(db *gorm.DB) CompanyRepository {
	return &companyRepository{db: db}
}

// Upsert 按唯一键 (name, ticker) 写入。已存在时更新档案字段并清除占位标记。
func (r *companyRepository) Upsert(company *model.Company) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}, {Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sector", "bse_code", "bloomberg_code", "placeholder", "source_doc_hash", "updated_at",
		}),
	}).Create(company).Error
}

func (r *companyRepository) EnsurePlaceholder(name, ticker, sourceDocHash string) (*model.Company, error) {
	placeholder := &model.Company{
		Name:          name,
		Ticker:        ticker,
		Placeholder:   true,
		SourceDocHash: sourceDocHash,
	}
	// DoNothing: 真实记录先到时不被占位覆盖
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}, {Name: "ticker"}},
		DoNothing: true,
	}).Create(placeholder).Error; err != nil {
		return nil, err
	}

	var company model.Company
	if err := r.db.Where("name = ? AND ticker = ?", name, ticker).First(&company).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *companyRepository) FindByName(name string) (*model.Company, error) {
	var company model.Company
	if err := r.db.Where("name = ?", name).First(&company).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *companyRepository) FindByNameAndTicker(name, ticker string) (*model.Company, error) {
	var company model.Company
	if err := r.db.Where("name = ? AND ticker = ?", name, ticker).First(&company).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *companyRepository) FindByID(id uint) (*model.Company, error) {
	var company model.Company
	if err := r.db.First(&company, id).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *companyRepository) FindAll() ([]model.Company, error) {
	var companies []model.Company
	err := r.db.Order("name").Find(&companies).Error
	return companies, err
}
