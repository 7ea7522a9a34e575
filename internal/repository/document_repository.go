package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"yanbao-go/internal/model"
)

// DocumentRepository 接口定义了研报文档元数据的持久化操作。
type DocumentRepository interface {
	// Upsert 按内容哈希幂等写入文档记录。
	Upsert(doc *model.Document) error
	FindByHash(contentHash string) (*model.Document, error)
	DeleteByHash(contentHash string) error
	FindAll() ([]model.Document, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Upsert(doc *model.Document) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "content_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"file_name", "company_id", "report_date", "report_type", "rating", "page_count", "updated_at",
		}),
	}).Create(doc).Error
}

func (r *documentRepository) FindByHash(contentHash string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("content_hash = ?", contentHash).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) DeleteByHash(contentHash string) error {
	return r.db.Where("content_hash = ?", contentHash).Delete(&model.Document{}).Error
}

func (r *documentRepository) FindAll() ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Order("file_name").Find(&docs).Error
	return docs, err
}
