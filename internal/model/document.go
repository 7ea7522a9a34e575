package model

import "time"

// Document 对应于数据库中的 documents 表。
// 一个文档即一份研报源文件，以内容指纹（SHA-256 前 16 位十六进制）标识。
type Document struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ContentHash string `gorm:"type:varchar(64);not null;uniqueIndex;column:content_hash" json:"contentHash"`
	FileName    string `gorm:"type:varchar(255);not null" json:"fileName"`
	CompanyID   *uint  `gorm:"index" json:"companyId"`

	ReportDate string `gorm:"type:varchar(32);column:report_date" json:"reportDate"`
	ReportType string `gorm:"type:varchar(100);column:report_type" json:"reportType"`
	Rating     string `gorm:"type:varchar(16)" json:"rating"`
	PageCount  int    `gorm:"not null;default:0;column:page_count" json:"pageCount"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}
