package model

import "time"

// Metric 对应于数据库中的 metrics 表，存储一条结构化事实。
// 指标行只追加不更新：文档重新摄取时旧行被软删除（retired_at），新行插入。
type Metric struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyID  uint   `gorm:"not null;index;column:company_id" json:"companyId"`
	DocumentID uint   `gorm:"not null;index;column:document_id" json:"documentId"`
	// DocumentHash 冗余存储文档指纹，便于按文档指纹清退与跨库对账。
	DocumentHash string `gorm:"type:varchar(64);not null;index;column:document_hash" json:"documentHash"`
	PageNumber   int    `gorm:"not null;column:page_number" json:"pageNumber"`

	// FieldName 始终是注册表中的规范字段名（同义词在写入前已归一）。
	FieldName  string  `gorm:"type:varchar(128);not null;index;column:field_name" json:"fieldName"`
	Value      float64 `gorm:"not null" json:"value"`
	Unit       string  `gorm:"type:varchar(32)" json:"unit"`
	TimePeriod string  `gorm:"type:varchar(32);column:time_period" json:"timePeriod"`
	IsForecast bool    `gorm:"not null;default:false;column:is_forecast" json:"isForecast"`

	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	RetiredAt *time.Time `gorm:"index;column:retired_at" json:"retiredAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Metric) TableName() string {
	return "metrics"
}
