// Package model 包含了应用的数据模型定义。
package model

import "time"

// Company 对应于数据库中的 companies 表。
// 一家公司由首次提及它的文档（奠基页）创建，之后的文档只向其追加事实。
type Company struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name   string `gorm:"type:varchar(255);not null;uniqueIndex:uk_company_identity" json:"name"`
	Ticker string `gorm:"type:varchar(32);uniqueIndex:uk_company_identity;column:ticker" json:"ticker"` // NSE 代码，自然键的一部分
	Sector string `gorm:"type:varchar(100)" json:"sector"`

	BSECode       string `gorm:"type:varchar(32);column:bse_code" json:"bseCode"`
	BloombergCode string `gorm:"type:varchar(32);column:bloomberg_code" json:"bloombergCode"`

	// Placeholder 标记该记录是奠基页未能建档时创建的占位公司。
	// 占位公司以文件名推导命名，遇到同名真实档案时被覆盖升级。
	Placeholder bool `gorm:"not null;default:false" json:"placeholder"`
	// SourceDocHash 记录创建（拥有）该公司记录的文档指纹。
	SourceDocHash string `gorm:"type:varchar(64);index;column:source_doc_hash" json:"sourceDocHash"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Company) TableName() string {
	return "companies"
}
