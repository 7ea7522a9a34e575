package model

// EsChunk 代表存储在 Elasticsearch 中的定性文本块结构。
// 以 (文档指纹, 页号, 序号) 组合出唯一的 chunk_id。
type EsChunk struct {
	ChunkID        string    `json:"chunk_id"`
	CompanyID      uint      `json:"company_id"`
	CompanyName    string    `json:"company_name"`
	DocumentHash   string    `json:"document_hash"`
	PageNumber     int       `json:"page_number"`
	FieldName      string    `json:"field_name"` // 所属定性字段（如 business_highlights）
	SectionHeading string    `json:"section_heading"`
	TextContent    string    `json:"text_content"`
	Vector         []float32 `json:"vector"` // 文本内容的向量表示
	ModelVersion   string    `json:"model_version"`
}

// ChunkSearchResult 定义了返回给调用方的文本块检索结果。
type ChunkSearchResult struct {
	ChunkID        string  `json:"chunkId"`
	CompanyName    string  `json:"companyName"`
	DocumentHash   string  `json:"documentHash"`
	PageNumber     int     `json:"pageNumber"`
	FieldName      string  `json:"fieldName"`
	SectionHeading string  `json:"sectionHeading"`
	TextContent    string  `json:"textContent"`
	Score          float64 `json:"score"`
}
