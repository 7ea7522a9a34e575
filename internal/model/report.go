package model

// StatusReport 汇总当前清单状态与两个存储的记录量，由状态接口返回。
type StatusReport struct {
	TotalDocuments int                      `json:"totalDocuments"`
	Documents      map[string]DocumentState `json:"documents"`
	Counts         StoreCounts              `json:"counts"`
	SchemaVersion  int                      `json:"schemaVersion"`
	SchemaFields   int                      `json:"schemaFields"`
}

// DocumentState 描述单个文档在清单中的状态与在途进度。
type DocumentState struct {
	ContentHash string    `json:"contentHash"`
	Status      string    `json:"status"`
	ProcessedAt LocalTime `json:"processedAt"`
	Error       string    `json:"error,omitempty"`
	PagesDone   int       `json:"pagesDone"`
	PageCount   int       `json:"pageCount"`
}

// StoreCounts 是两个存储中的记录计数。
type StoreCounts struct {
	Companies int64 `json:"companies"`
	Metrics   int64 `json:"metrics"`
	Chunks    int64 `json:"chunks"`
}

// ValidationReport 是校验接口返回的结构：逐文档结果、成功率与跨库对账。
type ValidationReport struct {
	TotalDocuments  int      `json:"totalDocuments"`
	Succeeded       int      `json:"succeeded"`
	Failed          int      `json:"failed"`
	SuccessRate     float64  `json:"successRate"`
	Inconsistent    []string `json:"inconsistent"`    // 只在一个存储中出现的文档指纹
	MissingInChunks []string `json:"missingInChunks"` // 关系库有、文本索引无
	MissingInFacts  []string `json:"missingInFacts"`  // 文本索引有、关系库无
	Counts          StoreCounts `json:"counts"`
}
