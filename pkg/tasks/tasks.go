// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentIngestTask represents the data structure for a document ingestion job.
type DocumentIngestTask struct {
	ObjectName  string `json:"object_name"`
	ContentHash string `json:"content_hash"`
	Reprocess   bool   `json:"reprocess"` // 操作员触发的重处理（忽略清单中的 success 状态）
}
