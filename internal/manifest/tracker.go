// Package manifest 跟踪每个研报文件的处理状态，保证按内容哈希幂等。
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"yanbao-go/pkg/log"
	"yanbao-go/pkg/storage"
)

// 文档处理状态。
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

// Entry 是单个文档的处理记录。
// DerivedIDs 记录本次成功处理写入文本索引的块标识，供下线与审计使用。
type Entry struct {
	ObjectName  string    `json:"object_name"`
	ContentHash string    `json:"content_hash"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	PagesTotal  int       `json:"pages_total"`
	PagesFailed int       `json:"pages_failed"`
	DerivedIDs  []string  `json:"derived_ids,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// manifestFile 是清单的落盘格式：版本化信封加按对象名索引的记录。
type manifestFile struct {
	Version   int              `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Documents map[string]Entry `json:"documents"`
	Stats     manifestStats    `json:"stats"`
}

type manifestStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
}

// Tracker 维护处理清单并落盘。所有方法并发安全。
type Tracker struct {
	path string

	mu      sync.Mutex
	version int
	entries map[string]Entry // key 为对象名
}

// Load 从磁盘加载清单。文件不存在时返回空清单。
func Load(path string) (*Tracker, error) {
	t := &Tracker{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取清单文件失败: %w", err)
	}
	var file manifestFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析清单文件失败: %w", err)
	}
	t.version = file.Version
	if file.Documents != nil {
		t.entries = file.Documents
	}
	log.Infof("[Manifest] 清单加载完成, 版本=%d, 文档数=%d", t.version, len(t.entries))
	return t, nil
}

// IsUpToDate 判断对象是否已按当前内容成功处理过。
// 同名对象内容变化（哈希不同）视为未处理。
func (t *Tracker) IsUpToDate(objectName, contentHash string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[objectName]
	return ok && entry.ContentHash == contentHash && entry.Status == StatusSuccess
}

// Unprocessed 过滤出需要处理的对象：从未见过、内容有变化、或上次未成功。
func (t *Tracker) Unprocessed(objects []storage.ReportObject) []storage.ReportObject {
	var pending []storage.ReportObject
	for _, obj := range objects {
		if !t.IsUpToDate(obj.Name, obj.ContentHash) {
			pending = append(pending, obj)
		}
	}
	return pending
}

// MarkPending 把文档登记为待处理（已投递、尚未被消费）。
// 处理中的文档不回退状态，尝试计数不在这里累加。
func (t *Tracker) MarkPending(objectName, contentHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.entries[objectName]
	if entry.Status == StatusProcessing && entry.ContentHash == contentHash {
		return nil
	}
	if entry.ContentHash != contentHash {
		entry.Attempts = 0
	}
	entry.ObjectName = objectName
	entry.ContentHash = contentHash
	entry.Status = StatusPending
	entry.UpdatedAt = time.Now()
	t.entries[objectName] = entry
	return t.persistLocked()
}

// MarkProcessing 把文档置为处理中并累加尝试次数。
func (t *Tracker) MarkProcessing(objectName, contentHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.entries[objectName]
	if entry.ContentHash != contentHash {
		// 内容变化，尝试计数从头开始
		entry.Attempts = 0
	}
	entry.ObjectName = objectName
	entry.ContentHash = contentHash
	entry.Status = StatusProcessing
	entry.Attempts++
	entry.LastError = ""
	entry.UpdatedAt = time.Now()
	t.entries[objectName] = entry
	return t.persistLocked()
}

// RecordSuccess 记录处理成功、页面统计与本次产出的派生记录标识。
func (t *Tracker) RecordSuccess(objectName string, pagesTotal, pagesFailed int, derivedIDs []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.entries[objectName]
	entry.Status = StatusSuccess
	entry.PagesTotal = pagesTotal
	entry.PagesFailed = pagesFailed
	entry.DerivedIDs = derivedIDs
	entry.LastError = ""
	entry.UpdatedAt = time.Now()
	t.entries[objectName] = entry
	return t.persistLocked()
}

// RecordFailure 记录处理失败及原因。失败文档不保留派生记录标识。
func (t *Tracker) RecordFailure(objectName, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.entries[objectName]
	entry.Status = StatusFailed
	entry.DerivedIDs = nil
	entry.LastError = reason
	entry.UpdatedAt = time.Now()
	t.entries[objectName] = entry
	return t.persistLocked()
}

// Attempts 返回文档在当前内容下的尝试次数。
func (t *Tracker) Attempts(objectName string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[objectName].Attempts
}

// ByHash 按内容哈希查找记录。
func (t *Tracker) ByHash(contentHash string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.entries {
		if entry.ContentHash == contentHash {
			return entry, true
		}
	}
	return Entry{}, false
}

// Remove 删除某个哈希对应的记录，用于文档下线。
func (t *Tracker) Remove(contentHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for name, entry := range t.entries {
		if entry.ContentHash == contentHash {
			delete(t.entries, name)
			return t.persistLocked()
		}
	}
	return nil
}

// Snapshot 返回全部记录的副本，按对象名排序。
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]Entry, 0, len(t.entries))
	for _, entry := range t.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ObjectName < entries[j].ObjectName })
	return entries
}

// persistLocked 原子落盘，调用方必须持有锁。每次写入清单文件版本加一。
func (t *Tracker) persistLocked() error {
	t.version++
	var stats manifestStats
	for _, entry := range t.entries {
		switch entry.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusSuccess:
			stats.Success++
		case StatusFailed:
			stats.Failed++
		}
	}
	file := manifestFile{
		Version:   t.version,
		UpdatedAt: time.Now(),
		Documents: t.entries,
		Stats:     stats,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化清单失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("创建清单目录失败: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入清单临时文件失败: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("替换清单文件失败: %w", err)
	}
	return nil
}
