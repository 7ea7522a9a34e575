package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorLog 是面向运维的追加式失败日志，独立于结构化日志，方便直接 grep。
type ErrorLog struct {
	path string
	mu   sync.Mutex
}

// NewErrorLog 创建失败日志。
func NewErrorLog(path string) *ErrorLog {
	return &ErrorLog{path: path}
}

// Append 追加一条失败记录。
// 格式: [RFC3339时间] document=<哈希> error=<原因>
func (l *ErrorLog) Append(documentHash, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("创建失败日志目录失败: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开失败日志失败: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] document=%s error=%s\n", time.Now().Format(time.RFC3339), documentHash, reason)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("写入失败日志失败: %w", err)
	}
	return nil
}
