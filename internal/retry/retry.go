// Package retry 实现了错误分类与重试退避的纯决策逻辑。
// 决策函数不依赖任何传输层，调用方（页面调度、存储写入）拿到决策后自行执行等待与重试。
package retry

import (
	"context"
	"errors"
	"time"
)

// Kind 是错误分类。
type Kind int

const (
	// KindUnknown 未能识别的错误，保守视为瞬时错误参与有界重试。
	KindUnknown Kind = iota
	// KindTransient 瞬时错误（超时、限流、网络抖动），可重试。
	KindTransient
	// KindMalformed 抽取结果未通过结构校验，不可重试，对应字段记为空。
	KindMalformed
	// KindCorruptSource 页面不可读，不可重试，跳过该页继续处理其余页面。
	KindCorruptSource
	// KindConsistency 跨库不一致，只在校验报告中呈现，不自动修复。
	KindConsistency
	// KindSchemaConflict 注册表变更竞争，由单写者串行化内部消化，不对外抛出。
	KindSchemaConflict
)

// 哨兵错误，供各层用 %w 包装后参与分类。
var (
	ErrTransient      = errors.New("transient capability error")
	ErrMalformed      = errors.New("malformed extraction result")
	ErrCorruptSource  = errors.New("corrupt source page")
	ErrConsistency    = errors.New("cross-store consistency error")
	ErrSchemaConflict = errors.New("schema registry conflict")
)

// Classify 将一个错误归入分类。
// 未包装哨兵的错误按瞬时错误处理：外部能力的偶发故障是常态，有界重试兜底。
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrCorruptSource):
		return KindCorruptSource
	case errors.Is(err, ErrConsistency):
		return KindConsistency
	case errors.Is(err, ErrSchemaConflict):
		return KindSchemaConflict
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindTransient
	}
}

// Policy 定义了重试上限与退避参数。
type Policy struct {
	MaxAttempts int           // 单个页面的总尝试次数上限
	BaseDelay   time.Duration // 指数退避的基础延迟
	MaxDelay    time.Duration // 单次退避延迟上限
}

// DefaultPolicy 返回默认策略：最多 3 次尝试，500ms 起步指数退避，上限 30s。
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// ShouldRetry 判断在已完成 attempt 次尝试后是否应再次尝试。
// 只有瞬时类错误参与重试；一致性与注册表冲突不走该路径。
func (p Policy) ShouldRetry(kind Kind, attempt int) bool {
	if kind != KindTransient && kind != KindUnknown {
		return false
	}
	return attempt < p.MaxAttempts
}

// BackoffDelay 返回第 attempt 次尝试失败后的等待时长（指数增长，封顶）。
func (p Policy) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
