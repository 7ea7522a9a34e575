package pipeline

import (
	"sync"

	"yanbao-go/internal/model"
	"yanbao-go/pkg/extraction"
)

// pendingPage 是公司归属未定时暂存的页面结果，连同其字段名解析函数。
type pendingPage struct {
	Number  int
	Result  *extraction.PageResult
	Resolve func(string) string
}

// docState 维护单个文档处理期间的共享状态。
// 页面并发执行，概览页之外的页面可能先完成，此时结果进入暂存队列，
// 等公司归属确定后一次性冲刷。
type docState struct {
	mu          sync.Mutex
	company     *model.Company
	pending     []pendingPage
	foundingErr error
	derived     []string
}

// Attach 尝试把页面结果挂到公司上。
// 公司已确定时返回公司与 true，调用方应立即落盘；
// 否则结果入队并返回 false，由后续的 Resolve 统一冲刷。
func (s *docState) Attach(number int, result *extraction.PageResult, resolve func(string) string) (*model.Company, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.company != nil {
		return s.company, true
	}
	s.pending = append(s.pending, pendingPage{Number: number, Result: result, Resolve: resolve})
	return nil, false
}

// Resolve 确定公司归属并取走全部暂存结果。只能调用一次。
func (s *docState) Resolve(company *model.Company) []pendingPage {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.company = company
	flushed := s.pending
	s.pending = nil
	return flushed
}

// Company 返回已确定的公司归属，未确定时为 nil。
func (s *docState) Company() *model.Company {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.company
}

// FailFounding 记录概览页的终态失败原因，首个错误生效。
func (s *docState) FailFounding(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.foundingErr == nil {
		s.foundingErr = err
	}
}

// FoundingErr 返回概览页的终态失败原因，成功时为 nil。
func (s *docState) FoundingErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foundingErr
}

// AddDerived 累积本次处理写入文本索引的块标识。
func (s *docState) AddDerived(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.derived = append(s.derived, ids...)
}

// Derived 返回累积的派生记录标识。
func (s *docState) Derived() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.derived
}
