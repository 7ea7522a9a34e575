package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"yanbao-go/internal/config"
	"yanbao-go/internal/manifest"
	"yanbao-go/internal/model"
	"yanbao-go/internal/retry"
	"yanbao-go/internal/schema"
	"yanbao-go/pkg/extraction"
	"yanbao-go/pkg/log"
	"yanbao-go/pkg/render"
	"yanbao-go/pkg/tasks"
)

// Scheduler 调度单个文档的页面级并发抽取。
// 页面工作量受全局信号量约束，跨文档共享同一并发上限。
type Scheduler struct {
	source    render.Source
	extractor extraction.Extractor
	registry  *schema.Registry
	tracker   *manifest.Tracker
	errLog    *manifest.ErrorLog
	writer    *Writer
	hub       *Hub
	progress  *Progress

	policy      retry.Policy
	pageTimeout time.Duration
	sem         chan struct{}
}

// NewScheduler 创建调度器。
func NewScheduler(
	cfg config.IngestConfig,
	source render.Source,
	extractor extraction.Extractor,
	registry *schema.Registry,
	tracker *manifest.Tracker,
	errLog *manifest.ErrorLog,
	writer *Writer,
	hub *Hub,
	progress *Progress,
) *Scheduler {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		source:    source,
		extractor: extractor,
		registry:  registry,
		tracker:   tracker,
		errLog:    errLog,
		writer:    writer,
		hub:       hub,
		progress:  progress,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.BackoffMaxMS) * time.Millisecond,
		},
		pageTimeout: time.Duration(cfg.PageTimeoutSeconds) * time.Second,
		sem:         make(chan struct{}, concurrency),
	}
}

// Process 处理单个文档摄取任务，实现 kafka.TaskProcessor。
// 返回错误表示文档终态失败，消费侧据此决定是否重投。
func (s *Scheduler) Process(ctx context.Context, task tasks.DocumentIngestTask) error {
	log.Infof("[Scheduler] 开始处理文档 %s (对象 %s)", shortHash(task.ContentHash), task.ObjectName)

	if err := s.tracker.MarkProcessing(task.ObjectName, task.ContentHash); err != nil {
		return fmt.Errorf("更新清单状态失败: %w", err)
	}

	// 步骤1: 清退旧数据, 保证重处理不与历史结果混存
	if err := s.writer.RetireDocument(ctx, task.ContentHash); err != nil {
		return s.fail(ctx, task, fmt.Sprintf("清退旧数据失败: %v", err))
	}

	// 步骤2: 列出已渲染页面
	pages, err := s.source.Pages(ctx, task.ContentHash)
	if err != nil {
		return s.fail(ctx, task, fmt.Sprintf("列出页面失败: %v", err))
	}
	doc := DocMeta{ContentHash: task.ContentHash, FileName: task.ObjectName, PageCount: len(pages)}

	s.progress.Start(ctx, task.ContentHash)
	s.hub.Broadcast(Event{
		Type:         EventDocumentStarted,
		DocumentHash: task.ContentHash,
		FileName:     task.ObjectName,
		PagesTotal:   len(pages),
	})

	// 步骤3: 页面级并发抽取与写入
	state := &docState{}
	var (
		wg          sync.WaitGroup
		pagesDone   int32
		pagesFailed int32
	)
	for _, page := range pages {
		wg.Add(1)
		go func(page render.Page) {
			defer wg.Done()
			s.sem <- struct{}{}
			defer func() { <-s.sem }()

			err := s.processPage(ctx, doc, page, state, &pagesFailed)
			done := atomic.AddInt32(&pagesDone, 1)
			s.progress.MarkPage(ctx, task.ContentHash, page.Number)
			if err != nil {
				atomic.AddInt32(&pagesFailed, 1)
				if page.Number == 1 {
					state.FailFounding(err)
				}
				log.Errorf("[Scheduler] 文档 %s 第%d页处理失败: %v", shortHash(task.ContentHash), page.Number, err)
				s.hub.Broadcast(Event{
					Type:         EventPageFailed,
					DocumentHash: task.ContentHash,
					Page:         page.Number,
					PagesDone:    int(done),
					PagesTotal:   len(pages),
					Message:      err.Error(),
				})
				return
			}
			s.hub.Broadcast(Event{
				Type:         EventPageCompleted,
				DocumentHash: task.ContentHash,
				Page:         page.Number,
				PagesDone:    int(done),
				PagesTotal:   len(pages),
			})
		}(page)
	}
	wg.Wait()

	// 步骤4: 概览页终态失败则整个文档失败。暂存结果先经占位公司承接,
	// 再连同已写入的指标与文本块一并清退, 两个存储零残留。
	if state.Company() == nil {
		reason := "概览页未能建档"
		if ferr := state.FoundingErr(); ferr != nil {
			reason = ferr.Error()
		}
		if company, err := s.writer.RegisterPlaceholder(ctx, doc); err == nil {
			s.flushPending(ctx, doc, state, company, &pagesFailed)
		} else {
			log.Errorf("[Scheduler] 文档 %s 占位承接失败: %v", shortHash(task.ContentHash), err)
		}
		if err := s.writer.RetireDocument(ctx, task.ContentHash); err != nil {
			log.Errorf("[Scheduler] 终态失败后清退文档 %s 出错: %v", shortHash(task.ContentHash), err)
		}
		return s.fail(ctx, task, reason)
	}

	failed := int(atomic.LoadInt32(&pagesFailed))

	// 步骤5: 全部页面失败视为文档终态失败, 清退后零残留
	if failed >= len(pages) {
		if err := s.writer.RetireDocument(ctx, task.ContentHash); err != nil {
			log.Errorf("[Scheduler] 终态失败后清退文档 %s 出错: %v", shortHash(task.ContentHash), err)
		}
		return s.fail(ctx, task, fmt.Sprintf("全部 %d 页处理失败", len(pages)))
	}

	if err := s.tracker.RecordSuccess(task.ObjectName, len(pages), failed, state.Derived()); err != nil {
		return fmt.Errorf("记录处理结果失败: %w", err)
	}
	s.hub.Broadcast(Event{
		Type:         EventDocumentFinished,
		DocumentHash: task.ContentHash,
		FileName:     task.ObjectName,
		PagesDone:    len(pages),
		PagesTotal:   len(pages),
		Status:       manifest.StatusSuccess,
	})
	log.Infof("[Scheduler] 文档 %s 处理完成, 页面 %d/%d 成功", shortHash(task.ContentHash), len(pages)-failed, len(pages))
	return nil
}

// processPage 抽取并落盘单个页面，瞬时错误按策略重试。
func (s *Scheduler) processPage(ctx context.Context, doc DocMeta, page render.Page, state *docState, pagesFailed *int32) error {
	result, err := s.extractWithRetry(ctx, doc, page)
	if err != nil {
		return err
	}

	// 字段先并入注册表, 指标落库时统一携带规范名
	candidates := make([]schema.Candidate, 0, len(result.Metrics)+len(result.Qualitative))
	for _, m := range result.Metrics {
		candidates = append(candidates, schema.Candidate{
			Name:     m.FieldName,
			Category: schema.CategoryQuantitative,
			DataType: "number",
			Unit:     m.Unit,
		})
	}
	for _, q := range result.Qualitative {
		candidates = append(candidates, schema.Candidate{
			Name:     q.SectionHeading,
			Category: schema.CategoryQualitative,
			DataType: "text",
		})
	}
	resolved, err := s.registry.Absorb(ctx, candidates, doc.ContentHash, s.extractor)
	if err != nil {
		return fmt.Errorf("字段并入注册表失败: %w", err)
	}
	resolve := func(name string) string {
		if canonical, ok := resolved[name]; ok {
			return canonical
		}
		if canonical, ok := s.registry.Snapshot().Resolve(name); ok {
			return canonical
		}
		return name
	}

	// 概览页承担建档职责, 其余页面可能需要等待归属
	if page.Number == 1 {
		if result.Company == nil {
			return fmt.Errorf("概览页未产出公司档案: %w", retry.ErrMalformed)
		}
		company, err := s.writer.RegisterFounding(ctx, doc, result.Company)
		if err != nil {
			return err
		}
		ids, err := s.writer.WritePage(ctx, company, doc, page.Number, result, resolve)
		if err != nil {
			return err
		}
		state.AddDerived(ids)
		s.flushPending(ctx, doc, state, company, pagesFailed)
		return nil
	}

	company, ready := state.Attach(page.Number, result, resolve)
	if !ready {
		return nil
	}
	ids, err := s.writer.WritePage(ctx, company, doc, page.Number, result, resolve)
	if err != nil {
		return err
	}
	state.AddDerived(ids)
	return nil
}

// flushPending 把暂存的页面结果落盘。失败计入页面失败数。
func (s *Scheduler) flushPending(ctx context.Context, doc DocMeta, state *docState, company *model.Company, pagesFailed *int32) {
	for _, p := range state.Resolve(company) {
		ids, err := s.writer.WritePage(ctx, company, doc, p.Number, p.Result, p.Resolve)
		if err != nil {
			atomic.AddInt32(pagesFailed, 1)
			log.Errorf("[Scheduler] 冲刷文档 %s 第%d页失败: %v", shortHash(doc.ContentHash), p.Number, err)
			continue
		}
		state.AddDerived(ids)
	}
}

// extractWithRetry 执行单页抽取, 瞬时错误指数退避后重试, 其余错误立即终止。
func (s *Scheduler) extractWithRetry(ctx context.Context, doc DocMeta, page render.Page) (*extraction.PageResult, error) {
	image, err := s.source.PageImage(ctx, page)
	if err != nil {
		return nil, err
	}

	knownFields := s.registry.Snapshot().Canonicals()
	attempt := 0
	for {
		attempt++
		pageCtx, cancel := context.WithTimeout(ctx, s.pageTimeout)
		result, err := s.extractor.ExtractPage(pageCtx, image, page.Number, knownFields)
		cancel()
		if err == nil {
			return result, nil
		}

		kind := retry.Classify(err)
		if !s.policy.ShouldRetry(kind, attempt) {
			return nil, fmt.Errorf("第%d次尝试后放弃: %w", attempt, err)
		}
		delay := s.policy.BackoffDelay(attempt)
		log.Warnf("[Scheduler] 文档 %s 第%d页第%d次尝试失败, %v 后重试: %v",
			shortHash(doc.ContentHash), page.Number, attempt, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// fail 记录文档终态失败: 清单、失败日志与进度事件各记一笔。
func (s *Scheduler) fail(ctx context.Context, task tasks.DocumentIngestTask, reason string) error {
	if err := s.tracker.RecordFailure(task.ObjectName, reason); err != nil {
		log.Errorf("[Scheduler] 记录失败状态出错: %v", err)
	}
	if err := s.errLog.Append(task.ContentHash, reason); err != nil {
		log.Errorf("[Scheduler] 写入失败日志出错: %v", err)
	}
	s.hub.Broadcast(Event{
		Type:         EventDocumentFinished,
		DocumentHash: task.ContentHash,
		FileName:     task.ObjectName,
		Status:       manifest.StatusFailed,
		Message:      reason,
	})
	return fmt.Errorf("文档 %s 处理失败: %s", shortHash(task.ContentHash), reason)
}
