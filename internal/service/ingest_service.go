package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"yanbao-go/internal/config"
	"yanbao-go/internal/manifest"
	"yanbao-go/internal/model"
	"yanbao-go/internal/pipeline"
	"yanbao-go/internal/schema"
	"yanbao-go/pkg/es"
	"yanbao-go/pkg/kafka"
	"yanbao-go/pkg/log"
	"yanbao-go/pkg/storage"
	"yanbao-go/pkg/tasks"
)

// ErrDocumentNotFound 表示清单中不存在该内容哈希对应的文档。
var ErrDocumentNotFound = errors.New("document not found in manifest")

// RunSummary 是一次扫描投递的结果。
type RunSummary struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
}

// IngestService 接口定义了摄取编排操作。
type IngestService interface {
	// Run 扫描研报桶, 把需要处理的文档投递到任务队列。
	// reprocess 为 true 时忽略清单中的成功状态, 全量重投。
	Run(ctx context.Context, reprocess bool) (*RunSummary, error)
	// RunSync 同步处理全部待处理文档, 返回文档级成功率。批处理模式使用。
	RunSync(ctx context.Context, reprocess bool) (float64, error)
	// Retry 重投单个文档。
	Retry(ctx context.Context, contentHash string) error
	// Remove 彻底下线单个文档: 清退双库数据并抹除清单记录。
	Remove(ctx context.Context, contentHash string) error
	Status(ctx context.Context) (*model.StatusReport, error)
	Validation(ctx context.Context) (*model.ValidationReport, error)
}

type ingestService struct {
	scheduler *pipeline.Scheduler
	writer    *pipeline.Writer
	tracker   *manifest.Tracker
	registry  *schema.Registry
	progress  *pipeline.Progress
	indexer   es.ChunkIndexer
	counts    CountsProvider

	reportBucket string
}

// CountsProvider 提供关系库侧的记录计数。
type CountsProvider interface {
	CountCompanies() (int64, error)
	CountActiveMetrics() (int64, error)
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(
	scheduler *pipeline.Scheduler,
	writer *pipeline.Writer,
	tracker *manifest.Tracker,
	registry *schema.Registry,
	progress *pipeline.Progress,
	indexer es.ChunkIndexer,
	counts CountsProvider,
	minioCfg config.MinIOConfig,
) IngestService {
	return &ingestService{
		scheduler:    scheduler,
		writer:       writer,
		tracker:      tracker,
		registry:     registry,
		progress:     progress,
		indexer:      indexer,
		counts:       counts,
		reportBucket: minioCfg.ReportBucket,
	}
}

func (s *ingestService) Run(ctx context.Context, reprocess bool) (*RunSummary, error) {
	pending, summary, err := s.scan(ctx, reprocess)
	if err != nil {
		return nil, err
	}

	for _, obj := range pending {
		if err := s.tracker.MarkPending(obj.Name, obj.ContentHash); err != nil {
			log.Errorf("[IngestService] 标记待处理状态失败 (对象 %s): %v", obj.Name, err)
		}
		task := tasks.DocumentIngestTask{ObjectName: obj.Name, ContentHash: obj.ContentHash, Reprocess: reprocess}
		if err := kafka.ProduceIngestTask(task); err != nil {
			return nil, fmt.Errorf("投递摄取任务失败 (对象 %s): %w", obj.Name, err)
		}
		summary.Enqueued++
	}
	log.Infof("[IngestService] 扫描完成: 共 %d 个对象, 投递 %d, 跳过 %d",
		summary.Scanned, summary.Enqueued, summary.Skipped)
	return summary, nil
}

func (s *ingestService) RunSync(ctx context.Context, reprocess bool) (float64, error) {
	pending, summary, err := s.scan(ctx, reprocess)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		log.Infof("[IngestService] 没有待处理文档")
		return 1, nil
	}

	succeeded := 0
	for _, obj := range pending {
		task := tasks.DocumentIngestTask{ObjectName: obj.Name, ContentHash: obj.ContentHash, Reprocess: reprocess}
		if err := s.scheduler.Process(ctx, task); err != nil {
			log.Errorf("[IngestService] 文档 %s 处理失败: %v", obj.Name, err)
			continue
		}
		succeeded++
	}
	rate := float64(succeeded) / float64(len(pending))
	log.Infof("[IngestService] 批处理完成: %d/%d 成功 (成功率 %.2f), 扫描 %d",
		succeeded, len(pending), rate, summary.Scanned)
	return rate, nil
}

// scan 列出研报桶并过滤出待处理对象。
func (s *ingestService) scan(ctx context.Context, reprocess bool) ([]storage.ReportObject, *RunSummary, error) {
	objects, err := storage.ListReports(ctx, s.reportBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("扫描研报桶失败: %w", err)
	}

	pending := objects
	if !reprocess {
		pending = s.tracker.Unprocessed(objects)
	}
	summary := &RunSummary{Scanned: len(objects), Skipped: len(objects) - len(pending)}
	return pending, summary, nil
}

func (s *ingestService) Retry(ctx context.Context, contentHash string) error {
	entry, ok := s.tracker.ByHash(contentHash)
	if !ok {
		return ErrDocumentNotFound
	}
	task := tasks.DocumentIngestTask{ObjectName: entry.ObjectName, ContentHash: contentHash, Reprocess: true}
	if err := kafka.ProduceIngestTask(task); err != nil {
		return fmt.Errorf("重投摄取任务失败: %w", err)
	}
	log.Infof("[IngestService] 文档 %s 已重投", entry.ObjectName)
	return nil
}

func (s *ingestService) Remove(ctx context.Context, contentHash string) error {
	if _, ok := s.tracker.ByHash(contentHash); !ok {
		return ErrDocumentNotFound
	}
	if err := s.writer.RemoveDocument(ctx, contentHash); err != nil {
		return err
	}
	if err := s.tracker.Remove(contentHash); err != nil {
		return err
	}
	s.progress.Clear(ctx, contentHash)
	log.Infof("[IngestService] 文档 %s 已下线", contentHash)
	return nil
}

func (s *ingestService) Status(ctx context.Context) (*model.StatusReport, error) {
	entries := s.tracker.Snapshot()
	documents := make(map[string]model.DocumentState, len(entries))
	for _, entry := range entries {
		state := model.DocumentState{
			ContentHash: entry.ContentHash,
			Status:      entry.Status,
			ProcessedAt: model.LocalTime(entry.UpdatedAt),
			Error:       entry.LastError,
			PagesDone:   entry.PagesTotal - entry.PagesFailed,
			PageCount:   entry.PagesTotal,
		}
		if entry.Status == manifest.StatusProcessing {
			state.PagesDone = s.progress.Done(ctx, entry.ContentHash)
		}
		documents[entry.ObjectName] = state
	}

	counts, err := s.storeCounts(ctx)
	if err != nil {
		return nil, err
	}
	snap := s.registry.Snapshot()
	return &model.StatusReport{
		TotalDocuments: len(entries),
		Documents:      documents,
		Counts:         counts,
		SchemaVersion:  snap.Version,
		SchemaFields:   len(snap.Fields),
	}, nil
}

func (s *ingestService) Validation(ctx context.Context) (*model.ValidationReport, error) {
	entries := s.tracker.Snapshot()
	report := &model.ValidationReport{TotalDocuments: len(entries)}
	for _, entry := range entries {
		switch entry.Status {
		case manifest.StatusSuccess:
			report.Succeeded++
		case manifest.StatusFailed:
			report.Failed++
		}
	}
	if report.TotalDocuments > 0 {
		report.SuccessRate = float64(report.Succeeded) / float64(report.TotalDocuments)
	}

	missingInChunks, missingInFacts, err := s.writer.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	report.MissingInChunks = missingInChunks
	report.MissingInFacts = missingInFacts
	report.Inconsistent = append(append([]string{}, missingInChunks...), missingInFacts...)

	counts, err := s.storeCounts(ctx)
	if err != nil {
		return nil, err
	}
	report.Counts = counts
	return report, nil
}

func (s *ingestService) storeCounts(ctx context.Context) (model.StoreCounts, error) {
	companies, err := s.counts.CountCompanies()
	if err != nil {
		return model.StoreCounts{}, fmt.Errorf("统计公司数失败: %w", err)
	}
	metrics, err := s.counts.CountActiveMetrics()
	if err != nil {
		return model.StoreCounts{}, fmt.Errorf("统计指标数失败: %w", err)
	}
	chunkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	chunks, err := s.indexer.CountChunks(chunkCtx)
	if err != nil {
		return model.StoreCounts{}, fmt.Errorf("统计文本块数失败: %w", err)
	}
	return model.StoreCounts{Companies: companies, Metrics: metrics, Chunks: chunks}, nil
}
