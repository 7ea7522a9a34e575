package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"yanbao-go/internal/config"
	"yanbao-go/internal/manifest"
	"yanbao-go/internal/retry"
	"yanbao-go/internal/schema"
	"yanbao-go/pkg/extraction"
	"yanbao-go/pkg/render"
	"yanbao-go/pkg/tasks"
)

type testEnv struct {
	scheduler  *Scheduler
	extractor  *fakeExtractor
	companies  *fakeCompanyRepo
	documents  *fakeDocumentRepo
	metrics    *fakeMetricRepo
	indexer    *fakeIndexer
	tracker    *manifest.Tracker
	registry   *schema.Registry
	errLogPath string
}

func newTestEnv(t *testing.T, source *fakeSource, extractor *fakeExtractor) *testEnv {
	t.Helper()
	dir := t.TempDir()

	registry, err := schema.Load(filepath.Join(dir, "registry.json"))
	if err != nil {
		t.Fatalf("schema.Load() error = %v", err)
	}
	tracker, err := manifest.Load(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("manifest.Load() error = %v", err)
	}

	companies := &fakeCompanyRepo{}
	documents := &fakeDocumentRepo{}
	metrics := &fakeMetricRepo{}
	indexer := &fakeIndexer{}
	writer := NewWriter(companies, documents, metrics, indexer, fakeEmbedder{}, "test-v1")

	cfg := config.IngestConfig{
		Concurrency:        4,
		MaxRetries:         3,
		BackoffBaseMS:      1,
		BackoffMaxMS:       2,
		PageTimeoutSeconds: 5,
	}
	errLogPath := filepath.Join(dir, "errors.log")
	scheduler := NewScheduler(cfg, source, extractor, registry, tracker,
		manifest.NewErrorLog(errLogPath), writer, NewHub(), NewProgress(nil))

	return &testEnv{
		scheduler:  scheduler,
		extractor:  extractor,
		companies:  companies,
		documents:  documents,
		metrics:    metrics,
		indexer:    indexer,
		tracker:    tracker,
		registry:   registry,
		errLogPath: errLogPath,
	}
}

func threePages(hash string) *fakeSource {
	return &fakeSource{pages: map[string][]render.Page{
		hash: {
			{Number: 1, Object: hash + "_page_1.png"},
			{Number: 2, Object: hash + "_page_2.png"},
			{Number: 3, Object: hash + "_page_3.png"},
		},
	}}
}

func foundingResult() *extraction.PageResult {
	return &extraction.PageResult{
		Company: &extraction.CompanyFacts{
			Name: "Infosys", Ticker: "INFY", Sector: "IT",
			ReportDate: "2026-07-15", ReportType: "Quarterly", Rating: "BUY",
		},
		Metrics: []extraction.MetricFact{
			{FieldName: "Target Price", Value: 1850, Unit: "INR", TimePeriod: "FY27"},
		},
	}
}

func metricPage(field string, value float64) *extraction.PageResult {
	return &extraction.PageResult{
		Metrics: []extraction.MetricFact{
			{FieldName: field, Value: value, Unit: "INR Cr", TimePeriod: "Q1FY27"},
		},
		Qualitative: []extraction.QualitativeChunk{
			{SectionHeading: "Management Commentary", Text: "管理层指引乐观。"},
		},
	}
}

func TestProcessDocumentSuccess(t *testing.T) {
	const hash = "hash-success"
	extractor := &fakeExtractor{results: map[int]*extraction.PageResult{
		1: foundingResult(),
		2: metricPage("Revenue", 40986),
		3: metricPage("EBIT Margin", 21.1),
	}}
	env := newTestEnv(t, threePages(hash), extractor)

	err := env.scheduler.Process(context.Background(), tasks.DocumentIngestTask{
		ObjectName: "Infosys_Q1FY27.pdf", ContentHash: hash,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if !env.tracker.IsUpToDate("Infosys_Q1FY27.pdf", hash) {
		t.Error("document not marked success in manifest")
	}

	company, err := env.companies.FindByName("Infosys")
	if err != nil {
		t.Fatalf("company not registered: %v", err)
	}
	if company.Placeholder {
		t.Error("founded company marked placeholder")
	}

	count, _ := env.metrics.CountActiveByDocument(hash)
	if count != 3 {
		t.Errorf("active metrics = %d, want 3", count)
	}
	for _, m := range env.metrics.metrics {
		if m.CompanyID != company.ID {
			t.Errorf("metric %q attached to company %d, want %d", m.FieldName, m.CompanyID, company.ID)
		}
	}

	chunks, _ := env.indexer.CountChunks(context.Background())
	if chunks != 2 {
		t.Errorf("chunks = %d, want 2", chunks)
	}

	entry, _ := env.tracker.ByHash(hash)
	if len(entry.DerivedIDs) != 2 {
		t.Errorf("DerivedIDs = %v, want the two indexed chunk ids", entry.DerivedIDs)
	}
}

// 概览页最后完成时, 先完成的页面结果被暂存, 建档后冲刷到真实公司而非占位。
func TestFoundingRaceBuffering(t *testing.T) {
	const hash = "hash-race"
	gate := make(chan struct{})
	extractor := &fakeExtractor{
		results: map[int]*extraction.PageResult{
			1: foundingResult(),
			2: metricPage("Revenue", 40986),
			3: metricPage("PAT", 6921),
		},
		gate: map[int]chan struct{}{1: gate},
	}
	env := newTestEnv(t, threePages(hash), extractor)

	// 观察到两张从页已抽取后再放行概览页
	go func() {
		for {
			extractor.mu.Lock()
			done := extractor.calls[2] > 0 && extractor.calls[3] > 0
			extractor.mu.Unlock()
			if done {
				close(gate)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	err := env.scheduler.Process(context.Background(), tasks.DocumentIngestTask{
		ObjectName: "Infosys_Q1FY27.pdf", ContentHash: hash,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	company, err := env.companies.FindByName("Infosys")
	if err != nil {
		t.Fatalf("company not registered: %v", err)
	}
	count, _ := env.metrics.CountActiveByDocument(hash)
	if count != 3 {
		t.Errorf("active metrics = %d, want 3 (buffered pages flushed)", count)
	}
	for _, m := range env.metrics.metrics {
		if m.CompanyID != company.ID {
			t.Errorf("metric %q attached to company %d, want founded company %d", m.FieldName, m.CompanyID, company.ID)
		}
	}
	if len(env.companies.companies) != 1 {
		t.Errorf("companies = %d, want 1 (no placeholder)", len(env.companies.companies))
	}
}

// 概览页终态失败时整个文档失败: 清单置 failed, 两个存储零残留,
// 失败原因原样进入失败日志。
func TestFoundingFailureFailsDocument(t *testing.T) {
	const hash = "hash-founding-failed"
	extractor := &fakeExtractor{
		results: map[int]*extraction.PageResult{
			2: metricPage("Revenue", 40986),
			3: metricPage("PAT", 6921),
		},
		failures: map[int][]error{
			1: {fmt.Errorf("概览页解析失败: %w", retry.ErrMalformed)},
		},
	}
	env := newTestEnv(t, threePages(hash), extractor)

	err := env.scheduler.Process(context.Background(), tasks.DocumentIngestTask{
		ObjectName: "Infosys_Q1FY27.pdf", ContentHash: hash,
	})
	if err == nil {
		t.Fatal("Process() error = nil, want document failure on founding page failure")
	}

	entry, ok := env.tracker.ByHash(hash)
	if !ok {
		t.Fatal("manifest entry missing")
	}
	if entry.Status != manifest.StatusFailed {
		t.Errorf("manifest status = %q, want %q", entry.Status, manifest.StatusFailed)
	}
	if !strings.Contains(entry.LastError, "概览页解析失败") {
		t.Errorf("LastError = %q, want founding failure detail", entry.LastError)
	}

	// 从页成功也不能留下事实或文本块
	count, _ := env.metrics.CountActiveByDocument(hash)
	if count != 0 {
		t.Errorf("active metrics = %d, want 0 for a failed document", count)
	}
	chunks, _ := env.indexer.CountChunks(context.Background())
	if chunks != 0 {
		t.Errorf("chunks = %d, want 0 for a failed document", chunks)
	}

	// 失败原因原样落入失败日志
	data, readErr := os.ReadFile(env.errLogPath)
	if readErr != nil {
		t.Fatalf("read error log: %v", readErr)
	}
	if !strings.Contains(string(data), "document="+hash) || !strings.Contains(string(data), "概览页解析失败") {
		t.Errorf("error log = %q, want document hash and founding failure detail", string(data))
	}

	// 成功文档的清单不会回流: 该哈希应留在待处理集合
	if env.tracker.IsUpToDate("Infosys_Q1FY27.pdf", hash) {
		t.Error("failed document reported up to date")
	}

	// 格式错误不重试
	if got := extractor.calls[1]; got != 1 {
		t.Errorf("page1 extraction calls = %d, want 1", got)
	}
}

// 瞬时错误按策略重试, 恢复后页面正常落盘。
func TestTransientRetryRecovers(t *testing.T) {
	const hash = "hash-retry"
	extractor := &fakeExtractor{
		results: map[int]*extraction.PageResult{
			1: foundingResult(),
			2: metricPage("Revenue", 40986),
			3: metricPage("PAT", 6921),
		},
		failures: map[int][]error{
			2: {
				fmt.Errorf("超时: %w", retry.ErrTransient),
				fmt.Errorf("限流: %w", retry.ErrTransient),
			},
		},
	}
	env := newTestEnv(t, threePages(hash), extractor)

	err := env.scheduler.Process(context.Background(), tasks.DocumentIngestTask{
		ObjectName: "Infosys_Q1FY27.pdf", ContentHash: hash,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got := extractor.calls[2]; got != 3 {
		t.Errorf("page2 extraction calls = %d, want 3", got)
	}
	count, _ := env.metrics.CountActiveByDocument(hash)
	if count != 3 {
		t.Errorf("active metrics = %d, want 3", count)
	}
}

// 全部页面失败时文档终态失败, 两个存储零残留。
func TestAllPagesFailedLeavesNoResidue(t *testing.T) {
	const hash = "hash-doomed"
	transient := func() []error {
		var errs []error
		for i := 0; i < 3; i++ {
			errs = append(errs, fmt.Errorf("持续超时: %w", retry.ErrTransient))
		}
		return errs
	}
	extractor := &fakeExtractor{
		failures: map[int][]error{1: transient(), 2: transient(), 3: transient()},
	}
	env := newTestEnv(t, threePages(hash), extractor)

	err := env.scheduler.Process(context.Background(), tasks.DocumentIngestTask{
		ObjectName: "Doomed_Report.pdf", ContentHash: hash,
	})
	if err == nil {
		t.Fatal("Process() error = nil, want terminal failure")
	}

	entry, ok := env.tracker.ByHash(hash)
	if !ok || entry.Status != manifest.StatusFailed {
		t.Errorf("manifest entry = %+v, want failed", entry)
	}

	count, _ := env.metrics.CountActiveByDocument(hash)
	if count != 0 {
		t.Errorf("active metrics = %d, want 0", count)
	}
	chunks, _ := env.indexer.CountChunks(context.Background())
	if chunks != 0 {
		t.Errorf("chunks = %d, want 0", chunks)
	}
}

// 重处理前旧数据被清退, 新旧结果不混存。
func TestReprocessReplacesOldData(t *testing.T) {
	const hash = "hash-reprocess"
	extractor := &fakeExtractor{results: map[int]*extraction.PageResult{
		1: foundingResult(),
		2: metricPage("Revenue", 40986),
		3: metricPage("PAT", 6921),
	}}
	env := newTestEnv(t, threePages(hash), extractor)

	task := tasks.DocumentIngestTask{ObjectName: "Infosys_Q1FY27.pdf", ContentHash: hash}
	if err := env.scheduler.Process(context.Background(), task); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	if err := env.scheduler.Process(context.Background(), task); err != nil {
		t.Fatalf("second Process() error = %v", err)
	}

	count, _ := env.metrics.CountActiveByDocument(hash)
	if count != 3 {
		t.Errorf("active metrics after reprocess = %d, want 3", count)
	}
	chunks, _ := env.indexer.CountChunks(context.Background())
	if chunks != 2 {
		t.Errorf("chunks after reprocess = %d, want 2", chunks)
	}
}

// 指标落库时携带注册表规范名。
func TestMetricsCarryCanonicalNames(t *testing.T) {
	const hash = "hash-canonical"
	extractor := &fakeExtractor{results: map[int]*extraction.PageResult{
		1: foundingResult(),
		2: metricPage("Revenue", 40986),
		3: metricPage("revenue", 41000), // 大小写差异, 应收敛到首个写法
	}}
	env := newTestEnv(t, threePages(hash), extractor)

	err := env.scheduler.Process(context.Background(), tasks.DocumentIngestTask{
		ObjectName: "Infosys_Q1FY27.pdf", ContentHash: hash,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	names := make(map[string]int)
	for _, m := range env.metrics.metrics {
		names[m.FieldName]++
	}
	if names["Revenue"]+names["revenue"] != 2 {
		t.Fatalf("revenue metrics = %v, want 2 total", names)
	}
	if len(names) != 2 { // Target Price + 一个规范化的 revenue 写法
		t.Errorf("distinct field names = %v, want 2", names)
	}
}
