// Package pipeline 实现研报摄取流水线：页面调度、双库写入与跨库对账。
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"yanbao-go/internal/model"
	"yanbao-go/internal/repository"
	"yanbao-go/internal/retry"
	"yanbao-go/pkg/embedding"
	"yanbao-go/pkg/es"
	"yanbao-go/pkg/extraction"
	"yanbao-go/pkg/log"
)

// DocMeta 是一次摄取中文档的基本信息。
type DocMeta struct {
	ContentHash string
	FileName    string
	PageCount   int
}

// Writer 按固定顺序写入两个存储：先关系库事实，后文本索引块。
// 顺序保证了文本索引中的每个块都能回指到已存在的事实行。
type Writer struct {
	companies repository.CompanyRepository
	documents repository.DocumentRepository
	metrics   repository.MetricRepository
	indexer   es.ChunkIndexer
	embedder  embedding.Client

	modelVersion string
}

// NewWriter 创建双库写入器。
func NewWriter(
	companies repository.CompanyRepository,
	documents repository.DocumentRepository,
	metrics repository.MetricRepository,
	indexer es.ChunkIndexer,
	embedder embedding.Client,
	modelVersion string,
) *Writer {
	return &Writer{
		companies:    companies,
		documents:    documents,
		metrics:      metrics,
		indexer:      indexer,
		embedder:     embedder,
		modelVersion: modelVersion,
	}
}

// RegisterFounding 用概览页事实登记公司与文档。
// 公司按 (name, ticker) 幂等覆盖，占位记录在这里被真实档案替换。
func (w *Writer) RegisterFounding(ctx context.Context, doc DocMeta, facts *extraction.CompanyFacts) (*model.Company, error) {
	company := &model.Company{
		Name:          strings.TrimSpace(facts.Name),
		Ticker:        strings.TrimSpace(facts.Ticker),
		Sector:        facts.Sector,
		BSECode:       facts.BSECode,
		BloombergCode: facts.BloombergCode,
		Placeholder:   false,
		SourceDocHash: doc.ContentHash,
	}
	if company.Name == "" {
		return nil, fmt.Errorf("概览页缺少公司名: %w", retry.ErrMalformed)
	}
	if err := w.companies.Upsert(company); err != nil {
		return nil, fmt.Errorf("写入公司档案失败: %v: %w", err, retry.ErrTransient)
	}
	// 回查必须带上 ticker, 同名公司可能以不同代码各自建档
	registered, err := w.companies.FindByNameAndTicker(company.Name, company.Ticker)
	if err != nil {
		return nil, fmt.Errorf("回查公司档案失败: %v: %w", err, retry.ErrTransient)
	}

	record := &model.Document{
		ContentHash: doc.ContentHash,
		FileName:    doc.FileName,
		CompanyID:   &registered.ID,
		ReportDate:  facts.ReportDate,
		ReportType:  facts.ReportType,
		Rating:      facts.Rating,
		PageCount:   doc.PageCount,
	}
	if err := w.documents.Upsert(record); err != nil {
		return nil, fmt.Errorf("写入文档记录失败: %v: %w", err, retry.ErrTransient)
	}
	log.Infof("[Writer] 公司 %q 登记完成 (文档 %s)", registered.Name, shortHash(doc.ContentHash))
	return registered, nil
}

// RegisterPlaceholder 在概览页失败后用文件名兜底一条占位公司，
// 让其余页面的结果有归属。占位记录会被后续任何真实档案覆盖。
func (w *Writer) RegisterPlaceholder(ctx context.Context, doc DocMeta) (*model.Company, error) {
	name := placeholderName(doc.FileName)
	company, err := w.companies.EnsurePlaceholder(name, "", doc.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("写入占位公司失败: %v: %w", err, retry.ErrTransient)
	}

	record := &model.Document{
		ContentHash: doc.ContentHash,
		FileName:    doc.FileName,
		CompanyID:   &company.ID,
		PageCount:   doc.PageCount,
	}
	if err := w.documents.Upsert(record); err != nil {
		return nil, fmt.Errorf("写入文档记录失败: %v: %w", err, retry.ErrTransient)
	}
	log.Warnf("[Writer] 概览页未产出公司档案, 以占位公司 %q 承接文档 %s", name, shortHash(doc.ContentHash))
	return company, nil
}

// WritePage 落盘单页抽取结果，返回写入文本索引的块标识。
// resolve 把模型原始字段名映射为注册表规范名。
// 写入顺序固定：先量化指标入关系库，后定性块入文本索引。
func (w *Writer) WritePage(ctx context.Context, company *model.Company, doc DocMeta, pageNumber int, result *extraction.PageResult, resolve func(string) string) ([]string, error) {
	docRecord, err := w.documents.FindByHash(doc.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("查找文档记录失败: %v: %w", err, retry.ErrTransient)
	}

	metrics := make([]model.Metric, 0, len(result.Metrics))
	for _, m := range result.Metrics {
		metrics = append(metrics, model.Metric{
			CompanyID:    company.ID,
			DocumentID:   docRecord.ID,
			DocumentHash: doc.ContentHash,
			PageNumber:   pageNumber,
			FieldName:    resolve(m.FieldName),
			Value:        m.Value,
			Unit:         m.Unit,
			TimePeriod:   m.TimePeriod,
			IsForecast:   m.IsForecast,
		})
	}
	if err := w.metrics.BatchCreate(metrics); err != nil {
		return nil, fmt.Errorf("批量写入指标失败: %v: %w", err, retry.ErrTransient)
	}

	var chunkIDs []string
	for i, chunk := range result.Qualitative {
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}
		vector, err := w.embedder.CreateEmbedding(ctx, text)
		if err != nil {
			return chunkIDs, fmt.Errorf("定性块向量化失败: %v: %w", err, retry.ErrTransient)
		}
		esChunk := model.EsChunk{
			ChunkID:        fmt.Sprintf("%s_p%d_c%d", doc.ContentHash, pageNumber, i),
			CompanyID:      company.ID,
			CompanyName:    company.Name,
			DocumentHash:   doc.ContentHash,
			PageNumber:     pageNumber,
			FieldName:      resolve(chunk.SectionHeading),
			SectionHeading: chunk.SectionHeading,
			TextContent:    text,
			Vector:         vector,
			ModelVersion:   w.modelVersion,
		}
		if err := w.indexer.IndexChunk(ctx, esChunk); err != nil {
			return chunkIDs, fmt.Errorf("写入文本索引失败: %v: %w", err, retry.ErrTransient)
		}
		chunkIDs = append(chunkIDs, esChunk.ChunkID)
	}
	return chunkIDs, nil
}

// RetireDocument 清退某文档在两个存储中的全部数据。
// 重处理前调用可保证旧结果不与新结果混存；终态失败后调用可保证失败文档零残留。
func (w *Writer) RetireDocument(ctx context.Context, contentHash string) error {
	if err := w.metrics.RetireByDocumentHash(contentHash); err != nil {
		return fmt.Errorf("退役指标失败: %w", err)
	}
	if err := w.indexer.DeleteByDocument(ctx, contentHash); err != nil {
		return fmt.Errorf("清除文本索引块失败: %w", err)
	}
	return nil
}

// RemoveDocument 彻底下线一个文档：清退数据并删除文档记录。
func (w *Writer) RemoveDocument(ctx context.Context, contentHash string) error {
	if err := w.RetireDocument(ctx, contentHash); err != nil {
		return err
	}
	if err := w.documents.DeleteByHash(contentHash); err != nil {
		return fmt.Errorf("删除文档记录失败: %w", err)
	}
	return nil
}

// Reconcile 对账两个存储：以文档指纹集合做差集，找出只在一侧出现的文档。
// 只报告，不自动修复。
func (w *Writer) Reconcile(ctx context.Context) (missingInChunks, missingInFacts []string, err error) {
	factHashes, err := w.metrics.ActiveDocumentHashes()
	if err != nil {
		return nil, nil, fmt.Errorf("读取关系库文档集合失败: %w", err)
	}
	chunkHashes, err := w.indexer.DocumentHashes(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("读取文本索引文档集合失败: %w", err)
	}

	factSet := make(map[string]bool, len(factHashes))
	for _, h := range factHashes {
		factSet[h] = true
	}
	chunkSet := make(map[string]bool, len(chunkHashes))
	for _, h := range chunkHashes {
		chunkSet[h] = true
	}

	for _, h := range factHashes {
		if !chunkSet[h] {
			missingInChunks = append(missingInChunks, h)
		}
	}
	for _, h := range chunkHashes {
		if !factSet[h] {
			missingInFacts = append(missingInFacts, h)
		}
	}
	sort.Strings(missingInChunks)
	sort.Strings(missingInFacts)
	return missingInChunks, missingInFacts, nil
}

// placeholderName 从文件名推导占位公司名，例如 "Infosys_Q1FY25.pdf" -> "Infosys".
func placeholderName(fileName string) string {
	stem := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	if idx := strings.IndexAny(stem, "_-"); idx > 0 {
		stem = stem[:idx]
	}
	if stem == "" {
		stem = "unknown-" + time.Now().Format("20060102150405")
	}
	return stem
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
