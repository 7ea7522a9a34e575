package pipeline

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"yanbao-go/internal/model"
	"yanbao-go/pkg/extraction"
	"yanbao-go/pkg/render"
)

// fakeSource 是内存页面来源。
type fakeSource struct {
	pages map[string][]render.Page // contentHash -> pages
}

func (f *fakeSource) Pages(_ context.Context, contentHash string) ([]render.Page, error) {
	pages, ok := f.pages[contentHash]
	if !ok || len(pages) == 0 {
		return nil, fmt.Errorf("文档 %s 没有任何已渲染页面", contentHash)
	}
	return pages, nil
}

func (f *fakeSource) PageImage(_ context.Context, page render.Page) ([]byte, error) {
	return []byte(page.Object), nil
}

// fakeExtractor 按页码返回预置结果, 支持预置前若干次失败与页面门控。
type fakeExtractor struct {
	mu       sync.Mutex
	results  map[int]*extraction.PageResult
	failures map[int][]error // 每页依次消耗的失败
	calls    map[int]int
	gate     map[int]chan struct{} // 页码 -> 放行信号
}

func (f *fakeExtractor) ExtractPage(ctx context.Context, _ []byte, pageNumber int, _ []string) (*extraction.PageResult, error) {
	if gate, ok := f.gate[pageNumber]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[int]int)
	}
	f.calls[pageNumber]++

	if errs := f.failures[pageNumber]; len(errs) > 0 {
		err := errs[0]
		f.failures[pageNumber] = errs[1:]
		return nil, err
	}
	result, ok := f.results[pageNumber]
	if !ok {
		return &extraction.PageResult{}, nil
	}
	return result, nil
}

func (f *fakeExtractor) Classify(_ context.Context, _ string, _ []string) (string, error) {
	return "", nil
}

// fakeCompanyRepo 按 (name, ticker) 去重的内存公司库。
type fakeCompanyRepo struct {
	mu        sync.Mutex
	nextID    uint
	companies []*model.Company
}

func (f *fakeCompanyRepo) find(name, ticker string) *model.Company {
	for _, c := range f.companies {
		if c.Name == name && c.Ticker == ticker {
			return c
		}
	}
	return nil
}

func (f *fakeCompanyRepo) Upsert(company *model.Company) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing := f.find(company.Name, company.Ticker); existing != nil {
		existing.Sector = company.Sector
		existing.BSECode = company.BSECode
		existing.BloombergCode = company.BloombergCode
		existing.Placeholder = company.Placeholder
		existing.SourceDocHash = company.SourceDocHash
		return nil
	}
	f.nextID++
	company.ID = f.nextID
	f.companies = append(f.companies, company)
	return nil
}

func (f *fakeCompanyRepo) EnsurePlaceholder(name, ticker, sourceDocHash string) (*model.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing := f.find(name, ticker); existing != nil {
		return existing, nil
	}
	f.nextID++
	company := &model.Company{ID: f.nextID, Name: name, Ticker: ticker, Placeholder: true, SourceDocHash: sourceDocHash}
	f.companies = append(f.companies, company)
	return company, nil
}

func (f *fakeCompanyRepo) FindByName(name string) (*model.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.companies {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeCompanyRepo) FindByNameAndTicker(name, ticker string) (*model.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.find(name, ticker); c != nil {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeCompanyRepo) FindByID(id uint) (*model.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.companies {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeCompanyRepo) FindAll() ([]model.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Company, 0, len(f.companies))
	for _, c := range f.companies {
		out = append(out, *c)
	}
	return out, nil
}

// fakeDocumentRepo 按内容哈希去重的内存文档库。
type fakeDocumentRepo struct {
	mu     sync.Mutex
	nextID uint
	docs   map[string]*model.Document
}

func (f *fakeDocumentRepo) Upsert(doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs == nil {
		f.docs = make(map[string]*model.Document)
	}
	if existing, ok := f.docs[doc.ContentHash]; ok {
		existing.FileName = doc.FileName
		if doc.CompanyID != nil {
			existing.CompanyID = doc.CompanyID
		}
		existing.ReportDate = doc.ReportDate
		existing.ReportType = doc.ReportType
		existing.Rating = doc.Rating
		existing.PageCount = doc.PageCount
		return nil
	}
	f.nextID++
	doc.ID = f.nextID
	f.docs[doc.ContentHash] = doc
	return nil
}

func (f *fakeDocumentRepo) FindByHash(contentHash string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[contentHash]; ok {
		return doc, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeDocumentRepo) DeleteByHash(contentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, contentHash)
	return nil
}

func (f *fakeDocumentRepo) FindAll() ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Document, 0, len(f.docs))
	for _, d := range f.docs {
		out = append(out, *d)
	}
	return out, nil
}

// fakeMetricRepo 带软删除语义的内存指标库。
type fakeMetricRepo struct {
	mu      sync.Mutex
	metrics []model.Metric
}

func (f *fakeMetricRepo) BatchCreate(metrics []model.Metric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, metrics...)
	return nil
}

func (f *fakeMetricRepo) RetireByDocumentHash(contentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.metrics[:0]
	for _, m := range f.metrics {
		if m.DocumentHash != contentHash {
			kept = append(kept, m)
		}
	}
	f.metrics = kept
	return nil
}

func (f *fakeMetricRepo) ActiveDocumentHashes() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var hashes []string
	for _, m := range f.metrics {
		if !seen[m.DocumentHash] {
			seen[m.DocumentHash] = true
			hashes = append(hashes, m.DocumentHash)
		}
	}
	return hashes, nil
}

func (f *fakeMetricRepo) CountActive() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.metrics)), nil
}

func (f *fakeMetricRepo) CountActiveByDocument(contentHash string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, m := range f.metrics {
		if m.DocumentHash == contentHash {
			count++
		}
	}
	return count, nil
}

func (f *fakeMetricRepo) FindActiveByCompany(companyID uint, fieldName string) ([]model.Metric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Metric
	for _, m := range f.metrics {
		if m.CompanyID == companyID && (fieldName == "" || m.FieldName == fieldName) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMetricRepo) FindActiveByCompanies(companyIDs []uint, fieldName string) ([]model.Metric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[uint]bool)
	for _, id := range companyIDs {
		ids[id] = true
	}
	var out []model.Metric
	for _, m := range f.metrics {
		if ids[m.CompanyID] && m.FieldName == fieldName {
			out = append(out, m)
		}
	}
	return out, nil
}

// fakeIndexer 是内存文本索引。
type fakeIndexer struct {
	mu     sync.Mutex
	chunks map[string]model.EsChunk // chunk_id -> chunk
}

func (f *fakeIndexer) IndexChunk(_ context.Context, chunk model.EsChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunks == nil {
		f.chunks = make(map[string]model.EsChunk)
	}
	f.chunks[chunk.ChunkID] = chunk
	return nil
}

func (f *fakeIndexer) DeleteByDocument(_ context.Context, documentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, chunk := range f.chunks {
		if chunk.DocumentHash == documentHash {
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f *fakeIndexer) DocumentHashes(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var hashes []string
	for _, chunk := range f.chunks {
		if !seen[chunk.DocumentHash] {
			seen[chunk.DocumentHash] = true
			hashes = append(hashes, chunk.DocumentHash)
		}
	}
	return hashes, nil
}

func (f *fakeIndexer) CountChunks(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.chunks)), nil
}

// fakeEmbedder 返回固定向量。
type fakeEmbedder struct{}

func (fakeEmbedder) CreateEmbedding(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
