package pipeline

import (
	"context"
	"testing"

	"yanbao-go/internal/model"
	"yanbao-go/pkg/extraction"
)

func newTestWriter() (*Writer, *fakeMetricRepo, *fakeIndexer) {
	metrics := &fakeMetricRepo{}
	indexer := &fakeIndexer{}
	w := NewWriter(&fakeCompanyRepo{}, &fakeDocumentRepo{}, metrics, indexer, fakeEmbedder{}, "test-v1")
	return w, metrics, indexer
}

func TestReconcileReportsOneSidedDocuments(t *testing.T) {
	w, metrics, indexer := newTestWriter()
	ctx := context.Background()

	// both: 两侧都有; facts-only: 只有关系库; chunks-only: 只有文本索引
	metrics.BatchCreate([]model.Metric{
		{DocumentHash: "both", FieldName: "Revenue"},
		{DocumentHash: "facts-only", FieldName: "PAT"},
	})
	indexer.IndexChunk(ctx, model.EsChunk{ChunkID: "c1", DocumentHash: "both"})
	indexer.IndexChunk(ctx, model.EsChunk{ChunkID: "c2", DocumentHash: "chunks-only"})

	missingInChunks, missingInFacts, err := w.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(missingInChunks) != 1 || missingInChunks[0] != "facts-only" {
		t.Errorf("missingInChunks = %v, want [facts-only]", missingInChunks)
	}
	if len(missingInFacts) != 1 || missingInFacts[0] != "chunks-only" {
		t.Errorf("missingInFacts = %v, want [chunks-only]", missingInFacts)
	}
}

func TestRegisterFoundingReplacesPlaceholder(t *testing.T) {
	companies := &fakeCompanyRepo{}
	w := NewWriter(companies, &fakeDocumentRepo{}, &fakeMetricRepo{}, &fakeIndexer{}, fakeEmbedder{}, "test-v1")
	ctx := context.Background()
	doc := DocMeta{ContentHash: "h1", FileName: "Infosys_Q1.pdf", PageCount: 4}

	if _, err := w.RegisterPlaceholder(ctx, doc); err != nil {
		t.Fatalf("RegisterPlaceholder() error = %v", err)
	}
	placeholder, _ := companies.FindByName("Infosys")
	if placeholder == nil || !placeholder.Placeholder {
		t.Fatalf("placeholder = %+v, want placeholder company Infosys", placeholder)
	}

	// 同名同代码的真实档案到来后覆盖占位标记
	company, err := w.RegisterFounding(ctx, doc, &extraction.CompanyFacts{Name: "Infosys", Ticker: ""})
	if err != nil {
		t.Fatalf("RegisterFounding() error = %v", err)
	}
	if company.Placeholder {
		t.Error("founded company still marked placeholder")
	}
	if company.ID != placeholder.ID {
		t.Errorf("company ID = %d, want reuse of placeholder ID %d", company.ID, placeholder.ID)
	}
}

// 同名公司以不同代码各自建档时, 建档回查必须命中 ticker 匹配的那一条。
func TestRegisterFoundingDistinguishesTickers(t *testing.T) {
	companies := &fakeCompanyRepo{}
	w := NewWriter(companies, &fakeDocumentRepo{}, &fakeMetricRepo{}, &fakeIndexer{}, fakeEmbedder{}, "test-v1")
	ctx := context.Background()

	first, err := w.RegisterFounding(ctx, DocMeta{ContentHash: "h1", FileName: "a.pdf"},
		&extraction.CompanyFacts{Name: "Apex", Ticker: "APEX1"})
	if err != nil {
		t.Fatalf("RegisterFounding() error = %v", err)
	}
	second, err := w.RegisterFounding(ctx, DocMeta{ContentHash: "h2", FileName: "b.pdf"},
		&extraction.CompanyFacts{Name: "Apex", Ticker: "APEX2"})
	if err != nil {
		t.Fatalf("RegisterFounding() error = %v", err)
	}

	if second.Ticker != "APEX2" {
		t.Errorf("Ticker = %q, want APEX2", second.Ticker)
	}
	if second.ID == first.ID {
		t.Error("same company row reused for distinct tickers")
	}
}

func TestRegisterFoundingRejectsEmptyName(t *testing.T) {
	w, _, _ := newTestWriter()
	doc := DocMeta{ContentHash: "h1", FileName: "x.pdf"}

	if _, err := w.RegisterFounding(context.Background(), doc, &extraction.CompanyFacts{Name: "  "}); err == nil {
		t.Error("RegisterFounding() error = nil, want malformed error for empty name")
	}
}

func TestPlaceholderName(t *testing.T) {
	tests := []struct {
		fileName string
		want     string
	}{
		{"Infosys_Q1FY25.pdf", "Infosys"},
		{"TCS-Annual-2026.pdf", "TCS"},
		{"Wipro.pdf", "Wipro"},
	}
	for _, tt := range tests {
		if got := placeholderName(tt.fileName); got != tt.want {
			t.Errorf("placeholderName(%q) = %q, want %q", tt.fileName, got, tt.want)
		}
	}
}
