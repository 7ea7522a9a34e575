package schema

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// fakeClassifier 按预置映射判定同义词，并记录被问到的候选名。
type fakeClassifier struct {
	matches map[string]string
	asked   []string
}

func (f *fakeClassifier) Classify(_ context.Context, candidate string, _ []string) (string, error) {
	f.asked = append(f.asked, candidate)
	return f.matches[candidate], nil
}

func newRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return r, path
}

// quantitative 把一组字段名包装为量化候选。
func quantitative(names ...string) []Candidate {
	out := make([]Candidate, 0, len(names))
	for _, name := range names {
		out = append(out, Candidate{Name: name, Category: CategoryQuantitative, DataType: "number"})
	}
	return out
}

func TestAbsorbNewFields(t *testing.T) {
	r, _ := newRegistry(t)
	cls := &fakeClassifier{matches: map[string]string{}}

	resolved, err := r.Absorb(context.Background(), quantitative("Revenue", "EBITDA Margin"), "doc1", cls)
	if err != nil {
		t.Fatalf("Absorb() error = %v", err)
	}
	if resolved["Revenue"] != "Revenue" || resolved["EBITDA Margin"] != "EBITDA Margin" {
		t.Errorf("resolved = %v, want identity mapping", resolved)
	}

	snap := r.Snapshot()
	if snap.Version != 1 {
		t.Errorf("Version = %d, want 1", snap.Version)
	}
	if len(snap.Fields) != 2 {
		t.Errorf("len(Fields) = %d, want 2", len(snap.Fields))
	}
	if got := snap.Fields[0].Provenance; len(got) != 1 || got[0] != "doc1" {
		t.Errorf("Provenance = %v, want [doc1]", got)
	}
}

// 候选携带的类别、数据类型与单位在首次登记时记录。
func TestAbsorbRecordsTypedAttributes(t *testing.T) {
	r, _ := newRegistry(t)
	cls := &fakeClassifier{matches: map[string]string{}}

	candidates := []Candidate{
		{Name: "Target Price", Category: CategoryQuantitative, DataType: "number", Unit: "INR"},
		{Name: "Management Commentary", Category: CategoryQualitative, DataType: "text"},
	}
	if _, err := r.Absorb(context.Background(), candidates, "doc1", cls); err != nil {
		t.Fatalf("Absorb() error = %v", err)
	}

	byName := make(map[string]FieldEntry)
	for _, f := range r.Snapshot().Fields {
		byName[f.Canonical] = f
	}
	tp := byName["Target Price"]
	if tp.Category != CategoryQuantitative || tp.DataType != "number" || tp.Unit != "INR" {
		t.Errorf("Target Price = %+v, want quantitative/number/INR", tp)
	}
	mc := byName["Management Commentary"]
	if mc.Category != CategoryQualitative || mc.DataType != "text" || mc.Unit != "" {
		t.Errorf("Management Commentary = %+v, want qualitative/text without unit", mc)
	}
}

// 已注册的名字（含大小写与空白差异）不触发分类器调用。
func TestAbsorbExactMatchSkipsClassifier(t *testing.T) {
	r, _ := newRegistry(t)
	cls := &fakeClassifier{matches: map[string]string{}}

	if _, err := r.Absorb(context.Background(), quantitative("Revenue"), "doc1", cls); err != nil {
		t.Fatalf("Absorb() error = %v", err)
	}
	cls.asked = nil

	resolved, err := r.Absorb(context.Background(), quantitative("revenue", "  Revenue  "), "doc2", cls)
	if err != nil {
		t.Fatalf("Absorb() error = %v", err)
	}
	if len(cls.asked) != 0 {
		t.Errorf("classifier asked about %v, want no calls for registered names", cls.asked)
	}
	if resolved["revenue"] != "Revenue" {
		t.Errorf("resolved[revenue] = %q, want Revenue", resolved["revenue"])
	}

	// 无变更时版本不递增
	if v := r.Snapshot().Version; v != 1 {
		t.Errorf("Version = %d, want 1", v)
	}
}

func TestAbsorbSynonymMerge(t *testing.T) {
	r, _ := newRegistry(t)
	cls := &fakeClassifier{matches: map[string]string{"Total Revenue": "Revenue"}}

	if _, err := r.Absorb(context.Background(), quantitative("Revenue"), "doc1", cls); err != nil {
		t.Fatalf("Absorb() error = %v", err)
	}
	resolved, err := r.Absorb(context.Background(), quantitative("Total Revenue"), "doc2", cls)
	if err != nil {
		t.Fatalf("Absorb() error = %v", err)
	}
	if resolved["Total Revenue"] != "Revenue" {
		t.Errorf("resolved = %v, want Total Revenue -> Revenue", resolved)
	}

	snap := r.Snapshot()
	if len(snap.Fields) != 1 {
		t.Fatalf("len(Fields) = %d, want 1", len(snap.Fields))
	}
	if got := snap.Fields[0].Synonyms; len(got) != 1 || got[0] != "Total Revenue" {
		t.Errorf("Synonyms = %v, want [Total Revenue]", got)
	}
	// 同义词并入也累积来源文档
	if got := snap.Fields[0].Provenance; len(got) != 2 || got[0] != "doc1" || got[1] != "doc2" {
		t.Errorf("Provenance = %v, want [doc1 doc2]", got)
	}
	if canonical, ok := snap.Resolve("total revenue"); !ok || canonical != "Revenue" {
		t.Errorf("Resolve(total revenue) = %q, %v", canonical, ok)
	}
}

func TestAbsorbUnknownCanonicalConflict(t *testing.T) {
	r, _ := newRegistry(t)
	cls := &fakeClassifier{matches: map[string]string{"Sales": "Turnover"}} // Turnover 不存在

	if _, err := r.Absorb(context.Background(), quantitative("Revenue"), "doc1", cls); err != nil {
		t.Fatalf("Absorb() error = %v", err)
	}
	_, err := r.Absorb(context.Background(), quantitative("Sales"), "doc2", cls)
	if !errors.Is(err, ErrSynonymConflict) {
		t.Errorf("Absorb() error = %v, want ErrSynonymConflict", err)
	}
}

// 落盘后重新加载，版本、类型属性与解析结果保持一致。
func TestPersistenceRoundtrip(t *testing.T) {
	r, path := newRegistry(t)
	cls := &fakeClassifier{matches: map[string]string{"Net Sales": "Revenue"}}

	candidates := []Candidate{
		{Name: "Revenue", Category: CategoryQuantitative, DataType: "number", Unit: "INR Cr"},
		{Name: "PAT", Category: CategoryQuantitative, DataType: "number"},
	}
	if _, err := r.Absorb(context.Background(), candidates, "doc1", cls); err != nil {
		t.Fatalf("Absorb() error = %v", err)
	}
	if _, err := r.Absorb(context.Background(), quantitative("Net Sales"), "doc2", cls); err != nil {
		t.Fatalf("Absorb() error = %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	snap := reloaded.Snapshot()
	if snap.Version != 2 {
		t.Errorf("Version = %d, want 2", snap.Version)
	}
	if canonical, ok := snap.Resolve("net sales"); !ok || canonical != "Revenue" {
		t.Errorf("Resolve(net sales) = %q, %v, want Revenue, true", canonical, ok)
	}
	if canonical, ok := snap.Resolve("PAT"); !ok || canonical != "PAT" {
		t.Errorf("Resolve(PAT) = %q, %v, want PAT, true", canonical, ok)
	}
	for _, f := range snap.Fields {
		if f.Canonical == "Revenue" {
			if f.Unit != "INR Cr" || f.Category != CategoryQuantitative {
				t.Errorf("Revenue = %+v, lost typed attributes across reload", f)
			}
			if len(f.Provenance) != 2 {
				t.Errorf("Revenue provenance = %v, want two documents", f.Provenance)
			}
		}
	}
}

// 读取方持有的快照不受后续合并影响。
func TestSnapshotIsolation(t *testing.T) {
	r, _ := newRegistry(t)
	cls := &fakeClassifier{matches: map[string]string{}}

	if _, err := r.Absorb(context.Background(), quantitative("Revenue"), "doc1", cls); err != nil {
		t.Fatalf("Absorb() error = %v", err)
	}
	old := r.Snapshot()

	if _, err := r.Absorb(context.Background(), quantitative("ROE"), "doc2", cls); err != nil {
		t.Fatalf("Absorb() error = %v", err)
	}
	if _, ok := old.Resolve("ROE"); ok {
		t.Error("old snapshot resolves ROE, want isolation from later merges")
	}
	if _, ok := r.Snapshot().Resolve("ROE"); !ok {
		t.Error("new snapshot does not resolve ROE")
	}
}
