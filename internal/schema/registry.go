// Package schema 维护指标字段的版本化注册表。
// 注册表把模型输出的各种字段写法收敛到规范名，同义词集合互不相交。
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"yanbao-go/pkg/log"
)

// ErrSynonymConflict 表示一次合并会让某个名字同时属于两个规范集合。
var ErrSynonymConflict = errors.New("synonym set conflict")

// 字段类别。
const (
	CategoryQuantitative = "quantitative"
	CategoryQualitative  = "qualitative"
	CategoryMetadata     = "metadata"
)

// Classifier 判断候选字段名是否为某个既有规范名的同义词。
// 命中返回既有规范名，否则返回空串。
type Classifier interface {
	Classify(ctx context.Context, candidate string, existing []string) (string, error)
}

// Candidate 是待并入注册表的候选字段及其类型描述。
// 类型描述只在字段首次晋升为规范名时生效，后续同名候选不覆盖。
type Candidate struct {
	Name     string
	Category string
	DataType string
	Unit     string
}

// FieldEntry 是注册表中的一个规范字段及其同义词集合。
// Provenance 累积引入该字段及其各个同义词的文档哈希，供事后审计。
type FieldEntry struct {
	Canonical  string    `json:"canonical"`
	Category   string    `json:"category"`
	DataType   string    `json:"data_type"`
	Unit       string    `json:"unit,omitempty"`
	Synonyms   []string  `json:"synonyms"`
	Provenance []string  `json:"provenance"`
	AddedAt    time.Time `json:"added_at"`
}

// Snapshot 是注册表的不可变快照。读取方持有快照期间不受后续合并影响。
type Snapshot struct {
	Version int
	Fields  []FieldEntry

	index map[string]string // 归一化名字 -> 规范名
}

// Resolve 把任意写法解析为规范名。未注册时返回 false。
func (s *Snapshot) Resolve(name string) (string, bool) {
	canonical, ok := s.index[normalize(name)]
	return canonical, ok
}

// Canonicals 返回所有规范名，按字典序。
func (s *Snapshot) Canonicals() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Canonical)
	}
	sort.Strings(names)
	return names
}

// Registry 是单写者的字段注册表。合并串行执行，读取走无锁快照。
type Registry struct {
	path string
	mu   sync.Mutex
	snap atomic.Value // *Snapshot
}

type registryFile struct {
	Version   int                   `json:"version"`
	UpdatedAt time.Time             `json:"updated_at"`
	Fields    map[string]FieldEntry `json:"fields"`
	Stats     registryStats         `json:"stats"`
}

type registryStats struct {
	Fields   int `json:"fields"`
	Synonyms int `json:"synonyms"`
}

// Load 从磁盘加载注册表。文件不存在时返回版本 0 的空注册表。
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		r.snap.Store(buildSnapshot(0, nil))
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取注册表文件失败: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析注册表文件失败: %w", err)
	}
	fields := make([]FieldEntry, 0, len(file.Fields))
	for _, entry := range file.Fields {
		fields = append(fields, entry)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Canonical < fields[j].Canonical })
	r.snap.Store(buildSnapshot(file.Version, fields))
	log.Infof("[Schema] 注册表加载完成, 版本=%d, 字段数=%d", file.Version, len(fields))
	return r, nil
}

// Snapshot 返回当前快照。
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load().(*Snapshot)
}

// Absorb 把一批候选字段并入注册表，返回 候选名->规范名 的解析映射。
// 已注册的名字直接命中，不调用分类器；未注册的名字先由分类器做同义词判定，
// 命中则作为同义词并入既有集合并累积来源文档，否则晋升为新的规范字段。
// 发生任何变更时注册表版本加一并落盘。
func (r *Registry) Absorb(ctx context.Context, candidates []Candidate, docHash string, cls Classifier) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.Snapshot()
	resolved := make(map[string]string, len(candidates))

	// 本轮新增的变更，基于当前快照做写时复制
	fields := make([]FieldEntry, len(cur.Fields))
	copy(fields, cur.Fields)
	index := make(map[string]string, len(cur.index))
	for k, v := range cur.index {
		index[k] = v
	}
	changed := false

	for _, candidate := range candidates {
		name := strings.TrimSpace(candidate.Name)
		if name == "" {
			continue
		}
		if canonical, ok := index[normalize(name)]; ok {
			resolved[candidate.Name] = canonical
			continue
		}

		canonicals := make([]string, 0, len(fields))
		for _, f := range fields {
			canonicals = append(canonicals, f.Canonical)
		}
		match, err := cls.Classify(ctx, name, canonicals)
		if err != nil {
			return nil, fmt.Errorf("字段 %q 同义词判定失败: %w", name, err)
		}

		if match == "" {
			// 全新字段，晋升为规范名
			fields = append(fields, FieldEntry{
				Canonical:  name,
				Category:   candidate.Category,
				DataType:   candidate.DataType,
				Unit:       candidate.Unit,
				Synonyms:   []string{},
				Provenance: []string{docHash},
				AddedAt:    time.Now(),
			})
			index[normalize(name)] = name
			resolved[candidate.Name] = name
			changed = true
			log.Infof("[Schema] 新增规范字段 %q (类别 %s, 来源文档 %s)", name, candidate.Category, docHash)
			continue
		}

		// 并入既有集合前校验互斥性
		if owner, ok := index[normalize(name)]; ok && owner != match {
			return nil, fmt.Errorf("字段 %q 已属于 %q, 无法再并入 %q: %w", name, owner, match, ErrSynonymConflict)
		}
		merged := false
		for i := range fields {
			if fields[i].Canonical == match {
				fields[i].Synonyms = append(fields[i].Synonyms, name)
				fields[i].Provenance = appendProvenance(fields[i].Provenance, docHash)
				merged = true
				break
			}
		}
		if !merged {
			return nil, fmt.Errorf("分类器返回了未注册的规范名 %q: %w", match, ErrSynonymConflict)
		}
		index[normalize(name)] = match
		resolved[candidate.Name] = match
		changed = true
		log.Infof("[Schema] 字段 %q 并入 %q 的同义词集合", name, match)
	}

	if !changed {
		return resolved, nil
	}

	next := buildSnapshot(cur.Version+1, fields)
	if err := r.persist(next); err != nil {
		return nil, err
	}
	r.snap.Store(next)
	return resolved, nil
}

// persist 原子落盘：先写临时文件再改名，避免半写状态。
func (r *Registry) persist(snap *Snapshot) error {
	byName := make(map[string]FieldEntry, len(snap.Fields))
	synonyms := 0
	for _, f := range snap.Fields {
		byName[f.Canonical] = f
		synonyms += len(f.Synonyms)
	}
	file := registryFile{
		Version:   snap.Version,
		UpdatedAt: time.Now(),
		Fields:    byName,
		Stats:     registryStats{Fields: len(snap.Fields), Synonyms: synonyms},
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化注册表失败: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("创建注册表目录失败: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入注册表临时文件失败: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("替换注册表文件失败: %w", err)
	}
	return nil
}

func buildSnapshot(version int, fields []FieldEntry) *Snapshot {
	index := make(map[string]string)
	for _, f := range fields {
		index[normalize(f.Canonical)] = f.Canonical
		for _, syn := range f.Synonyms {
			index[normalize(syn)] = f.Canonical
		}
	}
	return &Snapshot{Version: version, Fields: fields, index: index}
}

// appendProvenance 记录来源文档，重复的哈希不累积。
func appendProvenance(list []string, docHash string) []string {
	for _, h := range list {
		if h == docHash {
			return list
		}
	}
	return append(list, docHash)
}

// normalize 做大小写与空白归一，抽取结果中同名字段的书写差异在这里消化。
func normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
