// Package service 提供了摄取、指标查询与检索相关的业务逻辑。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"

	"yanbao-go/internal/config"
	"yanbao-go/internal/model"
	"yanbao-go/pkg/embedding"
	"yanbao-go/pkg/log"
)

// SearchService 接口定义了定性文本块的检索操作。
type SearchService interface {
	// HybridSearch 对定性块执行向量召回 + BM25 重排的混合检索，可按公司过滤。
	HybridSearch(ctx context.Context, query, companyName string, topK int) ([]model.ChunkSearchResult, error)
}

type searchService struct {
	embeddingClient embedding.Client
	esClient        *elasticsearch.Client
	indexName       string
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embeddingClient embedding.Client, esClient *elasticsearch.Client, esCfg config.ElasticsearchConfig) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		indexName:       esCfg.IndexName,
	}
}

// HybridSearch 执行两阶段混合检索。
func (s *searchService) HybridSearch(ctx context.Context, query, companyName string, topK int) ([]model.ChunkSearchResult, error) {
	log.Infof("[SearchService] 开始执行混合检索, query: '%s', company: '%s', topK: %d", query, companyName, topK)
	if topK <= 0 {
		topK = 10
	}

	// 步骤1: 向量化查询
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	log.Debugf("[SearchService] 向量化查询成功, 向量维度: %d", len(queryVector))

	// 步骤2: 构建混合检索请求, knn 召回 + BM25 rescore
	boolQuery := map[string]interface{}{
		"must": map[string]interface{}{
			"match": map[string]interface{}{
				"text_content": query,
			},
		},
	}
	if companyName != "" {
		boolQuery["filter"] = map[string]interface{}{
			"term": map[string]interface{}{"company_name": companyName},
		}
	}
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              topK * 10,
			"num_candidates": topK * 10,
		},
		"query": map[string]interface{}{
			"bool": boolQuery,
		},
		"rescore": map[string]interface{}{
			"window_size": topK * 10,
			"query": map[string]interface{}{
				"rescore_query": map[string]interface{}{
					"match": map[string]interface{}{
						"text_content": map[string]interface{}{
							"query":    query,
							"operator": "and",
						},
					},
				},
				"query_weight":         0.2,
				"rescore_query_weight": 1.0,
			},
		},
		"size": topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	// 步骤3: 执行检索
	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.indexName),
		s.esClient.Search.WithBody(&buf),
		s.esClient.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		log.Errorf("[SearchService] 向 Elasticsearch 发送检索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[SearchService] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.String())
	}

	// 步骤4: 解析结果
	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.ChunkSearchResult, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.ChunkSearchResult{
			ChunkID:        hit.Source.ChunkID,
			CompanyName:    hit.Source.CompanyName,
			DocumentHash:   hit.Source.DocumentHash,
			PageNumber:     hit.Source.PageNumber,
			FieldName:      hit.Source.FieldName,
			SectionHeading: hit.Source.SectionHeading,
			TextContent:    hit.Source.TextContent,
			Score:          hit.Score,
		})
	}
	log.Infof("[SearchService] 混合检索执行完毕, 返回 %d 条结果", len(results))
	return results, nil
}
