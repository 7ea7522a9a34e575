// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"yanbao-go/internal/config"
	"yanbao-go/internal/model"
	"yanbao-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// ChunkIndexer 抽象了文本索引存储的写入与对账操作，便于管道在测试中替换实现。
type ChunkIndexer interface {
	IndexChunk(ctx context.Context, chunk model.EsChunk) error
	DeleteByDocument(ctx context.Context, documentHash string) error
	DocumentHashes(ctx context.Context) ([]string, error)
	CountChunks(ctx context.Context) (int64, error)
}

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// chunk_id 作为文档 ID，document_hash 用于按文档清退与跨库对账
	mapping := `{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"company_id": { "type": "long" },
				"company_name": { "type": "keyword" },
				"document_hash": { "type": "keyword" },
				"page_number": { "type": "integer" },
				"field_name": { "type": "keyword" },
				"section_heading": { "type": "text" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": 1536,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)

	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// chunkIndexer 是基于 go-elasticsearch 的 ChunkIndexer 实现。
type chunkIndexer struct {
	client    *elasticsearch.Client
	indexName string
}

// NewChunkIndexer 创建一个新的 ChunkIndexer 实例。
func NewChunkIndexer(client *elasticsearch.Client, indexName string) ChunkIndexer {
	return &chunkIndexer{client: client, indexName: indexName}
}

// IndexChunk 将单个文本块索引到 Elasticsearch。
func (c *chunkIndexer) IndexChunk(ctx context.Context, chunk model.EsChunk) error {
	docBytes, err := json.Marshal(chunk)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      c.indexName,
		DocumentID: chunk.ChunkID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文本块到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index chunk")
	}

	return nil
}

// DeleteByDocument 删除指定文档指纹下的全部文本块（文档清退）。
func (c *chunkIndexer) DeleteByDocument(ctx context.Context, documentHash string) error {
	query := fmt.Sprintf(`{"query": {"term": {"document_hash": %q}}}`, documentHash)
	res, err := c.client.DeleteByQuery(
		[]string{c.indexName},
		strings.NewReader(query),
		c.client.DeleteByQuery.WithContext(ctx),
		c.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("按文档删除文本块出错: %s", res.String())
		return errors.New("failed to delete chunks by document")
	}
	return nil
}

// DocumentHashes 返回文本索引中出现过的所有文档指纹，用于跨库对账。
func (c *chunkIndexer) DocumentHashes(ctx context.Context) ([]string, error) {
	query := `{"size": 0, "aggs": {"docs": {"terms": {"field": "document_hash", "size": 10000}}}}`
	res, err := c.client.Search(
		c.client.Search.WithContext(ctx),
		c.client.Search.WithIndex(c.indexName),
		c.client.Search.WithBody(strings.NewReader(query)),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("聚合文档指纹失败: %s", res.String())
	}

	var aggResponse struct {
		Aggregations struct {
			Docs struct {
				Buckets []struct {
					Key string `json:"key"`
				} `json:"buckets"`
			} `json:"docs"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&aggResponse); err != nil {
		return nil, fmt.Errorf("解析聚合响应失败: %w", err)
	}

	hashes := make([]string, 0, len(aggResponse.Aggregations.Docs.Buckets))
	for _, bucket := range aggResponse.Aggregations.Docs.Buckets {
		hashes = append(hashes, bucket.Key)
	}
	return hashes, nil
}

// CountChunks 返回文本索引中的文本块总数。
func (c *chunkIndexer) CountChunks(ctx context.Context) (int64, error) {
	res, err := c.client.Count(
		c.client.Count.WithContext(ctx),
		c.client.Count.WithIndex(c.indexName),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("统计文本块数量失败: %s", res.String())
	}

	var countResponse struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResponse); err != nil {
		return 0, err
	}
	return countResponse.Count, nil
}
