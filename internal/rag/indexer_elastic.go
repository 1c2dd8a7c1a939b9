package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/aihub/assistant-go/internal/errors"
)

// ElasticsearchOptions ES客户端配置
type ElasticsearchOptions struct {
	Addresses   []string
	Username    string
	Password    string
	APIKey      string
	IndexPrefix string
}

// ElasticsearchIndexer 基于ES的关键词索引
type ElasticsearchIndexer struct {
	client    *elasticsearch.Client
	indexName string

	mu      sync.Mutex
	ensured bool
}

// NewElasticsearchIndexer 创建ES索引器，未配置地址时返回Noop实现
func NewElasticsearchIndexer(opts ElasticsearchOptions) (KeywordIndexer, error) {
	if len(opts.Addresses) == 0 {
		return &NoopIndexer{}, nil
	}

	cfg := elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
		APIKey:    opts.APIKey,
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	prefix := opts.IndexPrefix
	if prefix == "" {
		prefix = "assistant"
	}

	return &ElasticsearchIndexer{
		client:    client,
		indexName: prefix + "_chunks",
	}, nil
}

func (e *ElasticsearchIndexer) ensureIndex(ctx context.Context) error {
	e.mu.Lock()
	if e.ensured {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	req := esapi.IndicesExistsRequest{
		Index: []string{e.indexName},
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		e.mu.Lock()
		e.ensured = true
		e.mu.Unlock()
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"chunk_id":     map[string]interface{}{"type": "keyword"},
				"document_id":  map[string]interface{}{"type": "keyword"},
				"seq":          map[string]interface{}{"type": "integer"},
				"start_offset": map[string]interface{}{"type": "integer"},
				"end_offset":   map[string]interface{}{"type": "integer"},
				"content": map[string]interface{}{
					"type":          "text",
					"analyzer":      "standard",
					"index_options": "offsets",
				},
				"metadata": map[string]interface{}{"type": "object", "enabled": true},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	createReq := esapi.IndicesCreateRequest{
		Index: e.indexName,
		Body:  bytes.NewReader(body),
	}
	createResp, err := createReq.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer createResp.Body.Close()

	if createResp.IsError() {
		return fmt.Errorf("create index error: %s", createResp.String())
	}

	e.mu.Lock()
	e.ensured = true
	e.mu.Unlock()
	return nil
}

// IndexChunks 批量写入chunk，文档ID取chunk_id保证幂等覆盖
func (e *ElasticsearchIndexer) IndexChunks(ctx context.Context, entries []IndexEntry) error {
	if e.client == nil || len(entries) == 0 {
		return nil
	}
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}

	for _, entry := range entries {
		doc := map[string]interface{}{
			"chunk_id":     entry.ChunkID,
			"document_id":  entry.DocumentID,
			"seq":          entry.Seq,
			"content":      entry.Text,
			"start_offset": entry.StartOffset,
			"end_offset":   entry.EndOffset,
			"metadata":     entry.Metadata,
		}

		payload, _ := json.Marshal(doc)
		req := esapi.IndexRequest{
			Index:      e.indexName,
			DocumentID: entry.ChunkID,
			Body:       bytes.NewReader(payload),
			Refresh:    "true",
		}

		resp, err := req.Do(ctx, e.client)
		if err != nil {
			return err
		}
		if resp.IsError() {
			message := resp.String()
			resp.Body.Close()
			return fmt.Errorf("index chunk error: %s", message)
		}
		resp.Body.Close()
	}

	return nil
}

// DeleteDocument 按文档ID删除全部chunk
func (e *ElasticsearchIndexer) DeleteDocument(ctx context.Context, documentID string) error {
	if e.client == nil {
		return nil
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"document_id": documentID,
			},
		},
	}

	body, _ := json.Marshal(query)
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{e.indexName},
		Body:    bytes.NewReader(body),
		Refresh: &refresh,
	}

	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("delete document error: %s", resp.String())
	}

	return nil
}

// Search 关键词检索，短语匹配优先、模糊匹配兜底
func (e *ElasticsearchIndexer) Search(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	if e.client == nil {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}

	boolQuery := map[string]interface{}{
		"should": []interface{}{
			map[string]interface{}{
				"match_phrase": map[string]interface{}{
					"content": map[string]interface{}{
						"query": query,
						"boost": 3.0,
					},
				},
			},
			map[string]interface{}{
				"match": map[string]interface{}{
					"content": map[string]interface{}{
						"query":                query,
						"operator":             "or",
						"minimum_should_match": "70%",
						"boost":                1.0,
					},
				},
			},
		},
		"minimum_should_match": 1,
	}

	body := map[string]interface{}{
		"size": topK,
		"query": map[string]interface{}{
			"bool": boolQuery,
		},
	}

	payload, _ := json.Marshal(body)
	searchReq := esapi.SearchRequest{
		Index: []string{e.indexName},
		Body:  bytes.NewReader(payload),
	}

	resp, err := searchReq.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("search error: %s", resp.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					ChunkID     string            `json:"chunk_id"`
					DocumentID  string            `json:"document_id"`
					Seq         int               `json:"seq"`
					Content     string            `json:"content"`
					StartOffset int               `json:"start_offset"`
					EndOffset   int               `json:"end_offset"`
					Metadata    map[string]string `json:"metadata"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	matches := make([]ScoredChunk, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		chunkID := hit.Source.ChunkID
		if chunkID == "" {
			chunkID = hit.ID
		}
		matches = append(matches, ScoredChunk{
			ChunkID:     chunkID,
			DocumentID:  hit.Source.DocumentID,
			Seq:         hit.Source.Seq,
			Text:        hit.Source.Content,
			StartOffset: hit.Source.StartOffset,
			EndOffset:   hit.Source.EndOffset,
			Score:       float32(hit.Score),
			Metadata:    hit.Source.Metadata,
		})
	}

	return matches, nil
}

// Ready 检查ES集群是否可达
func (e *ElasticsearchIndexer) Ready(ctx context.Context) error {
	if e.client == nil {
		return errors.NewBackendUnavailableError("elasticsearch", fmt.Errorf("elasticsearch client not initialized"))
	}
	resp, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return errors.NewBackendUnavailableError("elasticsearch", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return errors.NewBackendUnavailableError("elasticsearch",
			fmt.Errorf("elasticsearch ping returned status %d", resp.StatusCode))
	}
	return nil
}
