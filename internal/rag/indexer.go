package rag

import "context"

// KeywordIndexer 关键词索引抽象，作为向量检索的可选补充
type KeywordIndexer interface {
	IndexChunks(ctx context.Context, entries []IndexEntry) error
	DeleteDocument(ctx context.Context, documentID string) error
	Search(ctx context.Context, query string, topK int) ([]ScoredChunk, error)
	Ready(ctx context.Context) error
}

// NoopIndexer 默认占位实现，关键词检索未启用时使用
type NoopIndexer struct{}

func (n *NoopIndexer) IndexChunks(ctx context.Context, entries []IndexEntry) error {
	return nil
}

func (n *NoopIndexer) DeleteDocument(ctx context.Context, documentID string) error {
	return nil
}

func (n *NoopIndexer) Search(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	return nil, nil
}

func (n *NoopIndexer) Ready(ctx context.Context) error {
	return errKeywordIndexDisabled
}

type keywordIndexError string

func (e keywordIndexError) Error() string { return string(e) }

const errKeywordIndexDisabled = keywordIndexError("keyword index not configured")
