package models

import (
	"time"
)

// Document 已摄取文档表
//
// 主键是调用方提供的文档ID（字符串），与向量索引、关键词索引里的
// document_id一致。content_hash仅做普通索引：同一份内容允许以不同
// 文档ID重复摄取，去重只在“同ID同哈希”时短路。
type Document struct {
	ID          string    `gorm:"primaryKey;column:id;size:64" json:"id"`
	Title       string    `gorm:"column:title;size:500" json:"title"`
	Content     string    `gorm:"type:text;column:content" json:"content,omitempty"`
	Source      string    `gorm:"column:source;size:200" json:"source"`
	ContentHash string    `gorm:"column:content_hash;size:64;not null;index" json:"content_hash"`
	CharCount   int       `gorm:"column:char_count;not null" json:"char_count"`
	ChunkCount  int       `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	Status      string    `gorm:"column:status;size:20;not null;default:'pending';index" json:"status"`
	StoragePath string    `gorm:"column:storage_path;size:500" json:"storage_path"`
	ContentType string    `gorm:"column:content_type;size:100" json:"content_type"`
	LastError   string    `gorm:"type:text;column:last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Document) TableName() string {
	return "documents"
}

// 文档状态
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusIndexed    = "indexed"
	DocumentStatusFailed     = "failed"
)

// DocumentChunk 文档分块表
//
// chunk_key为 "{document_id}:{seq}"，与向量索引条目一一对应；
// 文档删除时与documents行在同一事务内级联清除。
type DocumentChunk struct {
	ID          uint      `gorm:"primaryKey;column:id" json:"id"`
	DocumentID  string    `gorm:"column:document_id;size:64;not null;index" json:"document_id"`
	Seq         int       `gorm:"column:seq;not null" json:"seq"`
	ChunkKey    string    `gorm:"column:chunk_key;size:255;not null;uniqueIndex" json:"chunk_key"`
	Text        string    `gorm:"type:text;column:text;not null" json:"text"`
	StartOffset int       `gorm:"column:start_offset;not null" json:"start_offset"`
	EndOffset   int       `gorm:"column:end_offset;not null" json:"end_offset"`
	Embedded    bool      `gorm:"column:embedded;default:false" json:"embedded"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`

	Document Document `gorm:"foreignKey:DocumentID;references:ID" json:"-"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}
