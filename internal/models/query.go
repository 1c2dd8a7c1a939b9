package models

import (
	"time"
)

// QueryRecord 问答记录表
type QueryRecord struct {
	ID            uint      `gorm:"primaryKey;column:id" json:"id"`
	Question      string    `gorm:"type:text;column:question;not null" json:"question"`
	Answer        string    `gorm:"type:text;column:answer" json:"answer"`
	Outcome       string    `gorm:"column:outcome;size:20;not null;index" json:"outcome"`
	BlockCategory string    `gorm:"column:block_category;size:50" json:"block_category,omitempty"`
	SourceChunks  string    `gorm:"type:jsonb;column:source_chunks" json:"source_chunks,omitempty"`
	ModelName     string    `gorm:"column:model_name;size:100" json:"model_name"`
	TopK          int       `gorm:"column:top_k;not null" json:"top_k"`
	ChunksUsed    int       `gorm:"column:chunks_used;not null;default:0" json:"chunks_used"`
	PromptTokens  int       `gorm:"column:prompt_tokens;not null;default:0" json:"prompt_tokens"`
	LatencyMs     int64     `gorm:"column:latency_ms;not null;default:0" json:"latency_ms"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (QueryRecord) TableName() string {
	return "query_records"
}

// DocumentAnalysis 文档分析记录表
type DocumentAnalysis struct {
	ID           uint      `gorm:"primaryKey;column:id" json:"id"`
	DocumentID   string    `gorm:"column:document_id;size:64;index" json:"document_id,omitempty"`
	AnalysisType string    `gorm:"column:analysis_type;size:30;not null" json:"analysis_type"`
	Outcome      string    `gorm:"column:outcome;size:20;not null" json:"outcome"`
	Result       string    `gorm:"type:jsonb;column:result" json:"result"`
	LatencyMs    int64     `gorm:"column:latency_ms;not null;default:0" json:"latency_ms"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (DocumentAnalysis) TableName() string {
	return "document_analyses"
}
