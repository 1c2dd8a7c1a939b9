package rag

import (
	"fmt"
	"strings"

	"github.com/aihub/assistant-go/internal/errors"
)

// Chunk 表示分块后的文本片段
// StartOffset/EndOffset 为rune偏移量，EndOffset不包含
type Chunk struct {
	DocumentID  string
	Seq         int
	Text        string
	StartOffset int
	EndOffset   int
}

// Key 返回chunk的全局唯一标识
func (c Chunk) Key() string {
	return ChunkKey(c.DocumentID, c.Seq)
}

// ChunkKey 构造chunk标识，格式为 "{documentID}:{seq}"
func ChunkKey(documentID string, seq int) string {
	return fmt.Sprintf("%s:%d", documentID, seq)
}

// Chunker 文本分块器
// 按rune窗口切分，保持原文不变以保证重复摄入时结果完全一致
type Chunker struct {
	maxSize int
	overlap int
}

// NewChunker 创建分块器，参数非法时返回配置错误
func NewChunker(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, errors.NewConfigurationError("chunker", fmt.Sprintf("chunk size must be positive, got %d", maxSize))
	}
	if overlap < 0 {
		return nil, errors.NewConfigurationError("chunker", fmt.Sprintf("chunk overlap must not be negative, got %d", overlap))
	}
	if overlap >= maxSize {
		return nil, errors.NewConfigurationError("chunker", fmt.Sprintf("chunk overlap %d must be smaller than chunk size %d", overlap, maxSize))
	}
	return &Chunker{
		maxSize: maxSize,
		overlap: overlap,
	}, nil
}

// MaxSize 返回单个chunk的最大rune数
func (c *Chunker) MaxSize() int {
	return c.maxSize
}

// Overlap 返回相邻chunk的重叠rune数
func (c *Chunker) Overlap() int {
	return c.overlap
}

// Split 将文本切分为多个chunk
// 不做任何空白归一化：按Seq顺序拼接去掉重叠部分即可还原原文
func (c *Chunker) Split(documentID, text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	step := c.maxSize - c.overlap

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + c.maxSize
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, Chunk{
			DocumentID:  documentID,
			Seq:         len(chunks),
			Text:        string(runes[start:end]),
			StartOffset: start,
			EndOffset:   end,
		})

		if end == len(runes) {
			break
		}
	}

	return chunks
}
