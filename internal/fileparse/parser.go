package fileparse

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	"github.com/aihub/assistant-go/internal/errors"
)

// Parser 从上传文件中提取可摄取的纯文本
type Parser interface {
	Parse(reader io.Reader, filename string) (string, error)
	Supports(filename string) bool
	ContentType() string
}

// TextParser 纯文本与Markdown解析器
type TextParser struct{}

func (p *TextParser) Supports(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".txt" || ext == ".md" || ext == ".markdown"
}

func (p *TextParser) ContentType() string { return "text/plain" }

func (p *TextParser) Parse(reader io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", errors.NewInvalidInputError("file", fmt.Sprintf("failed to read %s: %v", filename, err))
	}
	return string(content), nil
}

// PDFParser PDF解析器；单页提取失败跳过该页而不是放弃整份文档
type PDFParser struct{}

func (p *PDFParser) Supports(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".pdf"
}

func (p *PDFParser) ContentType() string { return "application/pdf" }

func (p *PDFParser) Parse(reader io.Reader, filename string) (string, error) {
	pdfBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", errors.NewInvalidInputError("file", fmt.Sprintf("failed to read %s: %v", filename, err))
	}

	pdfReader, err := model.NewPdfReader(bytes.NewReader(pdfBytes))
	if err != nil {
		return "", errors.NewInvalidInputError("file", fmt.Sprintf("not a readable PDF: %v", err))
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", errors.NewInvalidInputError("file", fmt.Sprintf("failed to read PDF page count: %v", err))
	}

	var text strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			continue
		}
		pageText, err := ex.ExtractText()
		if err != nil {
			continue
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}
	return text.String(), nil
}

// WordParser docx解析器
type WordParser struct{}

func (p *WordParser) Supports(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".docx" || ext == ".doc"
}

func (p *WordParser) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

func (p *WordParser) Parse(reader io.Reader, filename string) (string, error) {
	if strings.ToLower(filepath.Ext(filename)) == ".doc" {
		return "", errors.NewInvalidInputError("file", "legacy .doc is not supported, convert to .docx")
	}

	docBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", errors.NewInvalidInputError("file", fmt.Sprintf("failed to read %s: %v", filename, err))
	}

	doc, err := document.Read(bytes.NewReader(docBytes), int64(len(docBytes)))
	if err != nil {
		return "", errors.NewInvalidInputError("file", fmt.Sprintf("not a readable docx: %v", err))
	}
	defer doc.Close()

	var text strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			text.WriteString(run.Text())
		}
		text.WriteString("\n")
	}
	return text.String(), nil
}

// ExcelParser xlsx解析器，单元格按制表符拼接成行
type ExcelParser struct{}

func (p *ExcelParser) Supports(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".xlsx" || ext == ".xls"
}

func (p *ExcelParser) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (p *ExcelParser) Parse(reader io.Reader, filename string) (string, error) {
	if strings.ToLower(filepath.Ext(filename)) == ".xls" {
		return "", errors.NewInvalidInputError("file", "legacy .xls is not supported, convert to .xlsx")
	}

	excelBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", errors.NewInvalidInputError("file", fmt.Sprintf("failed to read %s: %v", filename, err))
	}

	ss, err := spreadsheet.Read(bytes.NewReader(excelBytes), int64(len(excelBytes)))
	if err != nil {
		return "", errors.NewInvalidInputError("file", fmt.Sprintf("not a readable xlsx: %v", err))
	}
	defer ss.Close()

	var text strings.Builder
	for _, sheet := range ss.Sheets() {
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name()))
		for _, row := range sheet.Rows() {
			var cells []string
			for _, cell := range row.Cells() {
				cells = append(cells, cell.GetString())
			}
			if len(cells) > 0 {
				text.WriteString(strings.Join(cells, "\t"))
				text.WriteString("\n")
			}
		}
		text.WriteString("\n")
	}
	return text.String(), nil
}

// Manager 按文件名后缀路由到具体解析器
type Manager struct {
	parsers []Parser
}

// NewManager 创建解析器管理器
func NewManager() *Manager {
	return &Manager{
		parsers: []Parser{
			&PDFParser{},
			&WordParser{},
			&ExcelParser{},
			&TextParser{},
		},
	}
}

// Parse 提取文本并返回识别到的内容类型
func (m *Manager) Parse(reader io.Reader, filename string) (text, contentType string, err error) {
	for _, parser := range m.parsers {
		if parser.Supports(filename) {
			text, err = parser.Parse(reader, filename)
			return text, parser.ContentType(), err
		}
	}
	return "", "", errors.NewInvalidInputError("file", fmt.Sprintf("unsupported file format %s", filepath.Ext(filename)))
}

// Supported 返回可解析的后缀列表
func (m *Manager) Supported() []string {
	return []string{".pdf", ".docx", ".xlsx", ".txt", ".md", ".markdown"}
}
