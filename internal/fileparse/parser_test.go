package fileparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerParseText(t *testing.T) {
	m := NewManager()

	text, contentType, err := m.Parse(strings.NewReader("hello world"), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, "text/plain", contentType)
}

func TestManagerParseMarkdown(t *testing.T) {
	m := NewManager()

	text, _, err := m.Parse(strings.NewReader("# Title\n\nbody"), "readme.md")
	require.NoError(t, err)
	assert.Contains(t, text, "# Title")
}

func TestManagerUnsupportedFormat(t *testing.T) {
	m := NewManager()

	_, _, err := m.Parse(strings.NewReader("binary"), "archive.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".zip")
}

func TestLegacyFormatsRejected(t *testing.T) {
	m := NewManager()

	_, _, err := m.Parse(strings.NewReader("old word"), "report.doc")
	require.Error(t, err)

	_, _, err = m.Parse(strings.NewReader("old excel"), "sheet.xls")
	require.Error(t, err)
}

func TestParserRouting(t *testing.T) {
	assert.True(t, (&PDFParser{}).Supports("a.PDF"))
	assert.True(t, (&WordParser{}).Supports("a.docx"))
	assert.True(t, (&ExcelParser{}).Supports("a.xlsx"))
	assert.True(t, (&TextParser{}).Supports("a.markdown"))
	assert.False(t, (&TextParser{}).Supports("a.pdf"))
}
