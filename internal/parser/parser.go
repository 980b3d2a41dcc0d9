package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"robot-rag/internal/config"
	"robot-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Page is the text of one page, slide or sheet of a document. Numbers start at 1.
type Page struct {
	Number int
	Text   string
}

const defaultPageNumber = 1

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

var loaders = map[string]func(string) ([]Page, error){
	".pdf":  parsePDF,
	".docx": parseDOCX,
	".pptx": parsePPTX,
	".xlsx": parseXLSX,
	".xlsm": parseExcelize,
	".xltx": parseExcelize,
	".xltm": parseExcelize,
	".txt":  parseText,
	".md":   parseMarkdown,
	".html": parseHTML,
	".htm":  parseHTML,
}

// SupportedExtensions lists the file extensions ParseFile understands.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(loaders))
	for ext := range loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// IsSupported reports whether filePath has a loadable extension.
func IsSupported(filePath string) bool {
	_, ok := loaders[strings.ToLower(filepath.Ext(filePath))]
	return ok
}

// DocumentTypeOf maps a file extension to the stored document type.
func DocumentTypeOf(filePath string) models.DocumentType {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf":
		return models.DocumentTypePDF
	case ".txt", ".md":
		return models.DocumentTypeText
	case ".html", ".htm":
		return models.DocumentTypeWebPage
	default:
		return models.DocumentTypeOffice
	}
}

// LoadPages extracts the text of every page of the file.
func LoadPages(filePath string) ([]Page, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	load, ok := loaders[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	return load(filePath)
}

// ParseFile loads the file and chunks it page by page. Chunks carry the
// file's base name as source and are numbered across the whole document.
func ParseFile(filePath string, cfg *config.Config) ([]models.Chunk, error) {
	wordsPerChunk := models.DefaultWordsPerChunk
	if cfg != nil && cfg.RAG.WordsPerChunk > 0 {
		wordsPerChunk = cfg.RAG.WordsPerChunk
	}

	pages, err := LoadPages(filePath)
	if err != nil {
		return nil, err
	}
	return ChunkPages(filepath.Base(filePath), pages, wordsPerChunk), nil
}

// ChunkPages chunks each page in order.
func ChunkPages(source string, pages []Page, wordsPerChunk int) []models.Chunk {
	var chunks []models.Chunk
	for _, page := range pages {
		chunks = append(chunks, GetChunks(source, page.Number, page.Text, wordsPerChunk)...)
	}
	return AssignSequence(chunks)
}

func parsePDF(filePath string) ([]Page, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var pages []Page
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, Page{Number: i, Text: pageText})
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	text := extractXMLText(strings.NewReader(content), "w:p")
	return []Page{{Number: defaultPageNumber, Text: text}}, nil
}

func parsePPTX(filePath string) ([]Page, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for _, file := range f.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		slideNum, _ := strconv.Atoi(m[1])
		rc, err := file.Open()
		if err != nil {
			continue
		}
		text := extractXMLText(rc, "a:p")
		rc.Close()
		pages = append(pages, Page{Number: slideNum, Text: text})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

func parseXLSX(filePath string) ([]Page, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var pages []Page
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(sheet.Name + "\n")
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		pages = append(pages, Page{Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

// parseExcelize handles the macro-enabled and template workbook variants.
func parseExcelize(filePath string) ([]Page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		text.WriteString(sheetName + "\n")
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, Page{Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

func parseText(filePath string) ([]Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []Page{{Number: defaultPageNumber, Text: string(data)}}, nil
}

func parseMarkdown(filePath string) ([]Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	text, err := MarkdownToText(data)
	if err != nil {
		return nil, err
	}
	return []Page{{Number: defaultPageNumber, Text: text}}, nil
}

func parseHTML(filePath string) ([]Page, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	text, err := ExtractHTMLText(f)
	if err != nil {
		return nil, err
	}
	return []Page{{Number: defaultPageNumber, Text: text}}, nil
}

// MarkdownToText renders markdown and returns its visible text.
func MarkdownToText(source []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert(source, &buf); err != nil {
		return "", err
	}
	return ExtractHTMLText(&buf)
}
