// Package loader reads local files into plain text ready for chunking.
package loader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for files whose extension has no reader.
var ErrUnsupported = errors.New("unsupported file type")

// Document is the text of one file along with where it came from.
type Document struct {
	Source  string
	Title   string
	Content string
}

// Extensions lists the file types Load understands.
var Extensions = []string{".txt", ".md", ".markdown", ".html", ".htm", ".pdf"}

// Load reads the file at path, picking a reader by extension.
func Load(path string) (Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		Source: "file://" + filepath.ToSlash(abs),
		Title:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		b, err := os.ReadFile(path)
		if err != nil {
			return Document{}, err
		}
		doc.Content = string(b)
	case ".md", ".markdown":
		b, err := os.ReadFile(path)
		if err != nil {
			return Document{}, err
		}
		doc.Content = string(b)
		if title := markdownTitle(b); title != "" {
			doc.Title = title
		}
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return Document{}, err
		}
		defer f.Close()

		title, content, err := ExtractHTML(f)
		if err != nil {
			return Document{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		doc.Content = content
		if title != "" {
			doc.Title = title
		}
	case ".pdf":
		content, err := readPDF(path)
		if err != nil {
			return Document{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		doc.Content = content
	default:
		return Document{}, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}

	return doc, nil
}

// LoadDir loads every supported file under root. Unsupported files are
// skipped; the first read error stops the walk.
func LoadDir(root string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !Supported(path) {
			return nil
		}

		doc, err := Load(path)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	return docs, err
}

// Supported reports whether Load has a reader for path.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func markdownTitle(b []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

func readPDF(path string) (string, error) {
	f, rdr, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := rdr.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, b); err != nil {
		return "", err
	}
	return buf.String(), nil
}
