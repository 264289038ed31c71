// Package knowledge loads the local medical literature used by the expert agent.
//
// Documents are markdown files, optionally starting with a YAML front matter
// block:
//
//	---
//	title: Viêm phế quản cấp
//	tags: [ho, sốt, phế quản]
//	---
//	## Chẩn đoán
//	...
//
// Each document is split into sections at "## " headings. Retrieval ranks
// sections by accent-insensitive keyword overlap with the query.
package knowledge

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path"
	"sort"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/medical-examination-assistant/internal/domain"
)

// FrontMatter is the optional YAML header of a document
type FrontMatter struct {
	Title  string   `yaml:"title"`
	Tags   []string `yaml:"tags"`
	Source string   `yaml:"source"`
}

// Chunk is one retrievable section of a document
type Chunk struct {
	Source  string
	Title   string
	Content string

	terms map[string]int
}

// Reference is the citation name of the chunk's document
func (c Chunk) Reference() string {
	return strings.TrimSuffix(c.Source, ".md")
}

// Base is an in-memory index of the knowledge directory
type Base struct {
	chunks   []Chunk
	docFreq  map[string]int
	defaultK int
}

// Open loads every .md file under dir. A missing directory gives an empty base.
func Open(dir string, topK int, logger *logrus.Logger) (*Base, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		logger.WithField("dir", dir).Warn("Knowledge directory not found, expert agent will run without references")
		return Load(nil, topK)
	}

	base, err := Load(os.DirFS(dir), topK)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"dir":    dir,
		"chunks": base.Len(),
	}).Info("Knowledge base loaded")
	return base, nil
}

// Load indexes the markdown files of fsys. A nil fsys gives an empty base.
func Load(fsys fs.FS, topK int) (*Base, error) {
	if topK <= 0 {
		topK = 3
	}
	base := &Base{docFreq: map[string]int{}, defaultK: topK}
	if fsys == nil {
		return base, nil
	}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(path.Ext(p), ".md") {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		chunks, err := parseDocument(path.Base(p), data)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		for _, c := range chunks {
			base.add(c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}
	return base, nil
}

// Len is the number of indexed chunks
func (b *Base) Len() int {
	return len(b.chunks)
}

func (b *Base) add(c Chunk) {
	for term := range c.terms {
		b.docFreq[term]++
	}
	b.chunks = append(b.chunks, c)
}

// Retrieve returns up to k chunks ranked by relevance to query; k <= 0 uses the configured default.
func (b *Base) Retrieve(query string, k int) []Chunk {
	if k <= 0 {
		k = b.defaultK
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 || len(b.chunks) == 0 {
		return nil
	}

	type scored struct {
		index int
		score float64
	}
	n := float64(len(b.chunks))
	var ranked []scored
	for i, c := range b.chunks {
		var score float64
		for term := range queryTerms {
			tf := c.terms[term]
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + n/float64(b.docFreq[term]))
			score += (1 + math.Log(float64(tf))) * idf
		}
		if score > 0 {
			ranked = append(ranked, scored{index: i, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	out := make([]Chunk, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, b.chunks[r.index])
	}
	return out
}

// Context joins chunk contents the way the expert prompt expects
func Context(chunks []Chunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Content)
	}
	return strings.Join(parts, "\n---\n")
}

// References lists the unique document names of chunks in rank order
func References(chunks []Chunk) []string {
	refs := []string{}
	seen := map[string]bool{}
	for _, c := range chunks {
		ref := c.Reference()
		if seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

var frontMatterDelim = []byte("---")

func parseDocument(name string, data []byte) ([]Chunk, error) {
	var meta FrontMatter
	body := data

	trimmed := bytes.TrimLeft(data, "\ufeff \t\r\n")
	if bytes.HasPrefix(trimmed, frontMatterDelim) {
		rest := trimmed[len(frontMatterDelim):]
		end := bytes.Index(rest, append([]byte("\n"), frontMatterDelim...))
		if end >= 0 {
			if err := yaml.Unmarshal(rest[:end], &meta); err != nil {
				return nil, fmt.Errorf("invalid front matter: %w", err)
			}
			body = rest[end+1+len(frontMatterDelim):]
		}
	}

	source := name
	if meta.Source != "" {
		source = meta.Source
	}
	title := meta.Title
	if title == "" {
		title = strings.TrimSuffix(name, path.Ext(name))
	}
	tagText := strings.Join(meta.Tags, " ")

	var chunks []Chunk
	for _, section := range splitSections(string(body)) {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Source:  source,
			Title:   title,
			Content: section,
			terms:   termCounts(title + " " + tagText + " " + section),
		})
	}
	return chunks, nil
}

func splitSections(body string) []string {
	var sections []string
	var current strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "## ") && current.Len() > 0 {
			sections = append(sections, current.String())
			current.Reset()
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	if current.Len() > 0 {
		sections = append(sections, current.String())
	}
	return sections
}

func termCounts(text string) map[string]int {
	counts := map[string]int{}
	for _, w := range words(text) {
		counts[w]++
	}
	return counts
}

func tokenize(text string) map[string]bool {
	set := map[string]bool{}
	for _, w := range words(text) {
		set[w] = true
	}
	return set
}

// words folds text and keeps tokens of two or more letters or digits
func words(text string) []string {
	fields := strings.FieldsFunc(domain.Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
