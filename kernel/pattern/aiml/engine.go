// Package aiml implements a small AIML-category matching engine usable as
// a pattern.Matcher.
//
// Categories are loaded from .aiml/.xml files. Matching is exact-first,
// then wildcard, with categories carrying a <that> clause tried before
// general ones so the engine can key on its own previous reply in the same
// session.
package aiml

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

type category struct {
	pattern  string
	that     string
	template string
	re       *regexp.Regexp // non-nil when pattern carries a wildcard
	thatRe   *regexp.Regexp // non-nil when that carries a wildcard
}

// Engine matches normalized utterances against loaded AIML categories.
// It keeps the last reply per session to resolve <that> clauses.
type Engine struct {
	categories []category

	mu        sync.Mutex
	lastReply map[string]string
}

type aimlFile struct {
	XMLName    xml.Name       `xml:"aiml"`
	Categories []aimlCategory `xml:"category"`
}

type aimlCategory struct {
	Pattern  string `xml:"pattern"`
	That     string `xml:"that"`
	Template string `xml:"template"`
}

// Load parses every .aiml and .xml file in dir.
func Load(dir string) (*Engine, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("aiml: read dir %q: %w", dir, err)
	}
	engine := &Engine{lastReply: map[string]string{}}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".aiml") && !strings.HasSuffix(name, ".xml") {
			continue
		}
		if err := engine.loadFile(filepath.Join(dir, name)); err != nil {
			return nil, err
		}
		loaded++
	}
	if loaded == 0 {
		return nil, fmt.Errorf("aiml: no category files in %q", dir)
	}
	return engine, nil
}

// New builds an engine from raw AIML documents, one per source string.
func New(sources ...string) (*Engine, error) {
	engine := &Engine{lastReply: map[string]string{}}
	for _, src := range sources {
		if err := engine.loadSource([]byte(src), "inline"); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

func (e *Engine) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("aiml: read %q: %w", path, err)
	}
	return e.loadSource(raw, path)
}

func (e *Engine) loadSource(raw []byte, origin string) error {
	var doc aimlFile
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("aiml: parse %q: %w", origin, err)
	}
	for _, cat := range doc.Categories {
		pattern := normalize(cat.Pattern)
		template := strings.TrimSpace(cat.Template)
		if pattern == "" || template == "" {
			continue
		}
		c := category{
			pattern:  pattern,
			that:     normalize(cat.That),
			template: template,
		}
		if strings.Contains(c.pattern, "*") {
			c.re = wildcardRegexp(c.pattern)
		}
		if strings.Contains(c.that, "*") {
			c.thatRe = wildcardRegexp(c.that)
		}
		e.categories = append(e.categories, c)
	}
	return nil
}

// Match implements pattern.Matcher. An empty return means no category
// applied; fallback categories signal no-match through their template
// text, not through this layer.
func (e *Engine) Match(ctx context.Context, question, sessionID string) (string, error) {
	_ = ctx
	input := normalize(question)
	if input == "" {
		return "", nil
	}

	e.mu.Lock()
	last := e.lastReply[sessionID]
	e.mu.Unlock()

	// Categories that key on the previous reply are more specific, so
	// they win over general ones.
	reply := e.findMatch(input, last, true)
	if reply == "" {
		reply = e.findMatch(input, last, false)
	}
	if reply == "" {
		return "", nil
	}

	e.mu.Lock()
	e.lastReply[sessionID] = normalize(reply)
	e.mu.Unlock()
	return reply, nil
}

func (e *Engine) findMatch(input, last string, withThat bool) string {
	// Exact patterns before wildcard patterns.
	for _, c := range e.categories {
		if (c.that != "") != withThat || c.re != nil {
			continue
		}
		if c.pattern == input && c.thatApplies(last) {
			return c.template
		}
	}
	for _, c := range e.categories {
		if (c.that != "") != withThat || c.re == nil {
			continue
		}
		if c.re.MatchString(input) && c.thatApplies(last) {
			return c.template
		}
	}
	return ""
}

func (c *category) thatApplies(last string) bool {
	if c.that == "" {
		return true
	}
	if last == "" {
		return false
	}
	if c.thatRe != nil {
		return c.thatRe.MatchString(last)
	}
	return c.that == last
}

// normalize uppercases, trims, strips sentence punctuation and collapses
// runs of whitespace, mirroring how patterns are written.
func normalize(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch r {
		case '.', ',', '!', '?', ';', ':', '"', '\'':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func wildcardRegexp(pattern string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(pattern)
	expr := "^" + strings.ReplaceAll(escaped, `\*`, ".*") + "$"
	return regexp.MustCompile(expr)
}
