package speller

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"spelld/internal/diag"
	"spelld/internal/settings"
	"spelld/internal/speller/dictcache"
)

// Checker is the bundled analyzer: it flags words absent from the effective
// dictionary. Safe for concurrent use.
type Checker struct {
	base  *Dictionary
	cache *dictcache.Cache

	mu     sync.Mutex
	loaded map[string]loadedDict
}

type loadedDict struct {
	digest dictcache.Digest
	words  []string
}

// CheckerOptions configures a Checker.
type CheckerOptions struct {
	// Base overrides the embedded dictionary; nil uses BaseDictionary.
	Base *Dictionary
	// Cache holds compiled user dictionaries; nil disables disk caching.
	Cache *dictcache.Cache
}

// NewChecker constructs a checker.
func NewChecker(opts CheckerOptions) *Checker {
	base := opts.Base
	if base == nil {
		base = BaseDictionary()
	}
	return &Checker{
		base:   base,
		cache:  opts.Cache,
		loaded: make(map[string]loadedDict),
	}
}

// Check analyzes text and returns one diagnostic per unknown word, capped at
// the snapshot's check limit. The language id is accepted for interface
// symmetry with other analyzers; eligibility by language is the scheduler's
// job, not the checker's.
func (c *Checker) Check(text, languageID string, st settings.Settings) ([]diag.Diagnostic, error) {
	_ = languageID
	limit := st.CheckLimit
	if limit <= 0 {
		limit = settings.Defaults().CheckLimit
	}
	minLen := st.MinWordLength
	if minLen <= 0 {
		minLen = settings.Defaults().MinWordLength
	}

	allow := make(map[string]struct{}, len(st.Words)+len(st.IgnoreWords))
	for _, w := range st.Words {
		allow[normKey(w)] = struct{}{}
	}
	for _, w := range st.IgnoreWords {
		allow[normKey(w)] = struct{}{}
	}
	extra, err := c.dictionaryFor(st.Dictionaries)
	if err != nil {
		return nil, err
	}

	known := func(word string) bool {
		if _, ok := allow[normKey(word)]; ok {
			return true
		}
		if c.base.Has(word) {
			return true
		}
		return extra.Has(word)
	}

	var diags []diag.Diagnostic
	lineNo := 0
	for line := range strings.Lines(text) {
		line = strings.TrimRight(line, "\n")
		line = strings.TrimRight(line, "\r")
		for _, w := range extractWords(line, minLen) {
			if known(w.text) {
				continue
			}
			diags = append(diags, diag.Diagnostic{
				Range: diag.Range{
					Start: diag.Position{Line: lineNo, Character: utf16Len(line[:w.start])},
					End:   diag.Position{Line: lineNo, Character: utf16Len(line[:w.end])},
				},
				Severity: diag.SevInfo,
				Rule:     "unknown-word",
				Message:  fmt.Sprintf("Unknown word: %q", w.text),
			})
			if len(diags) >= limit {
				return diags, nil
			}
		}
		lineNo++
	}
	return diags, nil
}

// dictionaryFor loads and merges the user dictionaries named in settings,
// consulting the compiled-dictionary disk cache first.
func (c *Checker) dictionaryFor(paths []string) (*Dictionary, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	merged := NewDictionary(nil)
	for _, path := range paths {
		words, err := c.loadDictionary(path)
		if err != nil {
			return nil, err
		}
		merged.Add(words...)
	}
	return merged, nil
}

func (c *Checker) loadDictionary(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dictionary %s: %w", path, err)
	}
	digest := sha256.Sum256(content)

	c.mu.Lock()
	if entry, ok := c.loaded[path]; ok && entry.digest == digest {
		c.mu.Unlock()
		return entry.words, nil
	}
	c.mu.Unlock()

	words, hit, err := c.cache.Get(digest)
	if err != nil || !hit {
		words = ParseWordList(strings.NewReader(string(content)))
		// A failed cache write only costs the next cold start.
		_ = c.cache.Put(digest, path, words)
	}

	c.mu.Lock()
	c.loaded[path] = loadedDict{digest: digest, words: words}
	c.mu.Unlock()
	return words, nil
}

type wordSpan struct {
	text  string
	start int // byte offset in line
	end   int
}

// extractWords returns the checkable words of one line. Chunks that look like
// URLs, emails or hex constants are skipped wholesale; letter runs are split
// on camelCase humps; all-uppercase humps (acronyms) and humps shorter than
// minLen are skipped.
func extractWords(line string, minLen int) []wordSpan {
	var out []wordSpan
	i := 0
	for i < len(line) {
		r, size := utf8.DecodeRuneInString(line[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		chunkStart := i
		for i < len(line) {
			r, size = utf8.DecodeRuneInString(line[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}
		chunk := line[chunkStart:i]
		if skipChunk(chunk) {
			continue
		}
		out = append(out, chunkWords(chunk, chunkStart, minLen)...)
	}
	return out
}

func skipChunk(chunk string) bool {
	if strings.Contains(chunk, "://") || strings.Contains(chunk, "@") {
		return true
	}
	if strings.HasPrefix(chunk, "www.") {
		return true
	}
	return isHexLike(chunk)
}

func isHexLike(chunk string) bool {
	s := strings.TrimPrefix(strings.TrimPrefix(chunk, "0x"), "0X")
	if len(s) < 4 {
		return false
	}
	hasDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return hasDigit
}

func chunkWords(chunk string, base, minLen int) []wordSpan {
	var out []wordSpan
	runStart := -1
	flush := func(end int) {
		if runStart < 0 {
			return
		}
		run := chunk[runStart:end]
		// A letter run glued to digits is an identifier, not prose.
		if adjacentDigit(chunk, runStart, end) {
			runStart = -1
			return
		}
		for _, hump := range splitHumps(run) {
			if utf8.RuneCountInString(hump.text) < minLen {
				continue
			}
			if isAllUpper(hump.text) {
				continue
			}
			out = append(out, wordSpan{
				text:  hump.text,
				start: base + runStart + hump.start,
				end:   base + runStart + hump.end,
			})
		}
		runStart = -1
	}
	for i, r := range chunk {
		if unicode.IsLetter(r) || r == '\'' {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(chunk))
	return trimApostrophes(out)
}

func adjacentDigit(chunk string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(chunk[:start])
		if unicode.IsDigit(r) {
			return true
		}
	}
	if end < len(chunk) {
		r, _ := utf8.DecodeRuneInString(chunk[end:])
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// splitHumps breaks a letter run on camelCase boundaries. "HTTPServer" yields
// "HTTP" and "Server"; a plain word comes back whole.
func splitHumps(run string) []wordSpan {
	var out []wordSpan
	runes := []rune(run)
	offsets := make([]int, 0, len(runes)+1)
	for i := range run {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(run))

	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := false
		if unicode.IsLower(prev) && unicode.IsUpper(cur) {
			boundary = true
		}
		if i+1 < len(runes) && unicode.IsUpper(prev) && unicode.IsUpper(cur) && unicode.IsLower(runes[i+1]) {
			boundary = true
		}
		if boundary {
			out = append(out, wordSpan{text: run[offsets[start]:offsets[i]], start: offsets[start], end: offsets[i]})
			start = i
		}
	}
	out = append(out, wordSpan{text: run[offsets[start]:], start: offsets[start], end: len(run)})
	return out
}

func isAllUpper(s string) bool {
	for _, r := range s {
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

// trimApostrophes strips leading and trailing quote characters that the run
// scanner admitted ("'hello'" -> "hello", "dog's" stays intact).
func trimApostrophes(spans []wordSpan) []wordSpan {
	out := spans[:0]
	for _, w := range spans {
		start, end, text := w.start, w.end, w.text
		for len(text) > 0 && text[0] == '\'' {
			text = text[1:]
			start++
		}
		for len(text) > 0 && text[len(text)-1] == '\'' {
			text = text[:len(text)-1]
			end--
		}
		if text == "" {
			continue
		}
		out = append(out, wordSpan{text: text, start: start, end: end})
	}
	return out
}

// utf16Len counts UTF-16 code units in s, the unit LSP positions use.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}
