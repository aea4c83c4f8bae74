package speller

import (
	"bufio"
	_ "embed"
	"io"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

//go:embed words.txt
var baseWordList string

// Dictionary is a set of known words with case-insensitive, NFC-normalized
// lookup.
type Dictionary struct {
	words map[string]struct{}
}

// NewDictionary builds a dictionary from a word list.
func NewDictionary(words []string) *Dictionary {
	d := &Dictionary{words: make(map[string]struct{}, len(words))}
	d.Add(words...)
	return d
}

// Add inserts words into the dictionary.
func (d *Dictionary) Add(words ...string) {
	for _, w := range words {
		if w == "" {
			continue
		}
		d.words[normKey(w)] = struct{}{}
	}
}

// Has reports whether a word is known.
func (d *Dictionary) Has(word string) bool {
	if d == nil {
		return false
	}
	_, ok := d.words[normKey(word)]
	return ok
}

// Len returns the number of distinct entries.
func (d *Dictionary) Len() int {
	return len(d.words)
}

// normKey folds a word for lookup: NFC normalization then lowercasing, so
// "Héllo" in any unicode composition matches a "héllo" entry.
func normKey(word string) string {
	return strings.ToLower(norm.NFC.String(word))
}

// ParseWordList reads a word-per-line list. Blank lines and '#' comments are
// skipped; multiple words on one line are all taken.
func ParseWordList(r io.Reader) []string {
	var words []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}

var baseDictionary = sync.OnceValue(func() *Dictionary {
	return NewDictionary(ParseWordList(strings.NewReader(baseWordList)))
})

// BaseDictionary returns the embedded English base dictionary.
func BaseDictionary() *Dictionary {
	return baseDictionary()
}
