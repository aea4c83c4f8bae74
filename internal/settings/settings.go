package settings

import (
	"path/filepath"
	"time"
)

// Settings is an immutable resolved configuration snapshot for one document.
// A changed setting always produces a new snapshot; callers must never mutate
// one after construction.
type Settings struct {
	Enabled            bool
	EnabledLanguageIDs []string
	CheckLimit         int
	SpellCheckDelayMs  int
	MinWordLength      int
	Words              []string
	IgnoreWords        []string
	IgnorePaths        []string
	Dictionaries       []string
}

// Defaults returns the process-wide default snapshot. Checking starts
// disabled: nothing runs before an explicit setting enables it.
func Defaults() Settings {
	return Settings{
		Enabled:            false,
		EnabledLanguageIDs: []string{"plaintext", "markdown", "text"},
		CheckLimit:         500,
		SpellCheckDelayMs:  50,
		MinWordLength:      4,
	}
}

// Delay converts SpellCheckDelayMs into a duration, clamping negatives.
func (s Settings) Delay() time.Duration {
	if s.SpellCheckDelayMs < 0 {
		return 0
	}
	return time.Duration(s.SpellCheckDelayMs) * time.Millisecond
}

// LanguageEnabled reports whether documents of the given language id are
// candidates for checking.
func (s Settings) LanguageEnabled(languageID string) bool {
	for _, id := range s.EnabledLanguageIDs {
		if id == languageID || id == "*" {
			return true
		}
	}
	return false
}

// PathIgnored reports whether a document path is excluded by IgnorePaths.
// Patterns match against the base name and the slash-form full path.
func (s Settings) PathIgnored(path string) bool {
	if path == "" {
		return false
	}
	full := filepath.ToSlash(path)
	base := filepath.Base(full)
	for _, pattern := range s.IgnorePaths {
		if ok, err := filepath.Match(pattern, base); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(pattern, full); err == nil && ok {
			return true
		}
	}
	return false
}

// Overlay is a partial settings document coming from one source: the
// workspace TOML file, the client configuration payload, or a registered
// import file. Nil fields leave the base value untouched.
type Overlay struct {
	Enabled            *bool    `toml:"enabled" json:"enabled,omitempty"`
	EnabledLanguageIDs []string `toml:"enabledLanguageIds" json:"enabledLanguageIds,omitempty"`
	CheckLimit         *int     `toml:"checkLimit" json:"checkLimit,omitempty"`
	SpellCheckDelayMs  *int     `toml:"spellCheckDelayMs" json:"spellCheckDelayMs,omitempty"`
	MinWordLength      *int     `toml:"minWordLength" json:"minWordLength,omitempty"`
	Words              []string `toml:"words" json:"words,omitempty"`
	IgnoreWords        []string `toml:"ignoreWords" json:"ignoreWords,omitempty"`
	IgnorePaths        []string `toml:"ignorePaths" json:"ignorePaths,omitempty"`
	Dictionaries       []string `toml:"dictionaries" json:"dictionaries,omitempty"`
}

// Apply layers the overlay on top of base and returns the merged snapshot.
// Scalar fields override; word lists and dictionary lists accumulate;
// EnabledLanguageIDs replaces wholesale when set.
func (o Overlay) Apply(base Settings) Settings {
	out := base
	if o.Enabled != nil {
		out.Enabled = *o.Enabled
	}
	if o.EnabledLanguageIDs != nil {
		out.EnabledLanguageIDs = append([]string(nil), o.EnabledLanguageIDs...)
	}
	if o.CheckLimit != nil {
		out.CheckLimit = *o.CheckLimit
	}
	if o.SpellCheckDelayMs != nil {
		out.SpellCheckDelayMs = *o.SpellCheckDelayMs
	}
	if o.MinWordLength != nil {
		out.MinWordLength = *o.MinWordLength
	}
	out.Words = appendUnique(base.Words, o.Words)
	out.IgnoreWords = appendUnique(base.IgnoreWords, o.IgnoreWords)
	out.IgnorePaths = appendUnique(base.IgnorePaths, o.IgnorePaths)
	out.Dictionaries = appendUnique(base.Dictionaries, o.Dictionaries)
	return out
}

func appendUnique(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	out := append([]string(nil), base...)
	seen := make(map[string]struct{}, len(out))
	for _, v := range out {
		seen[v] = struct{}{}
	}
	for _, v := range extra {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
