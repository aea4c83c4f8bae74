package settings

import "strings"

// In-document directives let a file opt out of checking or extend the word
// list without touching configuration files. Recognized anywhere in the text,
// typically inside comments:
//
//	spell:disable
//	spell:ignore word1 word2
//	spell:words word1 word2
const directivePrefix = "spell:"

// ApplyDirectives layers directives found in text on top of a snapshot and
// returns the adjusted copy for that document only.
func ApplyDirectives(base Settings, text string) Settings {
	out := base
	for line := range strings.Lines(text) {
		idx := strings.Index(line, directivePrefix)
		if idx < 0 {
			continue
		}
		// The directive name is glued to the prefix: "spell:ignore foo".
		name, args := firstField(line[idx+len(directivePrefix):])
		switch name {
		case "disable":
			out.Enabled = false
		case "ignore":
			out.IgnoreWords = appendUnique(out.IgnoreWords, args)
		case "words":
			out.Words = appendUnique(out.Words, args)
		}
	}
	return out
}

func firstField(s string) (string, []string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
