package settings

import "testing"

func enabledBase() Settings {
	st := Defaults()
	st.Enabled = true
	return st
}

func TestDisableDirective(t *testing.T) {
	st := ApplyDirectives(enabledBase(), "# spell:disable\nsome text\n")
	if st.Enabled {
		t.Fatal("spell:disable must turn checking off for the document")
	}
}

func TestIgnoreDirective(t *testing.T) {
	st := ApplyDirectives(enabledBase(), "// spell:ignore zzxyqq qqwwz\n")
	if len(st.IgnoreWords) != 2 {
		t.Fatalf("expected 2 ignore words, got %v", st.IgnoreWords)
	}
}

func TestWordsDirective(t *testing.T) {
	st := ApplyDirectives(enabledBase(), "<!-- spell:words spelld -->\n")
	found := false
	for _, w := range st.Words {
		if w == "spelld" {
			found = true
		}
	}
	if !found {
		t.Fatalf("spell:words entry missing: %v", st.Words)
	}
}

func TestUnknownDirectiveIgnored(t *testing.T) {
	base := enabledBase()
	st := ApplyDirectives(base, "spell:frobnicate everything\n")
	if !st.Enabled || len(st.Words) != len(base.Words) {
		t.Fatal("unknown directive must not change settings")
	}
}

func TestNoDirectivesNoChange(t *testing.T) {
	base := enabledBase()
	st := ApplyDirectives(base, "plain text without any markers\n")
	if !st.Enabled {
		t.Fatal("settings changed without directives")
	}
}
