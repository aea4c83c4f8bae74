package speller

import (
	"os"
	"path/filepath"
	"testing"

	"spelld/internal/settings"
)

func testSettings() settings.Settings {
	st := settings.Defaults()
	st.Enabled = true
	return st
}

func checkText(t *testing.T, text string, st settings.Settings) []string {
	t.Helper()
	checker := NewChecker(CheckerOptions{})
	diags, err := checker.Check(text, "plaintext", st)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	words := make([]string, 0, len(diags))
	for _, d := range diags {
		words = append(words, d.Message)
	}
	return words
}

func TestFlagsUnknownWord(t *testing.T) {
	checker := NewChecker(CheckerOptions{})
	diags, err := checker.Check("helo world", "plaintext", testSettings())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d: %+v", len(diags), diags)
	}
	d := diags[0]
	if d.Message != `Unknown word: "helo"` {
		t.Fatalf("unexpected message: %q", d.Message)
	}
	if d.Rule != "unknown-word" {
		t.Fatalf("unexpected rule: %q", d.Rule)
	}
	if d.Range.Start.Line != 0 || d.Range.Start.Character != 0 || d.Range.End.Character != 4 {
		t.Fatalf("unexpected range: %+v", d.Range)
	}
}

func TestCleanTextProducesNoDiagnostics(t *testing.T) {
	if words := checkText(t, "hello world", testSettings()); len(words) != 0 {
		t.Fatalf("unexpected diagnostics: %v", words)
	}
}

func TestPositionsOnLaterLines(t *testing.T) {
	checker := NewChecker(CheckerOptions{})
	diags, err := checker.Check("hello\nsome helo here\n", "plaintext", testSettings())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(diags))
	}
	r := diags[0].Range
	if r.Start.Line != 1 || r.Start.Character != 5 || r.End.Character != 9 {
		t.Fatalf("unexpected range: %+v", r)
	}
}

func TestCaseInsensitiveLookup(t *testing.T) {
	if words := checkText(t, "Hello World HELLO", testSettings()); len(words) != 0 {
		t.Fatalf("unexpected diagnostics: %v", words)
	}
}

func TestCamelCaseSplitting(t *testing.T) {
	// Both humps are known words.
	if words := checkText(t, "helloWorld", testSettings()); len(words) != 0 {
		t.Fatalf("unexpected diagnostics: %v", words)
	}
	words := checkText(t, "heloWorld", testSettings())
	if len(words) != 1 || words[0] != `Unknown word: "helo"` {
		t.Fatalf("expected helo flagged, got %v", words)
	}
}

func TestAcronymsSkipped(t *testing.T) {
	if words := checkText(t, "HTTP XYZQW", testSettings()); len(words) != 0 {
		t.Fatalf("unexpected diagnostics: %v", words)
	}
}

func TestURLsAndEmailsSkipped(t *testing.T) {
	text := "see https://example.com/zzxyqq and send zzxyqq@example.com or www.zzxyqq.org"
	if words := checkText(t, text, testSettings()); len(words) != 0 {
		t.Fatalf("unexpected diagnostics: %v", words)
	}
}

func TestHexAndIdentifiersSkipped(t *testing.T) {
	if words := checkText(t, "0xdeadbeef deadbeef12", testSettings()); len(words) != 0 {
		t.Fatalf("unexpected diagnostics: %v", words)
	}
}

func TestShortWordsSkipped(t *testing.T) {
	if words := checkText(t, "ab qzx", testSettings()); len(words) != 0 {
		t.Fatalf("unexpected diagnostics: %v", words)
	}
}

func TestSettingsWordsAndIgnoreWords(t *testing.T) {
	st := testSettings()
	st.Words = []string{"spelld"}
	st.IgnoreWords = []string{"zzxyqq"}
	if words := checkText(t, "spelld zzxyqq work", st); len(words) != 0 {
		t.Fatalf("unexpected diagnostics: %v", words)
	}
}

func TestCheckLimitCapsDiagnostics(t *testing.T) {
	st := testSettings()
	st.CheckLimit = 3
	words := checkText(t, "qqqa qqqb qqqc qqqd qqqe", st)
	if len(words) != 3 {
		t.Fatalf("expected 3 diagnostics, got %d", len(words))
	}
}

func TestUserDictionaryFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project-words.txt")
	if err := os.WriteFile(path, []byte("# project jargon\nzzxyqq\n"), 0o644); err != nil {
		t.Fatalf("write dictionary: %v", err)
	}
	st := testSettings()
	st.Dictionaries = []string{path}
	checker := NewChecker(CheckerOptions{})
	diags, err := checker.Check("zzxyqq", "plaintext", st)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
}

func TestMissingDictionaryFileIsAnError(t *testing.T) {
	st := testSettings()
	st.Dictionaries = []string{filepath.Join(t.TempDir(), "missing.txt")}
	checker := NewChecker(CheckerOptions{})
	if _, err := checker.Check("hello", "plaintext", st); err == nil {
		t.Fatal("expected error for missing dictionary")
	}
}

func TestApostrophesTrimmedButContractionsKept(t *testing.T) {
	st := testSettings()
	st.Words = []string{"don't"}
	if words := checkText(t, "'hello' and don't", st); len(words) != 0 {
		t.Fatalf("unexpected diagnostics: %v", words)
	}
}
