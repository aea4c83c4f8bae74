package diag

// Position addresses a point in a text document. Line is zero-based;
// Character counts UTF-16 code units on that line, matching the LSP wire
// convention.
type Position struct {
	Line      int
	Character int
}

// Range is a half-open [Start, End) span inside a document.
type Range struct {
	Start Position
	End   Position
}

// Diagnostic is a single reported issue in a document.
type Diagnostic struct {
	Range    Range
	Severity Severity
	Rule     string
	Message  string
}
