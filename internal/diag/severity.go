package diag

// Severity defines the importance of a diagnostic.
type Severity uint8

const (
	// SevInfo is for informational diagnostics.
	SevInfo Severity = iota
	// SevWarning is for warning diagnostics.
	SevWarning
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "INFO"
	case SevWarning:
		return "WARNING"
	case SevError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// LSPCode maps a severity to the wire value used by publishDiagnostics
// (1=Error, 2=Warning, 3=Information).
func (s Severity) LSPCode() int {
	switch s {
	case SevError:
		return 1
	case SevWarning:
		return 2
	}
	return 3
}
