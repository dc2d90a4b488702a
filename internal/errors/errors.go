package errors

import (
	"fmt"
	"html"
	"strings"
	"sync"
	"time"
)

// BuildError is a single located diagnostic produced during a build.
type BuildError struct {
	Module    string
	File      string
	Line      int
	Column    int
	Message   string
	Severity  ErrorSeverity
	Timestamp time.Time
}

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Error implements the error interface
func (be *BuildError) Error() string {
	if be.File == "" {
		return fmt.Sprintf("%s: %s", be.Severity, be.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", be.File, be.Line, be.Column, be.Severity, be.Message)
}

// ErrorCollector collects diagnostics from the build stages. It is safe for
// concurrent use by transform workers.
type ErrorCollector struct {
	buildErrors []BuildError
	mutex       sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		buildErrors: make([]BuildError, 0),
	}
}

// Add adds a build error to the collector
func (ec *ErrorCollector) Add(err BuildError) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	if err.Timestamp.IsZero() {
		err.Timestamp = time.Now()
	}
	ec.buildErrors = append(ec.buildErrors, err)
}

// GetErrors returns a copy of all collected diagnostics.
func (ec *ErrorCollector) GetErrors() []BuildError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]BuildError, len(ec.buildErrors))
	copy(result, ec.buildErrors)
	return result
}

// Warnings returns diagnostics below error severity.
func (ec *ErrorCollector) Warnings() []BuildError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var warnings []BuildError
	for _, e := range ec.buildErrors {
		if e.Severity < ErrorSeverityError {
			warnings = append(warnings, e)
		}
	}
	return warnings
}

// HasErrors returns true if any diagnostic has error severity.
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	for _, e := range ec.buildErrors {
		if e.Severity >= ErrorSeverityError {
			return true
		}
	}
	return false
}

// Err folds the error-severity diagnostics into one build error, or returns
// nil when there are none. The first located diagnostic provides the location.
func (ec *ErrorCollector) Err(code, stage string) error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	var messages []string
	var first *BuildError
	for i := range ec.buildErrors {
		e := &ec.buildErrors[i]
		if e.Severity < ErrorSeverityError {
			continue
		}
		if first == nil {
			first = e
		}
		messages = append(messages, e.Error())
	}
	if first == nil {
		return nil
	}

	be := NewBuildError(code, fmt.Sprintf("%s failed with %d error(s)", stage, len(messages)), nil).
		WithLocation(first.File, first.Line, first.Column).
		WithModule(first.Module).
		WithContext("errors", messages)
	return be
}

// ErrorOverlay renders the collected diagnostics as an HTML overlay for the
// dev server's live reload client.
func (ec *ErrorCollector) ErrorOverlay() string {
	if !ec.HasErrors() {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<div id="bundlekit-error-overlay" style="position:fixed;inset:0;background:rgba(0,0,0,.85);color:#fff;font:14px Menlo,Monaco,monospace;z-index:9999;padding:20px;overflow:auto">`)
	b.WriteString(`<h2 style="margin:0 0 16px;color:#ff6b6b">Build Errors</h2>`)

	ec.mutex.RLock()
	for _, err := range ec.buildErrors {
		color := "#ff6b6b"
		switch err.Severity {
		case ErrorSeverityWarning:
			color = "#feca57"
		case ErrorSeverityInfo:
			color = "#48dbfb"
		}
		fmt.Fprintf(&b,
			`<div style="background:#2d3748;padding:12px;margin-bottom:12px;border-left:4px solid %s">`+
				`<div style="color:%s;font-weight:bold">%s</div>`+
				`<div>%s</div><div style="color:#a0aec0;font-size:12px">%s:%d:%d</div></div>`,
			color, color, err.Severity, html.EscapeString(err.Message),
			html.EscapeString(err.File), err.Line, err.Column)
	}
	ec.mutex.RUnlock()

	b.WriteString(`</div>`)
	return b.String()
}
