// Package validation provides checks for user-supplied paths, hosts and URLs
// before they reach the file system, a listener or a spawned process.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// shellChars may not appear in values handed to other processes.
const shellChars = ";&|$`()<>\"'\\"

// ValidatePath checks that path is relative and stays below the directory it
// is resolved against.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains a null byte")
	}
	if filepath.IsAbs(path) || filepath.VolumeName(path) != "" ||
		strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) {
		return fmt.Errorf("absolute path not allowed: %s", path)
	}

	clean := filepath.ToSlash(filepath.Clean(path))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path traversal detected: %s", path)
	}
	return nil
}

// ValidateHost validates a host name or address to bind to.
func ValidateHost(host string) error {
	if i := strings.IndexAny(host, shellChars+" \t\r\n"); i >= 0 {
		return fmt.Errorf("host contains invalid character %q", host[i])
	}
	return nil
}

// ValidateFileExtension validates an extension as used by routing rules: a
// dot followed by at least one lower case character.
func ValidateFileExtension(ext string) error {
	if len(ext) < 2 || ext[0] != '.' {
		return fmt.Errorf("extension %q must start with a dot", ext)
	}
	if ext != strings.ToLower(ext) {
		return fmt.Errorf("extension %q must be lower case", ext)
	}
	if strings.ContainsAny(ext, `/\ `) {
		return fmt.Errorf("extension %q contains a path separator or space", ext)
	}
	return nil
}

// ValidateURL validates URLs for browser auto-open functionality.
// Prevents command injection via URL parameters
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	// Only allow http/https schemes to prevent protocol handlers
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	if i := strings.IndexAny(rawURL, shellChars+"\n\r"); i >= 0 {
		return fmt.Errorf("URL contains dangerous character: %c", rawURL[i])
	}
	if strings.Contains(rawURL, " ") {
		return fmt.Errorf("URL contains spaces")
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}

	if strings.Contains(parsed.Path, "..") || strings.Contains(strings.ToLower(rawURL), "%2e%2e") {
		return fmt.Errorf("URL path traverses upwards")
	}

	return nil
}
