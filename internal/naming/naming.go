// Package naming renders output filename templates.
//
// Supported placeholders are [name], [id], [ext] and [contenthash], the
// latter optionally truncated as [contenthash:N]. [hash] is accepted as an
// alias of [contenthash]. [ext] is the extension without its dot.
package naming

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

var (
	placeholder = regexp.MustCompile(`\[(name|id|ext|contenthash|hash)(?::(\d+))?\]`)
	bracketed   = regexp.MustCompile(`\[[^\[\]]*\]`)
)

// Fields are the values substituted into a template.
type Fields struct {
	Name string
	ID   string
	// Ext has no leading dot.
	Ext  string
	Hash string
}

// Render substitutes fields into tmpl. Unknown placeholders are left as is.
func Render(tmpl string, f Fields) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		var v string
		switch sub[1] {
		case "name":
			v = f.Name
		case "id":
			v = f.ID
		case "ext":
			v = f.Ext
		case "contenthash", "hash":
			v = f.Hash
		}
		if sub[2] != "" {
			if n, err := strconv.Atoi(sub[2]); err == nil && n < len(v) {
				v = v[:n]
			}
		}
		return v
	})
}

// Validate reports the first bracketed token in tmpl that is not a supported
// placeholder.
func Validate(tmpl string) error {
	for _, tok := range bracketed.FindAllString(tmpl, -1) {
		if placeholder.FindString(tok) != tok {
			return fmt.Errorf("unknown placeholder %s", tok)
		}
	}
	return nil
}

// Hash returns the 16 hex digit xxhash64 digest of content.
func Hash(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}
