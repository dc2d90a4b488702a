package emit

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/a-h/templ"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/bundlekit/internal/chunk"
	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/errors"
)

// pageTags are the stylesheet and script URLs the shell references.
type pageTags struct {
	styles  []string
	scripts []string
}

func (e *Emitter) tags(chunks *chunk.Result, rendered map[string]*renderedChunk, rt *renderedChunk) pageTags {
	var t pageTags
	seen := make(map[string]bool)
	if rt != nil {
		seen[rt.jsFile] = true
		t.scripts = append(t.scripts, e.plan.PublicPath+rt.jsFile)
	}
	for _, grp := range chunks.InitialGroups() {
		for _, name := range grp.Chunks {
			rc := rendered[name]
			if rc == nil {
				continue
			}
			if rc.cssFile != "" && !seen[rc.cssFile] {
				seen[rc.cssFile] = true
				t.styles = append(t.styles, e.plan.PublicPath+rc.cssFile)
			}
			if !seen[rc.jsFile] {
				seen[rc.jsFile] = true
				t.scripts = append(t.scripts, e.plan.PublicPath+rc.jsFile)
			}
		}
	}
	return t
}

func (e *Emitter) renderHTML(chunks *chunk.Result, rendered map[string]*renderedChunk, rt *renderedChunk) ([]byte, error) {
	var t pageTags
	if e.plan.HTML.Inject {
		t = e.tags(chunks, rendered, rt)
	}

	title := e.plan.HTML.Title
	if tmpl := e.plan.HTML.Template; tmpl != "" {
		path := tmpl
		if !filepath.IsAbs(path) {
			path = filepath.Join(e.plan.Root, path)
		}
		src, err := os.ReadFile(path)
		switch {
		case err == nil:
			return injectTags(src, title, t)
		case tmpl == config.DefaultHTMLTemplate && stderrors.Is(err, fs.ErrNotExist):
			// use the built-in shell
		default:
			return nil, errors.NewBuildError(errors.ErrCodeTemplateMissing, "reading html template", err).
				WithLocation(tmpl, 0, 0)
		}
	}

	if title == "" {
		title = DefaultTitle(e.plan.Root)
	}
	var buf bytes.Buffer
	if err := Shell(title, t.styles, t.scripts).Render(context.Background(), &buf); err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "rendering html shell", err)
	}
	return buf.Bytes(), nil
}

// Shell is the default HTML document: stylesheets in the head, deferred
// scripts in load order at the end of the body.
func Shell(title string, styles, scripts []string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
		b.WriteString("<meta charset=\"utf-8\">\n")
		b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
		b.WriteString("<title>" + templ.EscapeString(title) + "</title>\n")
		for _, href := range styles {
			b.WriteString("<link rel=\"stylesheet\" href=\"" + templ.EscapeString(href) + "\">\n")
		}
		b.WriteString("</head>\n<body>\n<div id=\"root\"></div>\n")
		for _, src := range scripts {
			b.WriteString("<script defer src=\"" + templ.EscapeString(src) + "\"></script>\n")
		}
		b.WriteString("</body>\n</html>\n")
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// DefaultTitle derives a page title from the project directory name.
func DefaultTitle(root string) string {
	name := filepath.Base(root)
	name = strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(name)
	name = strings.TrimSpace(name)
	if name == "" || name == string(filepath.Separator) {
		return "App"
	}
	return cases.Title(language.English).String(name)
}

// injectTags adds link tags at the end of head and script tags at the end of
// body. A non-empty title replaces the document title.
func injectTags(src []byte, title string, t pageTags) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, errors.NewBuildError(errors.ErrCodeTemplateMissing, "parsing html template", err)
	}

	head := findElement(doc, atom.Head)
	body := findElement(doc, atom.Body)

	if title != "" && head != nil {
		titleEl := findElement(head, atom.Title)
		if titleEl == nil {
			titleEl = element(atom.Title)
			head.AppendChild(titleEl)
		}
		for c := titleEl.FirstChild; c != nil; c = titleEl.FirstChild {
			titleEl.RemoveChild(c)
		}
		titleEl.AppendChild(&html.Node{Type: html.TextNode, Data: title})
	}

	for _, href := range t.styles {
		head.AppendChild(element(atom.Link, "rel", "stylesheet", "href", href))
	}
	for _, s := range t.scripts {
		body.AppendChild(element(atom.Script, "defer", "", "src", s))
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "rendering html template", err)
	}
	return buf.Bytes(), nil
}

// InjectScript appends an inline script to the end of the body of page.
func InjectScript(page []byte, script string) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	el := element(atom.Script)
	el.AppendChild(&html.Node{Type: html.TextNode, Data: script})
	findElement(doc, atom.Body).AppendChild(el)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
