// Package htmlwalk parses HTML fragments and replaces elements through a
// callback, re-traversing replacement markup to a bounded depth.
package htmlwalk

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/p-n-ai/pai-elements/internal/qerr"
)

// DefaultMaxDepth bounds nested replacement.
const DefaultMaxDepth = 50

// ReplaceFunc is called for every element node in document order.
// Returning replace=false keeps the node and descends into its children.
// Returning replace=true substitutes the node with the fragment parsed from
// markup; an empty markup removes the node.
type ReplaceFunc func(n *html.Node) (markup string, replace bool, err error)

// Walker traverses fragments.
type Walker struct {
	MaxDepth int
}

// TraverseAndReplace is a convenience for Walker{}.TraverseAndReplace.
func TraverseAndReplace(fragment string, fn ReplaceFunc) (string, error) {
	return Walker{}.TraverseAndReplace(fragment, fn)
}

// TraverseAndReplace parses fragment, applies fn and serializes the result.
func (w Walker) TraverseAndReplace(fragment string, fn ReplaceFunc) (string, error) {
	nodes, err := ParseFragment(fragment)
	if err != nil {
		return "", err
	}
	ctx := contextNode()
	for _, n := range nodes {
		ctx.AppendChild(n)
	}
	if err := w.walkChildren(ctx, fn, 0); err != nil {
		return "", err
	}
	return renderChildren(ctx)
}

func (w Walker) maxDepth() int {
	if w.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return w.MaxDepth
}

func (w Walker) walkChildren(parent *html.Node, fn ReplaceFunc, depth int) error {
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type != html.ElementNode {
			c = next
			continue
		}

		markup, replace, err := fn(c)
		if err != nil {
			return err
		}
		if !replace {
			if err := w.walkChildren(c, fn, depth); err != nil {
				return err
			}
			c = next
			continue
		}

		if depth+1 > w.maxDepth() {
			return qerr.RenderLoop(c.Data, w.maxDepth())
		}
		nodes, err := ParseFragment(markup)
		if err != nil {
			return fmt.Errorf("parsing replacement for <%s>: %w", c.Data, err)
		}
		holder := contextNode()
		for _, n := range nodes {
			holder.AppendChild(n)
		}
		if err := w.walkChildren(holder, fn, depth+1); err != nil {
			return err
		}
		for n := holder.FirstChild; n != nil; {
			nn := n.NextSibling
			holder.RemoveChild(n)
			parent.InsertBefore(n, c)
			n = nn
		}
		parent.RemoveChild(c)
		c = next
	}
	return nil
}

var selfClosingCustom = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9]*-[a-zA-Z0-9-]*)(\s[^<>]*?)?\s*/>`)

// ExpandSelfClosing rewrites <el-x .../> as <el-x ...></el-x>. HTML parsing
// ignores the self-closing flag on non-void elements, which would otherwise
// nest the following siblings inside the custom tag.
func ExpandSelfClosing(fragment string) string {
	return selfClosingCustom.ReplaceAllStringFunc(fragment, func(m string) string {
		sub := selfClosingCustom.FindStringSubmatch(m)
		return "<" + sub[1] + strings.TrimRight(sub[2], " \t\r\n") + "></" + sub[1] + ">"
	})
}

// ParseFragment parses markup in a <div> context.
func ParseFragment(markup string) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(ExpandSelfClosing(markup)), contextNode())
	if err != nil {
		return nil, fmt.Errorf("parsing fragment: %w", err)
	}
	return nodes, nil
}

func contextNode() *html.Node {
	return &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
}

func renderChildren(parent *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("rendering fragment: %w", err)
		}
	}
	return buf.String(), nil
}

// Outer serializes n and its subtree.
func Outer(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Inner serializes the children of n.
func Inner(n *html.Node) (string, error) {
	return renderChildren(n)
}

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// Attrs returns n's attributes as a map.
func Attrs(n *html.Node) map[string]string {
	out := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		out[a.Key] = a.Val
	}
	return out
}

// Elements returns every element node of the parsed fragment in document
// order, without replacement.
func Elements(fragment string) ([]*html.Node, error) {
	nodes, err := ParseFragment(fragment)
	if err != nil {
		return nil, err
	}
	var out []*html.Node
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	for _, n := range nodes {
		visit(n)
	}
	return out, nil
}
