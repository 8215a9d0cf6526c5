// Package locator implements the selector store: logical field names mapped
// to a primary locator, ordered fallbacks and an XPath alternate, plus the
// lookup contract that walks them in order.
package locator

import "strings"

// Syntax identifies how a locator expression is evaluated.
type Syntax int

const (
	CSS Syntax = iota
	XPath
)

func (s Syntax) String() string {
	if s == XPath {
		return "xpath"
	}
	return "css"
}

const xpathPrefix = "xpath="

// Locator is a single expression used to find an element.
type Locator struct {
	Expr   string
	Syntax Syntax
}

// Parse classifies a raw locator string. Expressions starting with "/",
// "(/" or the "xpath=" prefix are XPath, everything else is CSS.
func Parse(raw string) Locator {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, xpathPrefix):
		return Locator{Expr: strings.TrimSpace(strings.TrimPrefix(raw, xpathPrefix)), Syntax: XPath}
	case strings.HasPrefix(raw, "/"), strings.HasPrefix(raw, "(/"):
		return Locator{Expr: raw, Syntax: XPath}
	default:
		return Locator{Expr: raw, Syntax: CSS}
	}
}

// XPathOf wraps an expression known to be XPath.
func XPathOf(expr string) Locator {
	return Locator{Expr: strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(expr), xpathPrefix)), Syntax: XPath}
}

// String renders the locator so that Parse(l.String()) == l.
func (l Locator) String() string {
	if l.Syntax == XPath && !strings.HasPrefix(l.Expr, "/") && !strings.HasPrefix(l.Expr, "(/") {
		return xpathPrefix + l.Expr
	}
	return l.Expr
}

// IsZero reports whether the locator has no expression.
func (l Locator) IsZero() bool {
	return l.Expr == ""
}
