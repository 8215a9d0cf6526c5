package locator

import (
	"fmt"
	"strings"
)

// ElementInfo is the attribute snapshot of a page element used to derive
// locators for it.
type ElementInfo struct {
	Tag         string `json:"tagName"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Class       string `json:"className"`
	Placeholder string `json:"placeholder"`
	AriaLabel   string `json:"ariaLabel"`
	TestID      string `json:"dataTestid"`
	DataInput   string `json:"dataInput"`
	Type        string `json:"type"`
	Text        string `json:"innerText"`
	Visible     bool   `json:"visible"`
}

func (info *ElementInfo) tag() string {
	tag := strings.ToLower(strings.TrimSpace(info.Tag))
	if tag == "" {
		return "*"
	}
	return tag
}

func (info *ElementInfo) firstClass() string {
	fields := strings.Fields(info.Class)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// CSSLocators lists CSS selectors for the element, most reliable first:
// id, name, data-testid, data-input, input type, placeholder, aria-label,
// then the first class.
func CSSLocators(info *ElementInfo) []string {
	if info == nil {
		return nil
	}
	tag := info.tag()
	var out []string
	if info.ID != "" {
		out = append(out, "#"+cssIdent(info.ID))
	}
	if info.Name != "" {
		out = append(out, fmt.Sprintf(`%s[name="%s"]`, tag, cssString(info.Name)))
	}
	if info.TestID != "" {
		out = append(out, fmt.Sprintf(`%s[data-testid="%s"]`, tag, cssString(info.TestID)))
	}
	if info.DataInput != "" {
		out = append(out, fmt.Sprintf(`%s[data-input="%s"]`, tag, cssString(info.DataInput)))
	}
	if info.Type != "" && tag == "input" {
		out = append(out, fmt.Sprintf(`input[type="%s"]`, cssString(info.Type)))
	}
	if info.Placeholder != "" {
		out = append(out, fmt.Sprintf(`%s[placeholder*="%s" i]`, tag, cssString(info.Placeholder)))
	}
	if info.AriaLabel != "" {
		out = append(out, fmt.Sprintf(`%s[aria-label*="%s" i]`, tag, cssString(info.AriaLabel)))
	}
	if class := info.firstClass(); class != "" {
		out = append(out, "."+cssIdent(class))
	}
	return out
}

// XPathLocator builds a single relative XPath for the element.
func XPathLocator(info *ElementInfo) string {
	if info == nil {
		return ""
	}
	tag := info.tag()
	switch {
	case info.ID != "":
		return fmt.Sprintf(`//*[@id=%s]`, xpathLiteral(info.ID))
	case info.Name != "":
		return fmt.Sprintf(`//%s[@name=%s]`, tag, xpathLiteral(info.Name))
	case info.TestID != "":
		return fmt.Sprintf(`//%s[@data-testid=%s]`, tag, xpathLiteral(info.TestID))
	case info.Placeholder != "":
		return fmt.Sprintf(`//%s[contains(@placeholder, %s)]`, tag, xpathLiteral(info.Placeholder))
	case info.AriaLabel != "":
		return fmt.Sprintf(`//%s[contains(@aria-label, %s)]`, tag, xpathLiteral(info.AriaLabel))
	case info.firstClass() != "":
		return fmt.Sprintf(`//%s[contains(@class, %s)]`, tag, xpathLiteral(info.firstClass()))
	default:
		return "//" + tag
	}
}

// EntryFor builds a store entry for an element. When primary is empty the
// first generated CSS selector takes its place.
func EntryFor(info *ElementInfo, primary string) Entry {
	generated := CSSLocators(info)
	if primary == "" && len(generated) > 0 {
		primary = generated[0]
	}
	if primary == "" {
		primary = info.tag()
	}
	fallback := make([]string, 0, len(generated))
	for _, sel := range generated {
		if sel != primary {
			fallback = append(fallback, sel)
		}
	}
	return Entry{
		Primary:  primary,
		Fallback: fallback,
		XPath:    XPathLocator(info),
		Tag:      info.Tag,
		Text:     truncate(strings.TrimSpace(info.Text), 50),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// cssIdent escapes characters that break a bare #id or .class selector.
func cssIdent(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_', r > 0x7f:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				fmt.Fprintf(&b, `\%x `, r)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cssString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
