package locator

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldRule lists candidate locators probed for one known field role.
type FieldRule struct {
	Name        string   `yaml:"name"`
	Label       string   `yaml:"label"`
	Candidates  []string `yaml:"candidates"`
	Interactive bool     `yaml:"interactive"`
}

// RuleSet is a versioned set of heuristic guesses. Storefront markup drifts,
// so rule sets are data that can be swapped per site or per release.
type RuleSet struct {
	Version string      `yaml:"version"`
	Fields  []FieldRule `yaml:"fields"`
}

// Names returns the rule names in order.
func (rs *RuleSet) Names() []string {
	out := make([]string, 0, len(rs.Fields))
	for _, f := range rs.Fields {
		out = append(out, f.Name)
	}
	return out
}

// Rule returns the rule called name.
func (rs *RuleSet) Rule(name string) (FieldRule, bool) {
	for _, f := range rs.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldRule{}, false
}

// Validate rejects empty and duplicated rules.
func (rs *RuleSet) Validate() error {
	if strings.TrimSpace(rs.Version) == "" {
		return fmt.Errorf("rule set version cannot be empty")
	}
	if len(rs.Fields) == 0 {
		return fmt.Errorf("rule set %s has no fields", rs.Version)
	}
	seen := make(map[string]struct{}, len(rs.Fields))
	for _, f := range rs.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("rule set %s: field with empty name", rs.Version)
		}
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("rule set %s: duplicate field %q", rs.Version, f.Name)
		}
		seen[f.Name] = struct{}{}
		if len(f.Candidates) == 0 {
			return fmt.Errorf("rule set %s: field %q has no candidates", rs.Version, f.Name)
		}
	}
	return nil
}

// LoadRules reads a YAML rule set from path.
func LoadRules(path string) (*RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %q: %w", path, err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(b, &rs); err != nil {
		return nil, fmt.Errorf("parse rules %q: %w", path, err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// DefaultRules returns the built-in guesses for the listing editor. The
// first ten interactive fields back the recorder's digit shortcuts.
func DefaultRules() *RuleSet {
	return &RuleSet{
		Version: "listing-editor-2024.1",
		Fields: []FieldRule{
			{Name: FieldTitle, Label: "Listing title", Interactive: true, Candidates: []string{
				`input[name="title"]`,
				`input[placeholder*="title" i]`,
				`input[id*="title" i]`,
				`input[data-testid*="title" i]`,
				`input[aria-label*="title" i]`,
			}},
			{Name: FieldDescription, Label: "Description editor", Interactive: true, Candidates: []string{
				`textarea[name="description"]`,
				`div[data-input="description"]`,
				`div[data-testid="description"]`,
				`div[aria-label*="Description"]`,
				`div.ck-editor__editable`,
				`div[contenteditable="true"]`,
			}},
			{Name: FieldPrice, Label: "Price", Interactive: true, Candidates: []string{
				`input[name="price"]`,
				`input[placeholder*="price" i]`,
				`input[id*="price" i]`,
				`input[data-testid*="price" i]`,
				`input[aria-label*="price" i]`,
			}},
			{Name: FieldQuantity, Label: "Quantity", Interactive: true, Candidates: []string{
				`input[name="quantity"]`,
				`input[id*="quantity" i]`,
				`input[data-testid*="quantity" i]`,
			}},
			{Name: FieldImageUpload, Label: "Image upload", Interactive: true, Candidates: []string{
				`input[type="file"][accept*="image"]`,
				`input[data-testid="image-upload"]`,
				`input[name="images"]`,
			}},
			{Name: FieldTags, Label: "Tags", Interactive: true, Candidates: []string{
				`input[data-tag-input]`,
				`input[name="tags"]`,
				`input[data-testid="tags"]`,
				`input[placeholder*="tag" i]`,
			}},
			{Name: FieldDigital, Label: "Digital product", Interactive: true, Candidates: []string{
				`input[name="is_digital"]`,
				`input[type="checkbox"][value="digital"]`,
				`//label[contains(normalize-space(.), "Digital")]`,
			}},
			{Name: FieldCategory, Label: "Category", Interactive: true, Candidates: []string{
				`button[data-category]`,
				`button[data-testid="category"]`,
				`//button[contains(normalize-space(.), "Category")]`,
			}},
			{Name: FieldPublish, Label: "Publish", Interactive: true, Candidates: []string{
				`button[data-testid="publish"]`,
				`//button[contains(normalize-space(.), "Publish")]`,
			}},
			{Name: FieldSaveDraft, Label: "Save as draft", Interactive: true, Candidates: []string{
				`button[data-testid="save-draft"]`,
				`//button[contains(normalize-space(.), "Save draft")]`,
				`//button[contains(normalize-space(.), "Save as draft")]`,
			}},
			{Name: FieldLoginEmail, Label: "Login email", Candidates: []string{
				`input[type="email"]`,
				`input[id="email"]`,
				`input[name="email"]`,
				`input[placeholder*="email" i]`,
			}},
			{Name: FieldLoginPassword, Label: "Login password", Candidates: []string{
				`input[type="password"]`,
				`input[id="password"]`,
				`input[name="password"]`,
			}},
			{Name: FieldLoginContinue, Label: "Login continue", Candidates: []string{
				`button[data-testid="continue-button"]`,
				`//button[contains(normalize-space(.), "Continue")]`,
			}},
			{Name: FieldLoginButton, Label: "Sign in", Candidates: []string{
				`button[data-testid="submit-button"]`,
				`button[type="submit"]`,
				`//button[contains(normalize-space(.), "Sign in")]`,
			}},
			{Name: FieldAddListing, Label: "Add a listing", Candidates: []string{
				`a[href*="/listings/new"]`,
				`a[data-testid="add-listing"]`,
				`//button[contains(normalize-space(.), "Add a listing")]`,
			}},
			{Name: FieldCategorySearch, Label: "Category search", Candidates: []string{
				`input[data-testid="category-search"]`,
				`input[placeholder*="category" i]`,
			}},
			{Name: FieldCategoryResult, Label: "First category result", Candidates: []string{
				`div[data-testid="category-result"]`,
				`li[class*="category"]`,
			}},
			{Name: FieldShopSection, Label: "Shop section", Candidates: []string{
				`select[name="shop_section_id"]`,
				`select[data-testid="shop-section"]`,
			}},
			{Name: FieldErrorMessage, Label: "Form error", Candidates: []string{
				`div[data-testid="error-message"]`,
				`div[role="alert"][class*="error"]`,
			}},
			{Name: FieldSuccessMessage, Label: "Form success", Candidates: []string{
				`div[data-testid="success-message"]`,
				`div[class*="success"]`,
			}},
			{Name: FieldChallenge, Label: "Verification challenge", Candidates: []string{
				`iframe[src*="captcha"]`,
				`iframe[title*="challenge" i]`,
				`div[id*="captcha"]`,
			}},
		},
	}
}
