package uploader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/listing-uploader/config"
	"github.com/aluiziolira/listing-uploader/locator"
	"github.com/aluiziolira/listing-uploader/models"
)

var errNoNode = errors.New("no node")

// fakePage is an in-memory page: elements are locator expressions marked
// present, and every interaction is appended to log.
type fakePage struct {
	mu            sync.Mutex
	present       map[string]bool
	texts         map[string]string
	url           string
	navigateTo    map[string]string
	clickNavigate map[string]string
	clickShow     map[string]string
	typeFailures  map[string]int
	log           []string
	shots         int
}

func newFakePage(present ...string) *fakePage {
	f := &fakePage{
		present:       make(map[string]bool),
		texts:         make(map[string]string),
		navigateTo:    make(map[string]string),
		clickNavigate: make(map[string]string),
		clickShow:     make(map[string]string),
		typeFailures:  make(map[string]int),
	}
	for _, field := range present {
		f.present[sel(field)] = true
	}
	return f
}

// sel is the primary locator the test store records for a field.
func sel(field string) string {
	return "#" + field
}

func (f *fakePage) record(format string, args ...any) {
	f.log = append(f.log, fmt.Sprintf(format, args...))
}

func (f *fakePage) Find(ctx context.Context, loc locator.Locator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.present[loc.Expr] {
		return nil
	}
	return errNoNode
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("navigate %s", url)
	if to, ok := f.navigateTo[url]; ok {
		f.url = to
		return nil
	}
	f.url = url
	return nil
}

func (f *fakePage) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakePage) Type(_ context.Context, loc locator.Locator, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.typeFailures[loc.Expr]; n > 0 {
		f.typeFailures[loc.Expr] = n - 1
		return errors.New("element detached")
	}
	f.record("type %s %s", loc.Expr, text)
	return nil
}

func (f *fakePage) Clear(_ context.Context, loc locator.Locator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("clear %s", loc.Expr)
	return nil
}

func (f *fakePage) Click(_ context.Context, loc locator.Locator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("click %s", loc.Expr)
	if to, ok := f.clickNavigate[loc.Expr]; ok {
		f.url = to
	}
	if show, ok := f.clickShow[loc.Expr]; ok {
		f.present[show] = true
	}
	return nil
}

func (f *fakePage) PressEnter(_ context.Context, loc locator.Locator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("enter %s", loc.Expr)
	return nil
}

func (f *fakePage) SetFiles(_ context.Context, loc locator.Locator, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("files %s %s", loc.Expr, strings.Join(paths, ";"))
	return nil
}

func (f *fakePage) SelectOption(_ context.Context, loc locator.Locator, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("select %s %s", loc.Expr, label)
	return nil
}

func (f *fakePage) EnsureChecked(_ context.Context, loc locator.Locator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("check %s", loc.Expr)
	return nil
}

func (f *fakePage) Text(_ context.Context, loc locator.Locator) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[loc.Expr], nil
}

func (f *fakePage) Scroll(_ context.Context, down bool, steps int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir := "up"
	if down {
		dir = "down"
	}
	f.record("scroll %s %d", dir, steps)
	return nil
}

func (f *fakePage) Screenshot(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shots++
	return []byte("\x89PNG"), nil
}

func (f *fakePage) has(entry string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.log {
		if l == entry {
			return true
		}
	}
	return false
}

func (f *fakePage) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.log {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

func testStore(t *testing.T) *locator.Store {
	t.Helper()
	store := locator.NewStore()
	for _, rule := range locator.DefaultRules().Fields {
		if err := store.Put(rule.Name, locator.Entry{Primary: sel(rule.Name)}, false); err != nil {
			t.Fatalf("put %s: %v", rule.Name, err)
		}
	}
	return store
}

type fakeImages struct{}

func (fakeImages) Resolve(_ context.Context, refs []string) ([]string, error) {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = "/abs/" + r
	}
	return out, nil
}

type fakePrompter struct {
	calls  int
	onWait func()
}

func (p *fakePrompter) Wait(context.Context, string) error {
	p.calls++
	if p.onWait != nil {
		p.onWait()
	}
	return nil
}

// formFields are the listing-editor fields a complete form exposes.
var formFields = []string{
	locator.FieldTitle, locator.FieldDescription, locator.FieldPrice,
	locator.FieldQuantity, locator.FieldTags, locator.FieldImageUpload,
	locator.FieldDigital, locator.FieldCategory, locator.FieldCategorySearch,
	locator.FieldCategoryResult, locator.FieldShopSection, locator.FieldPublish,
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Target.LoginURL = "https://shop.test/signin"
	cfg.Target.ListingURL = "https://shop.test/listings/new"
	cfg.Browser.LookupTimeout = 10 * time.Millisecond
	cfg.Browser.PageLoadTimeout = 5 * time.Second
	cfg.Files.OutputDir = t.TempDir()
	cfg.Retry.Backoff = time.Millisecond
	cfg.Retry.BackoffMax = time.Millisecond
	return cfg
}

// newTestDriver wires a driver whose sleeps advance a fake clock.
func newTestDriver(t *testing.T, cfg *config.Config, page *fakePage, prompt Prompter) *Driver {
	t.Helper()
	d := NewDriver(cfg, page, testStore(t), fakeImages{}, prompt, NewMetrics())
	clock := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return clock }
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		clock = clock.Add(dur)
		return ctx.Err()
	}
	return d
}

func TestLoginSucceeds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials = config.Credentials{Email: "seller@example.com", Password: "hunter2"}

	page := newFakePage(locator.FieldLoginEmail, locator.FieldLoginPassword, locator.FieldLoginButton)
	page.clickNavigate[sel(locator.FieldLoginButton)] = "https://shop.test/your/shop/dashboard"
	d := newTestDriver(t, cfg, page, nil)

	if err := d.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	for _, want := range []string{
		"navigate https://shop.test/signin",
		"type #login_email seller@example.com",
		"type #login_password hunter2",
		"click #login_button",
	} {
		if !page.has(want) {
			t.Fatalf("missing action %q in %v", want, page.log)
		}
	}
	if page.has("click #login_continue") {
		t.Fatalf("continue button is absent and must not be clicked")
	}
}

func TestLoginClicksContinueWhenPresent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials = config.Credentials{Email: "seller@example.com", Password: "hunter2"}

	page := newFakePage(locator.FieldLoginEmail, locator.FieldLoginContinue, locator.FieldLoginPassword, locator.FieldLoginButton)
	page.clickNavigate[sel(locator.FieldLoginButton)] = "https://shop.test/home"
	d := newTestDriver(t, cfg, page, nil)

	if err := d.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !page.has("click #login_continue") {
		t.Fatalf("continue button should be clicked: %v", page.log)
	}
}

func TestLoginFailsWhenStillOnSignin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials = config.Credentials{Email: "seller@example.com", Password: "wrong"}

	page := newFakePage(locator.FieldLoginEmail, locator.FieldLoginPassword, locator.FieldLoginButton)
	d := newTestDriver(t, cfg, page, nil)

	err := d.Login(context.Background())
	var auth ErrAuthentication
	if !errors.As(err, &auth) {
		t.Fatalf("err=%v, want ErrAuthentication", err)
	}
	if !halts(err) {
		t.Fatalf("authentication failure must halt the run")
	}
}

func TestLoginMissingEmailField(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials = config.Credentials{Email: "seller@example.com", Password: "pw"}

	d := newTestDriver(t, cfg, newFakePage(), nil)
	err := d.Login(context.Background())
	if got := errorTypeLabel(err); got != "element_not_found" {
		t.Fatalf("label=%q for %v", got, err)
	}
	var auth ErrAuthentication
	if !errors.As(err, &auth) {
		t.Fatalf("err=%v, want ErrAuthentication wrapper", err)
	}
}

func TestLoginWithoutCredentialsReusesProfile(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage()
	page.url = "https://shop.test/your/shop"
	d := newTestDriver(t, cfg, page, nil)

	if err := d.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if page.count("navigate") != 0 {
		t.Fatalf("no navigation expected, got %v", page.log)
	}
}

func TestCheckChallenge(t *testing.T) {
	t.Run("prompt clears challenge", func(t *testing.T) {
		cfg := testConfig(t)
		page := newFakePage()
		page.url = "https://shop.test/captcha?next=/listings"
		prompt := &fakePrompter{onWait: func() { page.url = "https://shop.test/listings/new" }}
		d := newTestDriver(t, cfg, page, prompt)

		if err := d.CheckChallenge(context.Background()); err != nil {
			t.Fatalf("check: %v", err)
		}
		if prompt.calls != 1 {
			t.Fatalf("prompt calls=%d, want 1", prompt.calls)
		}
	})

	t.Run("unresolved challenge halts", func(t *testing.T) {
		cfg := testConfig(t)
		page := newFakePage(locator.FieldChallenge)
		page.url = "https://shop.test/listings/new"
		prompt := &fakePrompter{}
		d := newTestDriver(t, cfg, page, prompt)

		err := d.CheckChallenge(context.Background())
		var challenge ErrVerificationChallenge
		if !errors.As(err, &challenge) {
			t.Fatalf("err=%v, want ErrVerificationChallenge", err)
		}
		if prompt.calls != 1 {
			t.Fatalf("prompt calls=%d, want 1", prompt.calls)
		}
	})

	t.Run("headless never prompts", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Browser.Headless = true
		page := newFakePage()
		page.url = "https://shop.test/verify"
		prompt := &fakePrompter{}
		d := newTestDriver(t, cfg, page, prompt)

		if err := d.CheckChallenge(context.Background()); errorTypeLabel(err) != "verification_challenge" {
			t.Fatalf("err=%v, want verification challenge", err)
		}
		if prompt.calls != 0 {
			t.Fatalf("prompted in headless mode")
		}
	})

	t.Run("no challenge", func(t *testing.T) {
		cfg := testConfig(t)
		page := newFakePage()
		page.url = "https://shop.test/listings/new"
		d := newTestDriver(t, cfg, page, &fakePrompter{})
		if err := d.CheckChallenge(context.Background()); err != nil {
			t.Fatalf("check: %v", err)
		}
	})
}

func sampleProduct() *models.Product {
	return &models.Product{
		Row:          1,
		Title:        "Boho Print",
		Description:  "A bold print",
		Price:        "12.50",
		Quantity:     999,
		Tags:         []string{"boho", "wall art"},
		CategoryPath: "Home:Wall Decor:Prints",
		ImagePaths:   []string{"a.jpg", "b.jpg"},
		ShopSection:  "Prints",
	}
}

func TestUploadProductFillsForm(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage(formFields...)
	d := newTestDriver(t, cfg, page, nil)

	if err := d.UploadProduct(context.Background(), sampleProduct()); err != nil {
		t.Fatalf("upload: %v (log %v)", err, page.log)
	}

	for _, want := range []string{
		"navigate https://shop.test/listings/new",
		"type #title_input Boho Print",
		"click #description_editor",
		"type #description_editor A bold print",
		"type #price_input 12.50",
		"type #quantity_input 999",
		"click #category_button",
		"type #category_search Prints",
		"click #category_result",
		"type #tags_input boho",
		"type #tags_input wall art",
		"files #image_upload /abs/a.jpg;/abs/b.jpg",
		"check #digital_checkbox",
		"select #shop_section_select Prints",
		"click #publish_button",
		"scroll down 2",
		"scroll up 2",
	} {
		if !page.has(want) {
			t.Fatalf("missing action %q in %v", want, page.log)
		}
	}
	if page.has("click #add_listing") {
		t.Fatalf("form was already open: %v", page.log)
	}
	if got := page.count("enter #tags_input"); got != 2 {
		t.Fatalf("enter presses=%d, want 2", got)
	}
}

func TestUploadProductOptionalStepsMayBeMissing(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage(locator.FieldTitle, locator.FieldDescription, locator.FieldPrice, locator.FieldPublish)
	d := newTestDriver(t, cfg, page, nil)

	p := &models.Product{Row: 1, Title: "Mug", Description: "Ceramic", Price: "9", Quantity: 999}
	if err := d.UploadProduct(context.Background(), p); err != nil {
		t.Fatalf("upload: %v", err)
	}
}

func TestUploadProductRequiredFieldMissing(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage(locator.FieldTitle, locator.FieldDescription, locator.FieldPublish)
	d := newTestDriver(t, cfg, page, nil)

	err := d.UploadProduct(context.Background(), sampleProduct())
	if !errors.Is(err, locator.ErrElementNotFound) {
		t.Fatalf("err=%v, want element not found", err)
	}
	if !strings.Contains(err.Error(), locator.FieldPrice) {
		t.Fatalf("error should name the field: %v", err)
	}
	if page.has("click #publish_button") {
		t.Fatalf("form must not be submitted")
	}
}

func TestSubmitFallsBackToDraft(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage(locator.FieldTitle, locator.FieldDescription, locator.FieldPrice, locator.FieldSaveDraft)
	d := newTestDriver(t, cfg, page, nil)

	p := &models.Product{Row: 1, Title: "Mug", Description: "Ceramic", Price: "9", Quantity: 1}
	if err := d.UploadProduct(context.Background(), p); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !page.has("click #save_draft_button") {
		t.Fatalf("draft should be saved: %v", page.log)
	}
}

func TestSubmitWithoutControls(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage(locator.FieldTitle, locator.FieldDescription, locator.FieldPrice)
	d := newTestDriver(t, cfg, page, nil)

	p := &models.Product{Row: 1, Title: "Mug", Description: "Ceramic", Price: "9", Quantity: 1}
	err := d.UploadProduct(context.Background(), p)
	if !errors.Is(err, locator.ErrElementNotFound) {
		t.Fatalf("err=%v, want element not found", err)
	}
	if !strings.Contains(err.Error(), locator.FieldPublish) {
		t.Fatalf("error should name the publish control: %v", err)
	}
}

func TestSubmitRejected(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage(locator.FieldTitle, locator.FieldDescription, locator.FieldPrice, locator.FieldPublish)
	page.clickShow[sel(locator.FieldPublish)] = sel(locator.FieldErrorMessage)
	page.texts[sel(locator.FieldErrorMessage)] = "  Price must be at least 0.20  "
	d := newTestDriver(t, cfg, page, nil)

	p := &models.Product{Row: 1, Title: "Mug", Description: "Ceramic", Price: "0.1", Quantity: 1}
	err := d.UploadProduct(context.Background(), p)
	var rejected ErrSubmissionRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("err=%v, want ErrSubmissionRejected", err)
	}
	if rejected.Reason != "Price must be at least 0.20" {
		t.Fatalf("reason=%q", rejected.Reason)
	}
	if !retryable(err) {
		t.Fatalf("rejections are retried")
	}
}

func TestUploadProductUsesFallbackLocator(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage(locator.FieldDescription, locator.FieldPrice, locator.FieldPublish)
	page.present[`input[name="title"]`] = true

	store := testStore(t)
	if err := store.Put(locator.FieldTitle, locator.Entry{
		Primary:  sel(locator.FieldTitle),
		Fallback: []string{`input[name="title"]`},
	}, true); err != nil {
		t.Fatalf("put: %v", err)
	}
	metrics := NewMetrics()
	d := NewDriver(cfg, page, store, fakeImages{}, nil, metrics)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	p := &models.Product{Row: 1, Title: "Mug", Description: "Ceramic", Price: "9", Quantity: 1}
	if err := d.UploadProduct(context.Background(), p); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !page.has(`type input[name="title"] Mug`) {
		t.Fatalf("title should be typed through the fallback: %v", page.log)
	}
}

func TestUploadProductOpensFormThroughAddListing(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage(locator.FieldAddListing, locator.FieldDescription, locator.FieldPrice, locator.FieldPublish)
	page.clickShow[sel(locator.FieldAddListing)] = sel(locator.FieldTitle)
	d := newTestDriver(t, cfg, page, nil)

	p := &models.Product{Row: 1, Title: "Mug", Description: "Ceramic", Price: "9", Quantity: 1}
	if err := d.UploadProduct(context.Background(), p); err != nil {
		t.Fatalf("upload: %v (log %v)", err, page.log)
	}
	if !page.has("click #add_listing") || !page.has("type #title_input Mug") {
		t.Fatalf("add listing should open the form: %v", page.log)
	}
}

func TestSubmitConfirmedBySuccessBanner(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage(locator.FieldTitle, locator.FieldDescription, locator.FieldPrice, locator.FieldPublish)
	page.clickShow[sel(locator.FieldPublish)] = sel(locator.FieldSuccessMessage)
	// A stale error banner is ignored once the listing is confirmed.
	page.present[sel(locator.FieldErrorMessage)] = true
	d := newTestDriver(t, cfg, page, nil)

	p := &models.Product{Row: 1, Title: "Mug", Description: "Ceramic", Price: "9", Quantity: 1}
	if err := d.UploadProduct(context.Background(), p); err != nil {
		t.Fatalf("upload: %v", err)
	}
}
