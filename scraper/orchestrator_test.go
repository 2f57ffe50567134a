package scraper

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pricepilot/config"
	"pricepilot/models"
	"pricepilot/services"
)

// memGateway is an in-memory stand-in for the Postgres store.
type memGateway struct {
	mu         sync.Mutex
	products   map[string]*models.Product
	prices     map[string]*models.PriceRecord
	popularity map[uuid.UUID]int
	runs       []*models.VendorRun
}

func newMemGateway() *memGateway {
	return &memGateway{
		products:   make(map[string]*models.Product),
		prices:     make(map[string]*models.PriceRecord),
		popularity: make(map[uuid.UUID]int),
	}
}

func (g *memGateway) GetProductByFingerprint(ctx context.Context, fingerprint string) (*models.Product, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.products[fingerprint]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (g *memGateway) UpsertProduct(ctx context.Context, p *models.Product) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *p
	g.products[p.Fingerprint] = &cp
	return nil
}

func (g *memGateway) ListMatchCandidates(ctx context.Context) ([]models.MatchCandidate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.MatchCandidate
	for _, p := range g.products {
		out = append(out, models.MatchCandidate{ID: p.ID, Name: p.Name, Brand: p.Brand, Model: p.Model})
	}
	return out, nil
}

func (g *memGateway) UpsertPrice(ctx context.Context, r *models.PriceRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := r.ProductID.String() + "|" + r.Vendor
	if prev, ok := g.prices[key]; ok && prev.CapturedAt.After(r.CapturedAt) {
		return nil
	}
	cp := *r
	g.prices[key] = &cp
	return nil
}

func (g *memGateway) IncrementPopularity(ctx context.Context, productID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.popularity[productID]++
	return nil
}

func (g *memGateway) RecordRun(ctx context.Context, run *models.VendorRun) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *run
	g.runs = append(g.runs, &cp)
	return nil
}

func (g *memGateway) vendorPrices() []models.PriceRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.PriceRecord
	for _, r := range g.prices {
		out = append(out, *r)
	}
	return out
}

func (g *memGateway) runByVendor(vendor string) *models.VendorRun {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.runs) - 1; i >= 0; i-- {
		if g.runs[i].Vendor == vendor {
			return g.runs[i]
		}
	}
	return nil
}

// stubScraper serves canned listings or a canned failure.
type stubScraper struct {
	id       string
	listings []models.ScrapedListing
	err      error
	onSearch func()
}

func (s *stubScraper) ID() string { return s.id }

func (s *stubScraper) Search(ctx context.Context, query string) ([]models.ScrapedListing, error) {
	if s.onSearch != nil {
		s.onSearch()
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.ScrapedListing, len(s.listings))
	copy(out, s.listings)
	return out, nil
}

func (s *stubScraper) FetchDetail(ctx context.Context, listingURL string) (*models.ScrapedListing, error) {
	for i := range s.listings {
		if s.listings[i].URL == listingURL {
			cp := s.listings[i]
			return &cp, nil
		}
	}
	return nil, &FetchError{URL: listingURL, StatusCode: 404}
}

func testOrchestratorConfig() *config.Config {
	return &config.Config{
		UserAgent: "test-agent",
		Run:       config.RunConfig{Concurrency: 1, MaxListingsPerQuery: 5},
		Match:     config.MatchConfig{Threshold: 0.72, Epsilon: 0.04},
		Vendors: map[string]*config.VendorConfig{
			"amazon":  {ID: "amazon", Handler: "html", BaseURL: "https://a.example", SearchURL: "https://a.example/s?k=%s"},
			"walmart": {ID: "walmart", Handler: "html", BaseURL: "https://w.example", SearchURL: "https://w.example/search?q=%s"},
			"bestbuy": {ID: "bestbuy", Handler: "html", BaseURL: "https://b.example", SearchURL: "https://b.example/site?st=%s"},
		},
	}
}

func buildTestOrchestrator(t *testing.T, cfg *config.Config, gw *memGateway) *Orchestrator {
	t.Helper()
	queries := map[string][]string{"headphones": {"sony wh-1000xm4"}}
	record := services.NewRecordService(gw, services.NewMatcher(cfg.Match), nil)

	o, err := NewOrchestrator(cfg, queries, nil, record, &http.Client{})
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}
	o.SetRobots(nil)
	o.SetRunRecorder(gw)
	return o
}

func TestRunAll_ThreeVendorScenario(t *testing.T) {
	gw := newMemGateway()
	o := buildTestOrchestrator(t, testOrchestratorConfig(), gw)

	o.SetScraper("amazon", &stubScraper{id: "amazon", listings: []models.ScrapedListing{{
		Vendor:            "amazon",
		Name:              "Sony WH-1000XM4 Wireless Noise Canceling Headphones",
		Brand:             "sony",
		PriceText:         "$248.00",
		OriginalPriceText: "$349.00",
		StockText:         "In Stock",
		URL:               "https://a.example/dp/B09XS7JWHH",
	}}})
	o.SetScraper("walmart", &stubScraper{id: "walmart", listings: []models.ScrapedListing{{
		Vendor:    "walmart",
		Name:      "Sony WH1000XM4/B Wireless Noise Canceling Headphones",
		Brand:     "sony",
		PriceText: "$259.99",
		StockText: "In stock",
		URL:       "https://w.example/ip/938406996",
	}}})
	o.SetScraper("bestbuy", &stubScraper{id: "bestbuy", err: &FetchError{URL: "https://b.example", StatusCode: 503}})

	if err := o.RunAll(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(gw.products) != 1 {
		t.Fatalf("both vendors must land on one product, got %d", len(gw.products))
	}

	prices := gw.vendorPrices()
	if len(prices) != 2 {
		t.Fatalf("expected 2 vendor prices, got %d", len(prices))
	}

	best := models.BestDeal(prices)
	if best == nil || best.Vendor != "amazon" || best.Price != 24800 {
		t.Fatalf("expected best deal amazon at 24800, got %+v", best)
	}
	if best.Discount == nil || math.Abs(*best.Discount-0.2894) > 0.001 {
		t.Fatalf("expected discount about 28.9%%, got %v", best.Discount)
	}

	for vendor, want := range map[string]models.RunStatus{
		"amazon":  models.RunStatusSuccess,
		"walmart": models.RunStatusSuccess,
		"bestbuy": models.RunStatusFailed,
	} {
		run := gw.runByVendor(vendor)
		if run == nil {
			t.Fatalf("missing run record for %s", vendor)
		}
		if run.Status != want {
			t.Fatalf("%s run status %s, want %s", vendor, run.Status, want)
		}
	}

	bb := gw.runByVendor("bestbuy")
	if bb.ErrorsCount != 1 || len(bb.Errors) != 1 || bb.Errors[0].Kind != "fetch_error" {
		t.Fatalf("unexpected bestbuy error record %+v", bb.Errors)
	}

	// Second run is idempotent: same product, same two price rows.
	if err := o.RunAll(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(gw.products) != 1 {
		t.Fatalf("re-run minted products, got %d", len(gw.products))
	}
	if got := len(gw.vendorPrices()); got != 2 {
		t.Fatalf("re-run duplicated prices, got %d", got)
	}
}

func TestRunAll_DeadlineSkipsUndispatched(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.Run.Deadline = time.Minute
	gw := newMemGateway()
	o := buildTestOrchestrator(t, cfg, gw)

	for _, vendor := range []string{"amazon", "walmart", "bestbuy"} {
		o.SetScraper(vendor, &stubScraper{id: vendor, err: fmt.Errorf("must not be called")})
	}

	// First read is the run start; every later read is past the deadline,
	// so no unit dispatches.
	base := time.Now()
	calls := 0
	o.SetNow(func() time.Time {
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(2 * time.Minute)
	})

	if err := o.RunAll(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, vendor := range []string{"amazon", "walmart", "bestbuy"} {
		run := gw.runByVendor(vendor)
		if run.Status != models.RunStatusPartial {
			t.Fatalf("%s status %s, want partial", vendor, run.Status)
		}
		if run.SkippedCount != 1 {
			t.Fatalf("%s skipped %d, want 1", vendor, run.SkippedCount)
		}
		if len(run.Errors) != 1 || run.Errors[0].Kind != "deadline" {
			t.Fatalf("%s errors %+v, want one deadline skip", vendor, run.Errors)
		}
	}
	if len(gw.prices) != 0 {
		t.Fatalf("no prices should be written, got %d", len(gw.prices))
	}
}

func TestRunAll_RobotsDisallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /\n")
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	cfg := testOrchestratorConfig()
	cfg.Vendors = map[string]*config.VendorConfig{
		"walmart": {ID: "walmart", Handler: "html", BaseURL: server.URL, SearchURL: server.URL + "/search?q=%s"},
	}

	gw := newMemGateway()
	o := buildTestOrchestrator(t, cfg, gw)
	o.SetRobots(NewRobotsCache(server.Client(), "test-agent"))
	o.SetScraper("walmart", &stubScraper{id: "walmart", err: fmt.Errorf("must not be called")})

	if err := o.RunAll(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	run := gw.runByVendor("walmart")
	if run.SkippedCount != 1 || run.ErrorsCount != 0 {
		t.Fatalf("expected one compliance skip, got %+v", run)
	}
	if len(run.Errors) != 1 || run.Errors[0].Kind != "compliance_skip" {
		t.Fatalf("unexpected errors %+v", run.Errors)
	}
}

func TestRunAll_DeadlineStopsSaturatedDispatch(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.Run.Deadline = time.Minute
	delete(cfg.Vendors, "bestbuy")
	gw := newMemGateway()
	o := buildTestOrchestrator(t, cfg, gw)

	// The amazon unit holds the single worker slot and pushes the clock past
	// the deadline mid-flight; the queued walmart unit must not dispatch.
	base := time.Now()
	var mu sync.Mutex
	expired := false
	o.SetNow(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		if expired {
			return base.Add(2 * time.Minute)
		}
		return base
	})

	o.SetScraper("amazon", &stubScraper{
		id: "amazon",
		listings: []models.ScrapedListing{{
			Vendor:    "amazon",
			Name:      "Sony WH-1000XM4 Wireless Noise Canceling Headphones",
			Brand:     "sony",
			PriceText: "$248.00",
			StockText: "In Stock",
			URL:       "https://a.example/dp/B09XS7JWHH",
		}},
		onSearch: func() {
			mu.Lock()
			expired = true
			mu.Unlock()
		},
	})
	o.SetScraper("walmart", &stubScraper{id: "walmart", err: fmt.Errorf("dispatched after the deadline")})

	if err := o.RunAll(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	amazon := gw.runByVendor("amazon")
	if amazon.Status != models.RunStatusSuccess || amazon.ListingsScraped != 1 {
		t.Fatalf("in-flight unit must drain, got %+v", amazon)
	}

	walmart := gw.runByVendor("walmart")
	if walmart.Status != models.RunStatusPartial || walmart.SkippedCount != 1 {
		t.Fatalf("queued unit must be skipped, got %+v", walmart)
	}
	if walmart.ErrorsCount != 0 {
		t.Fatalf("skipped unit must not count as an error, got %+v", walmart)
	}
	if len(walmart.Errors) != 1 || walmart.Errors[0].Kind != "deadline" {
		t.Fatalf("unexpected walmart errors %+v", walmart.Errors)
	}
}

func TestRunAll_RobotsRecheckedEachRun(t *testing.T) {
	var mu sync.Mutex
	allow := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			mu.Lock()
			defer mu.Unlock()
			if allow {
				fmt.Fprint(w, "User-agent: *\nAllow: /\n")
			} else {
				fmt.Fprint(w, "User-agent: *\nDisallow: /\n")
			}
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	cfg := testOrchestratorConfig()
	cfg.Vendors = map[string]*config.VendorConfig{
		"walmart": {ID: "walmart", Handler: "html", BaseURL: server.URL, SearchURL: server.URL + "/search?q=%s"},
	}

	gw := newMemGateway()
	o := buildTestOrchestrator(t, cfg, gw)
	o.SetRobots(NewRobotsCache(server.Client(), "test-agent"))
	o.SetScraper("walmart", &stubScraper{id: "walmart", listings: []models.ScrapedListing{{
		Vendor:    "walmart",
		Name:      "Sony WH-1000XM4 Wireless Noise Canceling Headphones",
		Brand:     "sony",
		PriceText: "$259.99",
		StockText: "In stock",
		URL:       "https://w.example/ip/938406996",
	}}})

	if err := o.RunAll(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := gw.runByVendor("walmart")
	if first.SkippedCount != 1 || len(first.Errors) != 1 || first.Errors[0].Kind != "compliance_skip" {
		t.Fatalf("first run must skip on robots, got %+v", first)
	}

	mu.Lock()
	allow = true
	mu.Unlock()

	if err := o.RunAll(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second := gw.runByVendor("walmart")
	if second.Status != models.RunStatusSuccess || second.ListingsScraped != 1 {
		t.Fatalf("loosened robots must take effect next run, got %+v", second)
	}
	if got := len(gw.vendorPrices()); got != 1 {
		t.Fatalf("expected 1 price after second run, got %d", got)
	}
}

func TestRunAll_AllListingsFailedUnitFails(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.Vendors = map[string]*config.VendorConfig{
		"amazon": {ID: "amazon", Handler: "html", BaseURL: "https://a.example", SearchURL: "https://a.example/s?k=%s"},
	}
	gw := newMemGateway()
	o := buildTestOrchestrator(t, cfg, gw)

	// A card with neither link nor price can never become a record.
	o.SetScraper("amazon", &stubScraper{id: "amazon", listings: []models.ScrapedListing{{
		Vendor: "amazon",
		Name:   "Sony WH-1000XM4 Wireless Noise Canceling Headphones",
		Brand:  "sony",
	}}})

	if err := o.RunAll(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	run := gw.runByVendor("amazon")
	if run.Status != models.RunStatusFailed {
		t.Fatalf("unit that recorded nothing must fail, got %s", run.Status)
	}
	if run.ErrorsCount != 1 || run.ListingsScraped != 0 {
		t.Fatalf("unexpected run record %+v", run)
	}
	if len(run.Errors) != 1 || run.Errors[0].Kind != "parse_error" {
		t.Fatalf("unexpected errors %+v", run.Errors)
	}
	if len(gw.prices) != 0 {
		t.Fatalf("no prices should be written, got %d", len(gw.prices))
	}
}

func TestHandleCommand_PauseBlocksRuns(t *testing.T) {
	gw := newMemGateway()
	o := buildTestOrchestrator(t, testOrchestratorConfig(), gw)
	ctx := context.Background()

	if err := o.HandleCommand(ctx, &models.Command{Command: models.CmdPause}); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if !o.IsPaused() {
		t.Fatal("expected paused")
	}
	if err := o.RunAll(ctx); err != nil {
		t.Fatalf("paused run must be a no-op: %v", err)
	}
	if len(gw.runs) != 0 {
		t.Fatalf("paused run still recorded %d runs", len(gw.runs))
	}

	if err := o.HandleCommand(ctx, &models.Command{Command: models.CmdResume}); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if o.IsPaused() {
		t.Fatal("expected resumed")
	}
}
