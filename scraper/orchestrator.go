package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pricepilot/config"
	"pricepilot/governor"
	"pricepilot/models"
	"pricepilot/services"
)

// OpsStore is the local observability sink for run records and logs.
// Satisfied by storage.SQLiteStore.
type OpsStore interface {
	SaveVendorRun(run *models.VendorRun) error
	Log(runID uuid.UUID, level models.LogLevel, message, vendor string)
}

// RunRecorder mirrors finished vendor runs into the durable store.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.VendorRun) error
}

// Recorder is the listing pipeline: normalize, match, persist.
type Recorder interface {
	BeginRun(ctx context.Context) error
	ProcessListing(ctx context.Context, l *models.ScrapedListing, category string) (*services.ProcessResult, error)
}

// unit is one (vendor, category, query) slice of a run. Units are the grain
// of scheduling: the global concurrency cap and the deadline both apply at
// unit boundaries, so an in-flight unit always drains.
type unit struct {
	vendor   string
	category string
	query    string
}

type Orchestrator struct {
	cfg     *config.Config
	queries map[string][]string
	ops     OpsStore
	record  Recorder
	runs    RunRecorder

	scrapers map[string]Scraper
	robots   *RobotsCache
	browser  *BrowserFetcher

	now    func() time.Time
	paused bool
}

func NewOrchestrator(cfg *config.Config, queries map[string][]string, ops OpsStore, record Recorder, client *http.Client) (*Orchestrator, error) {
	limits := make(map[string]governor.Limits, len(cfg.Vendors))
	for id, vcfg := range cfg.Vendors {
		limits[id] = governor.Limits{
			MinInterval: time.Duration(vcfg.RateLimitMS) * time.Millisecond,
			MaxRetries:  vcfg.MaxRetries,
			BackoffBase: time.Duration(vcfg.BackoffBaseMS) * time.Millisecond,
		}
	}
	gov := governor.New(limits)

	o := &Orchestrator{
		cfg:      cfg,
		queries:  queries,
		ops:      ops,
		record:   record,
		scrapers: make(map[string]Scraper, len(cfg.Vendors)),
		robots:   NewRobotsCache(client, cfg.UserAgent),
		now:      time.Now,
	}

	for id, vcfg := range cfg.Vendors {
		var base Fetcher
		if vcfg.Handler == "browser" {
			if o.browser == nil {
				o.browser = NewBrowserFetcher(cfg.UserAgent)
			}
			base = o.browser
		} else {
			base = NewHTTPFetcher(client, cfg.UserAgent)
		}

		sc, err := New(vcfg, NewPacedFetcher(id, gov, base))
		if err != nil {
			return nil, err
		}
		o.scrapers[id] = sc
	}

	return o, nil
}

// SetRunRecorder wires the durable run store; without it runs are only kept
// in the local ops database.
func (o *Orchestrator) SetRunRecorder(runs RunRecorder) { o.runs = runs }

// SetScraper swaps one vendor's implementation.
func (o *Orchestrator) SetScraper(vendor string, s Scraper) { o.scrapers[vendor] = s }

// SetRobots swaps or disables (nil) the robots.txt gate. Test hook.
func (o *Orchestrator) SetRobots(rc *RobotsCache) { o.robots = rc }

// SetNow swaps the wall clock used for deadlines. Test hook.
func (o *Orchestrator) SetNow(fn func() time.Time) { o.now = fn }

func (o *Orchestrator) Close() {
	if o.browser != nil {
		o.browser.Close()
	}
}

func (o *Orchestrator) RunAll(ctx context.Context) error {
	return o.run(ctx, o.VendorIDs())
}

func (o *Orchestrator) RunVendor(ctx context.Context, vendor string) error {
	if _, ok := o.scrapers[vendor]; !ok {
		return fmt.Errorf("unknown vendor: %s", vendor)
	}
	return o.run(ctx, []string{vendor})
}

// vendorTally accumulates one vendor's outcomes across its units.
type vendorTally struct {
	mu sync.Mutex

	run       *models.VendorRun
	category  string
	total     int
	succeeded int
	failed    int
	skipped   int
	stats     services.ProcessStats
}

func (t *vendorTally) skip(query, kind, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped++
	t.run.SkippedCount++
	t.run.Errors = append(t.run.Errors, models.RunError{Query: query, Kind: kind, Message: message})
}

func (t *vendorTally) failUnit(query string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
	t.run.ErrorsCount++
	t.stats.Errors++
	t.run.Errors = append(t.run.Errors, models.RunError{Query: query, Kind: Classify(err), Message: err.Error()})
}

func (t *vendorTally) listingError(query, url string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.ErrorsCount++
	t.stats.Errors++
	t.run.Errors = append(t.run.Errors, models.RunError{Query: query, URL: url, Kind: Classify(err), Message: err.Error()})
}

func (t *vendorTally) recorded(r *services.ProcessResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.ListingsScraped++
	t.stats.Aggregate(r)
}

// finishUnit closes out a unit whose search succeeded. A unit that saw
// errors and recorded nothing counts as failed; an empty result set with no
// errors is a clean success.
func (t *vendorTally) finishUnit(recorded, errs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if recorded == 0 && errs > 0 {
		t.failed++
		return
	}
	t.succeeded++
}

// status derives the vendor verdict from unit outcomes: every unit clean is
// success, every unit failed is failed, anything mixed (including skips) is
// partial.
func (t *vendorTally) status() models.RunStatus {
	switch {
	case t.succeeded == t.total:
		return models.RunStatusSuccess
	case t.failed == t.total:
		return models.RunStatusFailed
	default:
		return models.RunStatusPartial
	}
}

func (o *Orchestrator) run(ctx context.Context, vendors []string) error {
	if o.paused {
		log.Println("Pipeline is paused, skipping run")
		return nil
	}

	if err := o.record.BeginRun(ctx); err != nil {
		return err
	}
	if o.robots != nil {
		o.robots.Reset()
	}

	start := o.now()
	var deadline time.Time
	if o.cfg.Run.Deadline > 0 {
		deadline = start.Add(o.cfg.Run.Deadline)
	}

	sort.Strings(vendors)

	tallies := make(map[string]*vendorTally, len(vendors))
	allowed := make(map[string]bool, len(vendors))
	var units []unit

	for _, vendor := range vendors {
		run := &models.VendorRun{
			ID:        uuid.New(),
			Vendor:    vendor,
			Status:    models.RunStatusRunning,
			StartedAt: start,
		}
		tallies[vendor] = &vendorTally{run: run}
		o.saveRun(run)
		o.logRun(run, models.LogLevelInfo, fmt.Sprintf("Starting run for %s", vendor))

		allowed[vendor] = o.vendorAllowed(ctx, vendor)
		if !allowed[vendor] {
			o.logRun(run, models.LogLevelWarn, "robots.txt disallows scraping, skipping vendor")
		}

		for category, queries := range o.queries {
			for _, query := range queries {
				units = append(units, unit{vendor: vendor, category: category, query: query})
				tallies[vendor].total++
			}
		}
	}

	// Stable dispatch order: queries grouped per vendor, vendors alphabetical.
	sort.Slice(units, func(i, j int) bool {
		if units[i].vendor != units[j].vendor {
			return units[i].vendor < units[j].vendor
		}
		if units[i].category != units[j].category {
			return units[i].category < units[j].category
		}
		return units[i].query < units[j].query
	})

	g, gctx := errgroup.WithContext(ctx)
	if o.cfg.Run.Concurrency > 0 {
		g.SetLimit(o.cfg.Run.Concurrency)
	}

	expired := func() bool {
		return !deadline.IsZero() && !o.now().Before(deadline)
	}

	for _, u := range units {
		tally := tallies[u.vendor]
		if !allowed[u.vendor] {
			tally.skip(u.query, "compliance_skip", ErrDisallowed.Error())
			continue
		}
		if expired() {
			tally.skip(u.query, "deadline", "run deadline reached before dispatch")
			continue
		}

		u := u
		g.Go(func() error {
			// Re-checked here: Go blocks while the pool is saturated, and
			// the deadline may pass in the meantime.
			if expired() {
				tally.skip(u.query, "deadline", "run deadline reached before dispatch")
				return nil
			}
			o.runUnit(gctx, u, tally)
			return nil
		})
	}

	g.Wait()

	for _, vendor := range vendors {
		tally := tallies[vendor]
		now := o.now()
		tally.run.Status = tally.status()
		tally.run.FinishedAt = &now
		o.saveRun(tally.run)

		if o.runs != nil {
			if err := o.runs.RecordRun(ctx, tally.run); err != nil {
				log.Printf("Warning: failed to record %s run: %v", vendor, err)
			}
		}

		o.logRun(tally.run, models.LogLevelInfo,
			fmt.Sprintf("Finished %s: %s, %d listings, %d new products, %d matched, %d ambiguous, %d errors, %d skipped",
				vendor, tally.run.Status, tally.run.ListingsScraped, tally.stats.ProductsNew,
				tally.stats.Matched, tally.stats.Ambiguous, tally.run.ErrorsCount, tally.run.SkippedCount))
	}

	return nil
}

func (o *Orchestrator) runUnit(ctx context.Context, u unit, tally *vendorTally) {
	sc := o.scrapers[u.vendor]

	listings, err := sc.Search(ctx, u.query)
	if err != nil {
		tally.failUnit(u.query, err)
		o.logRun(tally.run, models.LogLevelError, fmt.Sprintf("Search %q failed: %v", u.query, err))
		return
	}

	if max := o.cfg.Run.MaxListingsPerQuery; max > 0 && len(listings) > max {
		listings = listings[:max]
	}

	var recorded, errs int
	for i := range listings {
		listing := o.enrich(ctx, sc, &listings[i], u, tally)
		if listing == nil {
			errs++
			continue
		}

		result, err := o.record.ProcessListing(ctx, listing, u.category)
		if err != nil {
			errs++
			tally.listingError(u.query, listing.URL, err)
			o.logRun(tally.run, models.LogLevelError, fmt.Sprintf("Record %s failed: %v", listing.URL, err))
			continue
		}
		recorded++
		tally.recorded(result)
	}

	tally.finishUnit(recorded, errs)
}

// enrich upgrades a search card to the full detail page, which carries stock
// text and variations the card lacks. A card that already has a price
// survives a failed detail fetch; a priceless card does not.
func (o *Orchestrator) enrich(ctx context.Context, sc Scraper, card *models.ScrapedListing, u unit, tally *vendorTally) *models.ScrapedListing {
	if card.URL == "" {
		if card.PriceText == "" {
			tally.listingError(u.query, "", &ParseError{Vendor: u.vendor, Reason: "card has neither url nor price"})
			return nil
		}
		return card
	}

	detail, err := sc.FetchDetail(ctx, card.URL)
	if err != nil {
		if card.PriceText != "" {
			o.logRun(tally.run, models.LogLevelWarn, fmt.Sprintf("Detail fetch %s failed, using search card: %v", card.URL, err))
			return card
		}
		tally.listingError(u.query, card.URL, err)
		return nil
	}

	// Card fields the detail page does not repeat.
	if detail.ExternalID == "" {
		detail.ExternalID = card.ExternalID
	}
	if detail.ImageURL == "" {
		detail.ImageURL = card.ImageURL
	}
	if detail.PriceText == "" {
		detail.PriceText = card.PriceText
	}
	if detail.OriginalPriceText == "" {
		detail.OriginalPriceText = card.OriginalPriceText
	}
	return detail
}

// vendorAllowed consults robots.txt once per vendor per run; the cache
// behind it dedupes by host.
func (o *Orchestrator) vendorAllowed(ctx context.Context, vendor string) bool {
	if o.robots == nil {
		return true
	}
	vcfg := o.cfg.Vendors[vendor]
	if vcfg == nil || vcfg.SearchURL == "" {
		return true
	}
	ok, err := o.robots.Allowed(ctx, searchURL(vcfg.SearchURL, "probe"))
	if err != nil {
		log.Printf("Warning: robots check for %s failed, proceeding: %v", vendor, err)
		return true
	}
	return ok
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	var params models.CommandParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return fmt.Errorf("parse command params: %w", err)
		}
	}

	switch cmd.Command {
	case models.CmdScrapeNow:
		return o.RunAll(ctx)
	case models.CmdScrapeVendor:
		if params.Vendor != "" {
			return o.RunVendor(ctx, params.Vendor)
		}
		return o.RunAll(ctx)
	case models.CmdPause:
		o.paused = true
		log.Println("Pipeline paused")
	case models.CmdResume:
		o.paused = false
		log.Println("Pipeline resumed")
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool { return o.paused }

func (o *Orchestrator) VendorIDs() []string {
	ids := make([]string, 0, len(o.scrapers))
	for id := range o.scrapers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Orchestrator) MarshalStatus() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"paused":  o.paused,
		"vendors": o.VendorIDs(),
	})
}

func (o *Orchestrator) saveRun(run *models.VendorRun) {
	if o.ops == nil {
		return
	}
	if err := o.ops.SaveVendorRun(run); err != nil {
		log.Printf("Warning: failed to save run record: %v", err)
	}
}

func (o *Orchestrator) logRun(run *models.VendorRun, level models.LogLevel, message string) {
	log.Printf("[%s] %s: %s", level, run.Vendor, message)
	if o.ops != nil {
		o.ops.Log(run.ID, level, message, run.Vendor)
	}
}
