package harvest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const reportDateLayout = "2006-01-02"

// DeltaSet holds the identities of subjects with new activity.
type DeltaSet map[string]struct{}

// Contains reports whether id is in the set.
func (d DeltaSet) Contains(id string) bool {
	_, ok := d[id]
	return ok
}

// DeltaConfig describes the usage report page.
type DeltaConfig struct {
	// ReportURL may contain {start} and {end} placeholders.
	ReportURL      string
	RowsSelector   string
	IDSelector     string
	CountSelector  string
	Timeout        time.Duration
	IdentityLength int
}

// DeltaFilter reads the portal usage report and returns the subjects with
// strictly positive activity in a window.
type DeltaFilter struct {
	driver Driver
	cfg    DeltaConfig
	logger *zap.Logger
}

// NewDeltaFilter constructs a DeltaFilter.
func NewDeltaFilter(driver Driver, cfg DeltaConfig, logger *zap.Logger) (*DeltaFilter, error) {
	if driver == nil {
		return nil, errors.New("driver is required")
	}
	if strings.TrimSpace(cfg.ReportURL) == "" {
		return nil, errors.New("report url is required")
	}
	if cfg.RowsSelector == "" || cfg.IDSelector == "" || cfg.CountSelector == "" {
		return nil, errors.New("report row, id and count selectors are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeltaFilter{driver: driver, cfg: cfg, logger: logger}, nil
}

// Compute fetches the report for window. Every failure is a
// DeltaComputationError because a partial report would silently skip subjects.
func (f *DeltaFilter) Compute(ctx context.Context, window Window) (DeltaSet, error) {
	if !window.Valid() {
		return nil, &DeltaComputationError{Err: fmt.Errorf("invalid window %s..%s",
			window.Start.Format(reportDateLayout), window.End.Format(reportDateLayout))}
	}
	reportURL := ReportURL(f.cfg.ReportURL, window)
	f.logger.Info("fetching activity report", zap.String("url", reportURL))

	if err := f.driver.Navigate(ctx, reportURL); err != nil {
		return nil, &DeltaComputationError{Err: fmt.Errorf("navigate report: %w", err)}
	}
	if err := f.driver.WaitFor(ctx, f.cfg.RowsSelector, f.cfg.Timeout); err != nil {
		return nil, &DeltaComputationError{Err: fmt.Errorf("wait for report rows: %w", err)}
	}
	html, err := f.driver.OuterHTML(ctx, "html")
	if err != nil {
		return nil, &DeltaComputationError{Err: fmt.Errorf("read report markup: %w", err)}
	}
	set, err := ParseReport(html, f.cfg)
	if err != nil {
		return nil, &DeltaComputationError{Err: err}
	}
	f.logger.Info("activity report parsed", zap.Int("qualifying", len(set)))
	return set, nil
}

// ReportURL renders the report URL template for window.
func ReportURL(template string, window Window) string {
	return strings.NewReplacer(
		"{start}", window.Start.Format(reportDateLayout),
		"{end}", window.End.Format(reportDateLayout),
	).Replace(template)
}

// ParseReport extracts qualifying identities from report markup. Rows with a
// missing identity or a non-numeric or non-positive count are excluded.
func ParseReport(html string, cfg DeltaConfig) (DeltaSet, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse report markup: %w", err)
	}
	set := DeltaSet{}
	doc.Find(cfg.RowsSelector).Each(func(_ int, row *goquery.Selection) {
		idCell := row.Find(cfg.IDSelector).First()
		raw, ok := idCell.Attr("href")
		if !ok {
			if href, found := idCell.Find("a[href]").First().Attr("href"); found {
				raw = href
			} else {
				raw = idCell.Text()
			}
		}
		id := IdentitySuffix(raw, cfg.IdentityLength)
		if id == "" {
			return
		}
		count, ok := parseActivityCount(row.Find(cfg.CountSelector).First().Text())
		if !ok || count <= 0 {
			return
		}
		set[id] = struct{}{}
	})
	return set, nil
}

func parseActivityCount(text string) (float64, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
