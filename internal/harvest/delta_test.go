package harvest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const reportHTML = `<html><body><table id="usage">
<tr class="row"><td class="id"><a href="https://portal.test/p/abcd1234">Ada</a></td><td class="count">3</td></tr>
<tr class="row"><td class="id"><a href="https://portal.test/p/zero0000">Zed</a></td><td class="count">0</td></tr>
<tr class="row"><td class="id"><a href="https://portal.test/p/dash0000">Dee</a></td><td class="count">-</td></tr>
<tr class="row"><td class="id">plain777</td><td class="count">1,250</td></tr>
<tr class="row"><td class="id"></td><td class="count">9</td></tr>
<tr class="row"><td class="id"><a href="https://portal.test/p/nan00000">N</a></td><td class="count">NaN</td></tr>
</table></body></html>`

func testDeltaConfig() DeltaConfig {
	return DeltaConfig{
		ReportURL:      "https://portal.test/report?from={start}&to={end}",
		RowsSelector:   "tr.row",
		IDSelector:     "td.id",
		CountSelector:  "td.count",
		Timeout:        time.Second,
		IdentityLength: 8,
	}
}

func TestParseReport(t *testing.T) {
	t.Parallel()
	set, err := ParseReport(reportHTML, testDeltaConfig())
	require.NoError(t, err)
	assert.Equal(t, DeltaSet{"abcd1234": {}, "plain777": {}}, set)
}

func TestReportURL(t *testing.T) {
	t.Parallel()
	w := Window{Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "https://portal.test/report?from=2025-03-01&to=2025-03-09", ReportURL(testDeltaConfig().ReportURL, w))
}

func reportWindow() Window {
	return Window{Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)}
}

func TestDeltaFilter_ComputeIsIdempotent(t *testing.T) {
	t.Parallel()
	cfg := testDeltaConfig()
	driver := newFakeDriver()
	url := ReportURL(cfg.ReportURL, reportWindow())
	page := driver.page(url)
	page.present[cfg.RowsSelector] = true
	page.html["html"] = reportHTML

	filter, err := NewDeltaFilter(driver, cfg, zap.NewNop())
	require.NoError(t, err)

	first, err := filter.Compute(context.Background(), reportWindow())
	require.NoError(t, err)
	second, err := filter.Compute(context.Background(), reportWindow())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

func TestDeltaFilter_FailuresAreFatal(t *testing.T) {
	t.Parallel()
	cfg := testDeltaConfig()
	url := ReportURL(cfg.ReportURL, reportWindow())

	tests := map[string]func(d *fakeDriver){
		"navigation": func(d *fakeDriver) { d.failNav[url] = errors.New("dns") },
		"rows never appear": func(d *fakeDriver) {
			d.page(url).html["html"] = reportHTML
		},
		"markup unreadable": func(d *fakeDriver) {
			d.page(url).present[cfg.RowsSelector] = true
		},
	}
	for name, setup := range tests {
		t.Run(name, func(t *testing.T) {
			driver := newFakeDriver()
			setup(driver)
			filter, err := NewDeltaFilter(driver, cfg, nil)
			require.NoError(t, err)

			_, err = filter.Compute(context.Background(), reportWindow())
			var dce *DeltaComputationError
			require.ErrorAs(t, err, &dce)
			assert.True(t, IsFatal(err))
		})
	}
}

func TestDeltaFilter_RejectsInvertedWindow(t *testing.T) {
	t.Parallel()
	filter, err := NewDeltaFilter(newFakeDriver(), testDeltaConfig(), nil)
	require.NoError(t, err)
	w := reportWindow()
	_, err = filter.Compute(context.Background(), Window{Start: w.End, End: w.Start})
	var dce *DeltaComputationError
	require.ErrorAs(t, err, &dce)
}

func TestNewDeltaFilter_Validates(t *testing.T) {
	t.Parallel()
	_, err := NewDeltaFilter(newFakeDriver(), DeltaConfig{}, nil)
	require.Error(t, err)
}
