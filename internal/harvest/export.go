package harvest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
)

// exportRow fixes the export column order: identity fields, extracted
// fields, then status and timestamp.
type exportRow struct {
	FirstName           string `csv:"firstName"`
	LastName            string `csv:"lastName"`
	Grade               string `csv:"grade"`
	Period              string `csv:"period"`
	ProfileLink         string `csv:"profileLink"`
	DisplayName         string `csv:"displayName"`
	CertificateURL      string `csv:"certificateUrl"`
	AvatarURL           string `csv:"avatarUrl"`
	CertificateAssetRef string `csv:"certificateAssetRef"`
	AvatarAssetRef      string `csv:"avatarAssetRef"`
	Status              string `csv:"status"`
	Reason              string `csv:"reason"`
	CrawledAt           string `csv:"crawledAt"`
}

func toExportRow(r Result) exportRow {
	crawledAt := ""
	if !r.CrawledAt.IsZero() {
		crawledAt = r.CrawledAt.Format(time.RFC3339)
	}
	return exportRow{
		FirstName:           r.Subject.FirstName,
		LastName:            r.Subject.LastName,
		Grade:               r.Subject.Grade,
		Period:              r.Subject.Period,
		ProfileLink:         r.Subject.ProfileLink,
		DisplayName:         r.DisplayName,
		CertificateURL:      r.CertificateURL,
		AvatarURL:           r.AvatarURL,
		CertificateAssetRef: r.CertificateAssetRef,
		AvatarAssetRef:      r.AvatarAssetRef,
		Status:              string(r.Status.Kind),
		Reason:              r.Status.Reason,
		CrawledAt:           crawledAt,
	}
}

// EncodeResults renders results as CSV with a header row. Fields containing
// the delimiter, quotes or newlines are quoted.
func EncodeResults(results []Result) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	enc := csvutil.NewEncoder(w)
	enc.AutoHeader = false
	if err := enc.EncodeHeader(exportRow{}); err != nil {
		return nil, fmt.Errorf("encode export header: %w", err)
	}
	for _, r := range results {
		if err := enc.Encode(toExportRow(r)); err != nil {
			return nil, fmt.Errorf("encode export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush export: %w", err)
	}
	return buf.Bytes(), nil
}

// Exportable drops subjects that were never processed because the roster
// carried no profile link for them.
func Exportable(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Status.Kind == StatusSkipped && r.Status.Reason == ReasonNoLink {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ExportKey returns the timestamped export key for a run started at startedAt.
func ExportKey(prefix string, startedAt time.Time) string {
	name := fmt.Sprintf("crawl-log-%s.csv", startedAt.Truncate(time.Second).Format(time.RFC3339))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
