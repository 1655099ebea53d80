package harvest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"
)

// Roster column names, shared by the JSON and CSV formats.
const (
	columnFirst  = "First"
	columnLast   = "Last"
	columnGrade  = "Grade"
	columnPeriod = "Math Period"
	columnLink   = "Student Progress Link"
)

// FileRoster loads subjects from a JSON or CSV file chosen by extension.
type FileRoster struct {
	path string
}

// NewFileRoster creates a roster source for path.
func NewFileRoster(path string) *FileRoster {
	return &FileRoster{path: path}
}

// Load reads and parses the roster file. Any failure is a RosterFormatError;
// a partial roster is never returned.
func (r *FileRoster) Load(_ context.Context) ([]Subject, error) {
	if strings.TrimSpace(r.path) == "" {
		return nil, &RosterFormatError{Source: "<unset>", Err: errors.New("roster path is required")}
	}
	// #nosec G304 -- roster path comes from operator configuration.
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, &RosterFormatError{Source: r.path, Err: fmt.Errorf("read roster: %w", err)}
	}
	var subjects []Subject
	switch ext := strings.ToLower(filepath.Ext(r.path)); ext {
	case ".json":
		subjects, err = ParseJSONRoster(data)
	case ".csv":
		subjects, err = ParseCSVRoster(data)
	default:
		err = fmt.Errorf("unsupported roster extension %q", ext)
	}
	if err != nil {
		return nil, &RosterFormatError{Source: r.path, Err: err}
	}
	return subjects, nil
}

// rosterField accepts JSON strings and numbers (grades are often numeric).
type rosterField struct {
	value string
	set   bool
}

func (f *rosterField) UnmarshalJSON(b []byte) error {
	f.set = true
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		f.value = strings.TrimSpace(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	f.value = n.String()
	return nil
}

type jsonRosterRecord struct {
	First  rosterField `json:"First"`
	Last   rosterField `json:"Last"`
	Grade  rosterField `json:"Grade"`
	Period rosterField `json:"Math Period"`
	Link   rosterField `json:"Student Progress Link"`
}

// ParseJSONRoster parses a JSON array of roster objects, preserving order.
func ParseJSONRoster(data []byte) ([]Subject, error) {
	var records []jsonRosterRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode json roster: %w", err)
	}
	subjects := make([]Subject, 0, len(records))
	for i, rec := range records {
		if !rec.First.set || !rec.Last.set {
			return nil, fmt.Errorf("record %d: %q and %q are required", i+1, columnFirst, columnLast)
		}
		subjects = append(subjects, Subject{
			FirstName:   rec.First.value,
			LastName:    rec.Last.value,
			Grade:       rec.Grade.value,
			Period:      rec.Period.value,
			ProfileLink: rec.Link.value,
		})
	}
	return subjects, nil
}

type csvRosterRecord struct {
	First  string `csv:"First"`
	Last   string `csv:"Last"`
	Grade  string `csv:"Grade"`
	Period string `csv:"Math Period"`
	Link   string `csv:"Student Progress Link"`
}

// ParseCSVRoster parses a headed CSV roster. The progress link column may be
// absent; the other columns are required.
func ParseCSVRoster(data []byte) ([]Subject, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	dec, err := csvutil.NewDecoder(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv roster is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if missing := missingColumns(dec.Header(), columnFirst, columnLast, columnGrade, columnPeriod); len(missing) > 0 {
		return nil, fmt.Errorf("csv roster missing columns %v", missing)
	}

	var subjects []Subject
	for {
		var rec csvRosterRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode csv row %d: %w", len(subjects)+1, err)
		}
		subjects = append(subjects, Subject{
			FirstName:   strings.TrimSpace(rec.First),
			LastName:    strings.TrimSpace(rec.Last),
			Grade:       strings.TrimSpace(rec.Grade),
			Period:      strings.TrimSpace(rec.Period),
			ProfileLink: strings.TrimSpace(rec.Link),
		})
	}
	return subjects, nil
}

func missingColumns(header []string, required ...string) []string {
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = struct{}{}
	}
	var missing []string
	for _, col := range required {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}
