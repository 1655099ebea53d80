package harvest

import (
	"fmt"
	"strings"
	"time"
)

// Skip reasons recorded on Skipped results.
const (
	ReasonNoLink        = "no-link"
	ReasonNotInDelta    = "not-in-delta"
	ReasonNoCertificate = "no-certificate"
)

// Artifact key suffixes.
const (
	CertificateSuffix = "-certificate"
	AvatarSuffix      = "-avatar"
)

// Subject is one roster entry. All fields come from the roster file.
type Subject struct {
	FirstName   string
	LastName    string
	Grade       string
	Period      string
	ProfileLink string
}

// HasLink reports whether the subject has a progress profile to crawl.
func (s Subject) HasLink() bool {
	return strings.TrimSpace(s.ProfileLink) != ""
}

// Identity returns the trailing length characters of the profile link, which
// is how the activity report refers to the subject.
func (s Subject) Identity(length int) string {
	return IdentitySuffix(s.ProfileLink, length)
}

// ArtifactName builds the deterministic artifact name for the subject.
func (s Subject) ArtifactName(suffix string) string {
	return fmt.Sprintf("%s-%s-%s%s",
		sanitizeKeyPart(s.Grade),
		sanitizeKeyPart(s.LastName),
		sanitizeKeyPart(s.FirstName),
		suffix,
	)
}

// IdentitySuffix trims trailing slashes and whitespace from raw and returns
// its last length characters.
func IdentitySuffix(raw string, length int) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if length <= 0 || len(trimmed) <= length {
		return trimmed
	}
	return trimmed[len(trimmed)-length:]
}

func sanitizeKeyPart(part string) string {
	part = strings.TrimSpace(part)
	return strings.NewReplacer("/", "_", "\\", "_").Replace(part)
}

// StatusKind is the coarse classification of a result.
type StatusKind string

// Result status kinds.
const (
	StatusPending   StatusKind = "pending"
	StatusExtracted StatusKind = "extracted"
	StatusSkipped   StatusKind = "skipped"
	StatusFailed    StatusKind = "failed"
)

// Status is a StatusKind plus the reason for skips and failures.
type Status struct {
	Kind   StatusKind
	Reason string
}

// Extracted is the terminal success status.
func Extracted() Status { return Status{Kind: StatusExtracted} }

// Skipped builds a terminal skip status.
func Skipped(reason string) Status { return Status{Kind: StatusSkipped, Reason: reason} }

// Failed builds a terminal failure status.
func Failed(reason string) Status { return Status{Kind: StatusFailed, Reason: reason} }

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s.Kind == StatusExtracted || s.Kind == StatusSkipped || s.Kind == StatusFailed
}

func (s Status) String() string {
	if s.Kind == "" {
		return string(StatusPending)
	}
	if s.Reason == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Reason)
}

// Result accumulates what was harvested for one subject. It reaches exactly
// one terminal status and is treated as immutable once returned.
type Result struct {
	Subject             Subject
	DisplayName         string
	CertificateURL      string
	AvatarURL           string
	AvatarAssetRef      string
	CertificateAssetRef string
	CrawledAt           time.Time
	Status              Status
	// State is the last extraction state the subject reached.
	State State
}

func newResult(subject Subject) Result {
	return Result{Subject: subject, Status: Status{Kind: StatusPending}, State: StateNotStarted}
}

// finish stamps the terminal status. A result that is already terminal keeps
// its first status.
func (r *Result) finish(status Status, at time.Time) bool {
	if r.Status.Terminal() || !status.Terminal() {
		return false
	}
	r.Status = status
	r.CrawledAt = at.Truncate(time.Second)
	return true
}

// Bounds restricts which roster positions are eligible. Positions are 1-based
// and inclusive; zero values leave that side open.
type Bounds struct {
	First int
	Last  int
}

// Contains reports whether the 1-based roster position falls inside the bounds.
func (b Bounds) Contains(position int) bool {
	if b.First > 0 && position < b.First {
		return false
	}
	if b.Last > 0 && position > b.Last {
		return false
	}
	return true
}

// Validate rejects inverted or negative bounds.
func (b Bounds) Validate() error {
	if b.First < 0 || b.Last < 0 {
		return fmt.Errorf("bounds must be >= 0, got [%d,%d]", b.First, b.Last)
	}
	if b.Last > 0 && b.Last < b.First {
		return fmt.Errorf("last index %d is before first index %d", b.Last, b.First)
	}
	return nil
}

// Window is the inclusive date range the delta report covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the window is non-empty.
func (w Window) Valid() bool {
	return !w.Start.IsZero() && !w.End.IsZero() && !w.Start.After(w.End)
}

// RunSummary aggregates the outcome of one crawl run.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	// Window is zero when the delta filter was bypassed.
	Window     Window
	Extracted  int
	Skipped    int
	Failed     int
	Results    []Result
	ExportKey  string
	ExportURI  string
	Checkpoint time.Time
}

func (s *RunSummary) add(r Result) {
	switch r.Status.Kind {
	case StatusExtracted:
		s.Extracted++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

// Attempted returns how many results the run recorded.
func (s RunSummary) Attempted() int {
	return len(s.Results)
}
