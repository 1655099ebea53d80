package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// State is a step of the per-subject extraction sequence.
type State int

// Extraction states, in the order they are reached.
const (
	StateNotStarted State = iota
	StateProfileLoaded
	StateCertificateListFound
	StateCertificateDetailLoaded
	StateNameExtracted
	StateAvatarLocated
	StateAvatarFetched
	StateDone
)

var stateNames = map[State]string{
	StateNotStarted:              "not-started",
	StateProfileLoaded:           "profile-loaded",
	StateCertificateListFound:    "certificate-list-found",
	StateCertificateDetailLoaded: "certificate-detail-loaded",
	StateNameExtracted:           "name-extracted",
	StateAvatarLocated:           "avatar-located",
	StateAvatarFetched:           "avatar-fetched",
	StateDone:                    "done",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Artifact key prefixes and content types.
const (
	certificatePrefix = "certificates/"
	avatarPrefix      = "avatars/"
	diagnosticPrefix  = "errors/"

	pngContentType = "image/png"
	svgContentType = "image/svg+xml"
)

// ExtractConfig holds selectors and per-state timeouts.
type ExtractConfig struct {
	ProfileReadySelector      string
	ProfileTimeout            time.Duration
	CertificateLinkSelector   string
	CertificateListTimeout    time.Duration
	NameSelector              string
	DetailTimeout             time.Duration
	CertificateRegionSelector string
	AvatarImageSelector       string
	AvatarMarkupSelector      string
	AvatarTimeout             time.Duration
}

// DefaultExtractConfig mirrors the portal's current markup.
func DefaultExtractConfig() ExtractConfig {
	return ExtractConfig{
		ProfileReadySelector:      "body",
		ProfileTimeout:            20 * time.Second,
		CertificateLinkSelector:   ".lessonActivity--certificate > a",
		CertificateListTimeout:    20 * time.Second,
		NameSelector:              ".name",
		DetailTimeout:             10 * time.Second,
		CertificateRegionSelector: "body",
		AvatarImageSelector:       "div.avatar > img",
		AvatarMarkupSelector:      "svg",
		AvatarTimeout:             10 * time.Second,
	}
}

// Extractor drives one subject through profile, certificate list,
// certificate detail and avatar pages.
type Extractor struct {
	driver Driver
	store  ArtifactStore
	clock  Clock
	cfg    ExtractConfig
	logger *zap.Logger
}

// NewExtractor constructs an Extractor. Zero config values fall back to
// DefaultExtractConfig.
func NewExtractor(driver Driver, store ArtifactStore, clock Clock, cfg ExtractConfig, logger *zap.Logger) (*Extractor, error) {
	if driver == nil || store == nil || clock == nil {
		return nil, errors.New("driver, store and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{driver: driver, store: store, clock: clock, cfg: withExtractDefaults(cfg), logger: logger}, nil
}

func withExtractDefaults(cfg ExtractConfig) ExtractConfig {
	def := DefaultExtractConfig()
	orString := func(v *string, d string) {
		if strings.TrimSpace(*v) == "" {
			*v = d
		}
	}
	orDuration := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	orString(&cfg.ProfileReadySelector, def.ProfileReadySelector)
	orString(&cfg.CertificateLinkSelector, def.CertificateLinkSelector)
	orString(&cfg.NameSelector, def.NameSelector)
	orString(&cfg.CertificateRegionSelector, def.CertificateRegionSelector)
	orString(&cfg.AvatarImageSelector, def.AvatarImageSelector)
	orString(&cfg.AvatarMarkupSelector, def.AvatarMarkupSelector)
	orDuration(&cfg.ProfileTimeout, def.ProfileTimeout)
	orDuration(&cfg.CertificateListTimeout, def.CertificateListTimeout)
	orDuration(&cfg.DetailTimeout, def.DetailTimeout)
	orDuration(&cfg.AvatarTimeout, def.AvatarTimeout)
	return cfg
}

// Extract runs the state machine for subject and always returns a terminal
// Result. Fields are only populated for states actually reached.
func (e *Extractor) Extract(ctx context.Context, subject Subject) Result {
	result := newResult(subject)
	logger := e.logger.With(zap.String("subject", subject.ArtifactName("")))

	for result.State != StateDone {
		next, err := e.advance(ctx, &result)
		if err != nil {
			return e.terminate(ctx, result, next, err, logger)
		}
		result.State = next
	}
	result.finish(Extracted(), e.clock.Now())
	logger.Info("subject extracted",
		zap.String("display_name", result.DisplayName),
		zap.String("certificate_url", result.CertificateURL),
	)
	return result
}

// advance performs the transition out of result.State and returns the state
// it leads to. On error the returned state is the one that was not reached.
func (e *Extractor) advance(ctx context.Context, result *Result) (State, error) {
	switch result.State {
	case StateNotStarted:
		return StateProfileLoaded, e.loadProfile(ctx, result)
	case StateProfileLoaded:
		return StateCertificateListFound, e.findCertificates(ctx, result)
	case StateCertificateListFound:
		return StateCertificateDetailLoaded, e.loadCertificate(ctx, result)
	case StateCertificateDetailLoaded:
		return StateNameExtracted, e.extractName(ctx, result)
	case StateNameExtracted:
		return StateAvatarLocated, e.locateAvatar(ctx, result)
	case StateAvatarLocated:
		return StateAvatarFetched, e.fetchAvatar(ctx, result)
	case StateAvatarFetched:
		return StateDone, nil
	default:
		return result.State, fmt.Errorf("unexpected state %s", result.State)
	}
}

func (e *Extractor) terminate(ctx context.Context, result Result, target State, err error, logger *zap.Logger) Result {
	// A subject without any certificate is the common inactive case.
	if target == StateCertificateListFound && isExtractionMiss(err) {
		result.finish(Skipped(ReasonNoCertificate), e.clock.Now())
		logger.Info("subject has no certificates", zap.Error(err))
		return result
	}
	reason := failureReason(target, err)
	result.finish(Failed(reason), e.clock.Now())
	logger.Error("subject extraction failed",
		zap.String("state", result.State.String()),
		zap.String("target", target.String()),
		zap.String("reason", reason),
		zap.Error(err),
	)
	e.captureDiagnostic(ctx, result.Subject, logger)
	return result
}

func (e *Extractor) loadProfile(ctx context.Context, result *Result) error {
	if err := e.driver.Navigate(ctx, result.Subject.ProfileLink); err != nil {
		return fmt.Errorf("navigate profile: %w", err)
	}
	return e.await(ctx, StateProfileLoaded, e.cfg.ProfileReadySelector, e.cfg.ProfileTimeout)
}

func (e *Extractor) findCertificates(ctx context.Context, result *Result) error {
	if err := e.await(ctx, StateCertificateListFound, e.cfg.CertificateLinkSelector, e.cfg.CertificateListTimeout); err != nil {
		return err
	}
	var links []string
	if err := e.driver.Evaluate(ctx, linksScript(e.cfg.CertificateLinkSelector), &links); err != nil {
		return fmt.Errorf("evaluate certificate links: %w", err)
	}
	latest, ok := MostRecentCertificate(links)
	if !ok {
		return &ExtractionMissingData{State: StateCertificateListFound, What: "certificate links"}
	}
	result.CertificateURL = latest
	return nil
}

func (e *Extractor) loadCertificate(ctx context.Context, result *Result) error {
	if err := e.driver.Navigate(ctx, result.CertificateURL); err != nil {
		return fmt.Errorf("navigate certificate: %w", err)
	}
	return e.await(ctx, StateCertificateDetailLoaded, e.cfg.NameSelector, e.cfg.DetailTimeout)
}

func (e *Extractor) extractName(ctx context.Context, result *Result) error {
	var name string
	if err := e.driver.Evaluate(ctx, textScript(e.cfg.NameSelector), &name); err != nil {
		return fmt.Errorf("evaluate display name: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return &ExtractionMissingData{State: StateNameExtracted, What: "display name"}
	}
	result.DisplayName = name

	shot, err := e.driver.CaptureRegion(ctx, e.cfg.CertificateRegionSelector)
	if err != nil {
		e.logger.Warn("certificate capture failed", zap.String("subject", result.Subject.ArtifactName("")), zap.Error(err))
		return nil
	}
	key := certificatePrefix + result.Subject.ArtifactName(CertificateSuffix) + ".png"
	result.CertificateAssetRef = e.writeBestEffort(ctx, key, pngContentType, shot)
	return nil
}

func (e *Extractor) locateAvatar(ctx context.Context, result *Result) error {
	var src string
	if err := e.driver.Evaluate(ctx, srcScript(e.cfg.AvatarImageSelector), &src); err != nil {
		return fmt.Errorf("evaluate avatar source: %w", err)
	}
	src = strings.TrimSpace(src)
	if src == "" {
		return &ExtractionMissingData{State: StateAvatarLocated, What: "avatar image"}
	}
	result.AvatarURL = src
	return nil
}

func (e *Extractor) fetchAvatar(ctx context.Context, result *Result) error {
	if err := e.driver.Navigate(ctx, result.AvatarURL); err != nil {
		return fmt.Errorf("navigate avatar: %w", err)
	}
	if err := e.await(ctx, StateAvatarFetched, e.cfg.AvatarMarkupSelector, e.cfg.AvatarTimeout); err != nil {
		return err
	}
	markup, err := e.driver.OuterHTML(ctx, e.cfg.AvatarMarkupSelector)
	if err != nil {
		return fmt.Errorf("read avatar markup: %w", err)
	}
	if strings.TrimSpace(markup) == "" {
		return &ExtractionMissingData{State: StateAvatarFetched, What: "avatar markup"}
	}
	key := avatarPrefix + result.Subject.ArtifactName(AvatarSuffix) + ".svg"
	result.AvatarAssetRef = e.writeBestEffort(ctx, key, svgContentType, []byte(markup))
	return nil
}

func (e *Extractor) await(ctx context.Context, state State, selector string, timeout time.Duration) error {
	if err := e.driver.WaitFor(ctx, selector, timeout); err != nil {
		if errors.Is(err, ErrWaitTimeout) {
			return &ExtractionTimeout{State: state, Selector: selector, Err: err}
		}
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// writeBestEffort stores an artifact and returns its URI, or "" when the
// write failed. Write failures never change the subject's status.
func (e *Extractor) writeBestEffort(ctx context.Context, key, contentType string, data []byte) string {
	uri, err := e.store.Write(ctx, key, contentType, data)
	if err != nil {
		e.logger.Warn("artifact write failed", zap.Error(&StorageError{Op: "write", Key: key, Err: err}))
		return ""
	}
	return uri
}

func (e *Extractor) captureDiagnostic(ctx context.Context, subject Subject, logger *zap.Logger) {
	shot, err := e.driver.CapturePage(ctx)
	if err != nil {
		logger.Warn("diagnostic capture failed", zap.Error(err))
		return
	}
	key := diagnosticPrefix + "Error-" + subject.ArtifactName("") + ".png"
	e.writeBestEffort(ctx, key, pngContentType, shot)
}

func isExtractionMiss(err error) bool {
	var timeout *ExtractionTimeout
	var missing *ExtractionMissingData
	return errors.As(err, &timeout) || errors.As(err, &missing)
}

// MostRecentCertificate picks the last non-empty link. The portal lists
// certificates oldest first.
func MostRecentCertificate(links []string) (string, bool) {
	for i := len(links) - 1; i >= 0; i-- {
		if link := strings.TrimSpace(links[i]); link != "" {
			return link, true
		}
	}
	return "", false
}

func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func linksScript(selector string) string {
	return fmt.Sprintf(`[...document.querySelectorAll(%s)].map((a) => a.href || "")`, jsString(selector))
}

func textScript(selector string) string {
	return fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? el.textContent : ""; })()`, jsString(selector))
}

func srcScript(selector string) string {
	return fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? (el.src || "") : ""; })()`, jsString(selector))
}
