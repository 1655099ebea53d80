package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// --- fakes ---

type fakePage struct {
	present map[string]bool
	evals   map[string]any
	html    map[string]string
}

type fakeDriver struct {
	mu       sync.Mutex
	pages    map[string]*fakePage
	failNav  map[string]error
	current  string
	calls    []string
	captures int
	noRegion bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{pages: map[string]*fakePage{}, failNav: map[string]error{}}
}

func (d *fakeDriver) page(url string) *fakePage {
	p, ok := d.pages[url]
	if !ok {
		p = &fakePage{present: map[string]bool{}, evals: map[string]any{}, html: map[string]string{}}
		d.pages[url] = p
	}
	return p
}

func (d *fakeDriver) record(format string, args ...any) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("navigate %s", url)
	if err := d.failNav[url]; err != nil {
		return err
	}
	d.current = url
	return nil
}

func (d *fakeDriver) Fill(_ context.Context, selector, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("fill %s", selector)
	return nil
}

func (d *fakeDriver) Click(_ context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("click %s", selector)
	return nil
}

func (d *fakeDriver) WaitFor(_ context.Context, selector string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("wait %s", selector)
	if d.page(d.current).present[selector] {
		return nil
	}
	return fmt.Errorf("%q on %s: %w", selector, d.current, ErrWaitTimeout)
}

func (d *fakeDriver) Evaluate(_ context.Context, script string, out any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("evaluate")
	raw, err := json.Marshal(d.page(d.current).evals[script])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (d *fakeDriver) OuterHTML(_ context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("html %s", selector)
	html, ok := d.page(d.current).html[selector]
	if !ok {
		return "", errors.New("no such node")
	}
	return html, nil
}

func (d *fakeDriver) CaptureRegion(_ context.Context, selector string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("capture-region %s", selector)
	if d.noRegion {
		return nil, errors.New("capture unsupported")
	}
	d.captures++
	return []byte("region:" + d.current), nil
}

func (d *fakeDriver) CapturePage(_ context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("capture-page")
	d.captures++
	return []byte("page:" + d.current), nil
}

func (d *fakeDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	writes   []string
	failKeys map[string]error
	readErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, failKeys: map[string]error{}}
}

func (s *fakeStore) Write(_ context.Context, key, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failKeys[key]; err != nil {
		return "", err
	}
	s.objects[key] = append([]byte(nil), data...)
	s.writes = append(s.writes, key)
	return "mem://" + key, nil
}

func (s *fakeStore) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *fakeStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeIDs struct{ id string }

func (f fakeIDs) NewID() (string, error) { return f.id, nil }

type fakeThrottle struct {
	acquires  int
	releases  int
	err       error
	onAcquire func(n int)
}

func (t *fakeThrottle) Acquire(ctx context.Context) error {
	t.acquires++
	if t.onAcquire != nil {
		t.onAcquire(t.acquires)
	}
	if t.err != nil {
		return t.err
	}
	return ctx.Err()
}

func (t *fakeThrottle) Release() { t.releases++ }

type fakeLogin struct {
	err   error
	calls int
}

func (l *fakeLogin) Login(context.Context, Credentials) error {
	l.calls++
	return l.err
}

type fakeDelta struct {
	set     DeltaSet
	err     error
	windows []Window
}

func (f *fakeDelta) Compute(_ context.Context, w Window) (DeltaSet, error) {
	f.windows = append(f.windows, w)
	return f.set, f.err
}

type staticRoster struct {
	subjects []Subject
	err      error
}

func (r staticRoster) Load(context.Context) ([]Subject, error) { return r.subjects, r.err }

type fakeObserver struct {
	subjects   []Status
	outcomes   []string
	checkpoint time.Time
}

func (o *fakeObserver) SubjectFinished(s Status) { o.subjects = append(o.subjects, s) }
func (o *fakeObserver) RunFinished(outcome string, _ time.Duration) { o.outcomes = append(o.outcomes, outcome) }
func (o *fakeObserver) CheckpointAdvanced(d time.Time) { o.checkpoint = d }

type fakeLedger struct {
	runIDs  []string
	results []Result
	err     error
}

func (l *fakeLedger) Record(_ context.Context, runID string, r Result) error {
	l.runIDs = append(l.runIDs, runID)
	l.results = append(l.results, r)
	return l.err
}

type fakePublisher struct {
	topics   []string
	payloads []any
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return "msg-1", p.err
}

// portal scripts a fakeDriver with the profile, certificate detail and
// avatar pages of one subject.
type portal struct {
	cfg    ExtractConfig
	driver *fakeDriver
}

func newPortal(driver *fakeDriver) *portal {
	return &portal{cfg: DefaultExtractConfig(), driver: driver}
}

// profile registers a profile page listing certificate links. No links means
// the certificate selector never appears.
func (p *portal) profile(url string, links ...string) {
	page := p.driver.page(url)
	page.present[p.cfg.ProfileReadySelector] = true
	if len(links) > 0 {
		page.present[p.cfg.CertificateLinkSelector] = true
		page.evals[linksScript(p.cfg.CertificateLinkSelector)] = links
	}
}

func (p *portal) certificate(url, name, avatarURL string) {
	page := p.driver.page(url)
	page.present[p.cfg.NameSelector] = true
	page.evals[textScript(p.cfg.NameSelector)] = name
	page.evals[srcScript(p.cfg.AvatarImageSelector)] = avatarURL
}

func (p *portal) avatar(url, markup string) {
	page := p.driver.page(url)
	page.present[p.cfg.AvatarMarkupSelector] = true
	page.html[p.cfg.AvatarMarkupSelector] = markup
}
