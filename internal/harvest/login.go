package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Credentials authenticate the portal session.
type Credentials struct {
	Username string
	Password string
}

// Complete reports whether both username and password are set.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.Username) != "" && c.Password != ""
}

// LoginConfig describes the portal sign-in form.
type LoginConfig struct {
	URL            string
	UsernameField  string
	PasswordField  string
	SubmitSelector string
	// ReadySelector must only exist once the session is signed in.
	ReadySelector string
	Timeout       time.Duration
}

// DefaultLoginReadySelector matches the sign-out link of a signed-in session.
const DefaultLoginReadySelector = `a[href*="logout"], a[href*="sign_out"]`

// DefaultLoginConfig returns the student sign-in form of the portal.
func DefaultLoginConfig() LoginConfig {
	return LoginConfig{
		URL:            "https://math.imaginelearning.com/",
		UsernameField:  "#student_username",
		PasswordField:  "#student_password",
		SubmitSelector: "#btn_student_sign_in",
		ReadySelector:  DefaultLoginReadySelector,
		Timeout:        30 * time.Second,
	}
}

// Authenticator signs the driver's session in.
type Authenticator struct {
	driver Driver
	cfg    LoginConfig
	logger *zap.Logger
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(driver Driver, cfg LoginConfig, logger *zap.Logger) (*Authenticator, error) {
	if driver == nil {
		return nil, errors.New("driver is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("login url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if strings.TrimSpace(cfg.UsernameField) == "" || strings.TrimSpace(cfg.PasswordField) == "" ||
		strings.TrimSpace(cfg.SubmitSelector) == "" {
		return nil, errors.New("username field, password field and submit selector are required")
	}
	if cfg.ReadySelector == "" {
		cfg.ReadySelector = DefaultLoginReadySelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{driver: driver, cfg: cfg, logger: logger}, nil
}

// Login runs the sign-in flow. Any failure is a LoginError.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) error {
	if !creds.Complete() {
		return &ConfigurationError{Reason: "username and password are required"}
	}
	steps := []struct {
		name string
		run  func() error
	}{
		{"open", func() error { return a.driver.Navigate(ctx, a.cfg.URL) }},
		{"form", func() error { return a.driver.WaitFor(ctx, a.cfg.UsernameField, a.cfg.Timeout) }},
		{"username", func() error { return a.driver.Fill(ctx, a.cfg.UsernameField, creds.Username) }},
		{"password", func() error { return a.driver.Fill(ctx, a.cfg.PasswordField, creds.Password) }},
		{"submit", func() error { return a.driver.Click(ctx, a.cfg.SubmitSelector) }},
		{"ready", func() error { return a.driver.WaitFor(ctx, a.cfg.ReadySelector, a.cfg.Timeout) }},
		{"verify", func() error { return a.verifySignedIn(ctx) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return &LoginError{Step: step.name, Err: err}
		}
	}
	a.logger.Info("portal session authenticated", zap.String("username", creds.Username))
	return nil
}

// verifySignedIn fails while the sign-in form is still on the page, which is
// how the portal answers rejected credentials.
func (a *Authenticator) verifySignedIn(ctx context.Context) error {
	var formPresent bool
	if err := a.driver.Evaluate(ctx, presentScript(a.cfg.UsernameField), &formPresent); err != nil {
		return fmt.Errorf("check sign-in form: %w", err)
	}
	if formPresent {
		return ErrLoginRejected
	}
	return nil
}

func presentScript(selector string) string {
	return fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector))
}
