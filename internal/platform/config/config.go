package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 90 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultSecurityEnvironment = "local"
	defaultCurrency            = "eur"
	defaultDeposit             = 100
	defaultCheckoutTimeout     = 60 * time.Second
	checkoutResponseGrace      = 10 * time.Second
	defaultNotifyTimeout       = 10 * time.Second
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultAdminSessionTTL     = 12 * time.Hour
	defaultAdminLoginAttempts  = 10
	defaultAdminLoginWindow    = 15 * time.Minute
	defaultAppName             = "BonaEvents"
	defaultNotificationsTopic  = "order-confirmations"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firestore     FirestoreConfig
	PSP           PSPConfig
	Checkout      CheckoutConfig
	Admin         AdminConfig
	Sessions      SessionConfig
	Notifications NotificationConfig
	Site          SiteConfig
	Security      SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	// TrustedProxies are the peers whose X-Forwarded-For header is believed.
	TrustedProxies []netip.Prefix
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PSPConfig collects payment gateway credentials. Empty secrets are allowed at load time and
// reported per request.
type PSPConfig struct {
	StripeAPIKey         string
	StripePublishableKey string
	StripeWebhookSecret  string
	Currency             string
}

// CheckoutConfig holds the deposit policy and sequencing limits.
type CheckoutConfig struct {
	Deposit        int64
	Timeout        time.Duration
	NotifyTimeout  time.Duration
	// IdempotencyTTL bounds how long a replayable response is kept for an Idempotency-Key.
	IdempotencyTTL time.Duration
}

// AdminConfig configures the shared-password gate for the admin dashboard.
type AdminConfig struct {
	Password      string
	TokenSecret   string
	SessionTTL    time.Duration
	// LoginAttempts caps password attempts per client address within LoginWindow. Zero disables it.
	LoginAttempts int
	LoginWindow   time.Duration
}

// SessionConfig configures the store backing server-hosted carts and referral attribution.
type SessionConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// NotificationConfig configures the order confirmation queue.
type NotificationConfig struct {
	ProjectID string
	Topic     string
}

// SiteConfig describes the public storefront.
type SiteConfig struct {
	URL     string
	AppName string
}

// SecurityConfig groups deployment environment settings.
type SecurityConfig struct {
	Environment string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets are empty after resolution.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed identifiers safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields (e.g. "PSP.StripeAPIKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
}

// EnvironmentValues returns the effective environment after applying the Load precedence
// (dotenv < OS env < explicit map), so dependencies such as the secret fetcher can be built first.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	src, err := newSource(options)
	if err != nil {
		return nil, err
	}
	return src.all(), nil
}

// Load assembles the application configuration from defaults, .env overrides, the environment,
// and Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	src, err := newSource(options)
	if err != nil {
		return Config{}, err
	}
	lookup := src.lookup

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:         stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripePublishableKey: stringWithDefault(lookup, "API_PSP_STRIPE_PUBLISHABLE_KEY", ""),
			StripeWebhookSecret:  stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			Currency:             strings.ToLower(stringWithDefault(lookup, "API_PSP_CURRENCY", defaultCurrency)),
		},
		Checkout: CheckoutConfig{
			Deposit:        int64(intWithDefault(lookup, "API_CHECKOUT_DEPOSIT", defaultDeposit)),
			Timeout:        durationWithDefault(lookup, "API_CHECKOUT_TIMEOUT", defaultCheckoutTimeout),
			NotifyTimeout:  durationWithDefault(lookup, "API_CHECKOUT_NOTIFY_TIMEOUT", defaultNotifyTimeout),
			IdempotencyTTL: durationWithDefault(lookup, "API_CHECKOUT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Admin: AdminConfig{
			Password:      stringWithDefault(lookup, "API_ADMIN_PASSWORD", ""),
			TokenSecret:   stringWithDefault(lookup, "API_ADMIN_TOKEN_SECRET", ""),
			SessionTTL:    durationWithDefault(lookup, "API_ADMIN_SESSION_TTL", defaultAdminSessionTTL),
			LoginAttempts: intWithDefault(lookup, "API_ADMIN_LOGIN_ATTEMPTS", defaultAdminLoginAttempts),
			LoginWindow:   durationWithDefault(lookup, "API_ADMIN_LOGIN_WINDOW", defaultAdminLoginWindow),
		},
		Sessions: SessionConfig{
			RedisAddr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			RedisPassword: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			RedisDB:       intWithDefault(lookup, "API_REDIS_DB", 0),
			TTL:           durationWithDefault(lookup, "API_SESSION_TTL", 0),
		},
		Notifications: NotificationConfig{
			ProjectID: stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "API_PUBSUB_NOTIFICATIONS_TOPIC", defaultNotificationsTopic),
		},
		Site: SiteConfig{
			URL:     strings.TrimRight(stringWithDefault(lookup, "API_SITE_URL", ""), "/"),
			AppName: stringWithDefault(lookup, "API_APP_NAME", defaultAppName),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
	}

	if cfg.Notifications.ProjectID == "" {
		cfg.Notifications.ProjectID = cfg.Firestore.ProjectID
	}

	proxies, err := parsePrefixes(stringWithDefault(lookup, "API_SERVER_TRUSTED_PROXIES", ""))
	if err != nil {
		return Config{}, &ValidationError{fields: []string{"Server.TrustedProxies"}}
	}
	cfg.Server.TrustedProxies = proxies

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Admin.Password", &cfg.Admin.Password},
		{"Admin.TokenSecret", &cfg.Admin.TokenSecret},
		{"Sessions.RedisPassword", &cfg.Sessions.RedisPassword},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

// IsLocal reports whether the service runs on a developer machine.
func (c Config) IsLocal() bool {
	return c.Security.Environment == defaultSecurityEnvironment
}

// RequestTimeout bounds request handling. A checkout that hits Checkout.Timeout still has time to
// record its outcome and answer before the deadline.
func (c Config) RequestTimeout() time.Duration {
	return c.Checkout.Timeout + checkoutResponseGrace
}

// MissingPaymentSecrets lists payment secrets that are empty. The server keeps running without them
// and answers the affected routes with a diagnosable 500.
func (c Config) MissingPaymentSecrets() []string {
	var missing []string
	if strings.TrimSpace(c.PSP.StripeAPIKey) == "" {
		missing = append(missing, "PSP.StripeAPIKey")
	}
	if strings.TrimSpace(c.PSP.StripeWebhookSecret) == "" {
		missing = append(missing, "PSP.StripeWebhookSecret")
	}
	return missing
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Checkout.Deposit < 0 {
		missing = append(missing, "Checkout.Deposit")
	}
	if cfg.Checkout.Timeout <= 0 {
		missing = append(missing, "Checkout.Timeout")
	}
	if cfg.Admin.SessionTTL <= 0 {
		missing = append(missing, "Admin.SessionTTL")
	}
	if cfg.Sessions.TTL < 0 {
		missing = append(missing, "Sessions.TTL")
	}
	// The write deadline must outlive the request timeout or the failure response is dropped.
	if cfg.Server.WriteTimeout <= cfg.RequestTimeout() {
		missing = append(missing, "Server.WriteTimeout")
	}
	if !cfg.IsLocal() && strings.TrimSpace(cfg.Sessions.RedisAddr) == "" {
		missing = append(missing, "Sessions.RedisAddr")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

// parsePrefixes reads a comma separated list of CIDRs or bare addresses.
func parsePrefixes(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			prefix, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, err
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{})
	var names []string
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] != "" {
			continue
		}
		names = append(names, trimmed)
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
