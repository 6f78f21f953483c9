package subscription

import (
	"crypto/tls"
	"time"
)

// Strategy is the server-side contention policy applied when more than one
// worker opens the same subscription.
type Strategy string

const (
	// OpenIfFree opens the subscription only if no other worker is consuming it.
	OpenIfFree Strategy = "OpenIfFree"
	// TakeOver forcibly disconnects any other worker currently consuming it.
	TakeOver Strategy = "TakeOver"
	// WaitForFree waits (server-side) until the subscription becomes free.
	WaitForFree Strategy = "WaitForFree"
	// Concurrent allows more than one worker to consume the same subscription.
	Concurrent Strategy = "Concurrent"
)

// NamingStrategy selects the key-normalization profile applied to an
// incoming Data payload's top-level keys.
type NamingStrategy int

const (
	// CamelCase renames the PascalCase document keys listed in the active
	// profile (Id, ChangeVector, Metadata, ...) to camelCase (the default
	// client convention); keys not in the profile pass through unchanged.
	CamelCase NamingStrategy = iota
	// Identity performs no renaming; payload keys are passed through as sent.
	Identity
)

// AuthorizationInfo is an opaque credential blob forwarded verbatim in the
// TcpConnectionHeader. The worker never interprets, refreshes, or expires it.
type AuthorizationInfo struct {
	AuthorizationFor string
}

// SubscriptionOptions configures a Worker. NewWorker keeps its own copy, so
// changes to the caller's value after NewWorker returns have no effect.
type SubscriptionOptions struct {
	// Name is the server-side subscription's name. Must be non-empty.
	Name string

	// Strategy controls contention behavior when multiple workers open the
	// same subscription. Defaults to OpenIfFree.
	Strategy Strategy

	// MaxDocsPerBatch bounds how many documents the server packs into one
	// batch before sending EndOfBatch. Defaults to 4096.
	MaxDocsPerBatch int

	// TimeToWaitBeforeConnectionRetry is the delay the Reconnect Controller
	// sleeps between retry attempts. Defaults to 5s.
	TimeToWaitBeforeConnectionRetry time.Duration

	// MaxErroneousPeriod bounds how long a streak of connection failures may
	// continue, with no intervening successful connect, before the worker
	// terminates fatally. Defaults to 5m.
	MaxErroneousPeriod time.Duration

	// IgnoreSubscriberErrors, when true, logs and swallows errors returned
	// by batch listeners instead of surfacing SubscriberError fatally.
	IgnoreSubscriberErrors bool

	// CloseWhenNoDocsLeft tells the server to close the subscription once it
	// has no more documents to deliver, instead of waiting for new writes.
	CloseWhenNoDocsLeft bool

	// WithRevisions selects the revisions payload schema variant and its
	// matching key-normalization profile.
	WithRevisions bool

	// Naming selects the key-normalization profile for Data payloads.
	// Defaults to CamelCase.
	Naming NamingStrategy

	// AuthorizeInfo is forwarded in the handshake header when non-nil.
	AuthorizeInfo *AuthorizationInfo
}

// Validate checks the invariants SubscriptionOptions must satisfy before a
// Worker can be constructed.
func (o SubscriptionOptions) Validate() error {
	if o.Name == "" {
		return ErrEmptySubscriptionName
	}
	return nil
}

// withDefaults overlays the zero-valued fields of o with
// defaultSubscriptionOptions, so a caller who only sets Name still gets a
// working Strategy, batch size cap, retry delay, and erroneous-period
// ceiling instead of silently disabling them.
func (o SubscriptionOptions) withDefaults() SubscriptionOptions {
	d := defaultSubscriptionOptions()
	if o.Strategy == "" {
		o.Strategy = d.Strategy
	}
	if o.MaxDocsPerBatch == 0 {
		o.MaxDocsPerBatch = d.MaxDocsPerBatch
	}
	if o.TimeToWaitBeforeConnectionRetry == 0 {
		o.TimeToWaitBeforeConnectionRetry = d.TimeToWaitBeforeConnectionRetry
	}
	if o.MaxErroneousPeriod == 0 {
		o.MaxErroneousPeriod = d.MaxErroneousPeriod
	}
	return o
}

func defaultSubscriptionOptions() SubscriptionOptions {
	return SubscriptionOptions{
		Strategy:                        OpenIfFree,
		MaxDocsPerBatch:                  4096,
		TimeToWaitBeforeConnectionRetry:  5 * time.Second,
		MaxErroneousPeriod:               5 * time.Minute,
		IgnoreSubscriberErrors:           false,
		CloseWhenNoDocsLeft:              false,
		Naming:                           CamelCase,
	}
}

// workerConfig holds everything besides SubscriptionOptions that
// configures a Worker: transport (TLS config, dialer), logging, dial
// timeout. Kept separate from SubscriptionOptions because the latter is
// sent over the wire while this is purely local.
type workerConfig struct {
	logger      Logger
	dialTimeout time.Duration
	tlsConfig   *tls.Config

	// dialer is overridable for tests; production code leaves it nil and
	// dialConn (conn_tcp.go) is used.
	dialer connCreator
}

func defaultWorkerConfig() workerConfig {
	return workerConfig{
		logger:      DefaultLogger(),
		dialTimeout: 3 * time.Second,
	}
}

// Option configures a Worker at construction time.
type Option func(*workerConfig)

// WithLogger configures the Logger a Worker writes diagnostics to.
func WithLogger(logger Logger) Option {
	return func(c *workerConfig) { c.logger = logger }
}

// WithDialTimeout configures how long a single connection attempt may take
// before it is considered failed.
func WithDialTimeout(d time.Duration) Option {
	return func(c *workerConfig) { c.dialTimeout = d }
}

// WithTLSConfig supplies a TLS configuration (including an optional client
// certificate) used when the target address selects a TLS connection.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *workerConfig) { c.tlsConfig = cfg }
}
