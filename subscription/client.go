package subscription

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodedb/nodedb-client-go/internal/ctxtime"
)

// Worker is a document subscription worker: it owns at most one live socket
// at a time, negotiates the subscription protocol, pumps batches to
// registered listeners, acknowledges them, and reconnects (following
// redirects and bounding a streak of failures) until a fatal error occurs
// or Dispose is called.
//
// The background connection loop starts lazily, on the first call to
// OnBatch: a Worker with no batch listener never opens a socket.
type Worker struct {
	logger       Logger
	databaseName string
	opts         SubscriptionOptions
	cfg          workerConfig
	topology     TopologyClient
	dialer       connCreator

	events *eventBus

	startOnce sync.Once
	started   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	disposed  atomic.Bool
	cancelled atomic.Bool // set once a fatal error has ended the reconnect loop

	terminatedChan chan error
	doneCh         chan struct{}

	mu             sync.Mutex
	currentConn    conn
	currentNodeTag string
	redirectTag    string
	hasFailure     bool
	lastFailure    time.Time
}

// NewWorker constructs a Worker for the named subscription against
// databaseName, using topology to resolve TCP endpoints and redirect
// targets. The connection is not opened until OnBatch is called.
func NewWorker(databaseName string, opts SubscriptionOptions, topology TopologyClient, options ...Option) (*Worker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if topology == nil {
		return nil, errors.New("subscription: topology client must not be nil")
	}
	opts = opts.withDefaults()

	cfg := defaultWorkerConfig()
	for _, o := range options {
		o(&cfg)
	}
	dialer := cfg.dialer
	if dialer == nil {
		dialer = dialConn
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		logger:         cfg.logger,
		databaseName:   databaseName,
		opts:           opts,
		cfg:            cfg,
		topology:       topology,
		dialer:         dialer,
		events:         newEventBus(),
		ctx:            ctx,
		cancel:         cancel,
		terminatedChan: make(chan error, 1),
		doneCh:         make(chan struct{}),
	}, nil
}

// SubscriptionName returns the server-side subscription name this worker consumes.
func (w *Worker) SubscriptionName() string { return w.opts.Name }

// CurrentNodeTag returns the cluster tag of the node the worker is currently
// connected to, or "" before the first successful connection.
func (w *Worker) CurrentNodeTag() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentNodeTag
}

// Terminated returns a channel the worker sends its final error to (nil on
// a clean Dispose) when the reconnect loop exits. It is also closed at
// that point, so a nil receive and a closed-channel receive both signal
// termination without error.
func (w *Worker) Terminated() <-chan error {
	return w.terminatedChan
}

// OnBatch registers a handler invoked for every delivered batch and starts
// the connection loop if this is the first listener registered on the
// worker — a worker with no batch listener never opens a connection.
func (w *Worker) OnBatch(handler BatchHandler) Subscription {
	sub := w.events.onBatch(handler)
	w.start()
	return sub
}

// OnAfterAcknowledgment registers a handler invoked once the server has
// confirmed a prior batch's acknowledgement.
func (w *Worker) OnAfterAcknowledgment(handler BatchHandler) Subscription {
	return w.events.onAfterAcknowledgment(handler)
}

// OnConnectionRetry registers a handler invoked every time the reconnect
// loop is about to retry after a non-fatal error.
func (w *Worker) OnConnectionRetry(handler func(ConnectionRetryEvent)) Subscription {
	return w.events.onConnectionRetry(handler)
}

// OnError registers a handler invoked once, with the fatal error that
// ended the connection loop.
func (w *Worker) OnError(handler func(error)) Subscription {
	return w.events.onError(handler)
}

// OnEnd registers a handler invoked once the connection loop has exited for
// any reason (err is nil on a clean Dispose).
func (w *Worker) OnEnd(handler func(error)) Subscription {
	return w.events.onEnd(handler)
}

// RemoveAllListeners drops every registered listener of every kind.
func (w *Worker) RemoveAllListeners() { w.events.removeAll() }

func (w *Worker) start() {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.run()
	})
}

// Dispose ends the connection loop and releases the socket. Safe to call
// more than once and safe to call before the loop has ever started.
func (w *Worker) Dispose() {
	if !w.disposed.CompareAndSwap(false, true) {
		return
	}
	w.cancel()
	w.mu.Lock()
	c := w.currentConn
	w.mu.Unlock()
	if c != nil {
		_ = c.close()
	}
	if w.started.Load() {
		<-w.doneCh
	}
}

// run is the reconnect loop: dial, negotiate, pump batches until an error
// ends the iteration, classify it, and either terminate fatally or sleep
// and retry. Retries are bounded by how long the worker has been failing
// continuously, not by a flat attempt ceiling.
func (w *Worker) run() {
	defer close(w.doneCh)

	var finalErr error
	attempt := 0

	for {
		if w.disposed.Load() {
			break
		}

		node, err := w.resolveTarget(w.ctx)
		if err == nil {
			err = w.processIteration(w.ctx, node)
		}

		if err == nil {
			// processIteration only returns nil for a clean Dispose.
			break
		}
		if w.disposed.Load() || isReadAbandoned(err) || errors.Is(err, context.Canceled) {
			break
		}

		decision := classify(err)
		if decision.outcome == outcomeFatal {
			w.cancelled.Store(true)
			finalErr = decision.err
			w.events.emitError(finalErr)
			break
		}

		if decision.outcome == outcomeRedirect {
			target, ok := w.topology.NodeByTag(w.ctx, decision.redirectTag)
			if !ok {
				finalErr = fmt.Errorf("%w: %s", ErrUnknownRedirectNode, decision.redirectTag)
				w.cancelled.Store(true)
				w.events.emitError(finalErr)
				break
			}
			w.setRedirect(target.ClusterTag)
			w.logger.Warnf("subscription: redirected to node %s", target.ClusterTag)
		}

		w.recordFailure()
		if w.erroneousWindowExceeded() {
			finalErr = newSubscriptionError(ErrSubscriptionInvalidState,
				fmt.Sprintf("erroneous period exceeded, last error: %v", decision.err), decision.err)
			w.cancelled.Store(true)
			w.events.emitError(finalErr)
			break
		}

		attempt++
		w.logger.Warnf("subscription: connection lost (attempt %d), retrying: %v", attempt, decision.err)
		w.events.emitConnectionRetry(ConnectionRetryEvent{
			Err:             decision.err,
			Attempt:         attempt,
			ErroneousWindow: w.erroneousWindowElapsed(),
		})

		if sleepErr := ctxtime.Sleep(w.ctx, w.opts.TimeToWaitBeforeConnectionRetry); sleepErr != nil {
			break
		}
	}

	w.events.emitEnd(finalErr)
	if finalErr != nil {
		w.terminatedChan <- finalErr
	}
	close(w.terminatedChan)
}

// resolveTarget asks the topology client for the TCP endpoint to dial:
// the redirect target if one is pending, otherwise any node.
func (w *Worker) resolveTarget(ctx context.Context) (TopologyNode, error) {
	tag := w.getRedirectTag()
	info, err := w.topology.GetTcpInfo(ctx, tag)
	if err != nil {
		return TopologyNode{}, wrapConnectionError(err)
	}
	return TopologyNode{ClusterTag: info.RequestedNode, URL: info.URL, Certificate: info.Certificate}, nil
}

func (w *Worker) getRedirectTag() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.redirectTag
}

func (w *Worker) setRedirect(tag string) {
	w.mu.Lock()
	w.redirectTag = tag
	w.mu.Unlock()
}

func (w *Worker) setCurrentConn(c conn) {
	w.mu.Lock()
	w.currentConn = c
	w.mu.Unlock()
}

func (w *Worker) setCurrentNodeTag(tag string) {
	w.mu.Lock()
	w.currentNodeTag = tag
	w.mu.Unlock()
}

func (w *Worker) recordFailure() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasFailure {
		w.hasFailure = true
		w.lastFailure = time.Now()
	}
}

func (w *Worker) clearFailure() {
	w.mu.Lock()
	w.hasFailure = false
	w.mu.Unlock()
}

func (w *Worker) erroneousWindowExceeded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasFailure || w.opts.MaxErroneousPeriod <= 0 {
		return false
	}
	return time.Since(w.lastFailure) > w.opts.MaxErroneousPeriod
}

func (w *Worker) erroneousWindowElapsed() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasFailure {
		return 0
	}
	return time.Since(w.lastFailure)
}

// dialForNode builds the per-iteration workerConfig (overriding the TLS
// config with the node's client certificate, when it names one) and dials.
func (w *Worker) dialForNode(ctx context.Context, addr Address, cert *ClientCertificate) (conn, error) {
	cfg := w.cfg
	if cert != nil {
		tlsCfg, err := withClientCertificate(cfg.tlsConfig, cert)
		if err != nil {
			return nil, wrapConnectionError(err)
		}
		cfg.tlsConfig = tlsCfg
	}
	return w.dialer(ctx, addr, cfg)
}

func withClientCertificate(base *tls.Config, cert *ClientCertificate) (*tls.Config, error) {
	kp, err := tls.LoadX509KeyPair(cert.CertFile, cert.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("subscription: load client certificate: %w", err)
	}
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	cfg.Certificates = []tls.Certificate{kp}
	return cfg, nil
}

// processIteration is one full pass of the pipeline: dial, negotiate, read
// the Accepted status, then pump batches until an error ends the
// connection. It never returns nil: after Dispose it returns
// context.Canceled or the abandoned-read error, which run treats as a
// clean stop.
func (w *Worker) processIteration(ctx context.Context, node TopologyNode) error {
	addr, err := ParseAddress(node.URL)
	if err != nil {
		return err
	}

	c, err := w.dialForNode(ctx, addr, node.Certificate)
	if err != nil {
		return err
	}
	w.setCurrentConn(c)
	defer func() {
		w.setCurrentConn(nil)
		_ = c.close()
	}()

	destTag := w.getRedirectTag()
	if destTag == "" {
		destTag = node.ClusterTag
	}

	if _, err := negotiate(ctx, c, w.databaseName, w.opts, destTag); err != nil {
		return err
	}

	fr := newFrameReader(c, &w.disposed, w.opts.Naming, w.opts.WithRevisions)

	first, err := fr.Next(ctx)
	if err != nil {
		return err
	}
	if first.Kind != KindConnectionStatus {
		return fmt.Errorf("%w: expected ConnectionStatus frame, got kind %d", ErrProtocolViolation, first.Kind)
	}
	if first.Status != StatusAccepted {
		return classifyConnectionStatus(first)
	}

	w.clearFailure()
	w.setRedirect("")
	w.setCurrentNodeTag(node.ClusterTag)
	w.logger.Infof("subscription: connected to node %s for subscription %q", node.ClusterTag, w.opts.Name)

	return w.pumpBatches(ctx, c, fr)
}

type readOutcome struct {
	items []map[string]interface{}
	err   error
}

// pumpBatches overlaps reading the next batch with dispatching and
// acknowledging the current one: the next read starts before the current
// batch's listeners are even invoked, and is only awaited right before its
// own dispatch begins.
func (w *Worker) pumpBatches(ctx context.Context, c conn, fr *frameReader) error {
	acks := &ackTracker{}
	batch := &Batch{}

	readResultCh := make(chan readOutcome, 1)
	onConfirm := func() { w.handleConfirm(ctx, acks) }
	startRead := func() {
		go func() {
			items, err := readSingleBatch(ctx, fr, w.opts.MaxDocsPerBatch, onConfirm)
			readResultCh <- readOutcome{items: items, err: err}
		}()
	}
	startRead()

	var prevNotify chan error
	for {
		if prevNotify != nil {
			select {
			case perr := <-prevNotify:
				if perr != nil {
					return perr
				}
			case <-ctx.Done():
				return ctx.Err()
			}
			prevNotify = nil
		}

		var ro readOutcome
		select {
		case ro = <-readResultCh:
		case <-ctx.Done():
			return ctx.Err()
		}
		if ro.err != nil {
			return ro.err
		}

		cv := batch.initialize(ro.items)
		startRead()

		listeners := w.events.batchListeners()
		curBatch := batch
		curCV := cv
		notify := make(chan error, 1)
		go func() {
			notify <- w.dispatchAndAck(ctx, c, listeners, curBatch, curCV, acks)
		}()
		prevNotify = notify
	}
}

// dispatchAndAck delivers batch to every batch listener, and on success
// (and a non-empty change vector) writes the Acknowledge frame and records
// the pending ack so a later Confirm can drive afterAcknowledgment.
func (w *Worker) dispatchAndAck(ctx context.Context, c conn, listeners []BatchHandler, batch *Batch, changeVector string, acks *ackTracker) error {
	if err := dispatch(ctx, w.logger, listeners, batch, w.opts.IgnoreSubscriberErrors); err != nil {
		return err
	}
	if changeVector == "" {
		return nil
	}
	if err := writeJSON(ctx, c, AcknowledgeMessage{ChangeVector: changeVector}); err != nil {
		return wrapConnectionError(err)
	}
	acks.push(pendingAck{changeVector: changeVector, batch: batch.snapshot()})
	return nil
}

// handleConfirm fires afterAcknowledgment listeners for the oldest
// outstanding ack when the server confirms it. Dispatched
// asynchronously and with subscriber errors always swallowed (logged
// only): a slow or failing afterAcknowledgment listener must never stall
// the batch pump or be promoted to a fatal SubscriberError.
func (w *Worker) handleConfirm(ctx context.Context, acks *ackTracker) {
	p, ok := acks.popConfirmed()
	if !ok {
		return
	}
	listeners := w.events.afterAckListeners()
	if len(listeners) == 0 {
		return
	}
	go func() {
		if err := dispatch(ctx, w.logger, listeners, p.batch, true); err != nil {
			w.logger.Warnf("subscription: afterAcknowledgment listener error: %v", err)
		}
	}()
}
