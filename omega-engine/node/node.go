// Package node implements the OMEGA node: the byte-level send and receive
// protocol on top of the operator pipeline and a broadcast transport.
package node

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/pipeline"
)

// Receive outcomes reported to a Recorder.
const (
	OutcomeDelivered      = "delivered"
	OutcomeDiscarded      = "discarded"
	OutcomeMalformed      = "malformed"
	OutcomeTransportError = "transport_error"
)

// Recorder receives per-operation measurements, typically prometheus metrics.
type Recorder interface {
	ObserveSend(d time.Duration, err error)
	ObserveReceive(outcome string, d time.Duration)
	SetFrequency(f float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSend(time.Duration, error)     {}
func (nopRecorder) ObserveReceive(string, time.Duration) {}
func (nopRecorder) SetFrequency(float64)                 {}

// Message is one entry of a batch send.
type Message struct {
	Payload []byte
	Target  float64
}

// Stats is a snapshot of node counters.
type Stats struct {
	ID              string         `json:"id"`
	Frequency       float64        `json:"frequency"`
	Epoch           uint64         `json:"epoch"`
	Sent            uint64         `json:"sent"`
	Delivered       uint64         `json:"delivered"`
	Discarded       uint64         `json:"discarded"`
	Malformed       uint64         `json:"malformed"`
	TransportErrors uint64         `json:"transport_errors"`
	Uptime          time.Duration  `json:"uptime"`
	Pool            core.PoolStats `json:"pool"`
}

// Node sends payloads to frequencies and receives payloads addressed to its
// own frequency. All methods are safe for concurrent use.
type Node struct {
	id        string
	pipeline  *pipeline.Pipeline
	transport Transport
	pool      *core.WorkerPool
	logger    zerolog.Logger
	recorder  Recorder
	now       func() time.Time
	started   time.Time
	observer  pipeline.Observer

	mu    sync.RWMutex
	omega float64
	epoch uint64

	sent            atomic.Uint64
	delivered       atomic.Uint64
	discarded       atomic.Uint64
	malformed       atomic.Uint64
	transportErrors atomic.Uint64
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the node logger.
func WithLogger(l zerolog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(n *Node) {
		if r != nil {
			n.recorder = r
		}
	}
}

// WithClock replaces time.Now; the sweep schedule runs on this clock.
func WithClock(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

// WithObserver forwards pipeline state transitions.
func WithObserver(o pipeline.Observer) Option {
	return func(n *Node) { n.observer = o }
}

// New builds a node from cfg on top of transport. Every configuration
// failure wraps core.ErrInvalidParams.
func New(cfg Config, transport Transport, opts ...Option) (*Node, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", core.ErrInvalidParams)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		id:        cfg.ID,
		transport: transport,
		logger:    zerolog.Nop(),
		recorder:  nopRecorder{},
		now:       time.Now,
		omega:     cfg.Omega,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.id == "" {
		n.id = uuid.NewString()
	}
	n.logger = n.logger.With().Str("node", n.id).Logger()
	n.started = n.now()

	keys, err := cfg.Keyring()
	if err != nil {
		return nil, err
	}
	var popts []pipeline.Option
	if n.observer != nil {
		popts = append(popts, pipeline.WithObserver(n.observer))
	}
	if n.pipeline, err = pipeline.New(cfg.Params, keys, popts...); err != nil {
		return nil, err
	}

	n.pool = core.NewWorkerPool("omega-"+n.id, cfg.Workers)
	n.recorder.SetFrequency(cfg.Omega)
	n.logger.Info().Float64("omega", cfg.Omega).Int("keys", keys.Len()).Msg("node ready")
	return n, nil
}

// ID returns the node identifier.
func (n *Node) ID() string {
	return n.id
}

// Frequency returns the local tuning ω.
func (n *Node) Frequency() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.omega
}

// SetFrequency retunes the node.
func (n *Node) SetFrequency(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: frequency must be finite", core.ErrInvalidParams)
	}
	n.mu.Lock()
	n.omega = f
	n.mu.Unlock()
	n.recorder.SetFrequency(f)
	n.logger.Info().Float64("omega", f).Msg("frequency set")
	return nil
}

// Epoch returns the current key epoch.
func (n *Node) Epoch() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.epoch
}

// AdvanceEpoch moves to the next key epoch and returns it. The epoch is
// stamped into every nonce and so feeds the mask derivation.
func (n *Node) AdvanceEpoch() uint64 {
	n.mu.Lock()
	n.epoch++
	e := n.epoch
	n.mu.Unlock()
	n.logger.Info().Uint64("epoch", e).Msg("epoch advanced")
	return e
}

// Pipeline exposes the node's operator pipeline.
func (n *Node) Pipeline() *pipeline.Pipeline {
	return n.pipeline
}

func (n *Node) elapsed() time.Duration {
	return n.now().Sub(n.started)
}

// Send masks payload for frequency target and broadcasts it. A payload over
// core.MaxPayloadBytes fails with core.ErrPayloadTooLarge before the
// transport is touched. Broadcast failures are returned as *core.TransportError.
func (n *Node) Send(ctx context.Context, payload []byte, target float64) error {
	start := time.Now()
	err := n.send(ctx, payload, target)
	n.recorder.ObserveSend(time.Since(start), err)
	return err
}

func (n *Node) send(ctx context.Context, payload []byte, target float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nonce, err := core.NewNonce(n.Epoch())
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}

	v, err := n.pipeline.Transmit(ctx, payload, target, nonce, n.elapsed())
	if err != nil {
		return err
	}

	if err := n.transport.Broadcast(ctx, v); err != nil {
		n.transportErrors.Add(1)
		n.logger.Warn().Err(err).Msg("broadcast failed")
		return &core.TransportError{Op: "broadcast", Err: err}
	}

	n.sent.Add(1)
	n.logger.Debug().
		Float64("target", target).
		Int("bytes", len(payload)).
		Str("nonce", nonce.String()).
		Msg("sent")
	return nil
}

// Receive pulls the next vector from the transport. It returns the payload
// when the vector resonates with this node, and (nil, nil) when it does not.
// A cancelled or expired ctx is returned as ctx.Err(), not as a transport
// failure.
func (n *Node) Receive(ctx context.Context) ([]byte, error) {
	v, err := n.transport.ReceiveNext(ctx)
	start := time.Now()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		n.transportErrors.Add(1)
		n.recorder.ObserveReceive(OutcomeTransportError, time.Since(start))
		return nil, &core.TransportError{Op: "receive", Err: err}
	}
	return n.Accept(ctx, v)
}

// Accept runs the receive pipeline on a vector obtained outside Receive.
func (n *Node) Accept(ctx context.Context, v core.Vector) ([]byte, error) {
	start := time.Now()
	local := n.Frequency()

	out, err := n.pipeline.Receive(ctx, v, local)
	if err != nil {
		if errors.Is(err, core.ErrMalformedVector) {
			n.malformed.Add(1)
			n.recorder.ObserveReceive(OutcomeMalformed, time.Since(start))
			n.logger.Debug().Err(err).Str("nonce", v.Nonce.String()).Msg("malformed vector")
		}
		return nil, err
	}

	if !out.Delivered() {
		n.discarded.Add(1)
		n.recorder.ObserveReceive(OutcomeDiscarded, time.Since(start))
		n.logger.Trace().Float64("distance", out.Distance).Msg("discarded")
		return nil, nil
	}

	n.delivered.Add(1)
	n.recorder.ObserveReceive(OutcomeDelivered, time.Since(start))
	n.logger.Debug().Int("bytes", len(out.Payload)).Float64("omega", local).Msg("delivered")
	return out.Payload, nil
}

// SendBatch sends every message on the worker pool and returns one error
// slot per message. When the pool queue is full the message is sent inline.
func (n *Node) SendBatch(ctx context.Context, msgs []Message) []error {
	errs := make([]error, len(msgs))
	done := make(chan *core.Result, len(msgs))
	pending := make(map[string]int, len(msgs))

	for i, m := range msgs {
		id := uuid.NewString()
		task := core.NewTask(ctx, id, func(ctx context.Context) (interface{}, error) {
			return nil, n.Send(ctx, m.Payload, m.Target)
		})
		task.Done = done

		switch err := n.pool.Submit(task); {
		case err == nil:
			pending[id] = i
		case errors.Is(err, core.ErrQueueFull):
			errs[i] = n.Send(ctx, m.Payload, m.Target)
		default:
			errs[i] = err
		}
	}

	for len(pending) > 0 {
		select {
		case r := <-done:
			if i, ok := pending[r.TaskID]; ok {
				errs[i] = r.Error
				delete(pending, r.TaskID)
			}
		case <-ctx.Done():
			for _, i := range pending {
				errs[i] = ctx.Err()
			}
			return errs
		}
	}
	return errs
}

// Stats returns a snapshot of the node counters.
func (n *Node) Stats() Stats {
	n.mu.RLock()
	omega, epoch := n.omega, n.epoch
	n.mu.RUnlock()

	return Stats{
		ID:              n.id,
		Frequency:       omega,
		Epoch:           epoch,
		Sent:            n.sent.Load(),
		Delivered:       n.delivered.Load(),
		Discarded:       n.discarded.Load(),
		Malformed:       n.malformed.Load(),
		TransportErrors: n.transportErrors.Load(),
		Uptime:          n.elapsed(),
		Pool:            n.pool.GetStats(),
	}
}

// Close stops the worker pool. The transport belongs to the caller.
func (n *Node) Close() error {
	return n.pool.ShutdownWithTimeout(5 * time.Second)
}
