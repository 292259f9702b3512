package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mediagate/internal/domain"
	"mediagate/internal/registry"
	"mediagate/internal/schema"
)

// DefaultTimeout bounds a single handler run.
const DefaultTimeout = 30 * time.Second

// Resolver finds commands by name. *registry.Registry implements it.
type Resolver interface {
	Lookup(name string) (registry.Registration, bool)
	Names() []string
}

// CallObserver records the outcome of every Execute call.
type CallObserver interface {
	ObserveCall(tool, outcome string, elapsed time.Duration)
}

// Option is a functional option for configuring Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds each handler run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d >= 0 {
			x.timeout = d
		}
	}
}

// WithDebug attaches traces to failure envelopes.
func WithDebug(on bool) Option {
	return func(x *Dispatcher) { x.debug = on }
}

// WithLogger sets a structured logger. If l is nil the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(x *Dispatcher) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithObserver records call outcomes, typically into Prometheus.
func WithObserver(o CallObserver) Option {
	return func(x *Dispatcher) { x.observer = o }
}

// WithTracer replaces the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(x *Dispatcher) {
		if t != nil {
			x.tracer = t
		}
	}
}

// Dispatcher is the single entry point for command execution. Every failure
// leaves it as a *domain.ErrorEnvelope; handler panics included.
type Dispatcher struct {
	commands Resolver
	sessions domain.SessionProvider

	timeout  time.Duration
	debug    bool
	logger   *slog.Logger
	observer CallObserver
	tracer   trace.Tracer
	newID    func() string
}

// New returns a Dispatcher resolving commands through commands and acquiring
// sessions from sessions.
func New(commands Resolver, sessions domain.SessionProvider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		commands: commands,
		sessions: sessions,
		timeout:  DefaultTimeout,
		tracer:   otel.Tracer("mediagate/dispatch"),
		newID:    func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) log() *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return slog.Default()
}

// Names lists the commands the dispatcher can run.
func (d *Dispatcher) Names() []string { return d.commands.Names() }

// Execute runs the named command with args. On success the handler payload is
// returned unchanged; otherwise the envelope describes the failure. The
// dispatcher never retries.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]any) (any, *domain.ErrorEnvelope) {
	start := time.Now()
	reqID := d.newID()
	ctx, span := d.tracer.Start(ctx, "mediagate.execute", trace.WithAttributes(
		attribute.String("mediagate.command", name),
		attribute.String("mediagate.request_id", reqID),
	))
	defer span.End()

	result, env := d.execute(ctx, name, args)
	elapsed := time.Since(start)

	outcome := "ok"
	if env != nil {
		env.RequestID = reqID
		outcome = string(env.Kind)
		span.SetAttributes(attribute.String("mediagate.error_kind", outcome))
		span.SetStatus(codes.Error, env.Message)
		d.log().Warn("command failed",
			"command", name, "request_id", reqID, "kind", env.Kind,
			"message", env.Message, "elapsed", elapsed)
	} else {
		d.log().Debug("command completed", "command", name, "request_id", reqID, "elapsed", elapsed)
	}

	if d.observer != nil {
		tool := name
		if env != nil && env.Kind == domain.KindUnknownCommand {
			tool = "unknown"
		}
		d.observer.ObserveCall(tool, outcome, elapsed)
	}
	return result, env
}

// Stages of a single execute call, used to classify a recovered panic.
const (
	stageLookup   = "lookup"
	stageValidate = "validate"
	stageAcquire  = "acquire_session"
	stageInvoke   = "invoke"
)

func (d *Dispatcher) execute(ctx context.Context, name string, args map[string]any) (result any, env *domain.ErrorEnvelope) {
	stage := stageLookup
	defer func() {
		if r := recover(); r != nil {
			result, env = nil, d.panicEnvelope(name, stage, r, debug.Stack())
		}
	}()

	reg, ok := d.commands.Lookup(name)
	if !ok {
		return nil, &domain.ErrorEnvelope{
			Kind:    domain.KindUnknownCommand,
			Message: fmt.Sprintf("unknown command %q", name),
			Command: name,
			Context: map[string]any{"available_commands": d.commands.Names()},
		}
	}

	stage = stageValidate
	s := reg.Schema
	if s == nil {
		var err error
		if s, err = schema.Compile(name, reg.Contract.InputSchema); err != nil {
			return nil, &domain.ErrorEnvelope{
				Kind:    domain.KindExecution,
				Message: "command contract is broken",
				Command: name,
				Context: map[string]any{"command": name, "error_type": errorType(err), "cause": sanitize(err)},
			}
		}
	}
	validated, err := s.Validate(args)
	if err != nil {
		return nil, validationEnvelope(name, err)
	}

	stage = stageAcquire
	sess, err := d.sessions.Get(ctx)
	if err != nil {
		return nil, &domain.ErrorEnvelope{
			Kind:      domain.KindInfrastructure,
			Message:   "could not acquire a session",
			Command:   name,
			Context:   map[string]any{"operation": "acquire_session", "cause": sanitize(err)},
			Retryable: true,
			Trace:     d.trace(err),
		}
	}

	stage = stageInvoke
	return d.invoke(ctx, reg, sess, validated)
}

// handlerResult carries a handler's return values, or its panic, out of the
// goroutine it runs on.
type handlerResult struct {
	out      any
	err      error
	panicked any
	stack    []byte
}

// invoke runs the handler on its own goroutine so the timeout holds even for
// a handler that never looks at ctx. An abandoned handler's result is dropped.
func (d *Dispatcher) invoke(ctx context.Context, reg registry.Registration, sess domain.Session, args domain.Args) (any, *domain.ErrorEnvelope) {
	name := reg.Contract.Name
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{panicked: r, stack: debug.Stack()}
			}
		}()
		out, err := reg.Handler.Run(ctx, sess, args)
		done <- handlerResult{out: out, err: err}
	}()

	var res handlerResult
	select {
	case res = <-done:
	case <-ctx.Done():
		select {
		case res = <-done:
		default:
			d.log().Warn("handler abandoned", "command", name, "error", ctx.Err())
			return nil, d.executionEnvelope(name, fmt.Errorf("command %s: %w", name, ctx.Err()))
		}
	}

	if res.panicked != nil {
		return nil, d.panicEnvelope(name, stageInvoke, res.panicked, res.stack)
	}
	if res.err == nil {
		return res.out, nil
	}
	var ve *schema.ValidationError
	if errors.As(res.err, &ve) {
		return nil, validationEnvelope(name, ve)
	}
	if errors.Is(res.err, domain.ErrSessionRejected) {
		if inv, ok := d.sessions.(domain.SessionInvalidator); ok {
			inv.Invalidate()
			d.log().Info("session invalidated after remote rejection", "command", name)
		}
	}
	return nil, d.executionEnvelope(name, res.err)
}

// panicEnvelope maps a recovered panic. A panic while acquiring the session is
// an infrastructure failure; anywhere else it is an execution failure.
func (d *Dispatcher) panicEnvelope(name, stage string, r any, stack []byte) *domain.ErrorEnvelope {
	d.log().Error("command panicked", "command", name, "stage", stage, "panic", r)
	env := &domain.ErrorEnvelope{
		Kind:    domain.KindExecution,
		Message: fmt.Sprintf("command %s failed unexpectedly", name),
		Command: name,
		Context: map[string]any{"command": name, "error_type": fmt.Sprintf("%T", r), "panic": true, "retryable": false},
	}
	if stage == stageAcquire {
		env.Kind = domain.KindInfrastructure
		env.Message = "could not acquire a session"
		env.Context = map[string]any{"operation": "acquire_session", "error_type": fmt.Sprintf("%T", r), "panic": true}
		env.Retryable = true
	}
	if d.debug {
		env.Trace = fmt.Sprintf("panic: %v\n\n%s", r, stack)
	}
	return env
}

func (d *Dispatcher) executionEnvelope(name string, err error) *domain.ErrorEnvelope {
	ctx := map[string]any{"command": name}
	var ce ContextualError
	if errors.As(err, &ce) {
		for k, v := range ce.ErrorContext() {
			ctx[k] = v
		}
		ctx["command"] = name
	} else {
		ctx["error_type"] = errorType(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		ctx["timeout"] = true
	}
	retryable := retryableFrom(err, ctx)
	ctx["retryable"] = retryable

	return &domain.ErrorEnvelope{
		Kind:      domain.KindExecution,
		Message:   sanitize(err),
		Command:   name,
		Context:   ctx,
		Retryable: retryable,
		Trace:     d.trace(err),
	}
}

func (d *Dispatcher) trace(err error) string {
	if !d.debug {
		return ""
	}
	return errorChain(err)
}
