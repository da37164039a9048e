// Package workflow runs one create-then-poll iteration against the
// template service and records its timings.
//
// An iteration:
//  1. submits createTemplate with a fixed payload and a random name
//     (create_time is recorded whether or not the call succeeds)
//  2. polls getTemplate every PollInterval until the status is COMPLETED or
//     FAILED, or until PollDeadline has passed since the iteration started
//  3. records poll_time and e2e_time, the latter tagged with the last
//     observed status
//
// A failed create aborts the iteration: no poll_time or e2e_time is recorded
// and the failure is visible only through http_req_failed. Poll failures are
// not retried; the next scheduled poll simply follows.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/flowload/internal/graphql"
	"github.com/wesleyorama2/flowload/internal/metrics"
)

// Defaults for the poll loop.
const (
	DefaultPollInterval = 50 * time.Millisecond
	DefaultPollDeadline = 30 * time.Second
)

// Tag keys on e2e_time samples.
const (
	TagFinal    = "final"
	TagTimedOut = "timed_out"
)

// Backend is the subset of the GraphQL client an iteration needs.
type Backend interface {
	CreateTemplate(ctx context.Context, in graphql.CreateTemplateInput) (*graphql.Template, error)
	GetTemplate(ctx context.Context, id string) (*graphql.Template, error)
}

// Config configures an Executor.
type Config struct {
	Backend Backend

	// Trends receives create_time, poll_time and e2e_time. Required.
	Trends *metrics.TrendSink

	// Requests receives one entry per network call (optional).
	Requests *metrics.Engine

	// Throughput is incremented on every network call (optional).
	Throughput *metrics.ThroughputCounter

	// TickOnIteration checks the throughput window at the start of each
	// iteration. Disable it when a dedicated timer drives the counter.
	TickOnIteration bool

	PollInterval time.Duration
	PollDeadline time.Duration

	Clock  Clock
	Logger *zap.Logger

	// NewName overrides the resource name generator.
	NewName func() string
}

// Executor runs iterations. It is safe for concurrent use: all per-iteration
// state lives in the returned WorkItem.
type Executor struct {
	backend         Backend
	trends          *metrics.TrendSink
	requests        *metrics.Engine
	throughput      *metrics.ThroughputCounter
	tickOnIteration bool
	pollInterval    time.Duration
	pollDeadline    time.Duration
	clock           Clock
	logger          *zap.Logger
	newName         func() string
}

// NewExecutor creates an executor, filling defaults for unset fields.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("workflow: backend is required")
	}
	if cfg.Trends == nil {
		return nil, fmt.Errorf("workflow: trend sink is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollDeadline <= 0 {
		cfg.PollDeadline = DefaultPollDeadline
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NewName == nil {
		cfg.NewName = RandomName
	}

	return &Executor{
		backend:         cfg.Backend,
		trends:          cfg.Trends,
		requests:        cfg.Requests,
		throughput:      cfg.Throughput,
		tickOnIteration: cfg.TickOnIteration,
		pollInterval:    cfg.PollInterval,
		pollDeadline:    cfg.PollDeadline,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		newName:         cfg.NewName,
	}, nil
}

// RandomName returns "svc-" followed by eight random hex characters.
func RandomName() string {
	return "svc-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Payload returns the fixed createTemplate input for name.
func Payload(name string) graphql.CreateTemplateInput {
	return graphql.CreateTemplateInput{
		Name:      name,
		Endpoints: []graphql.EndpointInput{{Protocol: "GRPC", Role: "SERVER"}},
		Database:  graphql.DatabaseInput{Type: "POSTGRESQL", DDL: "CREATE TABLE t(id int);"},
		Docker:    graphql.DockerInput{Registry: "docker.io", ImageName: "demo"},
	}
}

// RunIteration executes one create-poll-measure cycle. It never returns an
// error: failures are recorded on the WorkItem and in the request metrics.
func (e *Executor) RunIteration(ctx context.Context) *WorkItem {
	start := e.clock.Now()
	if e.tickOnIteration && e.throughput != nil {
		e.throughput.Tick(start)
	}
	if e.requests != nil {
		defer e.requests.RecordIteration()
	}

	item := &WorkItem{
		Name:        e.newName(),
		SubmittedAt: start,
	}

	createStart := e.clock.Now()
	tpl, err := e.create(ctx, Payload(item.Name))
	item.CreateDuration = e.clock.Since(createStart)
	e.trends.RecordDuration(metrics.MetricCreateTime, item.CreateDuration, nil)

	if err != nil {
		item.Err = err
		e.logger.Debug("create failed, iteration aborted",
			zap.String("name", item.Name),
			zap.String("kind", graphql.Kind(err)),
			zap.Error(err))
		return item
	}

	item.ID = tpl.ID
	item.Status = tpl.Status

	deadline := start.Add(e.pollDeadline)
	pollStart := e.clock.Now()
	for !graphql.IsTerminal(item.Status) {
		if !e.clock.Now().Before(deadline) {
			item.TimedOut = true
			break
		}
		if err := e.clock.Sleep(ctx, e.pollInterval); err != nil {
			item.Interrupted = true
			break
		}

		got, err := e.get(ctx, item.ID)
		item.Polls++
		if err != nil {
			e.logger.Debug("poll failed",
				zap.String("id", item.ID),
				zap.String("kind", graphql.Kind(err)),
				zap.Error(err))
			if ctx.Err() != nil {
				item.Interrupted = true
				break
			}
			continue
		}
		if got.Status != "" {
			item.Status = got.Status
		}
	}
	item.PollDuration = e.clock.Since(pollStart)
	item.Total = e.clock.Since(start)

	if item.Interrupted {
		e.logger.Debug("iteration interrupted before a terminal status",
			zap.String("id", item.ID),
			zap.String("status", item.Status))
		return item
	}

	e.trends.RecordDuration(metrics.MetricPollTime, item.PollDuration, nil)

	tags := map[string]string{TagFinal: item.Status}
	if item.TimedOut {
		tags[TagTimedOut] = "true"
	}
	e.trends.RecordDuration(metrics.MetricE2ETime, item.Total, tags)

	return item
}

func (e *Executor) create(ctx context.Context, in graphql.CreateTemplateInput) (*graphql.Template, error) {
	started := time.Now()
	tpl, err := e.backend.CreateTemplate(ctx, in)
	e.countRequest(graphql.OpCreateTemplate, time.Since(started), err)
	return tpl, err
}

func (e *Executor) get(ctx context.Context, id string) (*graphql.Template, error) {
	started := time.Now()
	tpl, err := e.backend.GetTemplate(ctx, id)
	e.countRequest(graphql.OpGetTemplate, time.Since(started), err)
	return tpl, err
}

func (e *Executor) countRequest(op string, d time.Duration, err error) {
	if e.throughput != nil {
		e.throughput.RecordRequest()
	}
	if e.requests != nil {
		e.requests.RecordRequest(op, d, err == nil)
	}
}
