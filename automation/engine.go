package automation

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eladsnd/sunday/domain"
	"github.com/eladsnd/sunday/ordering"
)

const (
	tracerName = "github.com/eladsnd/sunday/automation"

	evaluateSpanName = "automation.evaluate"
	actionSpanName   = "automation.action"

	// DefaultMaxChainDepth bounds nested evaluations triggered by actions.
	DefaultMaxChainDepth = 3
)

// RuleSource returns the rules of a board that listen for a trigger type.
type RuleSource interface {
	ListByTrigger(ctx context.Context, boardID string, trigger domain.TriggerType) ([]domain.AutomationRule, error)
}

// ItemMover relocates items between groups.
type ItemMover interface {
	MoveAcrossScope(ctx context.Context, kind ordering.Kind, id, newScopeKey string, newPosition int) (ordering.Entry, error)
}

// FailureReporter receives every failed action after it has been logged.
type FailureReporter interface {
	Report(ctx context.Context, failure *domain.ActionExecutionError)
}

// Move records an item relocated by a rule.
type Move struct {
	RuleID   string `json:"ruleId"`
	ItemID   string `json:"itemId"`
	GroupID  string `json:"groupId"`
	Position int    `json:"position"`
}

// Outcome summarizes one evaluation.
type Outcome struct {
	Evaluated int                            `json:"evaluated"`
	Matched   int                            `json:"matched"`
	Executed  int                            `json:"executed"`
	Moves     []Move                         `json:"moves,omitempty"`
	Failures  []*domain.ActionExecutionError `json:"-"`
	Skipped   bool                           `json:"skipped,omitempty"`
}

// Errors returns the failure messages, for reporting to clients.
func (o Outcome) Errors() []string {
	if len(o.Failures) == 0 {
		return nil
	}
	out := make([]string, len(o.Failures))
	for i, f := range o.Failures {
		out[i] = f.Error()
	}
	return out
}

// Engine evaluates status_change rules against committed cell changes and
// runs the matching actions.
type Engine struct {
	rules    RuleSource
	mover    ItemMover
	reporter FailureReporter
	logger   *log.Logger
	maxDepth int
}

type Option func(*Engine)

// WithReporter forwards failures to r in addition to logging them.
func WithReporter(r FailureReporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithMaxChainDepth sets how deeply evaluations may nest.
func WithMaxChainDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

func NewEngine(rules RuleSource, mover ItemMover, logger *log.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e := &Engine{rules: rules, mover: mover, logger: logger, maxDepth: DefaultMaxChainDepth}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type depthKey struct{}

func depthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Handle runs every rule of ev.BoardID whose trigger matches ev, in rule
// creation order. It never returns an error: a failed rule load or action
// is logged, reported and collected in the outcome, and the remaining
// rules still run.
func (e *Engine) Handle(ctx context.Context, ev domain.ChangeEvent) Outcome {
	entry := e.logger.WithFields(log.Fields{"board": ev.BoardID, "item": ev.ItemID, "column": ev.ColumnID})

	depth := depthFrom(ctx)
	if depth >= e.maxDepth {
		entry.WithField("depth", depth).Warn("automation chain too deep, skipping evaluation")
		return Outcome{Skipped: true}
	}
	ctx = context.WithValue(ctx, depthKey{}, depth+1)

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, evaluateSpanName, trace.WithAttributes(
		attribute.String("board.id", ev.BoardID),
		attribute.String("item.id", ev.ItemID),
		attribute.String("column.id", ev.ColumnID),
		attribute.String("cell.value", ev.Value),
	))
	defer span.End()

	var out Outcome
	rules, err := e.rules.ListByTrigger(ctx, ev.BoardID, domain.TriggerStatusChange)
	if err != nil {
		failure := &domain.ActionExecutionError{BoardID: ev.BoardID, ItemID: ev.ItemID, Err: fmt.Errorf("load rules: %w", err)}
		e.fail(ctx, entry, failure, &out)
		span.RecordError(err)
		span.SetStatus(codes.Error, failure.Error())
		return out
	}

	for _, rule := range rules {
		out.Evaluated++
		if !rule.Matches(ev) {
			continue
		}
		out.Matched++
		move, err := e.execute(ctx, tracer, rule, ev)
		if err != nil {
			e.fail(ctx, entry, &domain.ActionExecutionError{
				RuleID:     rule.ID,
				BoardID:    ev.BoardID,
				ItemID:     ev.ItemID,
				ActionType: rule.ActionType,
				Err:        err,
			}, &out)
			continue
		}
		out.Executed++
		out.Moves = append(out.Moves, move)
		entry.WithFields(log.Fields{"rule": rule.ID, "group": move.GroupID}).Info("automation moved item")
	}

	span.SetAttributes(
		attribute.Int("automation.evaluated", out.Evaluated),
		attribute.Int("automation.matched", out.Matched),
		attribute.Int("automation.executed", out.Executed),
		attribute.Int("automation.failed", len(out.Failures)),
	)
	if len(out.Failures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d automation actions failed", len(out.Failures)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return out
}

func (e *Engine) execute(ctx context.Context, tracer trace.Tracer, rule domain.AutomationRule, ev domain.ChangeEvent) (Move, error) {
	ctx, span := tracer.Start(ctx, actionSpanName, trace.WithAttributes(
		attribute.String("automation.rule_id", rule.ID),
		attribute.String("automation.action", string(rule.ActionType)),
	))
	defer span.End()

	var move Move
	var err error
	switch rule.ActionType {
	case domain.ActionMoveToGroup:
		var ent ordering.Entry
		ent, err = e.mover.MoveAcrossScope(ctx, ordering.KindItem, ev.ItemID, rule.ActionConfig.GroupID, 0)
		move = Move{RuleID: rule.ID, ItemID: ev.ItemID, GroupID: ent.ScopeKey, Position: ent.Position}
	default:
		err = domain.Invalidf("unsupported action type %q", rule.ActionType)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Move{}, err
	}
	span.SetStatus(codes.Ok, "")
	return move, nil
}

func (e *Engine) fail(ctx context.Context, entry *log.Entry, failure *domain.ActionExecutionError, out *Outcome) {
	out.Failures = append(out.Failures, failure)
	entry.WithFields(log.Fields{"rule": failure.RuleID, "action": failure.ActionType}).WithError(failure.Err).Error("automation action failed")
	if e.reporter != nil {
		e.reporter.Report(ctx, failure)
	}
}
