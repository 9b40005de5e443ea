// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package executor drains a planned action queue against the ledger, one
// action at a time, stopping at the first unrecoverable failure.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/autoranker/commitment"
	"github.com/blinklabs-io/autoranker/event"
	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/blinklabs-io/autoranker/planner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/blinklabs-io/autoranker/executor"

// IntentStore keeps vote intents between commit and reveal
type IntentStore interface {
	SaveIntent(account common.Address, intent *commitment.VoteIntent) error
	LookupIntent(itemID uint64, account common.Address) (*commitment.VoteIntent, bool, error)
}

// Recorder keeps a history of executed actions
type Recorder interface {
	RecordAction(action *planner.Action) error
}

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

type ExecutorConfig struct {
	Gateway ledger.Gateway
	// Clock times waits against the round a commit landed in. It defaults to
	// the gateway when the gateway is also a clock.
	Clock          ledger.Clock
	Intents        IntentStore
	Recorder       Recorder
	EventBus       *event.EventBus
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	TracerProvider trace.TracerProvider
	// WaitPadding is added to every non-zero wait between actions
	WaitPadding time.Duration
	// ConfirmTimeout bounds each AwaitConfirmation call, 0 waits indefinitely
	ConfirmTimeout time.Duration
	Sleep          SleepFunc
}

type Executor struct {
	config  ExecutorConfig
	logger  *slog.Logger
	metrics *executorMetrics
	tracer  trace.Tracer
}

func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("executor requires a ledger gateway")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.Clock == nil {
		if clock, ok := cfg.Gateway.(ledger.Clock); ok {
			cfg.Clock = clock
		}
	}
	e := &Executor{
		config: cfg,
		logger: cfg.Logger.With("component", "executor"),
		tracer: cfg.TracerProvider.Tracer(tracerName),
	}
	if cfg.PromRegistry != nil {
		e.initMetrics(cfg.PromRegistry)
	}
	return e, nil
}

// SleepContext waits for d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs the queue in order. It returns nil only if every action
// completed; otherwise it returns an *ActionError and the actions after the
// failed one are left in the planned state.
func (e *Executor) Execute(ctx context.Context, actions []*planner.Action) error {
	for i, action := range actions {
		skipped, err := e.executeAction(ctx, action)
		if err != nil {
			action.MarkFailed(err)
			e.finish(i, action, false)
			return &ActionError{
				Index:  i,
				Kind:   action.Kind,
				ItemID: action.ItemID,
				Err:    err,
			}
		}
		action.MarkConfirmed()
		e.finish(i, action, skipped)
		if action.Kind == planner.KindCommit {
			e.followCommit(ctx, actions, i)
		}
		if i == len(actions)-1 || action.WaitAfter <= 0 {
			continue
		}
		wait := action.WaitAfter + e.config.WaitPadding
		e.logger.Debug(
			fmt.Sprintf("waiting %s before next action", wait),
			"item", action.ItemID,
			"next", actions[i+1].Kind.String(),
		)
		if err := e.config.Sleep(ctx, wait); err != nil {
			next := actions[i+1]
			next.MarkFailed(err)
			e.finish(i+1, next, false)
			return &ActionError{
				Index:  i + 1,
				Kind:   next.Kind,
				ItemID: next.ItemID,
				Err:    err,
			}
		}
	}
	return nil
}

func (e *Executor) finish(idx int, action *planner.Action, skipped bool) {
	result := "confirmed"
	evtType := event.ActionConfirmedEventType
	evtData := event.ActionEvent{
		ItemID:  action.ItemID,
		Kind:    action.Kind.String(),
		Index:   idx,
		TxRef:   action.TxRef.String(),
		Skipped: skipped,
	}
	if action.Signer != nil {
		evtData.Account = action.Signer.Address().Hex()
	}
	switch {
	case action.State == planner.StateFailed:
		result = "failed"
		evtType = event.ActionFailedEventType
		evtData.Error = action.Err.Error()
		e.logger.Error(
			"action failed",
			"item", action.ItemID,
			"action", action.Kind.String(),
			"index", idx,
			"error", action.Err,
		)
	case skipped:
		result = "skipped"
		e.logger.Info(
			"action no longer needed",
			"item", action.ItemID,
			"action", action.Kind.String(),
		)
	default:
		e.logger.Info(
			"action confirmed",
			"item", action.ItemID,
			"action", action.Kind.String(),
			"tx", action.TxRef.String(),
		)
	}
	e.countAction(action.Kind.String(), result)
	if e.config.Recorder != nil {
		if err := e.config.Recorder.RecordAction(action); err != nil {
			e.logger.Warn(
				"failed to record action",
				"item", action.ItemID,
				"error", err,
			)
		}
	}
	if e.config.EventBus != nil {
		e.config.EventBus.Publish(evtType, event.NewEvent(evtType, evtData))
	}
}

// submitFunc performs the ledger write for a prepared action
type submitFunc func(ctx context.Context) (ledger.TxRef, error)

func (e *Executor) executeAction(
	ctx context.Context,
	action *planner.Action,
) (bool, error) {
	ctx, span := e.tracer.Start(
		ctx,
		"action."+action.Kind.String(),
		trace.WithAttributes(
			attribute.Int64("item", int64(action.ItemID)), //nolint:gosec
		),
	)
	defer span.End()
	skipped, err := e.run(ctx, action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("skipped", skipped))
	return skipped, err
}

func (e *Executor) run(ctx context.Context, action *planner.Action) (bool, error) {
	if action.Signer == nil {
		return false, errors.New("action has no signer")
	}
	// Ledger state is re-read right before building the call
	submit, skip, err := e.prepare(ctx, action)
	if err != nil {
		return false, err
	}
	if skip {
		return true, nil
	}
	ref, err := submit(ctx)
	switch ledger.Classify(err) {
	case ledger.ClassNone:
	case ledger.ClassPending:
		ref, _ = ledger.PendingRef(err)
		e.logger.Info(
			"submission already pending, awaiting original transaction",
			"item", action.ItemID,
			"action", action.Kind.String(),
			"tx", ref.String(),
		)
		if e.metrics != nil {
			e.metrics.pendingRecoveries.Inc()
		}
	default:
		return false, fmt.Errorf("submit %s: %w", action.Kind, err)
	}
	action.MarkSubmitted(ref)
	if err := e.await(ctx, ref); err != nil {
		return false, fmt.Errorf("await %s: %w", ref, err)
	}
	if action.Kind == planner.KindCommit {
		e.bindIntentRound(ctx, action)
	}
	return false, nil
}

func (e *Executor) await(ctx context.Context, ref ledger.TxRef) error {
	if e.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ConfirmTimeout)
		defer cancel()
	}
	start := time.Now()
	err := e.config.Gateway.AwaitConfirmation(ctx, ref)
	if err == nil && e.metrics != nil {
		e.metrics.confirmSeconds.Observe(time.Since(start).Seconds())
	}
	return err
}

func (e *Executor) prepare(
	ctx context.Context,
	action *planner.Action,
) (submitFunc, bool, error) {
	gw := e.config.Gateway
	switch action.Kind {
	case planner.KindFundEther, planner.KindFundToken:
		return e.prepareFund(ctx, action)
	case planner.KindCommit:
		if action.Intent == nil {
			return nil, false, ErrMissingIntent
		}
		item, err := gw.GetItem(ctx, action.ItemID)
		if err != nil {
			return nil, false, fmt.Errorf("get item: %w", err)
		}
		committed, err := e.committedInOpenRound(ctx, action, item)
		if err != nil {
			return nil, false, err
		}
		if committed {
			// Never overwrite the intent behind a vote the ledger already holds
			if err := e.adoptStoredIntent(action, item.ActiveRoundID); err != nil {
				return nil, false, err
			}
			e.logger.Info(
				"account already committed in the open round, resuming with its stored intent",
				"item", action.ItemID,
				"account", action.Signer.Address().Hex(),
				"round", item.ActiveRoundID,
			)
			return nil, true, nil
		}
		if err := e.saveIntent(action); err != nil {
			return nil, false, err
		}
		intent := action.Intent
		return func(ctx context.Context) (ledger.TxRef, error) {
			return gw.SubmitCommit(
				ctx,
				action.Signer,
				action.ItemID,
				intent.CommitHash,
			)
		}, false, nil
	case planner.KindReveal:
		intent := action.Intent
		if intent == nil {
			return nil, false, ErrMissingIntent
		}
		if !intent.Verify() {
			return nil, false, ErrIntentMismatch
		}
		item, err := gw.GetItem(ctx, action.ItemID)
		if err != nil {
			return nil, false, fmt.Errorf("get item: %w", err)
		}
		if item.ActiveRoundID == 0 ||
			(intent.RoundID != 0 && intent.RoundID != item.ActiveRoundID) {
			return nil, false, ErrRoundClosed
		}
		return func(ctx context.Context) (ledger.TxRef, error) {
			return gw.SubmitReveal(
				ctx,
				action.Signer,
				action.ItemID,
				intent.Direction,
				intent.Magnitude,
				intent.Salt,
			)
		}, false, nil
	case planner.KindFinalize:
		item, err := gw.GetItem(ctx, action.ItemID)
		if err != nil {
			return nil, false, fmt.Errorf("get item: %w", err)
		}
		if item.ActiveRoundID == 0 {
			return nil, true, nil
		}
		state, err := gw.GetRoundState(ctx, item.ActiveRoundID)
		if err != nil {
			return nil, false, fmt.Errorf("get round state: %w", err)
		}
		if state == ledger.RoundStateFinished {
			return nil, true, nil
		}
		return func(ctx context.Context) (ledger.TxRef, error) {
			return gw.SubmitFinalize(ctx, action.Signer, action.ItemID)
		}, false, nil
	default:
		return nil, false, fmt.Errorf("unsupported action kind %s", action.Kind)
	}
}

func (e *Executor) prepareFund(
	ctx context.Context,
	action *planner.Action,
) (submitFunc, bool, error) {
	if action.Amount == nil || action.Amount.Sign() <= 0 {
		return nil, false, errors.New("fund amount must be positive")
	}
	asset := ledger.AssetNative
	if action.Kind == planner.KindFundToken {
		asset = ledger.AssetToken
	}
	balances, err := e.config.Gateway.GetAccountBalances(ctx, action.To)
	if err != nil {
		return nil, false, fmt.Errorf("get balances: %w", err)
	}
	// Another worker may have funded the account since planning
	if (asset == ledger.AssetNative && !balances.NativeEmpty()) ||
		(asset == ledger.AssetToken && !balances.TokenEmpty()) {
		return nil, true, nil
	}
	return func(ctx context.Context) (ledger.TxRef, error) {
		return e.config.Gateway.SubmitFund(
			ctx,
			action.Signer,
			asset,
			action.To,
			action.Amount,
		)
	}, false, nil
}

func (e *Executor) saveIntent(action *planner.Action) error {
	if e.config.Intents == nil {
		return nil
	}
	if err := e.config.Intents.SaveIntent(
		action.Signer.Address(),
		action.Intent,
	); err != nil {
		return fmt.Errorf("save vote intent: %w", err)
	}
	return nil
}

// committedInOpenRound reports whether the ledger lists the signer as a
// voter of the item's open round
func (e *Executor) committedInOpenRound(
	ctx context.Context,
	action *planner.Action,
	item *ledger.Item,
) (bool, error) {
	if item.ActiveRoundID == 0 {
		return false, nil
	}
	gw := e.config.Gateway
	info, err := gw.GetRound(ctx, item.ActiveRoundID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get round: %w", err)
	}
	if !info.HasVoter(action.Signer.Address()) {
		return false, nil
	}
	state, err := gw.GetRoundState(ctx, item.ActiveRoundID)
	if err != nil {
		return false, fmt.Errorf("get round state: %w", err)
	}
	return state != ledger.RoundStateFinished, nil
}

// adoptStoredIntent swaps the action's intent for the one stored when the
// signer committed in roundID
func (e *Executor) adoptStoredIntent(action *planner.Action, roundID uint64) error {
	if e.config.Intents == nil {
		return ErrAlreadyCommitted
	}
	stored, ok, err := e.config.Intents.LookupIntent(
		action.ItemID,
		action.Signer.Address(),
	)
	if err != nil {
		return fmt.Errorf("load vote intent: %w", err)
	}
	if !ok || (stored.RoundID != 0 && stored.RoundID != roundID) {
		return ErrAlreadyCommitted
	}
	if stored.RoundID == 0 {
		stored.RoundID = roundID
		if err := e.config.Intents.SaveIntent(action.Signer.Address(), stored); err != nil {
			return fmt.Errorf("save vote intent: %w", err)
		}
	}
	action.Intent = stored
	return nil
}

// followCommit hands the committed intent to the reveals queued after it and
// times the following waits against the round the commit landed in
func (e *Executor) followCommit(ctx context.Context, actions []*planner.Action, idx int) {
	commit := actions[idx]
	var reveal *planner.Action
	for _, next := range actions[idx+1:] {
		if next.Kind == planner.KindReveal &&
			next.Signer != nil &&
			next.Signer.Address() == commit.Signer.Address() {
			next.Intent = commit.Intent
			if reveal == nil {
				reveal = next
			}
		}
	}
	if e.config.Clock == nil {
		return
	}
	gw := e.config.Gateway
	item, err := gw.GetItem(ctx, commit.ItemID)
	if err != nil || item.ActiveRoundID == 0 {
		return
	}
	info, err := gw.GetRound(ctx, item.ActiveRoundID)
	if err != nil {
		return
	}
	now, err := e.config.Clock.Now(ctx)
	if err != nil {
		return
	}
	r := info.Round(ledger.RoundStateCommitting)
	revealFrom := now
	if commitEnd := r.CommitDeadline(); commitEnd.After(now) {
		commit.WaitAfter = commitEnd.Sub(now)
		revealFrom = commitEnd
	} else {
		commit.WaitAfter = 0
	}
	if reveal != nil {
		reveal.WaitAfter = max(r.RevealDeadline().Sub(revealFrom), 0)
	}
}

// bindIntentRound records which round a confirmed commit landed in
func (e *Executor) bindIntentRound(ctx context.Context, action *planner.Action) {
	item, err := e.config.Gateway.GetItem(ctx, action.ItemID)
	if err != nil {
		e.logger.Warn(
			"failed to read round after commit",
			"item", action.ItemID,
			"error", err,
		)
		return
	}
	action.Intent.RoundID = item.ActiveRoundID
	if err := e.saveIntent(action); err != nil {
		e.logger.Warn(
			"failed to update vote intent",
			"item", action.ItemID,
			"error", err,
		)
	}
}
