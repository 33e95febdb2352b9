package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cexll/linguahome-go/pkg/event"
	"github.com/cexll/linguahome-go/pkg/memory"
	"github.com/cexll/linguahome-go/pkg/model"
	"github.com/cexll/linguahome-go/pkg/prompt"
	"github.com/cexll/linguahome-go/pkg/sandbox"
	"github.com/cexll/linguahome-go/pkg/script"
	"github.com/cexll/linguahome-go/pkg/telemetry"
)

// Canned responses for non-success terminal outcomes. The raw error detail
// never reaches the user; it goes to the log and the monitor channel.
const (
	replyCannotHelp  = "I wasn't able to work out a safe way to do that. Could you rephrase your request?"
	replyWentWrong   = "Something went wrong while handling your request. Please try again."
	replyTookTooLong = "That took too long to complete, so I stopped it. Please try again."
	replyDeviceDown  = "I couldn't reach the device needed for that request. It may be offline."
	replyGatewayDown = "I'm having trouble reaching my language service right now. Please try again in a moment."
	replyDoneNoText  = "Done."
)

// runTurn walks one utterance through the whole pipeline and appends exactly
// one memory record for its terminal outcome. A cancelled turn returns the
// context error and writes nothing.
func (l *Loop) runTurn(ctx context.Context, req Request, emit func(event.Event)) (_ Reply, err error) {
	turnID := newTurnID()
	start := time.Now()
	logger := l.logger.With(
		zap.String("session_id", req.SessionID),
		zap.String("turn_id", turnID),
	)

	ctx, span := telemetry.StartSpan(ctx, "agent.turn")
	defer func() { telemetry.EndSpan(span, err) }()

	l.emitAll(emit, turnEvent(event.EventProgress, req, turnID,
		event.ProgressData{Stage: event.StageBuildingContext}))

	snap, err := l.snapshot(ctx, req.SessionID)
	if err != nil {
		// Degraded but not fatal: generation proceeds without history.
		logger.Warn("memory snapshot failed", zap.Error(err))
		snap = memory.Snapshot{}
	}
	messages := l.cfg.Prompts.Build(req.Utterance, snap)

	reply := Reply{TurnID: turnID}
	var result sandbox.Result

	maxAttempts := l.cfg.Retries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reply.Attempts = attempt
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}

		l.emitAll(emit, turnEvent(event.EventProgress, req, turnID,
			event.ProgressData{Stage: event.StageGenerating, Attempt: attempt}))
		completion, genErr := l.cfg.Model.Generate(ctx, messages)
		if genErr != nil {
			if ctx.Err() != nil {
				return Reply{}, ctx.Err()
			}
			logger.Error("generation failed", zap.Int("attempt", attempt), zap.Error(genErr))
			reply.Outcome = sandbox.OutcomeGatewayUnavailable
			reply.Response = replyGatewayDown
			result = sandbox.Result{Outcome: reply.Outcome, ErrorDetail: genErr.Error()}
			return l.finish(ctx, req, reply, result, emit, logger, start)
		}

		l.emitAll(emit, turnEvent(event.EventProgress, req, turnID,
			event.ProgressData{Stage: event.StageExtracting, Attempt: attempt}))
		source, extErr := script.Extract(completion.Content)
		if extErr != nil {
			logger.Info("extraction failed", zap.Int("attempt", attempt), zap.Error(extErr))
			reply.Outcome = sandbox.OutcomeExtractionFailed
			result = sandbox.Result{Outcome: reply.Outcome, ErrorDetail: extErr.Error()}
			messages = appendRejection(messages, completion, "your reply contained no Go code block")
			continue
		}

		l.emitAll(emit, turnEvent(event.EventProgress, req, turnID,
			event.ProgressData{Stage: event.StageValidating, Attempt: attempt}))
		if valErr := l.cfg.Validator.Validate(source); valErr != nil {
			logger.Info("validation rejected",
				zap.Int("attempt", attempt),
				zap.String("reason", rejectionReason(valErr)))
			reply.Outcome = sandbox.OutcomeValidationRejected
			reply.Script = source
			result = sandbox.Result{Outcome: reply.Outcome, ErrorDetail: valErr.Error()}
			messages = appendRejection(messages, completion, rejectionReason(valErr))
			continue
		}

		reply.Script = source
		l.emitAll(emit, turnEvent(event.EventScript, req, turnID,
			event.ScriptData{Source: source, Attempt: attempt}))

		l.emitAll(emit, turnEvent(event.EventProgress, req, turnID,
			event.ProgressData{Stage: event.StageExecuting, Attempt: attempt}))
		execStart := time.Now()
		result = l.cfg.Executor.Execute(ctx, sandbox.Request{
			SessionID: req.SessionID,
			Source:    source,
			Validated: true,
		})
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		l.emitAll(emit, turnEvent(event.EventExecution, req, turnID, event.ExecutionData{
			Outcome:  result.Outcome,
			Stdout:   result.Stdout,
			Error:    result.ErrorDetail,
			Duration: time.Since(execStart),
		}))
		for _, cmd := range result.Commands {
			l.emitAll(emit, turnEvent(event.EventAudit, req, turnID, event.AuditData{
				ActuatorID: cmd.ActuatorID,
				Action:     cmd.Action,
				Value:      cmd.Value,
				OK:         cmd.OK,
			}))
		}

		reply.Outcome = result.Outcome
		reply.Stdout = result.Stdout
		break
	}

	reply.Response = responseFor(reply.Outcome, reply.Stdout)
	return l.finish(ctx, req, reply, result, emit, logger, start)
}

// finish emits the terminal events, appends the turn to memory, and logs the
// summary line. This is the only place a turn record is written.
func (l *Loop) finish(ctx context.Context, req Request, reply Reply, result sandbox.Result, emit func(event.Event), logger *zap.Logger, start time.Time) (Reply, error) {
	l.emitAll(emit, turnEvent(event.EventProgress, req, reply.TurnID,
		event.ProgressData{Stage: event.StageResponding}))

	if result.Outcome != sandbox.OutcomeSuccess && result.ErrorDetail != "" {
		l.emitAll(emit, turnEvent(event.EventError, req, reply.TurnID, event.ErrorData{
			Message:     result.ErrorDetail,
			Kind:        string(result.Outcome),
			Recoverable: true,
		}))
	}

	turn := memory.Turn{
		ID:        reply.TurnID,
		SessionID: req.SessionID,
		Utterance: req.Utterance,
		Script:    reply.Script,
		Outcome:   reply.Outcome,
		Response:  reply.Response,
		CreatedAt: time.Now().UTC(),
	}
	// Memory writes survive caller cancellation that lands after the
	// terminal outcome; only an abort before this point skips the record.
	if err := l.cfg.Memory.Append(context.WithoutCancel(ctx), turn); err != nil {
		logger.Error("memory append failed", zap.Error(err))
	}

	l.emitAll(emit, turnEvent(event.EventCompletion, req, reply.TurnID, event.CompletionData{
		Response: reply.Response,
		Outcome:  reply.Outcome,
		Attempts: reply.Attempts,
	}))

	logger.Info("turn finished",
		zap.String("outcome", string(reply.Outcome)),
		zap.String("attempts", attemptsLabel(reply.Attempts)),
		zap.Duration("elapsed", time.Since(start)))
	return reply, nil
}

// snapshot reads the bounded context window plus derived facts.
func (l *Loop) snapshot(ctx context.Context, sessionID string) (memory.Snapshot, error) {
	recent, err := l.cfg.Memory.Recent(ctx, sessionID, l.cfg.Prompts.Window())
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("recent turns: %w", err)
	}
	facts, err := l.cfg.Memory.Facts(ctx, sessionID)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("session facts: %w", err)
	}
	return memory.Snapshot{Recent: recent, Facts: facts}, nil
}

// appendRejection replays the rejected completion and the rejection reason
// so the next generation attempt can correct course.
func appendRejection(messages []model.Message, completion model.Message, reason string) []model.Message {
	messages = append(messages, model.Assistant(completion.Content))
	messages = append(messages, model.User(prompt.RejectionFollowup(reason)))
	return messages
}

func rejectionReason(err error) string {
	var verr *sandbox.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	switch verr.Reason {
	case sandbox.SyntaxInvalid:
		return fmt.Sprintf("the code does not parse (%s)", verr.Detail)
	case sandbox.ImportDenied:
		return fmt.Sprintf("the import %q is not allowed", verr.Symbol)
	case sandbox.CallDenied:
		return fmt.Sprintf("use of %s is not allowed", verr.Symbol)
	default:
		return verr.Error()
	}
}

// responseFor maps a terminal outcome to the user-facing response. Success
// speaks with the snippet's own stdout; everything else gets a canned,
// detail-free message.
func responseFor(outcome sandbox.Outcome, stdout string) string {
	switch outcome {
	case sandbox.OutcomeSuccess:
		if trimmed := strings.TrimSpace(stdout); trimmed != "" {
			return trimmed
		}
		return replyDoneNoText
	case sandbox.OutcomeExtractionFailed, sandbox.OutcomeValidationRejected:
		return replyCannotHelp
	case sandbox.OutcomeTimedOut:
		return replyTookTooLong
	case sandbox.OutcomeDeviceFailed:
		return replyDeviceDown
	case sandbox.OutcomeGatewayUnavailable:
		return replyGatewayDown
	default:
		return replyWentWrong
	}
}
