package flow

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/ImagePipe/internal/auth"
	"github.com/BTreeMap/ImagePipe/internal/messaging"
	"github.com/BTreeMap/ImagePipe/internal/models"
	"github.com/BTreeMap/ImagePipe/internal/store"
	"github.com/BTreeMap/ImagePipe/internal/util"
)

const (
	// DefaultProgressDelay is how long a background generation runs before
	// the participant receives a progress notice.
	DefaultProgressDelay = 10 * time.Second

	// DefaultJobTimeout bounds a single background generation, including
	// retries and async result polling.
	DefaultJobTimeout = 15 * time.Minute
)

const (
	accessDeniedMsg  = "Access denied. You are not authorized to use this bot."
	progressMsg      = "Processing is still in progress. Please wait."
	cancelledMsg     = "Operation cancelled."
	restartMsg       = "An error occurred. Please restart the command."
	unknownCmdMsg    = "Unknown command. Use /help to see the available commands."
	uploadPhotoMsg   = "Please upload an image to continue, or type /cancel to cancel the operation."
	invalidChoiceMsg = "Invalid selection. Please reply with one of the listed options."

	downloadTimeoutMsg = "Image download timed out. Please try again."
	downloadFailedMsg  = "Failed to download image. Please try again."
)

// GenerationClient abstracts the image generation backend.
type GenerationClient interface {
	Generate(ctx context.Context, p models.GenerationParams) (string, error)
	GenerateUltra(ctx context.Context, p models.UltraParams) (string, error)
	Upscale(ctx context.Context, p models.UpscaleParams) (string, error)
	Reimagine(ctx context.Context, p models.ReimagineParams) (string, error)
	Outpaint(ctx context.Context, p models.UncropParams) (string, error)
	Erase(ctx context.Context, p models.EraseParams) (string, error)
	SearchReplace(ctx context.Context, p models.SearchReplaceParams) (string, error)
	Inpaint(ctx context.Context, p models.InpaintParams) (string, error)
}

// Translator normalizes user prompts to English before generation. A nil
// Translator passes prompts through unchanged.
type Translator interface {
	ToEnglish(ctx context.Context, text string) string
}

// Watermarker stamps delivered photos with the configured logo.
type Watermarker interface {
	Apply(srcPath, dstPath string) error
	SetEnabled(enabled bool)
	Enabled() bool
}

// handlerKey addresses one stage handler in the dispatch table.
type handlerKey struct {
	Flow  models.FlowID
	State models.StateID
}

// stageHandler processes one inbound event for a session sitting in the
// keyed state.
type stageHandler func(ctx context.Context, sess *models.Session, ev models.Event) error

// Engine drives the per-participant conversation state machines. Inbound
// events arrive on the messaging service channel; terminal stages hand off
// to background jobs so the event loop never blocks on the generation
// backend.
type Engine struct {
	msg       messaging.Service
	gate      *auth.Gate
	client    GenerationClient
	translate Translator
	watermark Watermarker
	sessions  *SessionStore
	history   store.Store
	timers    *SimpleTimer

	progressDelay time.Duration
	jobTimeout    time.Duration

	stages map[handlerKey]stageHandler
}

// NewEngine wires the conversation engine together. history and translate
// may be nil; the engine then skips record keeping and translation.
func NewEngine(msg messaging.Service, gate *auth.Gate, client GenerationClient, translate Translator, watermark Watermarker, sessions *SessionStore, history store.Store) *Engine {
	e := &Engine{
		msg:           msg,
		gate:          gate,
		client:        client,
		translate:     translate,
		watermark:     watermark,
		sessions:      sessions,
		history:       history,
		timers:        NewSimpleTimer(),
		progressDelay: DefaultProgressDelay,
		jobTimeout:    DefaultJobTimeout,
	}
	e.stages = map[handlerKey]stageHandler{}
	e.registerImagineStages()
	e.registerImagineV2Stages()
	e.registerUpscaleStages()
	e.registerReimagineStages()
	e.registerUncropStages()
	e.registerEraseStages()
	e.registerSearchReplaceStages()
	e.registerInpaintStages()
	e.registerWatermarkStages()
	return e
}

// register binds a handler into the dispatch table.
func (e *Engine) register(flow models.FlowID, state models.StateID, h stageHandler) {
	e.stages[handlerKey{Flow: flow, State: state}] = h
}

// Run consumes inbound events until the context is cancelled or the event
// channel closes.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("Engine.Run: conversation engine started")
	defer e.timers.Stop()
	events := e.msg.Events()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Engine.Run: context cancelled, stopping")
			return
		case ev, ok := <-events:
			if !ok {
				slog.Info("Engine.Run: event channel closed, stopping")
				return
			}
			e.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent routes one inbound event: commands go to the command table,
// everything else to the stage handler for the participant's current state.
func (e *Engine) HandleEvent(ctx context.Context, ev models.Event) {
	switch ev.Kind {
	case models.EventCommand:
		e.handleCommand(ctx, ev)
	case models.EventText, models.EventPhoto:
		sess := e.sessions.Get(ev.From)
		if sess == nil {
			// Unsolicited input outside a flow is ignored.
			slog.Debug("Engine.HandleEvent: no active session, dropping event", "from", ev.From, "kind", ev.Kind)
			return
		}
		e.runStage(ctx, sess, ev)
	case models.EventMediaError:
		e.handleMediaError(ctx, ev)
	default:
		slog.Warn("Engine.HandleEvent: unknown event kind", "kind", ev.Kind)
	}
}

// runStage dispatches the event to the handler for the session's state,
// with panic recovery so one bad stage cannot take down the event loop.
func (e *Engine) runStage(ctx context.Context, sess *models.Session, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine.runStage: recovered from panic", "flow", sess.Flow, "state", sess.State, "panic", r)
			e.sessions.Clear(sess.Participant)
			e.reply(ctx, sess.ChatID, restartMsg)
		}
	}()

	e.sessions.Touch(sess.Participant)
	h, ok := e.stages[handlerKey{Flow: sess.Flow, State: sess.State}]
	if !ok {
		slog.Error("Engine.runStage: no handler registered", "flow", sess.Flow, "state", sess.State)
		e.sessions.Clear(sess.Participant)
		e.reply(ctx, sess.ChatID, restartMsg)
		return
	}
	if err := h(ctx, sess, ev); err != nil {
		slog.Error("Engine.runStage: stage handler failed", "flow", sess.Flow, "state", sess.State, "error", err)
		e.sessions.Clear(sess.Participant)
		e.reply(ctx, sess.ChatID, restartMsg)
	}
}

// reply sends a plain text message, logging delivery failures instead of
// propagating them.
func (e *Engine) reply(ctx context.Context, chatID, body string) {
	if err := e.msg.SendMessage(ctx, chatID, body); err != nil {
		slog.Error("Engine.reply: failed to send message", "chat", chatID, "error", err)
	}
}

// replyOptions sends a numbered option menu, returning the prompt message id
// so callers can edit the prompt in place after a selection.
func (e *Engine) replyOptions(ctx context.Context, chatID, prompt string, rows [][]string) string {
	id, err := e.msg.SendOptions(ctx, chatID, prompt, rows)
	if err != nil {
		slog.Error("Engine.replyOptions: failed to send options", "chat", chatID, "error", err)
		return ""
	}
	return id
}

// handleMediaError ends the participant's flow when an uploaded image could
// not be fetched, distinguishing a download timeout from a generic failure.
func (e *Engine) handleMediaError(ctx context.Context, ev models.Event) {
	sess := e.sessions.Get(ev.From)
	if sess == nil {
		return
	}
	slog.Warn("Engine.handleMediaError: ending flow", "from", ev.From, "flow", sess.Flow, "reason", ev.Body)
	e.sessions.Clear(sess.Participant)
	if ev.Body == models.MediaErrTimeout {
		e.reply(ctx, sess.ChatID, downloadTimeoutMsg)
		return
	}
	e.reply(ctx, sess.ChatID, downloadFailedMsg)
}

// rejectChoice tells the participant their selection was invalid and shows
// the menu again. The session stays in the current state.
func (e *Engine) rejectChoice(ctx context.Context, chatID, prompt string, rows [][]string) {
	e.reply(ctx, chatID, invalidChoiceMsg)
	e.replyOptions(ctx, chatID, prompt, rows)
}

// translatePrompt runs the prompt through the translator when one is
// configured.
func (e *Engine) translatePrompt(ctx context.Context, prompt string) string {
	if e.translate == nil || prompt == "" {
		return prompt
	}
	return e.translate.ToEnglish(ctx, prompt)
}

// job describes one background generation handed off by a terminal stage.
type job struct {
	op          models.OperationKind
	participant string
	chatID      string
	prompt      string
	caption     string
	errText     string
	asDocument  bool
	watermark   bool
	inputs      []string
	run         func(ctx context.Context) (string, error)
}

// finish clears the session and launches the generation in a detached
// goroutine so the event loop keeps serving other participants.
func (e *Engine) finish(sess *models.Session, j job) {
	j.participant = sess.Participant
	j.chatID = sess.ChatID
	e.sessions.Clear(sess.Participant)
	go e.process(j)
}

// process runs one generation job: typing indicator on, delayed progress
// notice, backend call, optional watermark, delivery, history record and
// temp file cleanup.
func (e *Engine) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), e.jobTimeout)
	defer cancel()

	if err := e.msg.SendTyping(ctx, j.chatID, true); err != nil {
		slog.Debug("Engine.process: typing indicator failed", "chat", j.chatID, "error", err)
	}
	defer func() {
		if err := e.msg.SendTyping(context.Background(), j.chatID, false); err != nil {
			slog.Debug("Engine.process: typing indicator reset failed", "chat", j.chatID, "error", err)
		}
	}()

	timerID, _ := e.timers.ScheduleAfter(e.progressDelay, func() {
		e.reply(context.Background(), j.chatID, progressMsg)
	})
	outputPath, err := j.run(ctx)
	_ = e.timers.Cancel(timerID)

	defer e.removeFiles(j.inputs)

	if err != nil {
		slog.Error("Engine.process: generation failed", "operation", j.op, "participant", j.participant, "error", err)
		e.reply(ctx, j.chatID, j.errText)
		e.record(j, models.RecordStatusFailed, "", err.Error())
		return
	}

	deliverPath := outputPath
	if j.watermark && e.watermark != nil && e.watermark.Enabled() {
		stamped := watermarkedPath(outputPath)
		if wmErr := e.watermark.Apply(outputPath, stamped); wmErr != nil {
			slog.Error("Engine.process: watermark failed, delivering original", "path", outputPath, "error", wmErr)
		} else {
			deliverPath = stamped
		}
	}

	var sendErr error
	if j.asDocument {
		sendErr = e.msg.SendDocument(ctx, j.chatID, deliverPath, j.caption)
	} else {
		sendErr = e.msg.SendPhoto(ctx, j.chatID, deliverPath, j.caption)
	}
	if sendErr != nil {
		slog.Error("Engine.process: delivery failed", "operation", j.op, "path", deliverPath, "error", sendErr)
		e.reply(ctx, j.chatID, j.errText)
		e.record(j, models.RecordStatusFailed, outputPath, sendErr.Error())
	} else {
		slog.Info("Engine.process: generation delivered", "operation", j.op, "participant", j.participant, "path", deliverPath)
		e.record(j, models.RecordStatusSucceeded, outputPath, "")
	}

	outputs := []string{outputPath}
	if deliverPath != outputPath {
		outputs = append(outputs, deliverPath)
	}
	e.removeFiles(outputs)
}

// record appends one history entry, when a history store is configured.
func (e *Engine) record(j job, status models.RecordStatus, outputPath, detail string) {
	if e.history == nil {
		return
	}
	rec := models.GenerationRecord{
		ID:         util.GenerateRequestID(),
		SessionID:  j.participant,
		Operation:  j.op,
		Prompt:     j.prompt,
		Status:     status,
		OutputPath: outputPath,
		Detail:     detail,
		CreatedAt:  time.Now(),
	}
	if err := e.history.AddRecord(rec); err != nil {
		slog.Error("Engine.record: failed to persist generation record", "operation", j.op, "error", err)
	}
}

// removeFiles deletes temporary files, ignoring missing ones.
func (e *Engine) removeFiles(paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Debug("Engine.removeFiles: cleanup failed", "path", p, "error", err)
		}
	}
}

// watermarkedPath derives the stamped output path next to the original.
func watermarkedPath(path string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, "wm_"+base)
}
