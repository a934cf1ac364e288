package flow

import (
	"context"
	"strings"

	"github.com/BTreeMap/ImagePipe/internal/messaging"
	"github.com/BTreeMap/ImagePipe/internal/models"
)

const defaultUncropCreativity = 0.35

// startUncrop begins the /uncrop flow. Outpainting is gated to
// administrators.
func (e *Engine) startUncrop(ctx context.Context, ev models.Event) {
	if !e.requireAdmin(ctx, ev, accessDeniedMsg) {
		return
	}
	sess := e.sessions.Begin(ev.From, ev.ChatID, models.FlowUncrop, models.StateUncropImage)
	sess.Uncrop = &models.UncropData{}
	e.reply(ctx, ev.ChatID,
		"Please upload the image you want to expand (outpaint).\n"+
			"Type /cancel to cancel the operation.")
}

func (e *Engine) registerUncropStages() {
	e.register(models.FlowUncrop, models.StateUncropImage, e.handleUncropImage)
	e.register(models.FlowUncrop, models.StateUncropAspect, e.handleUncropAspect)
	e.register(models.FlowUncrop, models.StateUncropPosition, e.handleUncropPosition)
	e.register(models.FlowUncrop, models.StateUncropPrompt, e.handleUncropPrompt)
}

func (e *Engine) handleUncropImage(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventPhoto {
		e.reply(ctx, sess.ChatID, uploadPhotoMsg)
		return nil
	}
	sess.Uncrop.ImagePath = ev.MediaID
	sess.State = models.StateUncropAspect
	e.replyOptions(ctx, sess.ChatID, "Select the aspect ratio for the expanded image:", models.AspectRatioPresets)
	return nil
}

func (e *Engine) handleUncropAspect(ctx context.Context, sess *models.Session, ev models.Event) error {
	choice, ok := messaging.MatchOption(ev.Body, models.AspectRatioPresets)
	if ev.Kind != models.EventText || !ok {
		e.reply(ctx, sess.ChatID, "Invalid aspect ratio format. Please use format like '16:9' or select from the options.")
		e.replyOptions(ctx, sess.ChatID, "Select the aspect ratio for the expanded image:", models.AspectRatioPresets)
		return nil
	}
	sess.Uncrop.AspectRatio = choice
	sess.State = models.StateUncropPosition
	e.replyOptions(ctx, sess.ChatID,
		"Select where to position the original image in the expanded result (or skip to use automatic positioning):",
		models.PositionPresets)
	return nil
}

func (e *Engine) handleUncropPosition(ctx context.Context, sess *models.Session, ev models.Event) error {
	choice, ok := messaging.MatchOption(ev.Body, models.PositionPresets)
	if ev.Kind != models.EventText || !ok {
		e.reply(ctx, sess.ChatID, "Invalid position selected. Please choose from the available options.")
		e.replyOptions(ctx, sess.ChatID,
			"Select where to position the original image in the expanded result (or skip to use automatic positioning):",
			models.PositionPresets)
		return nil
	}
	position := strings.ToLower(choice)
	if position == "auto/original" || position == "skip (use auto)" {
		position = "auto"
	}
	sess.Uncrop.Position = position
	sess.State = models.StateUncropPrompt
	e.reply(ctx, sess.ChatID, "(Optional) Provide a description to guide the expansion, or type /skip:")
	return nil
}

func (e *Engine) handleUncropPrompt(ctx context.Context, sess *models.Session, ev models.Event) error {
	switch {
	case ev.Kind == models.EventText && strings.TrimSpace(ev.Body) != "":
		sess.Uncrop.Prompt = ev.Body
	case ev.Kind == models.EventCommand && ev.Command == "skip":
		// Expansion proceeds unguided.
	default:
		e.reply(ctx, sess.ChatID, "(Optional) Provide a description to guide the expansion, or type /skip:")
		return nil
	}

	data := sess.Uncrop
	e.reply(ctx, sess.ChatID,
		"Expanding image boundaries... This may take a moment.\n"+
			"Note: Large images will be automatically resized to meet API requirements.")

	e.finish(sess, job{
		op:        models.OpOutpaint,
		prompt:    data.Prompt,
		caption:   "Here is your expanded image.",
		errText:   "An error occurred during image expansion. Please try again later. If the problem persists, contact support.",
		watermark: true,
		inputs:    []string{data.ImagePath},
		run: func(ctx context.Context) (string, error) {
			return e.client.Outpaint(ctx, models.UncropParams{
				ImagePath:         data.ImagePath,
				TargetAspectRatio: data.AspectRatio,
				Prompt:            data.Prompt,
				Creativity:        defaultUncropCreativity,
				Seed:              0,
				OutputFormat:      "png",
				Position:          data.Position,
			})
		},
	})
	return nil
}
