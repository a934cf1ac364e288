package flow

import (
	"context"
	"strings"

	"github.com/BTreeMap/ImagePipe/internal/messaging"
	"github.com/BTreeMap/ImagePipe/internal/models"
)

// startImagineV2 begins the /imaginev2 flow. The enhanced model is gated to
// administrators.
func (e *Engine) startImagineV2(ctx context.Context, ev models.Event) {
	if !e.requireAdmin(ctx, ev, accessDeniedMsg) {
		return
	}
	sess := e.sessions.Begin(ev.From, ev.ChatID, models.FlowImagineV2, models.StateImagineV2Prompt)
	sess.ImagineV2 = &models.ImagineV2Data{}
	e.reply(ctx, ev.ChatID,
		"Please provide a detailed description for your image.\n"+
			"Type /cancel to cancel the operation.")
}

func (e *Engine) registerImagineV2Stages() {
	e.register(models.FlowImagineV2, models.StateImagineV2Prompt, e.handleImagineV2Prompt)
	e.register(models.FlowImagineV2, models.StateImagineV2Aspect, e.handleImagineV2Aspect)
	e.register(models.FlowImagineV2, models.StateImagineV2Image, e.handleImagineV2Image)
}

func (e *Engine) handleImagineV2Prompt(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventText || strings.TrimSpace(ev.Body) == "" {
		e.reply(ctx, sess.ChatID, "Please provide a detailed description for your image.")
		return nil
	}
	sess.ImagineV2.Prompt = ev.Body
	sess.State = models.StateImagineV2Aspect
	e.replyOptions(ctx, sess.ChatID, "Please select an aspect ratio from the options below:", models.AspectRatioPresets)
	return nil
}

func (e *Engine) handleImagineV2Aspect(ctx context.Context, sess *models.Session, ev models.Event) error {
	choice, ok := messaging.MatchOption(ev.Body, models.AspectRatioPresets)
	if ev.Kind != models.EventText || !ok {
		e.rejectChoice(ctx, sess.ChatID, "Please select an aspect ratio from the options below:", models.AspectRatioPresets)
		return nil
	}
	sess.ImagineV2.AspectRatio = choice
	sess.State = models.StateImagineV2Image
	e.reply(ctx, sess.ChatID, "(Optional) Upload an image to use as the starting point, or type /skip to continue without one.")
	return nil
}

func (e *Engine) handleImagineV2Image(ctx context.Context, sess *models.Session, ev models.Event) error {
	switch {
	case ev.Kind == models.EventPhoto:
		sess.ImagineV2.ImagePath = ev.MediaID
	case ev.Kind == models.EventCommand && ev.Command == "skip":
		// Proceed with a pure text-to-image generation.
	default:
		e.reply(ctx, sess.ChatID, "Upload an image to use as the starting point, or type /skip to continue without one.")
		return nil
	}

	data := sess.ImagineV2
	e.reply(ctx, sess.ChatID, "Generating your image...")
	e.finish(sess, job{
		op:        models.OpTextToImageUltra,
		prompt:    data.Prompt,
		caption:   "Here is your generated image.",
		errText:   "An error occurred while generating your image. Please try again later. If the problem persists, contact support.",
		watermark: true,
		inputs:    []string{data.ImagePath},
		run: func(ctx context.Context) (string, error) {
			return e.client.GenerateUltra(ctx, models.UltraParams{
				Prompt:       e.translatePrompt(ctx, data.Prompt),
				OutputFormat: "png",
				Image:        data.ImagePath,
				AspectRatio:  data.AspectRatio,
			})
		},
	})
	return nil
}
