package flow

import (
	"context"
	"strings"

	"github.com/BTreeMap/ImagePipe/internal/models"
)

// startInpaint begins the /inpaint flow.
func (e *Engine) startInpaint(ctx context.Context, ev models.Event) {
	sess := e.sessions.Begin(ev.From, ev.ChatID, models.FlowInpaint, models.StateInpaintImage)
	sess.Inpaint = &models.InpaintData{}
	e.reply(ctx, ev.ChatID,
		"*Inpaint Image*\n\n"+
			"Send me an image and a mask, then describe what you want to generate in the masked areas.\n\n"+
			"The mask should be a black and white image where:\n"+
			"• White areas = areas to fill in (inpaint)\n"+
			"• Black areas = areas to keep unchanged\n\n"+
			"Send the image or type /cancel to abort.")
}

func (e *Engine) registerInpaintStages() {
	e.register(models.FlowInpaint, models.StateInpaintImage, e.handleInpaintImage)
	e.register(models.FlowInpaint, models.StateInpaintMask, e.handleInpaintMask)
	e.register(models.FlowInpaint, models.StateInpaintPrompt, e.handleInpaintPrompt)
}

func (e *Engine) handleInpaintImage(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventPhoto {
		e.reply(ctx, sess.ChatID, uploadPhotoMsg)
		return nil
	}
	sess.Inpaint.ImagePath = ev.MediaID
	sess.State = models.StateInpaintMask
	e.reply(ctx, sess.ChatID,
		"Now send a mask image that shows which parts of the image to inpaint (fill in).\n\n"+
			"The mask should be the same size as your image and use:\n"+
			"• White pixels = areas to generate new content\n"+
			"• Black pixels = areas to keep unchanged\n\n"+
			"Send the mask image or type /cancel to abort.")
	return nil
}

func (e *Engine) handleInpaintMask(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventPhoto {
		e.reply(ctx, sess.ChatID, uploadPhotoMsg)
		return nil
	}
	sess.Inpaint.MaskPath = ev.MediaID
	sess.State = models.StateInpaintPrompt
	e.reply(ctx, sess.ChatID,
		"Describe what you want to generate in the masked areas.\n\n"+
			"Example: 'a beautiful forest', 'a modern city skyline', 'a cozy living room'\n\n"+
			"Type your description or /cancel to abort.")
	return nil
}

func (e *Engine) handleInpaintPrompt(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventText || strings.TrimSpace(ev.Body) == "" {
		e.reply(ctx, sess.ChatID, "Type your description or /cancel to abort.")
		return nil
	}
	data := sess.Inpaint
	data.Prompt = ev.Body
	e.reply(ctx, sess.ChatID, "Processing your inpaint request...")

	e.finish(sess, job{
		op:        models.OpInpaint,
		prompt:    data.Prompt,
		caption:   "Here is your inpainted image.",
		errText:   "An error occurred during inpainting. Please try again later. If the problem persists, contact support.",
		watermark: true,
		inputs:    []string{data.ImagePath, data.MaskPath},
		run: func(ctx context.Context) (string, error) {
			return e.client.Inpaint(ctx, models.InpaintParams{
				ImagePath:    data.ImagePath,
				MaskPath:     data.MaskPath,
				Prompt:       e.translatePrompt(ctx, data.Prompt),
				OutputFormat: "png",
			})
		},
	})
	return nil
}
