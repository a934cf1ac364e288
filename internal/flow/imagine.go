package flow

import (
	"context"
	"strings"

	"github.com/BTreeMap/ImagePipe/internal/messaging"
	"github.com/BTreeMap/ImagePipe/internal/models"
)

var generationMethods = [][]string{{"Regular", "Control-Based"}}

// startImagine begins the /imagine flow.
func (e *Engine) startImagine(ctx context.Context, ev models.Event) {
	sess := e.sessions.Begin(ev.From, ev.ChatID, models.FlowImagine, models.StateImaginePrompt)
	sess.Imagine = &models.ImagineData{}
	e.reply(ctx, ev.ChatID,
		"Please provide a detailed description for your image.\n"+
			"Type /cancel to cancel the operation.")
}

func (e *Engine) registerImagineStages() {
	e.register(models.FlowImagine, models.StateImaginePrompt, e.handleImaginePrompt)
	e.register(models.FlowImagine, models.StateImagineMethod, e.handleImagineMethod)
	e.register(models.FlowImagine, models.StateImagineImage, e.handleImagineImage)
	e.register(models.FlowImagine, models.StateImagineSize, e.handleImagineSize)
	e.register(models.FlowImagine, models.StateImagineStyle, e.handleImagineStyle)
}

func (e *Engine) handleImaginePrompt(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventText || strings.TrimSpace(ev.Body) == "" {
		e.reply(ctx, sess.ChatID, "Please provide a detailed description for your image.")
		return nil
	}
	sess.Imagine.Prompt = ev.Body
	sess.State = models.StateImagineMethod
	e.replyOptions(ctx, sess.ChatID, "Select the generation method:", generationMethods)
	return nil
}

func (e *Engine) handleImagineMethod(ctx context.Context, sess *models.Session, ev models.Event) error {
	choice, ok := messaging.MatchOption(ev.Body, generationMethods)
	if ev.Kind != models.EventText || !ok {
		e.rejectChoice(ctx, sess.ChatID, "Select the generation method:", generationMethods)
		return nil
	}
	if choice == "Control-Based" {
		sess.Imagine.ControlBased = true
		sess.State = models.StateImagineImage
		e.reply(ctx, sess.ChatID, "Please upload the reference image.")
		return nil
	}
	sess.State = models.StateImagineSize
	e.replyOptions(ctx, sess.ChatID, "Select image dimensions:", models.SizePresets)
	return nil
}

func (e *Engine) handleImagineImage(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventPhoto {
		e.reply(ctx, sess.ChatID, uploadPhotoMsg)
		return nil
	}
	sess.Imagine.ImagePath = ev.MediaID
	sess.State = models.StateImagineSize
	e.replyOptions(ctx, sess.ChatID, "Select image dimensions:", models.SizePresets)
	return nil
}

func (e *Engine) handleImagineSize(ctx context.Context, sess *models.Session, ev models.Event) error {
	choice, ok := messaging.MatchOption(ev.Body, models.SizePresets)
	if ev.Kind != models.EventText || !ok {
		e.rejectChoice(ctx, sess.ChatID, "Select image dimensions:", models.SizePresets)
		return nil
	}
	sess.Imagine.Size = choice
	sess.State = models.StateImagineStyle
	e.replyOptions(ctx, sess.ChatID, "Select artistic style:", models.StylePresets)
	return nil
}

func (e *Engine) handleImagineStyle(ctx context.Context, sess *models.Session, ev models.Event) error {
	choice, ok := messaging.MatchOption(ev.Body, models.StylePresets)
	if ev.Kind != models.EventText || !ok {
		e.rejectChoice(ctx, sess.ChatID, "Select artistic style:", models.StylePresets)
		return nil
	}
	data := sess.Imagine
	data.Style = choice
	e.reply(ctx, sess.ChatID, "Generating your image...")

	op := models.OpTextToImage
	if data.ControlBased {
		op = models.OpControlGenerate
	}
	e.finish(sess, job{
		op:        op,
		prompt:    data.Prompt,
		caption:   "Here is your generated image.",
		errText:   "An error occurred while processing your image. Please try again later. If the problem persists, contact support.",
		watermark: true,
		inputs:    []string{data.ImagePath},
		run: func(ctx context.Context) (string, error) {
			return e.client.Generate(ctx, models.GenerationParams{
				Prompt:       e.translatePrompt(ctx, data.Prompt),
				Style:        data.Style,
				Size:         data.Size,
				ControlImage: data.ImagePath,
			})
		},
	})
	return nil
}
