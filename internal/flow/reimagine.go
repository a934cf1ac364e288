package flow

import (
	"context"
	"strings"

	"github.com/BTreeMap/ImagePipe/internal/messaging"
	"github.com/BTreeMap/ImagePipe/internal/models"
)

const defaultControlStrength = 0.83

var reimagineMethods = [][]string{{"Image", "Sketch"}}

// startReimagine begins the /reimagine flow.
func (e *Engine) startReimagine(ctx context.Context, ev models.Event) {
	sess := e.sessions.Begin(ev.From, ev.ChatID, models.FlowReimagine, models.StateReimagineMethod)
	sess.Reimagine = &models.ReimagineData{}
	e.replyOptions(ctx, ev.ChatID, "Select the transformation method (Image or Sketch):", reimagineMethods)
}

func (e *Engine) registerReimagineStages() {
	e.register(models.FlowReimagine, models.StateReimagineMethod, e.handleReimagineMethod)
	e.register(models.FlowReimagine, models.StateReimagineImage, e.handleReimagineImage)
	e.register(models.FlowReimagine, models.StateReimagineStyle, e.handleReimagineStyle)
	e.register(models.FlowReimagine, models.StateReimaginePrompt, e.handleReimaginePrompt)
}

func (e *Engine) handleReimagineMethod(ctx context.Context, sess *models.Session, ev models.Event) error {
	choice, ok := messaging.MatchOption(ev.Body, reimagineMethods)
	if ev.Kind != models.EventText || !ok {
		e.reply(ctx, sess.ChatID, "Invalid method selected. Please choose 'Image' or 'Sketch'.")
		e.replyOptions(ctx, sess.ChatID, "Select the transformation method (Image or Sketch):", reimagineMethods)
		return nil
	}
	sess.Reimagine.Method = strings.ToLower(choice)
	sess.State = models.StateReimagineImage
	e.reply(ctx, sess.ChatID, "Please upload the image or sketch.")
	return nil
}

func (e *Engine) handleReimagineImage(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventPhoto {
		e.reply(ctx, sess.ChatID, uploadPhotoMsg)
		return nil
	}
	sess.Reimagine.ImagePath = ev.MediaID
	sess.State = models.StateReimagineStyle
	e.replyOptions(ctx, sess.ChatID, "Select a style for transformation:", models.StylePresets)
	return nil
}

func (e *Engine) handleReimagineStyle(ctx context.Context, sess *models.Session, ev models.Event) error {
	choice, ok := messaging.MatchOption(ev.Body, models.StylePresets)
	if ev.Kind != models.EventText || !ok {
		e.rejectChoice(ctx, sess.ChatID, "Select a style for transformation:", models.StylePresets)
		return nil
	}
	sess.Reimagine.Style = choice
	sess.State = models.StateReimaginePrompt
	e.reply(ctx, sess.ChatID, "Please provide a description for the transformation.")
	return nil
}

func (e *Engine) handleReimaginePrompt(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventText || strings.TrimSpace(ev.Body) == "" {
		e.reply(ctx, sess.ChatID, "Please provide a description for the transformation.")
		return nil
	}
	data := sess.Reimagine
	data.Prompt = ev.Body
	e.reply(ctx, sess.ChatID, "Transforming your image...")

	e.finish(sess, job{
		op:        models.OpReimagine,
		prompt:    data.Prompt,
		caption:   "Here is your transformed image.",
		errText:   "An error occurred while transforming your image. Please try again.",
		watermark: true,
		inputs:    []string{data.ImagePath},
		run: func(ctx context.Context) (string, error) {
			return e.client.Reimagine(ctx, models.ReimagineParams{
				Prompt:          data.Prompt,
				ControlImage:    data.ImagePath,
				ControlStrength: defaultControlStrength,
				NegativePrompt:  models.DefaultNegativePrompt,
				Seed:            0,
				OutputFormat:    "jpeg",
				Style:           data.Style,
				Method:          data.Method,
			})
		},
	})
	return nil
}
