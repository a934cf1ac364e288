package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/ImagePipe/internal/messaging"
	"github.com/BTreeMap/ImagePipe/internal/models"
)

const defaultUpscaleCreativity = 0.35

var upscaleMethods = [][]string{{"Conservative", "Creative", "Fast"}}

// startUpscale begins the /upscale flow.
func (e *Engine) startUpscale(ctx context.Context, ev models.Event) {
	sess := e.sessions.Begin(ev.From, ev.ChatID, models.FlowUpscale, models.StateUpscaleMethod)
	sess.Upscale = &models.UpscaleData{}
	e.replyOptions(ctx, ev.ChatID, "Select the enhancement method (Conservative, Creative, Fast):", upscaleMethods)
}

func (e *Engine) registerUpscaleStages() {
	e.register(models.FlowUpscale, models.StateUpscaleMethod, e.handleUpscaleMethod)
	e.register(models.FlowUpscale, models.StateUpscalePrompt, e.handleUpscalePrompt)
	e.register(models.FlowUpscale, models.StateUpscaleStyle, e.handleUpscaleStyle)
	e.register(models.FlowUpscale, models.StateUpscaleImage, e.handleUpscaleImage)
	e.register(models.FlowUpscale, models.StateUpscaleFormat, e.handleUpscaleFormat)
}

func (e *Engine) handleUpscaleMethod(ctx context.Context, sess *models.Session, ev models.Event) error {
	choice, ok := messaging.MatchOption(ev.Body, upscaleMethods)
	if ev.Kind != models.EventText || !ok {
		e.reply(ctx, sess.ChatID, "Invalid method selected. Please choose 'Conservative', 'Creative', or 'Fast'.")
		e.replyOptions(ctx, sess.ChatID, "Select the enhancement method (Conservative, Creative, Fast):", upscaleMethods)
		return nil
	}
	sess.Upscale.Method = strings.ToLower(choice)
	if sess.Upscale.Method == "fast" {
		sess.State = models.StateUpscaleImage
		e.reply(ctx, sess.ChatID, "Please upload the image you want to enhance.")
		return nil
	}
	sess.State = models.StateUpscalePrompt
	e.reply(ctx, sess.ChatID, "Please provide a description for the enhancement.")
	return nil
}

func (e *Engine) handleUpscalePrompt(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventText || strings.TrimSpace(ev.Body) == "" {
		e.reply(ctx, sess.ChatID, "Please provide a description for the enhancement.")
		return nil
	}
	sess.Upscale.Prompt = ev.Body
	if sess.Upscale.Method == "creative" {
		sess.State = models.StateUpscaleStyle
		e.replyOptions(ctx, sess.ChatID, "Select a style for creative enhancement:", models.StylePresets)
		return nil
	}
	sess.State = models.StateUpscaleImage
	e.reply(ctx, sess.ChatID, "Please upload the image you want to enhance.")
	return nil
}

func (e *Engine) handleUpscaleStyle(ctx context.Context, sess *models.Session, ev models.Event) error {
	choice, ok := messaging.MatchOption(ev.Body, models.StylePresets)
	if ev.Kind != models.EventText || !ok {
		e.rejectChoice(ctx, sess.ChatID, "Select a style for creative enhancement:", models.StylePresets)
		return nil
	}
	sess.Upscale.Style = choice
	sess.State = models.StateUpscaleImage
	e.reply(ctx, sess.ChatID, "Please upload the image you want to enhance.")
	return nil
}

func (e *Engine) handleUpscaleImage(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventPhoto {
		e.reply(ctx, sess.ChatID, uploadPhotoMsg)
		return nil
	}
	sess.Upscale.ImagePath = ev.MediaID
	sess.State = models.StateUpscaleFormat
	e.replyOptions(ctx, sess.ChatID, "📁 Select output format:", models.OutputFormats)
	return nil
}

func (e *Engine) handleUpscaleFormat(ctx context.Context, sess *models.Session, ev models.Event) error {
	choice, ok := messaging.MatchOption(ev.Body, models.OutputFormats)
	if ev.Kind != models.EventText || !ok {
		e.rejectChoice(ctx, sess.ChatID, "📁 Select output format:", models.OutputFormats)
		return nil
	}
	data := sess.Upscale
	data.Format = choice

	if data.Method == "creative" {
		e.reply(ctx, sess.ChatID, "Enhancing your image using the creative method... This may take a few moments. Please wait.")
	} else {
		e.reply(ctx, sess.ChatID, "Enhancing your image...")
	}

	op := models.OpUpscaleFast
	switch data.Method {
	case "conservative":
		op = models.OpUpscaleConserv
	case "creative":
		op = models.OpUpscaleCreative
	}
	style := "None"
	if data.Method == "creative" && data.Style != "" {
		style = data.Style
	}

	// Upscaled results are delivered as documents so chat-side recompression
	// does not undo the enhancement.
	e.finish(sess, job{
		op:         op,
		prompt:     data.Prompt,
		caption:    fmt.Sprintf("Here is your enhanced image (using %s method).", data.Method),
		errText:    "An error occurred while enhancing your image. Please try again later. If the problem persists, contact support.",
		asDocument: true,
		watermark:  true,
		inputs:     []string{data.ImagePath},
		run: func(ctx context.Context) (string, error) {
			return e.client.Upscale(ctx, models.UpscaleParams{
				ImagePath:      data.ImagePath,
				OutputFormat:   data.Format,
				Method:         data.Method,
				Prompt:         data.Prompt,
				NegativePrompt: models.DefaultNegativePrompt,
				Creativity:     defaultUpscaleCreativity,
				StylePreset:    style,
			})
		},
	})
	return nil
}
