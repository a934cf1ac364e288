package flow

import (
	"context"

	"github.com/BTreeMap/ImagePipe/internal/models"
)

// startErase begins the /erase flow.
func (e *Engine) startErase(ctx context.Context, ev models.Event) {
	sess := e.sessions.Begin(ev.From, ev.ChatID, models.FlowErase, models.StateEraseImage)
	sess.Erase = &models.EraseData{}
	e.reply(ctx, ev.ChatID,
		"*Erase Objects*\n\n"+
			"Send me an image that contains objects you want to erase. "+
			"Then send a mask image showing which areas to remove.\n\n"+
			"The mask should be a black and white image where:\n"+
			"• White areas = objects to erase\n"+
			"• Black areas = areas to keep\n\n"+
			"Send the image or type /cancel to abort.")
}

func (e *Engine) registerEraseStages() {
	e.register(models.FlowErase, models.StateEraseImage, e.handleEraseImage)
	e.register(models.FlowErase, models.StateEraseMask, e.handleEraseMask)
}

func (e *Engine) handleEraseImage(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventPhoto {
		e.reply(ctx, sess.ChatID, uploadPhotoMsg)
		return nil
	}
	sess.Erase.ImagePath = ev.MediaID
	sess.State = models.StateEraseMask
	e.reply(ctx, sess.ChatID,
		"Now send a mask image that shows which parts of the image to erase.\n\n"+
			"The mask should be the same size as your image and use:\n"+
			"• White pixels = areas to erase\n"+
			"• Black pixels = areas to keep\n\n"+
			"Send the mask image or type /cancel to abort.")
	return nil
}

func (e *Engine) handleEraseMask(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventPhoto {
		e.reply(ctx, sess.ChatID, uploadPhotoMsg)
		return nil
	}
	data := sess.Erase
	data.MaskPath = ev.MediaID
	e.reply(ctx, sess.ChatID, "Processing your erase request...")

	e.finish(sess, job{
		op:        models.OpErase,
		caption:   "Here is your edited image with objects erased.",
		errText:   "An error occurred during object erase. Please try again later. If the problem persists, contact support.",
		watermark: true,
		inputs:    []string{data.ImagePath, data.MaskPath},
		run: func(ctx context.Context) (string, error) {
			return e.client.Erase(ctx, models.EraseParams{
				ImagePath:    data.ImagePath,
				MaskPath:     data.MaskPath,
				OutputFormat: "png",
			})
		},
	})
	return nil
}
