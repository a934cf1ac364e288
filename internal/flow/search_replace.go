package flow

import (
	"context"
	"strings"

	"github.com/BTreeMap/ImagePipe/internal/models"
)

// startSearchReplace begins the /search_replace flow.
func (e *Engine) startSearchReplace(ctx context.Context, ev models.Event) {
	sess := e.sessions.Begin(ev.From, ev.ChatID, models.FlowSearchReplace, models.StateSearchReplaceImage)
	sess.SearchReplace = &models.SearchReplaceData{}
	e.reply(ctx, ev.ChatID,
		"*Search and Replace*\n\n"+
			"Send me an image, then describe what you want to search for and what to replace it with.\n\n"+
			"Example:\n"+
			"• Search: 'red car'\n"+
			"• Replace: 'blue motorcycle'\n\n"+
			"Send the image or type /cancel to abort.")
}

func (e *Engine) registerSearchReplaceStages() {
	e.register(models.FlowSearchReplace, models.StateSearchReplaceImage, e.handleSearchReplaceImage)
	e.register(models.FlowSearchReplace, models.StateSearchReplaceSearch, e.handleSearchPrompt)
	e.register(models.FlowSearchReplace, models.StateSearchReplaceReplace, e.handleReplacePrompt)
}

func (e *Engine) handleSearchReplaceImage(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventPhoto {
		e.reply(ctx, sess.ChatID, uploadPhotoMsg)
		return nil
	}
	sess.SearchReplace.ImagePath = ev.MediaID
	sess.State = models.StateSearchReplaceSearch
	e.reply(ctx, sess.ChatID,
		"What object or element do you want to search for in the image?\n\n"+
			"Example: 'red car', 'person wearing hat', 'blue sky'\n\n"+
			"Type your search description or /cancel to abort.")
	return nil
}

func (e *Engine) handleSearchPrompt(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventText || strings.TrimSpace(ev.Body) == "" {
		e.reply(ctx, sess.ChatID, "Type your search description or /cancel to abort.")
		return nil
	}
	sess.SearchReplace.SearchPrompt = ev.Body
	sess.State = models.StateSearchReplaceReplace
	e.reply(ctx, sess.ChatID,
		"What do you want to replace it with?\n\n"+
			"Example: 'blue motorcycle', 'person with sunglasses', 'sunny day'\n\n"+
			"Type your replacement description or /cancel to abort.")
	return nil
}

func (e *Engine) handleReplacePrompt(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventText || strings.TrimSpace(ev.Body) == "" {
		e.reply(ctx, sess.ChatID, "Type your replacement description or /cancel to abort.")
		return nil
	}
	data := sess.SearchReplace
	data.ReplacePrompt = ev.Body
	e.reply(ctx, sess.ChatID, "Processing your search and replace request...")

	e.finish(sess, job{
		op:        models.OpSearchReplace,
		prompt:    data.SearchPrompt + " -> " + data.ReplacePrompt,
		caption:   "Here is your edited image with search and replace applied.",
		errText:   "An error occurred during search and replace. Please try again later. If the problem persists, contact support.",
		watermark: true,
		inputs:    []string{data.ImagePath},
		run: func(ctx context.Context) (string, error) {
			return e.client.SearchReplace(ctx, models.SearchReplaceParams{
				ImagePath:     data.ImagePath,
				SearchPrompt:  e.translatePrompt(ctx, data.SearchPrompt),
				ReplacePrompt: e.translatePrompt(ctx, data.ReplacePrompt),
				OutputFormat:  "png",
			})
		},
	})
	return nil
}
