package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ImagePipe/internal/messaging"
	"github.com/BTreeMap/ImagePipe/internal/models"
)

const welcomeMsg = "Welcome!\n\n" +
	"I am an AI-powered image generation assistant. Here are the available features:\n\n" +
	"*Generate Images*: Use /imagine to create AI-generated artwork from text descriptions.\n" +
	"*Imagine V2*: Use /imaginev2 to generate images with the enhanced generation model.\n" +
	"*Reimagine Images*: Use /reimagine to transform existing images with new concepts.\n" +
	"*Upscale Images*: Use /upscale to enhance image resolution and quality.\n" +
	"*Uncrop/Outpaint*: Use /uncrop to expand images beyond their original boundaries.\n\n" +
	"*Getting Started:*\n" +
	"1. Choose a command (/imagine, /imaginev2, /reimagine, /upscale, or /uncrop).\n" +
	"2. Follow the prompts to provide the required information.\n" +
	"3. Wait for the system to process and deliver your result.\n\n" +
	"Use /help for detailed information about each feature."

const helpMsg = "*AI Image Generation Bot - Command Reference*\n\n" +
	"*Image Generation:*\n" +
	"*/imagine* - Generate new images from text descriptions.\n" +
	"*/imaginev2* - Generate images using the enhanced model.\n" +
	"*/reimagine* - Transform existing images with new concepts.\n\n" +
	"*Image Editing:*\n" +
	"*/erase* - Remove objects from images using masks.\n" +
	"*/search_replace* - Find and replace objects in images.\n" +
	"*/inpaint* - Fill in masked areas with generated content.\n\n" +
	"*Image Enhancement:*\n" +
	"*/upscale* - Enhance image resolution and quality.\n" +
	"*/uncrop* - Expand images beyond their original boundaries.\n\n" +
	"*Administration:*\n" +
	"*/set_watermark* - Toggle watermark application (administrators only).\n" +
	"*/cancel* - Cancel the current operation.\n\n" +
	"*Optimization Tips:*\n" +
	"• Provide detailed prompts for more accurate results.\n" +
	"• Select appropriate aspect ratios for your use case.\n" +
	"• Experiment with different styles to achieve desired results.\n" +
	"• Use clear, specific descriptions for best editing results.\n" +
	"• Create accurate masks for erase and inpaint operations.\n\n" +
	"Start any command and follow the interactive prompts for guidance."

const watermarkDeniedMsg = "Access denied. You are not authorized to modify this setting."

// watermarkChoices is the menu offered by /set_watermark.
var watermarkChoices = [][]string{{"Enable", "Disable"}}

// handleCommand routes a slash command. Flow-starting commands replace any
// active session for the participant; /cancel and /skip operate on the
// active session.
func (e *Engine) handleCommand(ctx context.Context, ev models.Event) {
	slog.Debug("Engine.handleCommand: received command", "command", ev.Command, "from", ev.From)

	switch ev.Command {
	case "cancel":
		e.handleCancel(ctx, ev)
		return
	case "skip":
		// /skip is meaningful only inside flows with optional inputs; the
		// stage handlers recognize it by the command name.
		sess := e.sessions.Get(ev.From)
		if sess == nil {
			return
		}
		e.runStage(ctx, sess, ev)
		return
	}

	// Admin-gated commands check only the admin set; admin membership does
	// not imply user membership and vice versa.
	switch ev.Command {
	case "imaginev2":
		e.startImagineV2(ctx, ev)
		return
	case "uncrop":
		e.startUncrop(ctx, ev)
		return
	case "set_watermark":
		e.startSetWatermark(ctx, ev)
		return
	}

	// Every remaining command requires user access.
	if !e.gate.IsUser(ev.From) {
		slog.Warn("Engine.handleCommand: access denied", "command", ev.Command, "from", ev.From)
		e.reply(ctx, ev.ChatID, accessDeniedMsg)
		return
	}

	switch ev.Command {
	case "start":
		e.reply(ctx, ev.ChatID, welcomeMsg)
	case "help":
		e.reply(ctx, ev.ChatID, helpMsg)
	case "imagine":
		e.startImagine(ctx, ev)
	case "upscale":
		e.startUpscale(ctx, ev)
	case "reimagine":
		e.startReimagine(ctx, ev)
	case "erase":
		e.startErase(ctx, ev)
	case "search_replace":
		e.startSearchReplace(ctx, ev)
	case "inpaint":
		e.startInpaint(ctx, ev)
	default:
		e.reply(ctx, ev.ChatID, unknownCmdMsg)
	}
}

// handleCancel discards the participant's session. Cancelling without an
// active flow still acknowledges.
func (e *Engine) handleCancel(ctx context.Context, ev models.Event) {
	e.sessions.Clear(ev.From)
	e.reply(ctx, ev.ChatID, cancelledMsg)
}

// requireAdmin gates admin-only commands and sends the denial when the
// participant lacks admin access.
func (e *Engine) requireAdmin(ctx context.Context, ev models.Event, denial string) bool {
	if e.gate.IsAdmin(ev.From) {
		return true
	}
	slog.Warn("Engine.requireAdmin: access denied", "command", ev.Command, "from", ev.From)
	e.reply(ctx, ev.ChatID, denial)
	return false
}

// startSetWatermark shows the watermark toggle menu to administrators.
func (e *Engine) startSetWatermark(ctx context.Context, ev models.Event) {
	if !e.requireAdmin(ctx, ev, watermarkDeniedMsg) {
		return
	}
	status := "Disabled"
	if e.watermark != nil && e.watermark.Enabled() {
		status = "Enabled"
	}
	sess := e.sessions.Begin(ev.From, ev.ChatID, models.FlowSetWatermark, models.StateWatermarkChoice)
	sess.PromptMessageID = e.replyOptions(ctx, ev.ChatID,
		"Watermark Status: "+status+"\n\nSelect an option below to modify the setting:",
		watermarkChoices)
}

func (e *Engine) registerWatermarkStages() {
	e.register(models.FlowSetWatermark, models.StateWatermarkChoice, e.handleWatermarkChoice)
}

func (e *Engine) handleWatermarkChoice(ctx context.Context, sess *models.Session, ev models.Event) error {
	if ev.Kind != models.EventText {
		e.reply(ctx, sess.ChatID, invalidChoiceMsg)
		return nil
	}
	choice, ok := messaging.MatchOption(ev.Body, watermarkChoices)
	if !ok {
		e.rejectChoice(ctx, sess.ChatID, "Select an option below to modify the setting:", watermarkChoices)
		return nil
	}
	enabled := choice == "Enable"
	if e.watermark != nil {
		e.watermark.SetEnabled(enabled)
	}
	e.sessions.Clear(sess.Participant)
	status := "Disabled"
	if enabled {
		status = "Enabled"
	}
	slog.Info("Engine.handleWatermarkChoice: watermark toggled", "enabled", enabled, "by", sess.Participant)
	// Rewrite the original prompt so the stale menu disappears from the chat.
	if sess.PromptMessageID != "" {
		if err := e.msg.EditMessage(ctx, sess.ChatID, sess.PromptMessageID, "Watermark Status Updated: "+status); err == nil {
			return nil
		}
	}
	e.reply(ctx, sess.ChatID, "Watermark Status Updated: "+status)
	return nil
}
