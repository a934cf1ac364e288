package models

import "time"

// FlowID identifies a multi-step conversation flow.
type FlowID string

// Flow identifiers, one per stateful command.
const (
	FlowImagine       FlowID = "imagine"
	FlowImagineV2     FlowID = "imagine_v2"
	FlowUpscale       FlowID = "upscale"
	FlowReimagine     FlowID = "reimagine"
	FlowUncrop        FlowID = "uncrop"
	FlowErase         FlowID = "erase"
	FlowSearchReplace FlowID = "search_replace"
	FlowInpaint       FlowID = "inpaint"
	FlowSetWatermark  FlowID = "set_watermark"
)

// StateID identifies a step inside a flow. State identifiers are scoped to
// their flow; the dispatcher keys handlers by (FlowID, StateID).
type StateID string

// Imagine flow states.
const (
	StateImaginePrompt StateID = "prompt"
	StateImagineMethod StateID = "method"
	StateImagineImage  StateID = "image"
	StateImagineSize   StateID = "size"
	StateImagineStyle  StateID = "style"
)

// ImagineV2 flow states.
const (
	StateImagineV2Prompt StateID = "prompt"
	StateImagineV2Aspect StateID = "aspect"
	StateImagineV2Image  StateID = "image"
)

// Upscale flow states.
const (
	StateUpscaleMethod StateID = "method"
	StateUpscalePrompt StateID = "prompt"
	StateUpscaleStyle  StateID = "style"
	StateUpscaleImage  StateID = "image"
	StateUpscaleFormat StateID = "format"
)

// Reimagine flow states.
const (
	StateReimagineMethod StateID = "method"
	StateReimagineImage  StateID = "image"
	StateReimagineStyle  StateID = "style"
	StateReimaginePrompt StateID = "prompt"
)

// Uncrop flow states.
const (
	StateUncropImage    StateID = "image"
	StateUncropAspect   StateID = "aspect"
	StateUncropPosition StateID = "position"
	StateUncropPrompt   StateID = "prompt"
)

// Erase flow states.
const (
	StateEraseImage StateID = "image"
	StateEraseMask  StateID = "mask"
)

// SearchReplace flow states.
const (
	StateSearchReplaceImage   StateID = "image"
	StateSearchReplaceSearch  StateID = "search"
	StateSearchReplaceReplace StateID = "replace"
)

// SetWatermark flow states.
const (
	StateWatermarkChoice StateID = "choice"
)

// Inpaint flow states.
const (
	StateInpaintImage  StateID = "image"
	StateInpaintMask   StateID = "mask"
	StateInpaintPrompt StateID = "prompt"
)

// ImagineData accumulates the imagine flow answers.
type ImagineData struct {
	Prompt       string
	ControlBased bool
	ImagePath    string
	Size         string
	Style        string
}

// ImagineV2Data accumulates the imagine_v2 flow answers.
type ImagineV2Data struct {
	Prompt      string
	AspectRatio string
	ImagePath   string
}

// UpscaleData accumulates the upscale flow answers.
type UpscaleData struct {
	Method    string
	Prompt    string
	Style     string
	ImagePath string
	Format    string
}

// ReimagineData accumulates the reimagine flow answers.
type ReimagineData struct {
	Method    string
	ImagePath string
	Style     string
	Prompt    string
}

// UncropData accumulates the uncrop flow answers.
type UncropData struct {
	ImagePath   string
	AspectRatio string
	Position    string
	Prompt      string
}

// EraseData accumulates the erase flow answers.
type EraseData struct {
	ImagePath string
	MaskPath  string
}

// SearchReplaceData accumulates the search_replace flow answers.
type SearchReplaceData struct {
	ImagePath     string
	SearchPrompt  string
	ReplacePrompt string
}

// InpaintData accumulates the inpaint flow answers.
type InpaintData struct {
	ImagePath string
	MaskPath  string
	Prompt    string
}

// Session tracks one participant's active flow. At most one flow is active
// per participant; starting a new command replaces any existing session.
type Session struct {
	Participant  string
	ChatID       string
	Flow         FlowID
	State        StateID
	LastActivity time.Time

	// Warned is set after the one slow-step reminder for the current step;
	// any activity on the session resets it.
	Warned bool

	// PromptMessageID is the gateway id of the last selection prompt, kept
	// so the prompt can be edited in place once the choice is made.
	PromptMessageID string

	// Exactly one of the following is non-nil, matching Flow.
	Imagine       *ImagineData
	ImagineV2     *ImagineV2Data
	Upscale       *UpscaleData
	Reimagine     *ReimagineData
	Uncrop        *UncropData
	Erase         *EraseData
	SearchReplace *SearchReplaceData
	Inpaint       *InpaintData
}

// Touch records activity on the session for stall tracking and re-arms the
// slow-step reminder.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
	s.Warned = false
}
