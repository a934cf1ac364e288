// Package models defines core data structures used across ImagePipe components.
package models

import "time"

// EventKind categorizes inbound Messaging Gateway events.
type EventKind string

// Supported inbound event kinds.
const (
	EventCommand EventKind = "command"
	EventText    EventKind = "text"
	EventPhoto   EventKind = "photo"
	// EventMediaError reports that an inbound photo could not be fetched.
	// Body carries one of the MediaErr reason tokens.
	EventMediaError EventKind = "media_error"
)

// Reason tokens carried in the Body of an EventMediaError event.
const (
	MediaErrTimeout = "timeout"
	MediaErrFailed  = "failed"
)

// Event represents a single inbound event from the Messaging Gateway.
type Event struct {
	Kind    EventKind `json:"kind"`
	From    string    `json:"from"`    // canonical sender identifier
	ChatID  string    `json:"chat_id"` // conversation identifier (same as From for direct chats)
	Body    string    `json:"body"`    // text content; for commands, the part after the command name
	Command string    `json:"command"` // command name without leading slash, e.g. "imagine"
	MediaID string    `json:"media_id,omitempty"`
	Time    int64     `json:"time"`
}

// OperationKind identifies a Generation Service operation.
type OperationKind string

// Operation kinds dispatched to the Generation Service.
const (
	OpTextToImage      OperationKind = "text_to_image"
	OpTextToImageUltra OperationKind = "text_to_image_ultra"
	OpControlGenerate  OperationKind = "control_generate"
	OpUpscaleFast      OperationKind = "upscale_fast"
	OpUpscaleConserv   OperationKind = "upscale_conservative"
	OpUpscaleCreative  OperationKind = "upscale_creative"
	OpReimagine        OperationKind = "reimagine"
	OpOutpaint         OperationKind = "outpaint"
	OpErase            OperationKind = "erase"
	OpSearchReplace    OperationKind = "search_replace"
	OpInpaint          OperationKind = "inpaint"
)

// DefaultNegativePrompt is applied to operations that accept a negative prompt
// when the user has not supplied one.
const DefaultNegativePrompt = "2 faces, 2 heads, bad anatomy, blurry, cloned face, cropped image, " +
	"cut-off, deformed hands, disconnected limbs, disgusting, disfigured, draft, duplicate artifact, " +
	"extra fingers, extra limb, floating limbs, gloss proportions, grain, gross proportions, long body, " +
	"long neck, low-res, mangled, malformed, malformed hands, missing arms, missing limb, morbid, " +
	"mutation, mutated, mutated hands, mutilated, mutilated hands, multiple heads, negative aspect, " +
	"out of frame, poorly drawn, poorly drawn face, poorly drawn hands, signatures, surreal, tiling, " +
	"twisted fingers, ugly"

// SizeMapping maps size preset tokens to explicit pixel dimensions.
var SizeMapping = map[string][2]int{
	"square-p":   {1152, 896},
	"portrait":   {1216, 832},
	"highscreen": {1344, 768},
	"panorama-p": {1536, 640},
	"square":     {1024, 1024},
	"panorama":   {640, 1536},
	"square-l":   {896, 1152},
	"landscape":  {832, 1216},
	"widescreen": {768, 1344},
}

// SizePresets lists the size tokens offered to the user, in display rows.
var SizePresets = [][]string{
	{"landscape", "widescreen", "panorama"},
	{"square-l", "square", "square-p"},
	{"portrait", "highscreen", "panorama-p"},
}

// StylePresets lists the style tokens offered to the user, in display rows.
// "None" selects no style preset.
var StylePresets = [][]string{
	{"photographic", "enhance", "anime"},
	{"digital-art", "comic-book", "fantasy-art"},
	{"line-art", "analog-film", "neon-punk"},
	{"isometric", "low-poly", "origami"},
	{"modeling-compound", "cinematic", "3d-model"},
	{"pixel-art", "tile-texture", "None"},
}

// AspectRatioPresets lists the aspect ratio tokens offered for Ultra
// generation and outpainting, in display rows.
var AspectRatioPresets = [][]string{
	{"16:9", "1:1", "4:5"},
	{"9:16", "3:2", "2:3"},
	{"21:9", "5:4", "9:21"},
}

// OutputFormats lists the output format tokens offered for upscaling.
var OutputFormats = [][]string{
	{"webp", "jpeg", "png"},
}

// PositionPresets lists the outpaint anchor positions offered to the user,
// in display rows. "Skip (Use Auto)" maps to the auto anchor.
var PositionPresets = [][]string{
	{"Top Left", "Top", "Top Right"},
	{"Left", "Auto/Original", "Right"},
	{"Bottom Left", "Bottom", "Bottom Right"},
	{"Skip (Use Auto)"},
}

// GenerationParams holds the fields for a text-to-image (SD3) request,
// optionally control-based when ControlImage is set.
type GenerationParams struct {
	Prompt       string
	Style        string // "None" means no style preset
	Size         string // size preset token from SizeMapping
	ControlImage string // local path; empty for regular generation
}

// UltraParams holds the fields for an Ultra generation request.
type UltraParams struct {
	Prompt       string
	OutputFormat string
	Image        string   // optional local path of the starting image
	Strength     *float64 // influence of the starting image; defaulted when Image is set
	AspectRatio  string   // optional "W:H" token
}

// UpscaleParams holds the fields for an upscale request.
type UpscaleParams struct {
	ImagePath      string
	OutputFormat   string
	Method         string // fast, conservative or creative
	Prompt         string
	NegativePrompt string
	Creativity     float64
	StylePreset    string // "None" means no style preset
}

// ReimagineParams holds the fields for a control-based transformation request.
type ReimagineParams struct {
	Prompt          string
	ControlImage    string
	ControlStrength float64
	NegativePrompt  string
	Seed            int
	OutputFormat    string
	Style           string // "None" means no style preset
	Method          string // "image" (structure) or "sketch"
}

// UncropParams holds the fields for an outpaint request.
type UncropParams struct {
	ImagePath         string
	TargetAspectRatio string // "W:H" text, e.g. "16:9"
	Prompt            string
	Creativity        float64
	Seed              int
	OutputFormat      string
	Position          string // one of nine compass positions or "auto"
}

// EraseParams holds the fields for an object erase request.
type EraseParams struct {
	ImagePath    string
	MaskPath     string
	OutputFormat string
}

// SearchReplaceParams holds the fields for a search-and-replace request.
type SearchReplaceParams struct {
	ImagePath     string
	SearchPrompt  string
	ReplacePrompt string
	OutputFormat  string
}

// InpaintParams holds the fields for an inpaint request.
type InpaintParams struct {
	ImagePath    string
	MaskPath     string
	Prompt       string
	OutputFormat string
}

// RecordStatus describes the outcome of a generation attempt.
type RecordStatus string

// Generation record statuses.
const (
	RecordStatusSucceeded RecordStatus = "succeeded"
	RecordStatusFailed    RecordStatus = "failed"
)

// GenerationRecord is one entry in the generation history ledger.
type GenerationRecord struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Operation  OperationKind `json:"operation"`
	Prompt     string        `json:"prompt,omitempty"`
	Status     RecordStatus  `json:"status"`
	OutputPath string        `json:"output_path,omitempty"`
	Detail     string        `json:"detail,omitempty"` // failure cause, empty on success
	CreatedAt  time.Time     `json:"created_at"`
}
