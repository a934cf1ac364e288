package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ImagePipe/internal/auth"
	"github.com/BTreeMap/ImagePipe/internal/models"
	"github.com/BTreeMap/ImagePipe/internal/store"
)

type sentFile struct {
	To      string
	Path    string
	Caption string
}

// mockService captures outbound traffic for assertions.
type mockService struct {
	mu        sync.Mutex
	messages  []string
	options   []string
	edits     []string
	photos    []sentFile
	docs      []sentFile
	delivered chan struct{}
	events    chan models.Event
}

func newMockService() *mockService {
	return &mockService{
		delivered: make(chan struct{}, 16),
		events:    make(chan models.Event, 16),
	}
}

func (m *mockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (m *mockService) SendMessage(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, body)
	return nil
}

func (m *mockService) SendOptions(ctx context.Context, to, prompt string, rows [][]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options = append(m.options, prompt)
	return fmt.Sprintf("prompt-%d", len(m.options)), nil
}

func (m *mockService) EditMessage(ctx context.Context, to, messageID, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, body)
	return nil
}

func (m *mockService) SendPhoto(ctx context.Context, to, path, caption string) error {
	m.mu.Lock()
	m.photos = append(m.photos, sentFile{To: to, Path: path, Caption: caption})
	m.mu.Unlock()
	m.delivered <- struct{}{}
	return nil
}

func (m *mockService) SendDocument(ctx context.Context, to, path, caption string) error {
	m.mu.Lock()
	m.docs = append(m.docs, sentFile{To: to, Path: path, Caption: caption})
	m.mu.Unlock()
	m.delivered <- struct{}{}
	return nil
}

func (m *mockService) SendTyping(ctx context.Context, to string, typing bool) error { return nil }
func (m *mockService) Start(ctx context.Context) error                              { return nil }
func (m *mockService) Stop() error                                                  { return nil }
func (m *mockService) Events() <-chan models.Event                                  { return m.events }

func (m *mockService) lastMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return ""
	}
	return m.messages[len(m.messages)-1]
}

func (m *mockService) lastOption() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.options) == 0 {
		return ""
	}
	return m.options[len(m.options)-1]
}

func (m *mockService) waitDelivery(t *testing.T) {
	t.Helper()
	select {
	case <-m.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

// mockGenClient records the last request per operation and returns a fixed
// output path.
type mockGenClient struct {
	mu         sync.Mutex
	generate   *models.GenerationParams
	ultra      *models.UltraParams
	upscale    *models.UpscaleParams
	reimagine  *models.ReimagineParams
	outpaint   *models.UncropParams
	erase      *models.EraseParams
	searchRepl *models.SearchReplaceParams
	inpaint    *models.InpaintParams
	calls      int
	err        error
	output     string
}

func newMockGenClient() *mockGenClient {
	return &mockGenClient{output: "out/test_result.png"}
}

func (m *mockGenClient) done(err error) (string, error) {
	m.calls++
	if err != nil {
		return "", err
	}
	return m.output, nil
}

func (m *mockGenClient) Generate(ctx context.Context, p models.GenerationParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generate = &p
	return m.done(m.err)
}

func (m *mockGenClient) GenerateUltra(ctx context.Context, p models.UltraParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ultra = &p
	return m.done(m.err)
}

func (m *mockGenClient) Upscale(ctx context.Context, p models.UpscaleParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upscale = &p
	return m.done(m.err)
}

func (m *mockGenClient) Reimagine(ctx context.Context, p models.ReimagineParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reimagine = &p
	return m.done(m.err)
}

func (m *mockGenClient) Outpaint(ctx context.Context, p models.UncropParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outpaint = &p
	return m.done(m.err)
}

func (m *mockGenClient) Erase(ctx context.Context, p models.EraseParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.erase = &p
	return m.done(m.err)
}

func (m *mockGenClient) SearchReplace(ctx context.Context, p models.SearchReplaceParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchRepl = &p
	return m.done(m.err)
}

func (m *mockGenClient) Inpaint(ctx context.Context, p models.InpaintParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inpaint = &p
	return m.done(m.err)
}

// mockWatermarker records whether Apply ran.
type mockWatermarker struct {
	mu      sync.Mutex
	enabled bool
	applied []string
}

func (m *mockWatermarker) Apply(srcPath, dstPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, srcPath)
	return nil
}

func (m *mockWatermarker) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

func (m *mockWatermarker) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *mockWatermarker) applyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

type testHarness struct {
	engine    *Engine
	msg       *mockService
	client    *mockGenClient
	watermark *mockWatermarker
	sessions  *SessionStore
	history   *store.InMemoryStore
}

func newTestHarness(t *testing.T, userList, adminList string) *testHarness {
	t.Helper()
	msg := newMockService()
	client := newMockGenClient()
	wm := &mockWatermarker{enabled: true}
	sessions := NewSessionStore()
	history := store.NewInMemoryStore()
	gate := auth.NewGate(userList, adminList)
	engine := NewEngine(msg, gate, client, nil, wm, sessions, history)
	return &testHarness{
		engine:    engine,
		msg:       msg,
		client:    client,
		watermark: wm,
		sessions:  sessions,
		history:   history,
	}
}

func (h *testHarness) command(ctx context.Context, from, command, body string) {
	h.engine.HandleEvent(ctx, models.Event{
		Kind: models.EventCommand, From: from, ChatID: from, Command: command, Body: body,
	})
}

func (h *testHarness) text(ctx context.Context, from, body string) {
	h.engine.HandleEvent(ctx, models.Event{
		Kind: models.EventText, From: from, ChatID: from, Body: body,
	})
}

func (h *testHarness) photo(ctx context.Context, from, mediaID string) {
	h.engine.HandleEvent(ctx, models.Event{
		Kind: models.EventPhoto, From: from, ChatID: from, MediaID: mediaID,
	})
}

func TestImagineFlowFullPath(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "")

	h.command(ctx, "111", "imagine", "")
	if got := h.msg.lastMessage(); !strings.Contains(got, "detailed description") {
		t.Fatalf("expected prompt request, got %q", got)
	}

	h.text(ctx, "111", "a red fox in the snow")
	if got := h.msg.lastOption(); got != "Select the generation method:" {
		t.Fatalf("expected method menu, got %q", got)
	}

	h.text(ctx, "111", "Regular")
	h.text(ctx, "111", "square")
	h.text(ctx, "111", "None")
	if got := h.msg.lastMessage(); got != "Generating your image..." {
		t.Fatalf("expected generating notice, got %q", got)
	}

	h.msg.waitDelivery(t)

	h.client.mu.Lock()
	p := h.client.generate
	h.client.mu.Unlock()
	if p == nil {
		t.Fatal("expected a generation request")
	}
	if p.Prompt != "a red fox in the snow" || p.Size != "square" || p.Style != "None" || p.ControlImage != "" {
		t.Errorf("unexpected generation params: %+v", p)
	}

	h.msg.mu.Lock()
	photos := len(h.msg.photos)
	caption := h.msg.photos[0].Caption
	h.msg.mu.Unlock()
	if photos != 1 || caption != "Here is your generated image." {
		t.Errorf("expected one photo with generation caption, got %d %q", photos, caption)
	}
	if h.watermark.applyCount() != 1 {
		t.Errorf("expected watermark to be applied once, got %d", h.watermark.applyCount())
	}
	if h.sessions.Get("111") != nil {
		t.Error("expected session to be cleared after terminal stage")
	}

	recs, err := h.history.GetRecords("111", 0)
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != models.RecordStatusSucceeded || recs[0].Operation != models.OpTextToImage {
		t.Errorf("unexpected history records: %+v", recs)
	}
}

func TestInvalidSelectionRepromptsAndKeepsState(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "")

	h.command(ctx, "111", "imagine", "")
	h.text(ctx, "111", "a lighthouse")
	h.text(ctx, "111", "Regular")

	h.text(ctx, "111", "gigantic")
	if got := h.msg.lastMessage(); got != invalidChoiceMsg {
		t.Fatalf("expected invalid selection notice, got %q", got)
	}
	sess := h.sessions.Get("111")
	if sess == nil || sess.State != models.StateImagineSize {
		t.Fatalf("expected session to remain in size state, got %+v", sess)
	}

	// A numbered reply resolves against the same menu.
	h.text(ctx, "111", "5")
	sess = h.sessions.Get("111")
	if sess == nil || sess.State != models.StateImagineStyle {
		t.Fatalf("expected session to advance to style state, got %+v", sess)
	}
	if sess.Imagine.Size != "square" {
		t.Errorf("expected numbered reply to select square, got %q", sess.Imagine.Size)
	}
}

func TestUnauthorizedUserIsDenied(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "")

	h.command(ctx, "222", "imagine", "")
	if got := h.msg.lastMessage(); got != accessDeniedMsg {
		t.Fatalf("expected denial, got %q", got)
	}
	if h.sessions.Get("222") != nil {
		t.Error("expected no session for denied participant")
	}
}

func TestAdminOnlyCommandsDenyRegularUsers(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "999")

	h.command(ctx, "111", "imaginev2", "")
	if got := h.msg.lastMessage(); got != accessDeniedMsg {
		t.Fatalf("expected denial for imaginev2, got %q", got)
	}
	h.command(ctx, "111", "uncrop", "")
	if got := h.msg.lastMessage(); got != accessDeniedMsg {
		t.Fatalf("expected denial for uncrop, got %q", got)
	}
	h.command(ctx, "111", "set_watermark", "")
	if got := h.msg.lastMessage(); got != watermarkDeniedMsg {
		t.Fatalf("expected watermark denial, got %q", got)
	}
}

func TestAdminWithoutUserAccessCanRunAdminCommands(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "999")

	h.command(ctx, "999", "imaginev2", "")
	sess := h.sessions.Get("999")
	if sess == nil || sess.Flow != models.FlowImagineV2 {
		t.Fatalf("expected imagine_v2 session for admin, got %+v", sess)
	}

	// The same admin is still denied plain user commands.
	h.command(ctx, "999", "imagine", "")
	if got := h.msg.lastMessage(); got != accessDeniedMsg {
		t.Fatalf("expected denial for user command, got %q", got)
	}
}

func TestCancelClearsSession(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "")

	h.command(ctx, "111", "imagine", "")
	h.text(ctx, "111", "a castle")
	if h.sessions.Get("111") == nil {
		t.Fatal("expected an active session")
	}

	h.command(ctx, "111", "cancel", "")
	if got := h.msg.lastMessage(); got != cancelledMsg {
		t.Fatalf("expected cancellation notice, got %q", got)
	}
	if h.sessions.Get("111") != nil {
		t.Error("expected session to be cleared")
	}
}

func TestUpscaleDeliversDocument(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "")

	h.command(ctx, "111", "upscale", "")
	h.text(ctx, "111", "Fast")
	h.photo(ctx, "111", "media/photo_1.jpg")
	h.text(ctx, "111", "png")

	h.msg.waitDelivery(t)

	h.client.mu.Lock()
	p := h.client.upscale
	h.client.mu.Unlock()
	if p == nil {
		t.Fatal("expected an upscale request")
	}
	if p.Method != "fast" || p.OutputFormat != "png" || p.ImagePath != "media/photo_1.jpg" {
		t.Errorf("unexpected upscale params: %+v", p)
	}
	if p.StylePreset != "None" {
		t.Errorf("expected no style preset for fast upscale, got %q", p.StylePreset)
	}

	h.msg.mu.Lock()
	docs, photos := len(h.msg.docs), len(h.msg.photos)
	caption := h.msg.docs[0].Caption
	h.msg.mu.Unlock()
	if docs != 1 || photos != 0 {
		t.Fatalf("expected one document and no photos, got %d docs %d photos", docs, photos)
	}
	if caption != "Here is your enhanced image (using fast method)." {
		t.Errorf("unexpected document caption %q", caption)
	}
	if h.watermark.applyCount() != 1 {
		t.Errorf("expected upscale output to be watermarked once, got %d", h.watermark.applyCount())
	}
}

func TestUncropSkipUsesAutoPosition(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "111")

	h.command(ctx, "111", "uncrop", "")
	h.photo(ctx, "111", "media/photo_2.jpg")
	h.text(ctx, "111", "16:9")
	h.text(ctx, "111", "Skip (Use Auto)")
	h.command(ctx, "111", "skip", "")

	h.msg.waitDelivery(t)

	h.client.mu.Lock()
	p := h.client.outpaint
	h.client.mu.Unlock()
	if p == nil {
		t.Fatal("expected an outpaint request")
	}
	if p.Position != "auto" || p.TargetAspectRatio != "16:9" || p.Prompt != "" {
		t.Errorf("unexpected outpaint params: %+v", p)
	}
}

func TestGenerationFailureNotifiesAndRecords(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "")
	h.client.err = errors.New("backend unavailable")

	h.command(ctx, "111", "erase", "")
	h.photo(ctx, "111", "media/photo_3.jpg")
	h.photo(ctx, "111", "media/mask_3.jpg")

	waitFor(t, func() bool {
		recs, err := h.history.GetRecords("111", 0)
		return err == nil && len(recs) == 1
	})

	recs, _ := h.history.GetRecords("111", 0)
	if recs[0].Status != models.RecordStatusFailed || recs[0].Operation != models.OpErase {
		t.Errorf("unexpected failure record: %+v", recs[0])
	}
	waitFor(t, func() bool {
		return strings.Contains(h.msg.lastMessage(), "An error occurred during object erase")
	})
}

func TestSetWatermarkToggle(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "111")

	h.command(ctx, "111", "set_watermark", "")
	if got := h.msg.lastOption(); !strings.Contains(got, "Watermark Status: Enabled") {
		t.Fatalf("expected status menu, got %q", got)
	}

	h.text(ctx, "111", "Disable")
	h.msg.mu.Lock()
	edits := append([]string(nil), h.msg.edits...)
	h.msg.mu.Unlock()
	if len(edits) != 1 || edits[0] != "Watermark Status Updated: Disabled" {
		t.Fatalf("expected the menu to be edited into the confirmation, got %v", edits)
	}
	if h.watermark.Enabled() {
		t.Error("expected watermark to be disabled")
	}
	if h.sessions.Get("111") != nil {
		t.Error("expected watermark session to be cleared")
	}
}

func TestStartingNewCommandReplacesSession(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "")

	h.command(ctx, "111", "imagine", "")
	h.text(ctx, "111", "a ship")
	h.command(ctx, "111", "upscale", "")

	sess := h.sessions.Get("111")
	if sess == nil || sess.Flow != models.FlowUpscale {
		t.Fatalf("expected upscale session to replace imagine, got %+v", sess)
	}
	if sess.Imagine != nil {
		t.Error("expected stale flow data to be discarded")
	}
}

func TestUnsolicitedInputIsIgnored(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "")

	h.text(ctx, "111", "hello there")
	if got := h.msg.lastMessage(); got != "" {
		t.Fatalf("expected no reply to unsolicited text, got %q", got)
	}
}

func TestDownloadTimeoutEndsFlow(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "")

	h.command(ctx, "111", "erase", "")
	h.engine.HandleEvent(ctx, models.Event{
		Kind: models.EventMediaError, From: "111", ChatID: "111", Body: models.MediaErrTimeout,
	})

	if got := h.msg.lastMessage(); got != downloadTimeoutMsg {
		t.Fatalf("expected timeout notice, got %q", got)
	}
	if h.sessions.Get("111") != nil {
		t.Error("expected session to be cleared after download timeout")
	}
}

func TestDownloadFailureOutsideFlowIsIgnored(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, "111", "")

	h.engine.HandleEvent(ctx, models.Event{
		Kind: models.EventMediaError, From: "111", ChatID: "111", Body: models.MediaErrFailed,
	})
	if got := h.msg.lastMessage(); got != "" {
		t.Fatalf("expected no reply outside a flow, got %q", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
