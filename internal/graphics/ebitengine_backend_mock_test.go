package graphics

import (
	"errors"
	"testing"
)

// fakeBackend is a display-free Backend implementation used to exercise the
// rendering pipeline's contract (init -> window -> render) without pulling
// in Ebitengine, so it also builds under the headless tag.
type fakeBackend struct {
	initialized     bool
	config          Config
	createWindowErr error
	game            *fakeGame
}

type fakeGame struct {
	frameBuffer    [256 * 240]uint32
	updateCalled   bool
	renderCalled   bool
	emulatorUpdate func() error
}

type fakeWindow struct {
	backend     *fakeBackend
	shouldClose bool
	game        *fakeGame
	renderErr   error
}

func (b *fakeBackend) Initialize(config Config) error {
	if b.initialized {
		return errors.New("backend already initialized")
	}
	b.config = config
	b.initialized = true
	return nil
}

func (b *fakeBackend) CreateWindow(title string, width, height int) (Window, error) {
	if !b.initialized {
		return nil, errors.New("backend not initialized")
	}
	if b.createWindowErr != nil {
		return nil, b.createWindowErr
	}

	game := &fakeGame{}
	b.game = game
	return &fakeWindow{backend: b, game: game}, nil
}

func (b *fakeBackend) Cleanup() error {
	b.initialized = false
	return nil
}

func (b *fakeBackend) IsHeadless() bool { return b.config.Headless }

func (b *fakeBackend) GetName() string { return "fake-backend" }

func (w *fakeWindow) SetTitle(title string) {}

func (w *fakeWindow) GetSize() (width, height int) { return 800, 600 }

func (w *fakeWindow) ShouldClose() bool { return w.shouldClose }

func (w *fakeWindow) SwapBuffers() {}

func (w *fakeWindow) PollEvents() []InputEvent { return nil }

func (w *fakeWindow) RenderFrame(frameBuffer [256 * 240]uint32) error {
	if w.renderErr != nil {
		return w.renderErr
	}
	if w.game == nil {
		return errors.New("game not initialized")
	}
	w.game.frameBuffer = frameBuffer
	w.game.renderCalled = true
	return nil
}

func (w *fakeWindow) Cleanup() error {
	w.shouldClose = true
	return nil
}

func (g *fakeGame) Update() error {
	g.updateCalled = true
	if g.emulatorUpdate != nil {
		return g.emulatorUpdate()
	}
	return nil
}

func TestFakeBackendRequiresInitializeBeforeWindow(t *testing.T) {
	backend := &fakeBackend{}
	if _, err := backend.CreateWindow("gones", 800, 600); err == nil {
		t.Fatal("expected error creating a window before Initialize")
	}

	if err := backend.Initialize(Config{WindowTitle: "gones"}); err != nil {
		t.Fatalf("Initialize() = %v, want nil", err)
	}
	window, err := backend.CreateWindow("gones", 800, 600)
	if err != nil {
		t.Fatalf("CreateWindow() = %v, want nil", err)
	}

	fw := window.(*fakeWindow)
	if fw.game.renderCalled {
		t.Error("render should not have been called before RenderFrame")
	}

	var frameBuffer [256 * 240]uint32
	for i := range frameBuffer {
		frameBuffer[i] = 0xFF0000FF
	}
	if err := window.RenderFrame(frameBuffer); err != nil {
		t.Fatalf("RenderFrame() = %v, want nil", err)
	}
	if !fw.game.renderCalled {
		t.Error("render should have been called")
	}
	for i := 0; i < 10; i++ {
		if got, want := fw.game.frameBuffer[i], frameBuffer[i]; got != want {
			t.Errorf("frameBuffer[%d] = %#08x, want %#08x", i, got, want)
		}
	}
}

func TestFakeGameUpdatePropagatesEmulatorError(t *testing.T) {
	backend := &fakeBackend{}
	if err := backend.Initialize(Config{WindowTitle: "gones"}); err != nil {
		t.Fatalf("Initialize() = %v", err)
	}
	window, err := backend.CreateWindow("gones", 800, 600)
	if err != nil {
		t.Fatalf("CreateWindow() = %v", err)
	}
	fw := window.(*fakeWindow)

	if err := fw.game.Update(); err != nil {
		t.Fatalf("Update() without an emulator func = %v, want nil", err)
	}
	if !fw.game.updateCalled {
		t.Error("updateCalled should be true")
	}

	calls := 0
	fw.game.emulatorUpdate = func() error {
		calls++
		return errors.New("cpu halted unexpectedly")
	}
	if err := fw.game.Update(); err == nil {
		t.Error("expected the emulator error to propagate through Update")
	}
	if calls != 1 {
		t.Errorf("emulator update called %d times, want 1", calls)
	}
}

func TestFakeWindowRenderFrameRequiresGame(t *testing.T) {
	window := &fakeWindow{}
	var frameBuffer [256 * 240]uint32
	err := window.RenderFrame(frameBuffer)
	if err == nil {
		t.Fatal("expected error rendering without a game instance")
	}
	if want := "game not initialized"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestFakeBackendCreateWindowError(t *testing.T) {
	backend := &fakeBackend{createWindowErr: errors.New("window creation failed")}
	if err := backend.Initialize(Config{WindowTitle: "gones"}); err != nil {
		t.Fatalf("Initialize() = %v", err)
	}
	if _, err := backend.CreateWindow("gones", 800, 600); err == nil {
		t.Fatal("expected CreateWindow to fail")
	}

	backend.createWindowErr = nil
	window, err := backend.CreateWindow("gones", 800, 600)
	if err != nil {
		t.Fatalf("CreateWindow() = %v, want nil", err)
	}

	fw := window.(*fakeWindow)
	fw.renderErr = errors.New("render failed")
	var frameBuffer [256 * 240]uint32
	err = window.RenderFrame(frameBuffer)
	if err == nil || err.Error() != "render failed" {
		t.Errorf("RenderFrame() error = %v, want %q", err, "render failed")
	}
}

func TestFakeBackendFrameBufferIntegrityAcrossPatterns(t *testing.T) {
	backend := &fakeBackend{}
	if err := backend.Initialize(Config{WindowTitle: "gones"}); err != nil {
		t.Fatalf("Initialize() = %v", err)
	}
	window, err := backend.CreateWindow("gones", 800, 600)
	if err != nil {
		t.Fatalf("CreateWindow() = %v", err)
	}
	fw := window.(*fakeWindow)

	patterns := []uint32{0xFF0000FF, 0x00FF00FF, 0x0000FFFF, 0xFFFFFFFF, 0x000000FF}
	for _, pattern := range patterns {
		var frameBuffer [256 * 240]uint32
		for i := range frameBuffer {
			frameBuffer[i] = pattern
		}
		if err := window.RenderFrame(frameBuffer); err != nil {
			t.Fatalf("RenderFrame(%#08x) = %v", pattern, err)
		}
		for i := 0; i < 100; i++ {
			if fw.game.frameBuffer[i] != pattern {
				t.Fatalf("frameBuffer[%d] = %#08x, want %#08x", i, fw.game.frameBuffer[i], pattern)
			}
		}
	}
}
