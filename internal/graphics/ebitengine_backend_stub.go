//go:build headless
// +build headless

package graphics

import "fmt"

// EbitengineBackend is a headless stand-in for the real Ebitengine backend,
// compiled in when the headless build tag excludes the graphics toolkit
// entirely (e.g. CI workers without a display or GPU).
type EbitengineBackend struct{}

// EbitengineWindow is the headless stand-in for EbitengineWindow.
type EbitengineWindow struct{}

// NewEbitengineBackend creates a headless backend stub.
func NewEbitengineBackend() Backend {
	return &EbitengineBackend{}
}

func (b *EbitengineBackend) Initialize(config Config) error {
	return fmt.Errorf("ebitengine backend not available in headless build")
}

func (b *EbitengineBackend) CreateWindow(title string, width, height int) (Window, error) {
	return nil, fmt.Errorf("ebitengine backend not available in headless build")
}

func (b *EbitengineBackend) Cleanup() error {
	return nil
}

func (b *EbitengineBackend) IsHeadless() bool {
	return true
}

func (b *EbitengineBackend) GetName() string {
	return "ebitengine-headless-stub"
}

func (w *EbitengineWindow) SetTitle(title string) {}

func (w *EbitengineWindow) GetSize() (width, height int) { return 0, 0 }

func (w *EbitengineWindow) ShouldClose() bool { return true }

func (w *EbitengineWindow) SwapBuffers() {}

func (w *EbitengineWindow) PollEvents() []InputEvent { return nil }

func (w *EbitengineWindow) RenderFrame(frameBuffer [256 * 240]uint32) error {
	return fmt.Errorf("ebitengine backend not available in headless build")
}

func (w *EbitengineWindow) Cleanup() error { return nil }

func (w *EbitengineWindow) Run() error {
	return fmt.Errorf("ebitengine backend not available in headless build")
}

func (w *EbitengineWindow) SetEmulatorUpdateFunc(updateFunc func() error) {}
