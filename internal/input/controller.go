// Package input implements controller handling for the NES.
package input

// Button represents NES controller buttons
type Button uint8

const (
	ButtonA Button = 1 << iota
	ButtonB
	ButtonSelect
	ButtonStart
	ButtonUp
	ButtonDown
	ButtonLeft
	ButtonRight
)

// Convenience constants for shorter names used in UI key-binding code
const (
	A      = ButtonA
	B      = ButtonB
	Select = ButtonSelect
	Start  = ButtonStart
	Up     = ButtonUp
	Down   = ButtonDown
	Left   = ButtonLeft
	Right  = ButtonRight
)

// Controller represents a NES controller
type Controller struct {
	buttons uint8

	shiftRegister uint8
	strobe        bool

	buttonSnapshot uint8
	bitPosition    uint8
}

// New creates a new Controller instance
func New() *Controller {
	return &Controller{}
}

// SetButton sets the state of a single button.
func (c *Controller) SetButton(button Button, pressed bool) {
	if pressed {
		c.buttons |= uint8(button)
	} else {
		c.buttons &^= uint8(button)
	}
}

// SetButtons sets all button states at once, in NES order:
// A, B, Select, Start, Up, Down, Left, Right.
func (c *Controller) SetButtons(buttons [8]bool) {
	c.buttons = 0
	if buttons[0] {
		c.buttons |= uint8(ButtonA)
	}
	if buttons[1] {
		c.buttons |= uint8(ButtonB)
	}
	if buttons[2] {
		c.buttons |= uint8(ButtonSelect)
	}
	if buttons[3] {
		c.buttons |= uint8(ButtonStart)
	}
	if buttons[4] {
		c.buttons |= uint8(ButtonUp)
	}
	if buttons[5] {
		c.buttons |= uint8(ButtonDown)
	}
	if buttons[6] {
		c.buttons |= uint8(ButtonLeft)
	}
	if buttons[7] {
		c.buttons |= uint8(ButtonRight)
	}
}

// IsPressed returns true if the button is currently pressed
func (c *Controller) IsPressed(button Button) bool {
	return (c.buttons & uint8(button)) != 0
}

// Write handles writes to the controller strobe register ($4016).
func (c *Controller) Write(value uint8) {
	wasStrobe := c.strobe
	c.strobe = (value & 1) != 0

	if c.strobe {
		c.buttonSnapshot = c.buttons
		c.shiftRegister = c.buttons
		c.bitPosition = 0
	} else if wasStrobe {
		c.buttonSnapshot = c.buttons
		c.shiftRegister = c.buttonSnapshot
		c.bitPosition = 0
	}
}

// Read handles reads from the controller data line ($4016/$4017). Only bit 0
// carries button data; while strobe is held high the A-button bit is
// returned continuously and the shift register stays parked at bit 0.
func (c *Controller) Read() uint8 {
	if c.strobe {
		c.bitPosition = 0
		return c.buttonSnapshot & 1
	}

	if c.bitPosition >= 8 {
		c.bitPosition++
		return 0
	}

	result := c.shiftRegister & 1
	c.shiftRegister >>= 1
	c.bitPosition++
	return result
}

// Reset resets the controller state
func (c *Controller) Reset() {
	c.buttons = 0
	c.shiftRegister = 0
	c.strobe = false
	c.buttonSnapshot = 0
	c.bitPosition = 0
}

// GetBitPosition returns the current bit position (for testing)
func (c *Controller) GetBitPosition() uint8 {
	return c.bitPosition
}

// InputState represents the state of all input devices
type InputState struct {
	Controller1 *Controller
	Controller2 *Controller
}

// NewInputState creates a new input state with two controllers
func NewInputState() *InputState {
	return &InputState{
		Controller1: New(),
		Controller2: New(),
	}
}

// Reset resets all input devices
func (is *InputState) Reset() {
	is.Controller1.Reset()
	is.Controller2.Reset()
}

// SetButtons1 sets all button states for controller 1 (array approach)
func (is *InputState) SetButtons1(buttons [8]bool) {
	is.Controller1.SetButtons(buttons)
}

// SetButtons2 sets all button states for controller 2 (array approach)
func (is *InputState) SetButtons2(buttons [8]bool) {
	is.Controller2.SetButtons(buttons)
}

// Read reads from controller ports
func (is *InputState) Read(address uint16) uint8 {
	switch address {
	case 0x4016:
		return is.Controller1.Read()
	case 0x4017:
		// Bit 6 reads back set on the real NES due to open-bus behavior.
		return is.Controller2.Read() | 0x40
	default:
		return 0
	}
}

// Write writes to controller ports. Both controllers latch the same strobe
// signal since $4016 drives the shared shift/strobe line.
func (is *InputState) Write(address uint16, value uint8) {
	if address == 0x4016 {
		is.Controller1.Write(value)
		is.Controller2.Write(value)
	}
}
