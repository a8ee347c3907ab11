package graphics

import "testing"

func solidFrame(pixel uint32) []uint32 {
	frame := make([]uint32, nesFrameWidth*nesFrameHeight)
	for i := range frame {
		frame[i] = pixel
	}
	return frame
}

func TestProcessFrameIsNoOpByDefault(t *testing.T) {
	vp := NewVideoProcessor(1.0, 1.0, 1.0, false)
	frame := solidFrame(0x112233)

	out := vp.ProcessFrame(frame)
	if len(out) != len(frame) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(frame))
	}
	for i, v := range out {
		if v != frame[i] {
			t.Fatalf("out[%d] = %#06x, want %#06x", i, v, frame[i])
		}
	}
}

func TestProcessFrameCropsOverscanWithoutGrading(t *testing.T) {
	vp := NewVideoProcessor(1.0, 1.0, 1.0, true)
	frame := solidFrame(0xFFFFFF)

	out := vp.ProcessFrame(frame)
	if len(out) != nesFrameWidth*nesFrameHeight {
		t.Fatalf("len(out) = %d, want %d", len(out), nesFrameWidth*nesFrameHeight)
	}

	for y := 0; y < overscanRows; y++ {
		if !rowIsBlank(out, y) {
			t.Errorf("row %d should be blanked by overscan crop", y)
		}
		bottom := nesFrameHeight - 1 - y
		if !rowIsBlank(out, bottom) {
			t.Errorf("row %d should be blanked by overscan crop", bottom)
		}
	}

	midRow := nesFrameHeight / 2
	for x := 0; x < nesFrameWidth; x++ {
		if out[midRow*nesFrameWidth+x] != 0xFFFFFF {
			t.Fatalf("row %d should be untouched by overscan crop", midRow)
		}
	}
}

func TestProcessFrameIgnoresOverscanForUnexpectedSize(t *testing.T) {
	vp := NewVideoProcessor(1.0, 1.0, 1.0, true)
	frame := solidFrame(0xABCDEF)[:100] // not a full 256x240 buffer

	out := vp.ProcessFrame(frame)
	for i, v := range out {
		if v != frame[i] {
			t.Fatalf("out[%d] = %#06x, want %#06x (no cropping on malformed input)", i, v, frame[i])
		}
	}
}

func TestProcessFrameAppliesBrightness(t *testing.T) {
	vp := NewVideoProcessor(0.5, 1.0, 1.0, false)
	frame := []uint32{0x646464} // 100,100,100

	out := vp.ProcessFrame(frame)
	r := (out[0] >> 16) & 0xFF
	if r >= 100 {
		t.Fatalf("red channel = %d, want it dimmed below 100 by 0.5 brightness", r)
	}
}

func TestProcessFrameAppliesContrast(t *testing.T) {
	vpHigh := NewVideoProcessor(1.0, 2.0, 1.0, false)
	frame := []uint32{0xFF8080} // r=255 above midpoint, g=b=128 at midpoint

	out := vpHigh.ProcessFrame(frame)
	r := (out[0] >> 16) & 0xFF
	if r != 255 {
		t.Fatalf("red channel = %d, want clamped to 255 under high contrast", r)
	}
	g := (out[0] >> 8) & 0xFF
	if g < 125 || g > 131 {
		t.Fatalf("green channel = %d, want roughly unchanged near the midpoint", g)
	}
}

func TestProcessFrameAppliesSaturation(t *testing.T) {
	vp := NewVideoProcessor(1.0, 1.0, 0.0, false)
	frame := []uint32{0xFF0000} // pure red

	out := vp.ProcessFrame(frame)
	r := (out[0] >> 16) & 0xFF
	g := (out[0] >> 8) & 0xFF
	b := out[0] & 0xFF
	if r != g || g != b {
		t.Fatalf("zero saturation should desaturate to gray, got r=%d g=%d b=%d", r, g, b)
	}
}

func TestSetters(t *testing.T) {
	vp := NewVideoProcessor(1.0, 1.0, 1.0, false)
	vp.SetBrightness(0.8)
	vp.SetContrast(1.2)
	vp.SetSaturation(0.9)
	vp.SetCropOverscan(true)

	if vp.brightness != 0.8 || vp.contrast != 1.2 || vp.saturation != 0.9 || !vp.cropOverscan {
		t.Fatalf("setters did not update fields: %+v", vp)
	}
}

func rowIsBlank(buf []uint32, y int) bool {
	for x := 0; x < nesFrameWidth; x++ {
		if buf[y*nesFrameWidth+x] != 0 {
			return false
		}
	}
	return true
}
