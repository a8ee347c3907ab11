package bus

import (
	"gones/internal/cartridge"
	"testing"
)

// TestCPUPPU3To1SyncBasic validates the fundamental 3:1 CPU-PPU cycle relationship
func TestCPUPPU3To1SyncBasic(t *testing.T) {
	t.Run("Exact 3:1 ratio during single steps", func(t *testing.T) {
		bus := New()

		romData := make([]uint8, 0x8000)
		romData[0x0000] = 0xEA // NOP instruction (2 CPU cycles)
		romData[0x0001] = 0x4C // JMP
		romData[0x0002] = 0x00 // $8000
		romData[0x0003] = 0x80
		romData[0x7FFC] = 0x00 // Reset vector low
		romData[0x7FFD] = 0x80 // Reset vector high

		cart := cartridge.NewMockCartridge()
		cart.LoadPRG(romData)
		bus.LoadCartridge(cart)
		bus.Reset()

		initialCPUCycles := bus.GetCycleCount()
		initialPPUCycles := bus.GetPPUCycleCount()

		bus.Step()

		cpuCyclesExecuted := bus.GetCycleCount() - initialCPUCycles
		if cpuCyclesExecuted != 2 {
			t.Errorf("Expected 2 CPU cycles for NOP, got %d", cpuCyclesExecuted)
		}

		ppuCyclesExecuted := bus.GetPPUCycleCount() - initialPPUCycles
		expectedPPUCycles := cpuCyclesExecuted * 3
		if ppuCyclesExecuted != expectedPPUCycles {
			t.Errorf("PPU cycles should be 3x CPU cycles. CPU: %d, Expected PPU: %d, Actual PPU: %d",
				cpuCyclesExecuted, expectedPPUCycles, ppuCyclesExecuted)
		}
	})

	t.Run("3:1 ratio maintained across multiple instructions", func(t *testing.T) {
		bus := New()

		romData := make([]uint8, 0x8000)
		program := []uint8{
			0xEA,             // NOP (2 cycles)
			0xA9, 0x42,       // LDA #$42 (2 cycles)
			0x85, 0x00,       // STA $00 (3 cycles)
			0xE8,             // INX (2 cycles)
			0x4C, 0x00, 0x80, // JMP $8000 (3 cycles)
		}
		copy(romData, program)
		romData[0x7FFC] = 0x00
		romData[0x7FFD] = 0x80

		cart := cartridge.NewMockCartridge()
		cart.LoadPRG(romData)
		bus.LoadCartridge(cart)
		bus.Reset()

		expectedCycles := []int{2, 2, 3, 2, 3}
		totalCPUCycles := uint64(0)
		totalPPUCycles := uint64(0)

		for i, expectedCPU := range expectedCycles {
			initialCPU := bus.GetCycleCount()
			initialPPU := bus.GetPPUCycleCount()

			bus.Step()

			actualCPU := bus.GetCycleCount() - initialCPU
			actualPPU := bus.GetPPUCycleCount() - initialPPU
			totalCPUCycles += actualCPU
			totalPPUCycles += actualPPU

			if actualCPU != uint64(expectedCPU) {
				t.Errorf("Instruction %d: Expected %d CPU cycles, got %d", i, expectedCPU, actualCPU)
			}
			if actualPPU != actualCPU*3 {
				t.Errorf("Instruction %d: PPU/CPU ratio should be 3.0, got %d/%d", i, actualPPU, actualCPU)
			}
		}

		finalRatio := float64(totalPPUCycles) / float64(totalCPUCycles)
		if finalRatio != 3.0 {
			t.Errorf("Cumulative PPU/CPU ratio should be 3.0, got %.2f", finalRatio)
		}
	})

	t.Run("3:1 ratio with page boundary crossing", func(t *testing.T) {
		bus := New()

		romData := make([]uint8, 0x8000)
		program := []uint8{
			0xA2, 0x10, // LDX #$10 (2 cycles)
			0xBD, 0xF0, 0x20, // LDA $20F0,X -> $2100 (5 cycles with page cross)
			0xA2, 0x05, // LDX #$05 (2 cycles)
			0xBD, 0x00, 0x20, // LDA $2000,X -> $2005 (4 cycles no page cross)
			0x4C, 0x00, 0x80, // JMP $8000
		}
		copy(romData, program)
		romData[0x7FFC] = 0x00
		romData[0x7FFD] = 0x80

		cart := cartridge.NewMockCartridge()
		cart.LoadPRG(romData)
		bus.LoadCartridge(cart)
		bus.Reset()

		expectedCycles := []int{2, 5, 2, 4}

		for i, expectedCPU := range expectedCycles {
			initialCPU := bus.GetCycleCount()
			initialPPU := bus.GetPPUCycleCount()
			bus.Step()
			actualCPU := bus.GetCycleCount() - initialCPU
			actualPPU := bus.GetPPUCycleCount() - initialPPU

			if actualCPU != uint64(expectedCPU) {
				t.Errorf("Instruction %d: Expected %d CPU cycles, got %d", i, expectedCPU, actualCPU)
			}
			if actualPPU != actualCPU*3 {
				t.Errorf("Instruction %d: Expected %d PPU cycles, got %d", i, actualCPU*3, actualPPU)
			}
		}
	})
}

// TestCPUPPUSyncDuringDMA validates 3:1 timing during DMA operations
func TestCPUPPUSyncDuringDMA(t *testing.T) {
	t.Run("PPU continues during CPU DMA suspension", func(t *testing.T) {
		bus := New()

		romData := make([]uint8, 0x8000)
		program := []uint8{
			0xA9, 0x02, // LDA #$02 (2 cycles)
			0x8D, 0x14, 0x40, // STA $4014 (4 cycles) - triggers DMA
			0xEA,             // NOP (should be delayed by DMA)
			0x4C, 0x00, 0x80, // JMP $8000
		}
		copy(romData, program)
		romData[0x7FFC] = 0x00
		romData[0x7FFD] = 0x80

		cart := cartridge.NewMockCartridge()
		cart.LoadPRG(romData)
		bus.LoadCartridge(cart)
		bus.Reset()

		bus.Step() // LDA #$02

		beforeDMACPU := bus.GetCycleCount()
		beforeDMAPPU := bus.GetPPUCycleCount()

		bus.Step() // STA $4014 - triggers DMA and stalls the CPU

		if bus.IsDMAInProgress() {
			t.Error("DMA transfer should have completed synchronously within Step()")
		}

		// The stall is consumed one CPU cycle per Step(); the NOP only
		// executes once it has drained.
		nopPC := bus.CPU.PC
		for bus.CPU.PC == nopPC {
			bus.Step()
		}

		// The DMA stalls the CPU for 513-514 extra cycles.
		dmaCPUCycles := bus.GetCycleCount() - beforeDMACPU
		if dmaCPUCycles < 513 {
			t.Errorf("expected DMA step to consume at least 513 CPU cycles, got %d", dmaCPUCycles)
		}

		dmaPPUCycles := bus.GetPPUCycleCount() - beforeDMAPPU
		if dmaPPUCycles != dmaCPUCycles*3 {
			t.Errorf("PPU/CPU ratio during DMA should be 3:1, got %d/%d", dmaPPUCycles, dmaCPUCycles)
		}
	})
}

// TestCPUPPUSyncWithInterrupts validates timing during interrupt handling
func TestCPUPPUSyncWithInterrupts(t *testing.T) {
	t.Run("3:1 ratio maintained during NMI handling", func(t *testing.T) {
		bus := New()

		romData := make([]uint8, 0x8000)

		romData[0x0000] = 0xEA // NOP
		romData[0x0001] = 0x4C // JMP
		romData[0x0002] = 0x00 // $8000
		romData[0x0003] = 0x80

		// NMI handler at $8100
		romData[0x0100] = 0xEA // NOP in handler
		romData[0x0101] = 0x40 // RTI

		romData[0x7FFA] = 0x00 // NMI vector low
		romData[0x7FFB] = 0x81 // NMI vector high
		romData[0x7FFC] = 0x00 // Reset vector low
		romData[0x7FFD] = 0x80 // Reset vector high

		cart := cartridge.NewMockCartridge()
		cart.LoadPRG(romData)
		bus.LoadCartridge(cart)
		bus.Reset()

		bus.PPU.WriteRegister(0x2000, 0x80)

		stepCount := 0
		reached := false
		for stepCount < 100000 {
			initialCPU := bus.GetCycleCount()
			initialPPU := bus.GetPPUCycleCount()

			bus.Step()
			stepCount++

			actualCPU := bus.GetCycleCount() - initialCPU
			actualPPU := bus.GetPPUCycleCount() - initialPPU
			if actualPPU != actualCPU*3 {
				t.Errorf("PPU/CPU ratio should be 3:1 at step %d, got %d/%d", stepCount, actualPPU, actualCPU)
			}

			cpuState := bus.GetCPUState()
			if cpuState.PC >= 0x8100 && cpuState.PC <= 0x8101 {
				reached = true
				break
			}
		}

		if !reached {
			t.Error("NMI handler was not reached within reasonable time")
		}
	})
}

// TestCPUPPUSyncPrecision validates cycle-level precision of the 3:1 ratio
func TestCPUPPUSyncPrecision(t *testing.T) {
	t.Run("No fractional cycle accumulation", func(t *testing.T) {
		bus := New()

		romData := make([]uint8, 0x8000)
		romData[0x0000] = 0xEA // NOP (2 cycles)
		romData[0x0001] = 0x4C // JMP $8000 (3 cycles)
		romData[0x0002] = 0x00
		romData[0x0003] = 0x80
		romData[0x7FFC] = 0x00
		romData[0x7FFD] = 0x80

		cart := cartridge.NewMockCartridge()
		cart.LoadPRG(romData)
		bus.LoadCartridge(cart)
		bus.Reset()

		iterations := 1000
		totalCPUExpected := uint64((2 + 3) * iterations)

		for i := 0; i < iterations*2; i++ {
			bus.Step()
		}

		finalCPU := bus.GetCycleCount()
		finalPPU := bus.GetPPUCycleCount()
		expectedPPU := finalCPU * 3

		if finalPPU != expectedPPU {
			t.Errorf("PPU cycles drifted from 3:1 ratio. Expected %d, got %d", expectedPPU, finalPPU)
		}
		if finalPPU%3 != 0 {
			t.Errorf("PPU cycles should be divisible by 3, got %d", finalPPU)
		}
		if finalCPU != totalCPUExpected {
			t.Errorf("CPU cycles drifted. Expected %d, got %d", totalCPUExpected, finalCPU)
		}
	})

	t.Run("Cycle precision during mixed operations", func(t *testing.T) {
		bus := New()

		romData := make([]uint8, 0x8000)
		program := []uint8{
			0xEA,       // NOP (2)
			0xE8,       // INX (2)
			0xA9, 0x00, // LDA #$00 (2)

			0x85, 0x10, // STA $10 (3)
			0xA5, 0x10, // LDA $10 (3)

			0x8D, 0x00, 0x30, // STA $3000 (4)
			0xAD, 0x00, 0x30, // LDA $3000 (4)

			0xA2, 0x10, // LDX #$10 (2)
			0xBD, 0xF0, 0x20, // LDA $20F0,X (5)

			0x4C, 0x00, 0x80, // JMP $8000 (3)
		}
		copy(romData, program)
		romData[0x7FFC] = 0x00
		romData[0x7FFD] = 0x80

		cart := cartridge.NewMockCartridge()
		cart.LoadPRG(romData)
		bus.LoadCartridge(cart)
		bus.Reset()

		expectedCycles := []int{2, 2, 2, 3, 3, 4, 4, 2, 5, 3}
		runningCPUTotal := uint64(0)
		runningPPUTotal := uint64(0)

		for i, expectedCPU := range expectedCycles {
			initialCPU := bus.GetCycleCount()
			initialPPU := bus.GetPPUCycleCount()
			bus.Step()
			actualCPU := bus.GetCycleCount() - initialCPU
			actualPPU := bus.GetPPUCycleCount() - initialPPU

			if actualCPU != uint64(expectedCPU) {
				t.Errorf("Step %d: Expected %d CPU cycles, got %d", i, expectedCPU, actualCPU)
			}

			runningCPUTotal += actualCPU
			runningPPUTotal += actualPPU

			if runningPPUTotal != bus.GetPPUCycleCount() {
				t.Errorf("Step %d: PPU total should be %d, got %d", i, bus.GetPPUCycleCount(), runningPPUTotal)
			}
			if runningCPUTotal != bus.GetCycleCount() {
				t.Errorf("Step %d: CPU total should be %d, got %d", i, bus.GetCycleCount(), runningCPUTotal)
			}
		}
	})
}
