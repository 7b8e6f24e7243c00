// Package homing computes the shortest way back to a home-aligned position
// on a 48-step grid.
package homing

import "github.com/cjeanneret/StepSeq/internal/hw/stepper"

const (
	// GridSteps is the number of steps between two home positions
	// (one revolution of the motor).
	GridSteps = 48

	halfGrid = GridSteps / 2
)

// ComputeReturn maps the signed net displacement since leaving home to the
// number of steps (0..24) and direction that bring the actuator back to the
// nearest home position. Zero steps means it is already home-aligned.
//
// A remainder of exactly half a grid goes the "long" branch: CW after a
// positive displacement, CCW otherwise.
func ComputeReturn(netSteps int32) (int32, stepper.Direction) {
	magnitude := int64(netSteps)
	if magnitude < 0 {
		magnitude = -magnitude
	}
	rotations := magnitude / GridSteps
	remainder := int32(magnitude - GridSteps*rotations)

	steps := remainder
	if remainder >= halfGrid {
		steps = GridSteps - remainder
	}

	var dir stepper.Direction
	if netSteps > 0 {
		dir = stepper.CCW
		if remainder >= halfGrid {
			dir = stepper.CW
		}
	} else {
		dir = stepper.CW
		if remainder >= halfGrid {
			dir = stepper.CCW
		}
	}
	return steps, dir
}
