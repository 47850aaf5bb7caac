package display

import (
	"errors"
	"fmt"
)

// CoordinateReason categorizes coordinate failures.
type CoordinateReason string

const (
	ReasonOutOfBounds CoordinateReason = "out_of_bounds"
	ReasonMalformed   CoordinateReason = "malformed"
	ReasonNegative    CoordinateReason = "negative"
)

// CoordinateError is returned for out-of-range or malformed coordinates.
// It fails the tool call that carried the coordinate, not the session.
type CoordinateError struct {
	X, Y   int
	Raw    []int
	Reason CoordinateReason
}

func (e *CoordinateError) Error() string {
	switch e.Reason {
	case ReasonOutOfBounds:
		return fmt.Sprintf("Coordinates %d, %d are out of bounds", e.X, e.Y)
	case ReasonNegative:
		return fmt.Sprintf("%v must be a tuple of non-negative ints", e.Raw)
	default:
		return fmt.Sprintf("%v must be a tuple of length 2", e.Raw)
	}
}

// IsCoordinateError reports whether err is or wraps a *CoordinateError.
func IsCoordinateError(err error) bool {
	var coordErr *CoordinateError
	return errors.As(err, &coordErr)
}

// Coordinate is a validated, non-negative model coordinate.
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ParseCoordinate validates a raw [x, y] pair.
func ParseCoordinate(raw []int) (Coordinate, error) {
	if len(raw) != 2 {
		return Coordinate{}, &CoordinateError{Raw: raw, Reason: ReasonMalformed}
	}
	if raw[0] < 0 || raw[1] < 0 {
		return Coordinate{}, &CoordinateError{X: raw[0], Y: raw[1], Raw: raw, Reason: ReasonNegative}
	}
	return Coordinate{X: raw[0], Y: raw[1]}, nil
}
