package safe

import (
	"math"
)

// IntToUint32 safely converts an int value to uint32, clamping negative values to 0
// and values above math.MaxUint32 to math.MaxUint32.
// Returns the converted value and a boolean indicating whether clamping occurred.
func IntToUint32(val int) (uint32, bool) {
	if val < 0 {
		return 0, true
	}
	if uint64(val) > math.MaxUint32 {
		return math.MaxUint32, true
	}
	return uint32(val), false
}

// IntToUint16 safely converts an int value to uint16, clamping negative values to 0
// and values above math.MaxUint16 to math.MaxUint16.
// Returns the converted value and a boolean indicating whether clamping occurred.
func IntToUint16(val int) (uint16, bool) {
	if val < 0 {
		return 0, true
	}
	if val > math.MaxUint16 {
		return math.MaxUint16, true
	}
	return uint16(val), false
}

// Int64ToUint64 safely converts an int64 value to uint64, clamping negative values to 0.
// Returns the converted value and a boolean indicating whether clamping occurred.
func Int64ToUint64(val int64) (uint64, bool) {
	if val < 0 {
		return 0, true
	}
	return uint64(val), false
}

// IntToInt32 safely converts an int value to int32, clamping to the int32 range.
// Returns the converted value and a boolean indicating whether clamping occurred.
func IntToInt32(val int) (int32, bool) {
	if val > math.MaxInt32 {
		return math.MaxInt32, true
	}
	if val < math.MinInt32 {
		return math.MinInt32, true
	}
	return int32(val), false
}
