package kfmt

// sizeUnits lists the suffixes used by SizeUnits in increasing order.
var sizeUnits = [...]string{"B", "KiB", "MiB", "GiB", "TiB"}

// SizeUnits scales a byte count down to the largest unit in which it is at
// least 1 and returns the scaled value (rounded down) with the unit suffix.
func SizeUnits(bytes uint64) (uint64, string) {
	unit := 0
	for bytes >= 1024 && unit < len(sizeUnits)-1 {
		bytes >>= 10
		unit++
	}

	return bytes, sizeUnits[unit]
}
