package core

// itoa converts an integer to a string without using fmt package
// This is a lightweight alternative for embedded systems
func itoa(n int) string {
	if n < 0 {
		return "-" + utoa(uint32(-n))
	}
	return utoa(uint32(n))
}

// utoa converts an unsigned integer to a string
func utoa(n uint32) string {
	if n == 0 {
		return "0"
	}

	var buf [10]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

// ftoa formats f with three decimals, enough for cm and m/s readings
func ftoa(f float32) string {
	if f != f {
		return "NaN"
	}
	neg := f < 0
	if neg {
		f = -f
	}
	milli := uint32(f*1000 + 0.5)
	frac := utoa(milli % 1000)
	for len(frac) < 3 {
		frac = "0" + frac
	}
	s := utoa(milli/1000) + "." + frac
	if neg {
		s = "-" + s
	}
	return s
}

// FormatFloat formats a reading with three decimals without fmt
func FormatFloat(f float32) string {
	return ftoa(f)
}

// valueToString converts a dictionary constant to its string form
func valueToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return itoa(val)
	case int32:
		return itoa(int(val))
	case uint32:
		return utoa(val)
	case bool:
		if val {
			return "1"
		}
		return "0"
	case float32:
		return ftoa(val)
	default:
		return ""
	}
}
