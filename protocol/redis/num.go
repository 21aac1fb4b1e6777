package redis

import "github.com/weibocom/breeze-sub003/ds/ring"

type numState uint8

const (
	stOK numState = iota
	stPartial
	stInvalid
)

// parseNum reads the signed decimal length line starting at oft, returning
// the value and the offset just past its CRLF. stPartial means the CRLF has
// not arrived yet.
func parseNum(data ring.Slice, oft int) (val int64, next int, st numState) {
	i := oft
	neg := false
	if i < data.Len() && data.At(i) == '-' {
		neg = true
		i++
	}
	digits := 0
	for ; i < data.Len(); i++ {
		c := data.At(i)
		if c >= '0' && c <= '9' {
			val = val*10 + int64(c-'0')
			digits++
			continue
		}
		if c == '\r' {
			if digits == 0 || i+1 >= data.Len() {
				if digits == 0 {
					return 0, 0, stInvalid
				}
				return 0, 0, stPartial
			}
			if data.At(i+1) != '\n' {
				return 0, 0, stInvalid
			}
			if neg {
				val = -val
			}
			return val, i + 2, stOK
		}
		return 0, 0, stInvalid
	}
	return 0, 0, stPartial
}
