package ring

// Slice is a logically contiguous view over possibly wrapping bytes of a ring
// buffer. It never owns memory: the view stays valid only while the producing
// buffer retains the region.
//
// The backing storage length is always a power of two, so every access is an
// offset masked with len-1.
type Slice struct {
	data  []byte
	mask  uint64
	start uint64
	size  int
}

// NewSlice constructs a view over data starting at the absolute offset start.
//
// len(data) must be a power of two and size must not exceed it.
func NewSlice(data []byte, start uint64, size int) Slice {
	if len(data)&(len(data)-1) != 0 {
		panic("ring: slice storage must be a power of two")
	}
	if size > len(data) {
		panic("ring: slice size exceeds storage")
	}
	return Slice{data: data, mask: uint64(len(data) - 1), start: start, size: size}
}

// Len returns the number of visible bytes.
func (s Slice) Len() int { return s.size }

// At returns the byte at index i.
func (s Slice) At(i int) byte {
	return s.data[(s.start+uint64(i))&s.mask]
}

// SubSlice returns a view over size bytes starting at oft.
func (s Slice) SubSlice(oft, size int) Slice {
	if oft+size > s.size {
		panic("ring: sub slice out of range")
	}
	return Slice{data: s.data, mask: s.mask, start: s.start + uint64(oft), size: size}
}

// Segments invokes visit with the one or two contiguous spans making up the
// view, in order. oft is the logical offset of the span within the slice.
func (s Slice) Segments(visit func(span []byte, oft int, last bool)) {
	if s.size == 0 {
		return
	}
	first := s.start & s.mask
	if n := len(s.data) - int(first); n < s.size {
		visit(s.data[first:], 0, false)
		visit(s.data[:s.size-n], n, true)
		return
	}
	visit(s.data[first:int(first)+s.size], 0, true)
}

// Bytes copies the visible bytes out into a fresh slice.
func (s Slice) Bytes() []byte {
	out := make([]byte, 0, s.size)
	s.Segments(func(span []byte, _ int, _ bool) {
		out = append(out, span...)
	})
	return out
}

// CopyTo copies min(len(dst), s.Len()) bytes into dst and returns the count.
func (s Slice) CopyTo(dst []byte) int {
	n := min(len(dst), s.size)
	for i := 0; i < n; i++ {
		dst[i] = s.At(i)
	}
	return n
}

// Find returns the index of the first occurrence of b at or after oft, or -1.
func (s Slice) Find(oft int, b byte) int {
	for i := oft; i < s.size; i++ {
		if s.At(i) == b {
			return i
		}
	}
	return -1
}

// FindCRLF returns the index of the '\r' of the first "\r\n" pair at or after
// oft, or -1 if the pair is not present.
func (s Slice) FindCRLF(oft int) int {
	for {
		i := s.Find(oft, '\r')
		if i < 0 || i+1 >= s.size {
			return -1
		}
		if s.At(i+1) == '\n' {
			return i
		}
		oft = i + 1
	}
}

// StartsWith reports whether the slice begins with want at oft.
func (s Slice) StartsWith(oft int, want []byte) bool {
	if oft+len(want) > s.size {
		return false
	}
	for i, b := range want {
		if s.At(oft+i) != b {
			return false
		}
	}
	return true
}

// EqualIgnoreCase reports whether size bytes at oft equal want under ASCII
// case folding. want must already be lower case.
func (s Slice) EqualIgnoreCase(oft int, want []byte) bool {
	if oft+len(want) > s.size {
		return false
	}
	for i, b := range want {
		c := s.At(oft + i)
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != b {
			return false
		}
	}
	return true
}

func (s Slice) String() string { return string(s.Bytes()) }
