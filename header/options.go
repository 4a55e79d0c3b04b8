package header

// Control opcodes, per spec.md §4.1. CTL_CONNECT is the only one defined;
// any other value is logged and dropped by the caller.
const (
	CtlConnect uint8 = 0
)

// TCP-style option kinds recognized in the CONNECT payload, per spec.md
// §4.8.
const (
	OptEOL      uint8 = 0
	OptNOOP     uint8 = 1
	OptMSS      uint8 = 2
	OptWndScale uint8 = 3
)

// Option is a single parsed TCP-style option.
type Option struct {
	Kind uint8
	Data []byte
}

// ParseOptions parses a TCP-style option list: each option is
// kind(u8), with EOL and NOOP having no length, and all others followed by
// len(u8) and len bytes of data. Per spec.md §9, the source's
// "ASSERT(len != 0)" for non-EOL/NOOP options is unreachable in practice and
// is treated here as a no-op: a zero-length option is simply returned with
// an empty Data slice rather than rejected.
//
// Malformed input (a length byte or data that runs past the end of b) stops
// parsing and returns what was successfully parsed so far, along with
// false.
func ParseOptions(b []byte) ([]Option, bool) {
	var opts []Option
	for i := 0; i < len(b); {
		kind := b[i]
		if kind == OptEOL {
			break
		}
		if kind == OptNOOP {
			i++
			opts = append(opts, Option{Kind: kind})
			continue
		}
		if i+1 >= len(b) {
			return opts, false
		}
		n := int(b[i+1])
		start := i + 2
		end := start + n
		if end > len(b) {
			return opts, false
		}
		opts = append(opts, Option{Kind: kind, Data: b[start:end]})
		i = end
	}
	return opts, true
}

// EncodeOptions serializes opts as a TCP-style option list, terminated with
// an EOL marker.
func EncodeOptions(opts []Option) []byte {
	var out []byte
	for _, o := range opts {
		if o.Kind == OptEOL || o.Kind == OptNOOP {
			out = append(out, o.Kind)
			continue
		}
		out = append(out, o.Kind, uint8(len(o.Data)))
		out = append(out, o.Data...)
	}
	out = append(out, OptEOL)
	return out
}
