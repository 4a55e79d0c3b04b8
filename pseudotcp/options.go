package pseudotcp

import "github.com/nullbridge/pseudotcp/header"

// buildConnectOptions encodes the CONNECT control payload's option list:
// opcode byte followed by a TCP-style option list advertising our window
// scale.
func (c *Conn) buildConnectOptions() []byte {
	opts := []header.Option{
		{Kind: header.OptWndScale, Data: []byte{c.rwndScale}},
	}
	payload := make([]byte, 0, 2+len(opts)*4)
	payload = append(payload, header.CtlConnect)
	payload = append(payload, header.EncodeOptions(opts)...)
	return payload
}

// applyConnectOptions parses a peer CONNECT payload's option list (the
// opcode byte must already have been stripped by the caller) and applies
// the options it recognizes: MSS is logged only, WND_SCALE is stored as the
// peer's advertised scale. If the peer's list contains no WND_SCALE option
// at all and we advertised a non-zero scale, the receive buffer reverts to
// its default size and swndScale is cleared, matching the peer's lack of
// window-scaling support.
func (c *Conn) applyConnectOptions(data []byte) {
	opts, ok := header.ParseOptions(data)
	if !ok {
		c.logger().Warn("malformed CONNECT options, dropping")
		return
	}

	sawWndScale := false
	for _, o := range opts {
		switch o.Kind {
		case header.OptMSS:
			c.logger().WithField("len", len(o.Data)).Debug("peer specified MSS option, not applied")
		case header.OptWndScale:
			if len(o.Data) != 1 {
				c.logger().Warn("invalid window scale option received")
				continue
			}
			c.swndScale = o.Data[0]
			sawWndScale = true
		default:
			c.logger().WithField("kind", o.Kind).Debug("unknown CTL_CONNECT option, ignoring")
		}
	}

	if !sawWndScale {
		c.logger().Warn("peer doesn't support window scaling")
		if c.rwndScale > 0 {
			c.resizeReceiveBuffer(defaultRcvBufSize)
			c.swndScale = 0
		}
	}
}

// resizeReceiveBuffer selects the smallest scale factor such that the
// requested size right-shifted by it fits in 16 bits, resizes the receive
// buffer to the rescaled capacity, and raises ssthresh to match. It must
// only be called while in LISTEN.
func (c *Conn) resizeReceiveBuffer(n int) {
	c.rwndScale = scaleFor(n)
	n = (n >> c.rwndScale) << c.rwndScale
	c.rcv.buf.Resize(n)
	c.snd.ssthresh = n
}
