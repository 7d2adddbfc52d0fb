package protocol

type decodeState int

const (
	stateScanHeader decodeState = iota
	stateLenLow
	stateLenHigh
	stateBody
)

// Decoder reassembles inbound frames from an arbitrary byte stream. Bytes
// outside a frame are discarded until the next '>' header, which resyncs the
// stream after partial reads and line noise.
type Decoder struct {
	state decodeState
	need  int
	lsb   byte
	body  []byte
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes a chunk of stream bytes and returns every frame payload
// completed by it, in arrival order. Returned slices are owned by the caller.
func (d *Decoder) Feed(chunk []byte) [][]byte {
	var frames [][]byte

	for _, c := range chunk {
		switch d.state {
		case stateScanHeader:
			if c == frameStartIn {
				d.state = stateLenLow
			}
		case stateLenLow:
			d.lsb = c
			d.state = stateLenHigh
		case stateLenHigh:
			length := int(d.lsb) | int(c)<<8
			if length == 0 || length > MaxFrameLen {
				d.state = stateScanHeader

				continue
			}
			d.need = length
			d.body = make([]byte, 0, length)
			d.state = stateBody
		case stateBody:
			d.body = append(d.body, c)
			if len(d.body) == d.need {
				frames = append(frames, d.body)
				d.body = nil
				d.state = stateScanHeader
			}
		}
	}

	return frames
}

// Reset drops any partially accumulated frame, for use after a reconnect.
func (d *Decoder) Reset() {
	d.state = stateScanHeader
	d.body = nil
	d.need = 0
}
