package httpmsg

// BodyState distinguishes the three states a message body can be in.
type BodyState int

const (
	// BodyAbsent means the message has no body at all.
	BodyAbsent BodyState = iota
	// BodyPresent means Bytes holds the full, captured body.
	BodyPresent
	// BodyElided means a body existed on the wire but was not
	// captured (e.g. body_size_limit exceeded under "skip body"
	// policy). Assembly must fail explicitly rather than silently
	// emit zero bytes.
	BodyElided
)

// Body is the three-state content sentinel: Absent | Bytes(b) | Elided.
type Body struct {
	state BodyState
	bytes []byte
}

// Absent returns a Body in the BodyAbsent state.
func Absent() Body { return Body{state: BodyAbsent} }

// Bytes returns a Body holding b.
func Bytes(b []byte) Body { return Body{state: BodyPresent, bytes: b} }

// Elided returns a Body in the BodyElided state.
func Elided() Body { return Body{state: BodyElided} }

// State returns the body's state.
func (b Body) State() BodyState { return b.state }

// Present reports whether the body carries captured bytes. Absent and
// Elided are both "falsy" for presence checks.
func (b Body) Present() bool { return b.state == BodyPresent }

// Data returns the captured bytes, or nil if the body is not
// BodyPresent.
func (b Body) Data() []byte {
	if b.state != BodyPresent {
		return nil
	}
	return b.bytes
}

// Len returns the length of the captured bytes, 0 otherwise.
func (b Body) Len() int {
	if b.state != BodyPresent {
		return 0
	}
	return len(b.bytes)
}

// WithData returns a copy of b with BodyPresent data replaced by d.
func (b Body) WithData(d []byte) Body {
	if b.state != BodyPresent {
		return b
	}
	return Body{state: BodyPresent, bytes: d}
}
