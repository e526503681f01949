package frames

// Metadata keys shared by transports, providers and the controller.
const (
	MetaStreamID      = "stream_id"
	MetaCallSID       = "call_sid"
	MetaTraceID       = "trace_id"
	MetaFromNumber    = "from_number"
	MetaSource        = "source"
	MetaReason        = "reason"
	MetaEncoding      = "encoding"
	MetaMarkName      = "mark_name"
	MetaCallEndReason = "call_end_reason"
	MetaOldStreamID   = "old_stream_id"
)

// Payload encodings.
const (
	EncodingMulaw    = "mulaw"
	EncodingLinear16 = "linear16"
)
