package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonAudioFormat      ReasonCode = "audio_format"
	ReasonIngressQueueFull ReasonCode = "ingress_queue_full"

	ReasonSTTConnect      ReasonCode = "stt_connect"
	ReasonSTTSend         ReasonCode = "stt_send"
	ReasonSTTNotConnected ReasonCode = "stt_not_connected"
	ReasonSTTStream       ReasonCode = "stt_stream"

	ReasonTTSConnect     ReasonCode = "tts_connect"
	ReasonTTSSend        ReasonCode = "tts_send"
	ReasonTTSRateLimit   ReasonCode = "tts_rate_limit"
	ReasonTTSCircuitOpen ReasonCode = "tts_circuit_open"

	ReasonLLMGenerate    ReasonCode = "llm_generate"
	ReasonLLMStream      ReasonCode = "llm_stream"
	ReasonLLMRateLimit   ReasonCode = "llm_rate_limit"
	ReasonLLMCircuitOpen ReasonCode = "llm_circuit_open"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportClosed           ReasonCode = "transport_closed"
	ReasonCallDial                  ReasonCode = "call_dial"
	ReasonCallHangup                ReasonCode = "call_hangup"

	ReasonProtocolUnexpected ReasonCode = "protocol_unexpected"
	ReasonProtocolMalformed  ReasonCode = "protocol_malformed"
)
