package proxy

// Kind names one of the error kinds from the spec's error-handling design.
// These are kind labels, not Go error types: they appear verbatim in the
// JSON error bodies the handler emits.
type Kind string

const (
	KindInvalidRequest     Kind = "invalid_request"
	KindBodyTooLarge       Kind = "body_too_large"
	KindCassetteMiss       Kind = "cassette_miss"
	KindUpstreamTimeout    Kind = "upstream_timeout"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindStoreIO            Kind = "store_io"
	KindConfigInvalid      Kind = "config_invalid"
	KindModeInvalid        Kind = "mode_invalid"
)
