package errors

// Error codes surfaced in API responses.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeUpstreamError     = "upstream_error"
	CodeUpstreamTimeout   = "upstream_timeout"
	CodePaginationOverrun = "pagination_overrun"
	CodeInternalError     = "internal_error"
)

// ErrorResponse is the error body returned by every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
