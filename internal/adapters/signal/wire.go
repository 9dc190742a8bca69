package signal

import (
	"errors"
	"net/http"

	"github.com/dkeye/rtcsignal/internal/domain"
)

// CandidateWire is the JSON shape browsers use for RTCIceCandidateInit.
// A null or empty candidate means gathering is complete.
type CandidateWire struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

func FromICE(c domain.ICECandidate) CandidateWire {
	return CandidateWire{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex}
}

func (w CandidateWire) ICE() domain.ICECandidate {
	return domain.ICECandidate{Candidate: w.Candidate, SDPMid: w.SDPMid, SDPMLineIndex: w.SDPMLineIndex}
}

func FromRecords(recs []domain.CandidateRecord) []CandidateWire {
	out := make([]CandidateWire, 0, len(recs))
	for _, r := range recs {
		out = append(out, FromICE(r.ICE))
	}
	return out
}

type CandidateRequest struct {
	SessionID string `json:"sessionId"`
	CandidateWire
}

type OfferRequest struct {
	SessionID string `json:"sessionId"`
	SDP       string `json:"sdp"`
}

type SDPResponse struct {
	SDP string `json:"sdp"`
}

type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

type StateRequest struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
}

// PushMessage is written to candidate subscribers.
type PushMessage struct {
	Type       string          `json:"type"`
	Candidates []CandidateWire `json:"candidates,omitempty"`
}

const (
	PushTypeCandidates = "candidates"
	PushTypePing       = "ping"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const (
	CodeNotFound            = "not_found"
	CodeDuplicateSession    = "duplicate_session"
	CodeInvalidTransition   = "invalid_transition"
	CodeDescriptionConflict = "description_conflict"
	CodeSessionTerminated   = "session_terminated"
	CodeSignalingTimeout    = "signaling_timeout"
	CodeTransport           = "transport_error"
	CodeBadRequest          = "bad_request"
	CodeRateLimited         = "rate_limited"
	CodeInternal            = "internal"
)

var (
	ErrRateLimited = domain.ErrRateLimited
	ErrBadRequest  = errors.New("bad request")
)

var codes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{domain.ErrDuplicateSession, http.StatusConflict, CodeDuplicateSession},
	{domain.ErrInvalidTransition, http.StatusConflict, CodeInvalidTransition},
	{domain.ErrDescriptionConflict, http.StatusConflict, CodeDescriptionConflict},
	{domain.ErrSessionTerminated, http.StatusGone, CodeSessionTerminated},
	{domain.ErrSignalingTimeout, http.StatusGatewayTimeout, CodeSignalingTimeout},
	{domain.ErrTransport, http.StatusBadGateway, CodeTransport},
	{ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
	{ErrBadRequest, http.StatusBadRequest, CodeBadRequest},
	{domain.ErrEmptyDescription, http.StatusBadRequest, CodeBadRequest},
	{domain.ErrSessionIDEmpty, http.StatusBadRequest, CodeBadRequest},
	{domain.ErrSessionIDTooLong, http.StatusBadRequest, CodeBadRequest},
	{domain.ErrUnknownRole, http.StatusBadRequest, CodeBadRequest},
	{domain.ErrUnknownState, http.StatusBadRequest, CodeBadRequest},
}

// StatusOf maps an error onto the HTTP status and code of the error envelope.
func StatusOf(err error) (int, string) {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// ErrorOf turns an error envelope back into a sentinel the caller can match.
func ErrorOf(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return domain.ErrTransport
}
