package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"meshbridge/internal/domain"
	"meshbridge/internal/session"
)

// Error codes carried in the "error" field of an error envelope.
const (
	errInvalidContentLength = "invalid_content_length"
	errMissingBody          = "missing_body"
	errBodyTooLarge         = "body_too_large"
	errInvalidJSON          = "invalid_json"
	errJSONObjectRequired   = "json_object_required"

	errFieldSerialPortRequired = "field_serial_port_required"
	errFieldSerialPortInvalid  = "field_serial_port_invalid"
	errInvalidSerialConfig     = "invalid_serial_config"
	errFieldTextRequired       = "field_text_required"
	errTextTooLong             = "text_too_long"
	errFieldPeerInvalid        = "field_peer_invalid"
	errFieldToInvalid          = "field_to_invalid"
	errFieldToNotFound         = "field_to_not_found"
	errFieldChannelInvalid     = "field_channel_invalid"

	errSetNameFailed     = "set_name_failed"
	errSendPrivateFailed = "send_private_failed"
	errSendChannelFailed = "send_channel_failed"

	errTransportNotConnected = "transport_not_connected"
	errMeshcoreTimeout       = "meshcore_timeout"
	errMeshcoreUnreachable   = "meshcore_unreachable"

	errNotFound      = "not_found"
	errInternalError = "internal_error"
)

type errorEnvelope struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // best-effort write, the client may be gone
		json.NewEncoder(w).Encode(v)
	}
}

// writeOK merges extra top-level fields into an ok envelope, matching the
// flat config response shape.
func writeOK(w http.ResponseWriter, fields map[string]any) {
	out := map[string]any{"status": "ok"}
	for k, v := range fields {
		out[k] = v
	}
	writeJSON(w, http.StatusOK, out)
}

// writeData wraps a payload in the standard ok envelope.
func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "data": data})
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorEnvelope{Status: "error", Error: code, Detail: detail})
}

// writeSessionError maps a device operation error onto the error taxonomy.
// deviceErrCode names the operation-specific code used when the device
// itself rejected the command.
func writeSessionError(w http.ResponseWriter, err error, deviceErrCode string) {
	switch {
	case errors.Is(err, session.ErrNotReady):
		writeError(w, http.StatusBadGateway, errTransportNotConnected, err.Error())
	case errors.Is(err, session.ErrTimeout):
		writeError(w, http.StatusBadGateway, errMeshcoreTimeout, err.Error())
	case errors.Is(err, session.ErrTransportLost):
		writeError(w, http.StatusBadGateway, errMeshcoreUnreachable, err.Error())
	case errors.Is(err, session.ErrDeviceError):
		writeError(w, http.StatusBadRequest, deviceErrCode, err.Error())
	case errors.Is(err, domain.ErrContactInvalid):
		writeError(w, http.StatusBadRequest, errFieldToInvalid, err.Error())
	case errors.Is(err, domain.ErrContactNotFound):
		writeError(w, http.StatusBadRequest, errFieldToNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, errInternalError, err.Error())
	}
}
