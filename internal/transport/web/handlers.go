package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/errs"
)

type errorBody struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) call(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := logging.WithAttrs(r.Context(),
		slog.String("component", "transport.web"),
		slog.String("endpoint", name),
	)

	endpoint, ok := h.endpoints.Lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown endpoint: " + name})
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	res, err := h.gateway.Request(ctx, endpoint.Request(body))
	if err != nil {
		status, payload := mapError(err)
		level := logging.Warn
		if status >= http.StatusInternalServerError {
			level = logging.Error
		}
		level(ctx, "endpoint call failed", slog.Int("status", status), slog.Any("err", errs.Loggable(err)))
		writeJSON(w, status, payload)
		return
	}

	if res.FromCache {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, res)
}

// readBody accepts an empty body or a JSON object.
func readBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.New("request body too large or unreadable")
	}
	if strings.TrimSpace(string(raw)) == "" {
		return map[string]any{}, nil
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errors.New("request body must be a JSON object")
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

// mapError turns the gateway taxonomy into an HTTP answer. Upstream and
// credential details stay in the logs.
func mapError(err error) (int, errorBody) {
	var (
		valErr  *errs.ValidationError
		authErr *errs.AuthenticationError
		netErr  *errs.NetworkError
		upErr   *errs.UpstreamError
	)
	switch {
	case errors.As(err, &valErr) && valErr.Reason != "":
		return http.StatusBadRequest, errorBody{Error: "Invalid field " + valErr.Field + ": " + valErr.Reason}
	case errors.As(err, &valErr):
		return http.StatusBadRequest, errorBody{Error: "Missing or empty required field: " + valErr.Field}
	case errors.As(err, &authErr):
		return http.StatusBadGateway, errorBody{Error: "authentication with the MPS API failed"}
	case errors.As(err, &netErr):
		return http.StatusGatewayTimeout, errorBody{Error: "MPS API unreachable"}
	case errors.As(err, &upErr):
		return http.StatusBadGateway, errorBody{Error: upErr.Message, UpstreamStatus: upErr.StatusCode}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
