package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/connection"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/service"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/snapshot"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/status"
	"github.com/autopeer-io/spotpeer/pkg/log"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// SelectRequest is the body of PUT /api/v1/lot.
type SelectRequest struct {
	LotID model.LotID `json:"lotId"`
}

// ConnectionInfo is returned by GET /api/v1/connection.
type ConnectionInfo struct {
	connection.ConnectionState
	HasLiveUpdates bool       `json:"hasLiveUpdates"`
	LastUpdate     *time.Time `json:"lastUpdate,omitempty"`
}

type handler struct {
	view   View
	logger log.Logger
}

func (h *handler) ready(w http.ResponseWriter, _ *http.Request) {
	if !h.view.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) activeLot(w http.ResponseWriter, _ *http.Request) {
	writeData(w, h.view.Baseline())
}

func (h *handler) selectLot(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.LotID <= 0 {
		writeError(w, http.StatusBadRequest, "lotId must be positive")
		return
	}

	if err := h.view.Select(r.Context(), req.LotID); err != nil {
		h.fail(w, err)
		return
	}
	writeData(w, h.view.Baseline())
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.view.Refresh(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeData(w, h.view.Baseline())
}

func (h *handler) requestStatus(w http.ResponseWriter, r *http.Request) {
	if err := h.view.RequestStatus(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Response{Success: true, Message: "status requested"})
}

func (h *handler) spots(w http.ResponseWriter, r *http.Request) {
	lot, ok := lotParam(w, r)
	if !ok {
		return
	}

	f := service.Filter{Floor: r.URL.Query().Get("floor")}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := status.Parse(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(raw))
			return
		}
		f.Status = &st
	}

	spots, err := h.view.MergedView(lot, f)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeData(w, map[string]any{"parkingSpots": spots})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	lot, ok := lotParam(w, r)
	if !ok {
		return
	}
	stats, err := h.view.Stats(lot)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeData(w, stats)
}

func (h *handler) floors(w http.ResponseWriter, r *http.Request) {
	lot, ok := lotParam(w, r)
	if !ok {
		return
	}
	floors, err := h.view.Floors(lot)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeData(w, map[string]any{"floors": floors})
}

func (h *handler) liveStats(w http.ResponseWriter, r *http.Request) {
	lot, ok := lotParam(w, r)
	if !ok {
		return
	}
	report, ok := h.view.LotStats(lot)
	if !ok {
		writeError(w, http.StatusNotFound, "no lot-stats-update received for lot "+lot.String())
		return
	}
	writeData(w, report)
}

func (h *handler) sensor(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sensorId"]
	reading, ok := h.view.Sensor(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no sensor-update received for sensor "+strconv.Quote(id))
		return
	}
	writeData(w, reading)
}

func (h *handler) connection(w http.ResponseWriter, _ *http.Request) {
	writeData(w, h.connectionInfo())
}

func (h *handler) connect(w http.ResponseWriter, _ *http.Request) {
	h.view.Connect()
	writeJSON(w, http.StatusAccepted, Response{Success: true, Data: h.connectionInfo()})
}

func (h *handler) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.view.Disconnect(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeData(w, h.connectionInfo())
}

func (h *handler) connectionInfo() ConnectionInfo {
	info := ConnectionInfo{
		ConnectionState: h.view.Connection(),
		HasLiveUpdates:  h.view.HasLiveUpdates(),
	}
	if info.HasLiveUpdates {
		last := h.view.LastUpdate()
		info.LastUpdate = &last
	}
	return info
}

// fail maps domain errors onto HTTP status codes.
func (h *handler) fail(w http.ResponseWriter, err error) {
	var (
		te *snapshot.TransportError
		de *snapshot.DataError
	)

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrLotNotSelected), errors.Is(err, service.ErrStaleSnapshot):
		code = http.StatusConflict
	case errors.Is(err, connection.ErrNotConnected):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.As(err, &te), errors.As(err, &de):
		code = http.StatusBadGateway
	}

	if code == http.StatusInternalServerError {
		h.logger.Error(err, "Request failed")
	}
	writeError(w, code, err.Error())
}

func lotParam(w http.ResponseWriter, r *http.Request) (model.LotID, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["lotId"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid lot id")
		return 0, false
	}
	return model.LotID(id), true
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, Response{Success: false, Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
