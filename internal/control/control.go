// Package control exposes the HTTP surface used to trigger and inspect the
// session engine without a wake-word detector:
//
//   - POST /wake      starts a turn (barge-in when a response is playing)
//   - POST /wake/end  closes the wake window
//   - POST /volume    {"volume": 80}, {"delta": -10} or {"step": "up"}
//   - GET  /status    session engine snapshot
package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/MrWong99/voxgate/internal/playback"
	"github.com/MrWong99/voxgate/internal/session"
)

// OriginHTTP tags wake events posted through this package.
const OriginHTTP = "http"

// maxBody bounds request bodies.
const maxBody = 4 << 10

const defaultVolumeStep = 10

// Engine is the part of [session.Engine] the control surface drives.
type Engine interface {
	Wake(ctx context.Context, origin string) error
	Post(ctx context.Context, ev session.Event) error
	Status() session.Status
}

// Mixer is the volume control of the playback engine.
type Mixer interface {
	Volume() int
	SetVolume(percent int) int
	AdjustVolume(delta int) int
}

var (
	_ Engine = (*session.Engine)(nil)
	_ Mixer  = (*playback.Engine)(nil)
)

// Handler serves the control routes.
type Handler struct {
	engine Engine
	mixer  Mixer
	step   int
}

// Option customises a [Handler].
type Option func(*Handler)

// WithVolumeStep sets the increment applied by {"step": "up"|"down"}.
// Default: 10.
func WithVolumeStep(step int) Option {
	return func(h *Handler) {
		if step > 0 {
			h.step = step
		}
	}
}

// New creates a [Handler].
func New(engine Engine, mixer Mixer, opts ...Option) *Handler {
	h := &Handler{engine: engine, mixer: mixer, step: defaultVolumeStep}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the control routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /wake", h.wake)
	mux.HandleFunc("POST /wake/end", h.wakeEnd)
	mux.HandleFunc("POST /volume", h.volume)
	mux.HandleFunc("GET /status", h.status)
}

type statusResponse struct {
	session.Status
	Volume int `json:"volume"`
}

type volumeRequest struct {
	Volume *int    `json:"volume"`
	Delta  *int    `json:"delta"`
	Step   *string `json:"step"`
}

func (r volumeRequest) fields() int {
	n := 0
	if r.Volume != nil {
		n++
	}
	if r.Delta != nil {
		n++
	}
	if r.Step != nil {
		n++
	}
	return n
}

type volumeResponse struct {
	Volume int `json:"volume"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) wake(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Wake(r.Context(), OriginHTTP); err != nil {
		h.postFailed(w, r, "wake", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) wakeEnd(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Post(r.Context(), session.WakeEnd{}); err != nil {
		h.postFailed(w, r, "wake end", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) postFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, session.ErrStopped) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "session engine stopped"})
		return
	}
	slog.WarnContext(r.Context(), "control: post failed", "op", op, "err", err)
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
}

func (h *Handler) volume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body: " + err.Error()})
		return
	}

	if req.fields() != 1 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "set exactly one of volume, delta or step"})
		return
	}

	var v int
	switch {
	case req.Volume != nil:
		if *req.Volume < 0 || *req.Volume > 100 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "volume must be within [0, 100]"})
			return
		}
		v = h.mixer.SetVolume(*req.Volume)
	case req.Delta != nil:
		v = h.mixer.AdjustVolume(*req.Delta)
	default:
		switch *req.Step {
		case "up":
			v = h.mixer.AdjustVolume(h.step)
		case "down":
			v = h.mixer.AdjustVolume(-h.step)
		default:
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: `step must be "up" or "down"`})
			return
		}
	}
	slog.InfoContext(r.Context(), "volume changed", "volume", v)
	writeJSON(w, http.StatusOK, volumeResponse{Volume: v})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: h.engine.Status(), Volume: h.mixer.Volume()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
