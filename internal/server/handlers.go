// ABOUTME: REST handlers for status, outputs, defaults, and orchestration
// ABOUTME: Mutation paths surface failures explicitly; refresh broadcasts stay best-effort
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/alphalpha/live-input-to-airplay/internal/defaults"
	"github.com/alphalpha/live-input-to-airplay/pkg/model"
)

func (s *Server) currentStatus(r *http.Request) model.Status {
	return model.NewStatus(
		s.services.IsActive(r.Context(), s.cfg.CoreUnit),
		s.services.IsActive(r.Context(), s.cfg.PipeUnit),
	)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.currentStatus(r))
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	outs, err := s.outputs.ListOutputs(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	outs = defaults.Annotate(outs, s.defaults.Read())
	if outs == nil {
		outs = []model.Output{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"outputs": outs})
}

// outputUpdate is the PUT /api/outputs/{id} body. Every field is
// optional; absent fields leave the corresponding state untouched.
type outputUpdate struct {
	Selected      *bool `json:"selected"`
	Volume        *int  `json:"volume"`
	Default       *bool `json:"default"`
	DefaultVolume *int  `json:"default_volume"`
}

func (s *Server) handleUpdateOutput(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid output id")
		return
	}

	var body outputUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := s.applyDefaultChanges(r, id, body); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Forward live selection and volume to OwnTone.
	if body.Selected != nil {
		if err := s.outputs.SetSelected(r.Context(), id, *body.Selected); err != nil {
			s.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	if body.Volume != nil {
		if err := s.outputs.SetVolume(r.Context(), id, *body.Volume); err != nil {
			s.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}

	s.broadcastOutputs(r)
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// applyDefaultChanges persists default flag and volume updates. Making
// an output a default without an explicit volume samples its current
// live volume, falling back to 50 when upstream cannot answer.
func (s *Server) applyDefaultChanges(r *http.Request, id int, body outputUpdate) error {
	if body.Default == nil && body.DefaultVolume == nil {
		return nil
	}

	key := strconv.Itoa(id)
	defs := s.defaults.Read()

	if body.Default != nil {
		if *body.Default {
			switch {
			case body.DefaultVolume != nil:
				defs[key] = model.Clamp(*body.DefaultVolume)
			default:
				defs[key] = s.sampleLiveVolume(r, id)
			}
		} else {
			delete(defs, key)
		}
	}
	if body.DefaultVolume != nil {
		defs[key] = model.Clamp(*body.DefaultVolume)
	}

	return s.defaults.Write(defs)
}

func (s *Server) sampleLiveVolume(r *http.Request, id int) int {
	outs, err := s.outputs.ListOutputs(r.Context())
	if err != nil {
		return 50
	}
	for _, o := range outs {
		if o.ID == id {
			return model.Clamp(o.Volume)
		}
	}
	return 50
}

func (s *Server) handleGetDefaults(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"defaults": s.defaults.Read()})
}

type defaultsUpdate struct {
	Defaults map[string]int `json:"defaults"`
}

func (s *Server) handleSetDefaults(w http.ResponseWriter, r *http.Request) {
	var body defaultsUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Defaults == nil {
		s.writeError(w, http.StatusBadRequest, "expected body { defaults: {id: volume, ...} }")
		return
	}

	if err := s.defaults.Write(defaults.Map(body.Defaults)); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.broadcastOutputs(r)
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.Start(r.Context()); err != nil {
		s.logger.Error("start orchestration failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	status := s.orchestrator.Stop(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"core_active": status.CoreActive,
		"pipe_active": status.PipeActive,
	})
}

// broadcastOutputs pushes a refreshed, annotated output list to all
// subscribers. The mutation that triggered it already succeeded, so a
// failed refresh is logged and dropped rather than surfaced.
func (s *Server) broadcastOutputs(r *http.Request) {
	outs, err := s.outputs.ListOutputs(r.Context())
	if err != nil {
		s.logger.Debug("post-mutation refresh failed", zap.Error(err))
		return
	}
	outs = defaults.Annotate(outs, s.defaults.Read())
	s.hub.Broadcast(model.NewOutputsEvent(outs))
}
