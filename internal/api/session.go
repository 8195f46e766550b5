package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"realtime-dashboard/internal/realtime"
	"realtime-dashboard/internal/session"
	"realtime-dashboard/internal/telemetry"
	"realtime-dashboard/internal/textnorm"
)

// StartSessionRequest represents a request to open a realtime session.
// Empty fields fall back to the configured defaults.
type StartSessionRequest struct {
	Credential string `json:"credential"`
	Voice      string `json:"voice"`
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
}

// HealthResponse represents the liveness response.
type HealthResponse struct {
	Status        string        `json:"status"`
	State         session.State `json:"state"`
	MicClients    int           `json:"micClients"`
	DroppedFrames int           `json:"droppedFrames"`
}

// SessionOptionsResponse lists what a start request may choose from.
type SessionOptionsResponse struct {
	Voices        []string `json:"voices"`
	PricedModels  []string `json:"pricedModels"`
	DefaultVoice  string   `json:"defaultVoice"`
	DefaultModel  string   `json:"defaultModel"`
	DefaultPrompt string   `json:"defaultPrompt"`
	HasCredential bool     `json:"hasCredential"`
}

// PricingResponse represents the rate tables in effect.
type PricingResponse struct {
	Default telemetry.PricingConfig            `json:"default"`
	Models  map[string]telemetry.PricingConfig `json:"models"`
	Model   string                             `json:"model"`
	Current telemetry.PricingConfig            `json:"current"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		State:         s.session.State(),
		MicClients:    s.relay.Clients(),
		DroppedFrames: s.relay.Dropped(),
	})
}

func (s *Server) handleSessionOptions(w http.ResponseWriter, r *http.Request) {
	rt := s.config.Realtime
	writeJSON(w, http.StatusOK, SessionOptionsResponse{
		Voices:        rt.Voices,
		PricedModels:  s.pricing.Table().ModelIDs(),
		DefaultVoice:  rt.DefaultVoice,
		DefaultModel:  rt.DefaultModel,
		DefaultPrompt: rt.DefaultPrompt,
		HasCredential: rt.APIKey != "",
	})
}

// handleStartSession acquires the microphone relay and connects upstream.
// It returns once the session is established or has failed.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "Invalid request body")
		return
	}

	rt := s.config.Realtime
	params := session.ConnectParams{
		Credential: strings.TrimSpace(req.Credential),
		Voice:      strings.TrimSpace(req.Voice),
		Model:      strings.TrimSpace(req.Model),
		Prompt:     textnorm.Prompt(req.Prompt),
	}
	if params.Credential == "" {
		params.Credential = rt.APIKey
	}
	if params.Credential == "" {
		writeBadRequest(w, "Credential is required")
		return
	}
	if params.Voice == "" {
		params.Voice = rt.DefaultVoice
	}
	if !rt.HasVoice(params.Voice) {
		writeBadRequest(w, "Unknown voice")
		return
	}
	if params.Model == "" {
		params.Model = rt.DefaultModel
	}
	if params.Prompt == "" {
		params.Prompt = rt.DefaultPrompt
	}

	if err := s.session.Start(r.Context(), params); err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyConnected), errors.Is(err, session.ErrStartAborted):
			writeConflict(w, err.Error())
		case errors.Is(err, realtime.ErrNoAudioClient), errors.Is(err, realtime.ErrCaptureBusy):
			writeConflict(w, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, s.session.View())
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	s.session.Stop()
	writeJSON(w, http.StatusOK, s.session.View())
}

func (s *Server) handleResetTotals(w http.ResponseWriter, r *http.Request) {
	if err := s.session.ResetTotals(); err != nil {
		if errors.Is(err, session.ErrConnected) {
			writeConflict(w, "Cannot reset totals while connected")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.session.View())
}

func (s *Server) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	s.session.ClearEvents()
	writeSuccess(w, "Events cleared")
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.View())
}

// handleSessionStream writes one NDJSON line per published view until the
// client goes away.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeBadRequest(w, "Streaming not supported")
		return
	}

	updates, cancel := s.session.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(update)
			if err != nil {
				log.Printf("session stream: encode update: %v", err)
				writeStreamError(w, "encode update failed")
				return
			}
			if _, err := w.Write(append(data, '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	table := s.pricing.Table()
	writeJSON(w, http.StatusOK, PricingResponse{
		Default: table.Default,
		Models:  table.Models,
		Model:   s.session.Params().Model,
		Current: s.session.Pricing(),
	})
}
