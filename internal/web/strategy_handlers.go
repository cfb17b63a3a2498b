package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"github.com/vitos/crypto_trade_pinbar/internal/usecase"
	"go.uber.org/zap"
)

type startResponse struct {
	ID string `json:"id"`
}

type stopResponse struct {
	ID      string `json:"id"`
	Stopped bool   `json:"stopped"`
}

func (s *Server) handleStartStrategy(w http.ResponseWriter, r *http.Request) {
	var cfg domain.StrategyConfig
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := s.registry.Start(r.Context(), cfg)
	if err != nil {
		var conflict *domain.ConflictError
		switch {
		case errors.As(err, &conflict):
			s.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, domain.ErrUnknownExchange):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("Failed to start strategy", zap.String("symbol", cfg.Symbol), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to start strategy")
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, startResponse{ID: id})
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, domain.ErrInstanceNotFound.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rec.Summary())
}

func (s *Server) handleStopStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stopped, err := s.registry.Stop(r.Context(), id)
	if !stopped {
		s.writeError(w, http.StatusNotFound, domain.ErrInstanceNotFound.Error())
		return
	}
	if err != nil {
		// The loop is gone; only the store cleanup failed.
		s.logger.Error("Strategy stopped but not removed from store", zap.String("instance", id), zap.Error(err))
	}
	s.writeJSON(w, http.StatusOK, stopResponse{ID: id, Stopped: true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, usecase.AnalyzeTrades(s.registry.List()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"strategies": len(s.registry.List()),
	})
}
