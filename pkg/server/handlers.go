package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/tonetuner"
	"github.com/kadirpekel/tonetuner/pkg/auth"
	"github.com/kadirpekel/tonetuner/pkg/clock"
	"github.com/kadirpekel/tonetuner/pkg/converter"
	"github.com/kadirpekel/tonetuner/pkg/cost"
	"github.com/kadirpekel/tonetuner/pkg/ratelimit"
)

// maxBodyBytes bounds a convert request body.
const maxBodyBytes = 1 << 20

type convertRequest struct {
	Text string `json:"text"`
	Tone string `json:"tone"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": tonetuner.GetVersion().Version})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var body convertRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, string(converter.KindValidation), "invalid JSON body: "+err.Error())
		return
	}

	userID := s.userID(w, r, true)
	res, err := s.app.Convert(r.Context(), converter.Request{
		UserID: userID,
		Text:   body.Text,
		Tone:   body.Tone,
	})
	if err != nil {
		writeConvertError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	userID := s.userID(w, r, false)
	if userID == "" {
		writeError(w, http.StatusBadRequest, string(converter.KindValidation), "missing user id")
		return
	}

	status, err := s.app.UserQuota(r.Context(), userID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := s.userID(w, r, false)
	if userID == "" {
		writeError(w, http.StatusBadRequest, string(converter.KindValidation), "missing user id")
		return
	}
	if s.app.History == nil {
		writeError(w, http.StatusNotFound, "not_found", "history is disabled")
		return
	}

	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(converter.KindValidation), err.Error())
		return
	}
	entries, err := s.app.History.List(r.Context(), userID, limit)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleTones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tones": s.app.Tones.IDs()})
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	status, err := s.app.Status(r.Context())
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDailyCost(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = clock.DayKey(s.app.Clock().Now())
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		writeError(w, http.StatusBadRequest, string(converter.KindValidation), "date must be YYYY-MM-DD")
		return
	}

	day, err := s.app.Cost.DailyCost(r.Context(), date)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if day == nil {
		day = &cost.DailyCost{Date: date}
	}
	writeJSON(w, http.StatusOK, day)
}

func (s *Server) handleMonthlyCost(w http.ResponseWriter, r *http.Request) {
	year, err := intParam(r, "year", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(converter.KindValidation), err.Error())
		return
	}
	month, err := intParam(r, "month", 0)
	if err != nil || month < 0 || month > 12 {
		writeError(w, http.StatusBadRequest, string(converter.KindValidation), "month must be 1-12")
		return
	}

	total, err := s.app.Cost.MonthlyCost(r.Context(), year, time.Month(month))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, total)
}

func (s *Server) handleCostSeries(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 30)
	if err != nil || days < 1 || days > 366 {
		writeError(w, http.StatusBadRequest, string(converter.KindValidation), "days must be 1-366")
		return
	}
	series, err := s.app.Cost.Series(r.Context(), days)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": series})
}

func (s *Server) handleResetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user")
	if err := s.app.ResetUser(r.Context(), userID); err != nil {
		writeStorageError(w, err)
		return
	}
	slog.Info("User counters reset", "user", userID, "by", auth.UserID(r, ""))
	w.WriteHeader(http.StatusNoContent)
}

// userID resolves the caller. Without auth and without the user header,
// convert requests get a fresh anonymous id which is echoed back so the
// client can reuse it.
func (s *Server) userID(w http.ResponseWriter, r *http.Request, assign bool) string {
	header := s.cfg.UserHeader
	if s.app.Validator != nil {
		header = ""
	}
	id := auth.UserID(r, header)
	if id == "" && assign && s.app.Validator == nil {
		id = ratelimit.NewUserID(s.app.Clock().Now())
	}
	if id != "" && s.cfg.UserHeader != "" {
		w.Header().Set(s.cfg.UserHeader, id)
	}
	return id
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}
