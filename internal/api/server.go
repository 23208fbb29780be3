// Package api exposes the reminder, chat and home screens as JSON endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pathakanu/medimate/internal/chat"
	"github.com/pathakanu/medimate/internal/reminder"
	"github.com/pathakanu/medimate/internal/scheduler"
	"github.com/sirupsen/logrus"
)

const maxAudioBytes = 10 << 20

// Lifecycle is the poller as seen by the list screen.
type Lifecycle interface {
	Activate() error
	Deactivate()
	Stats() scheduler.Stats
}

// Server coordinates the HTTP handlers.
type Server struct {
	reminders *reminder.Service
	poller    Lifecycle
	chat      *chat.Session
	loc       *time.Location
	log       logrus.FieldLogger
	now       func() time.Time
}

func New(reminders *reminder.Service, poller Lifecycle, session *chat.Session, loc *time.Location, log logrus.FieldLogger) *Server {
	if loc == nil {
		loc = time.Local
	}
	return &Server{
		reminders: reminders,
		poller:    poller,
		chat:      session,
		loc:       loc,
		log:       log,
		now:       time.Now,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /reminders", s.handleListReminders)
	mux.HandleFunc("POST /reminders", s.handleCreateReminder)
	mux.HandleFunc("DELETE /reminders/{id}", s.handleDeleteReminder)
	mux.HandleFunc("PATCH /reminders/{id}", s.handleEditReminder)
	mux.HandleFunc("POST /reminders/screen/focus", s.handleFocus)
	mux.HandleFunc("POST /reminders/screen/blur", s.handleBlur)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/voice", s.handleVoice)
	mux.HandleFunc("GET /home", s.handleHome)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("request handled")
	})
}

type createReminderRequest struct {
	Description string `json:"description"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Frequency   string `json:"frequency"`
}

type reminderView struct {
	reminder.Reminder
	Display string `json:"display"`
}

func (s *Server) view(r reminder.Reminder) reminderView {
	display := r.Time.In(s.loc).Format("15:04")
	if r.Frequency != reminder.FrequencyUnset {
		display = fmt.Sprintf("%s - %s", display, r.Frequency)
	}
	return reminderView{Reminder: r, Display: display}
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	list := s.reminders.List(r.Context())
	views := make([]reminderView, 0, len(list))
	for _, rem := range list {
		views = append(views, s.view(rem))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reminders": views})
}

func (s *Server) handleCreateReminder(w http.ResponseWriter, r *http.Request) {
	var req createReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Sorry, I couldn't understand that request.")
		return
	}

	date, err := parseDate(req.Date, s.loc)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Please pick a valid date.")
		return
	}
	clock, err := parseClock(req.Time, s.loc)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Please pick a valid time.")
		return
	}
	frequency, err := reminder.ParseFrequency(req.Frequency)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Frequency must be Once, Daily, Weekly or Monthly.")
		return
	}

	created, err := s.reminders.Create(r.Context(), reminder.Draft{
		Description: req.Description,
		Date:        date,
		Clock:       clock,
		Frequency:   frequency,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save reminder. Please try again.")
		return
	}
	s.writeJSON(w, http.StatusCreated, s.view(created))
}

func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	if err := s.reminders.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to delete reminder.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEditReminder(w http.ResponseWriter, r *http.Request) {
	_, err := s.reminders.Edit(r.Context(), r.PathValue("id"), reminder.Draft{})
	if errors.Is(err, reminder.ErrEditNotSupported) {
		s.writeError(w, http.StatusNotImplemented, "Editing reminders is not available yet.")
		return
	}
	s.writeError(w, http.StatusInternalServerError, "Failed to edit reminder.")
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	if err := s.poller.Activate(); err != nil {
		s.log.WithError(err).Error("failed to start reminder poller")
		s.writeError(w, http.StatusInternalServerError, "Could not start reminder checks.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBlur(w http.ResponseWriter, r *http.Request) {
	s.poller.Deactivate()
	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Sorry, I couldn't understand that request.")
		return
	}
	reply, err := s.chat.Send(r.Context(), req.Text)
	if errors.Is(err, chat.ErrEmptyMessage) {
		s.writeError(w, http.StatusBadRequest, "I need a message to work with. Please try again.")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "The assistant is unavailable right now.")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	audio, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBytes))
	if err != nil || len(audio) == 0 {
		s.writeError(w, http.StatusBadRequest, "No audio received.")
		return
	}
	transcript, reply, err := s.chat.SendVoice(r.Context(), audio)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "The assistant is unavailable right now.")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"transcript": transcript, "reply": reply})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	upcoming := 0
	for _, rem := range s.reminders.List(r.Context()) {
		if !rem.Due(now) {
			upcoming++
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"chatHistory": s.chat.History(r.Context()),
		"upcoming":    upcoming,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"scheduler": s.poller.Stats(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Error("response encode")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseDate accepts a plain calendar date or a full RFC 3339 timestamp.
func parseDate(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// parseClock accepts HH:MM or a full RFC 3339 timestamp.
func parseClock(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("15:04", value, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
