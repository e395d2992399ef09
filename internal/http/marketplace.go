package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/bookingcom"
	"github.com/example/ride-dispatch/internal/etg"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
)

func (s *Server) handleETGSearch(w http.ResponseWriter, r *http.Request) {
	var req etg.SearchRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.etg.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleETGBook(w http.ResponseWriter, r *http.Request) {
	var req etg.BookRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.etg.Book(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleETGStatus(w http.ResponseWriter, r *http.Request) {
	var req etg.OrderRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.etg.Status(r.Context(), req.OrderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleETGCancel(w http.ResponseWriter, r *http.Request) {
	var req etg.OrderRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.etg.Cancel(r.Context(), req.OrderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDirectBooking creates a ride from a fully specified payload sent by
// a partner over the generic channel.
func (s *Server) handleDirectBooking(w http.ResponseWriter, r *http.Request) {
	var ride models.Ride
	if err := decode(r, &ride, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride.ID = ""
	out, err := s.engine.Create(r.Context(), lifecycle.System, &ride, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleBookingQuote(w http.ResponseWriter, r *http.Request) {
	var req bookingcom.SearchRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := s.booking.Quote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleBookingNew(w http.ResponseWriter, r *http.Request) {
	var req bookingcom.NewBooking
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.booking.NewBooking(r.Context(), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBookingUpdate(w http.ResponseWriter, r *http.Request) {
	var req bookingcom.BookingUpdate
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.booking.UpdateBooking(r.Context(), mux.Vars(r)["ref"], req); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBookingIncident(w http.ResponseWriter, r *http.Request) {
	var req bookingcom.Incident
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.booking.Incident(r.Context(), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBookingConfig(w http.ResponseWriter, r *http.Request) {
	v, err := s.booking.Config(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleBookingConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var u bookingcom.ConfigUpdate
	if err := decode(r, &u, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.booking.UpdateConfig(r.Context(), u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("booking.com config changed", "by", actor(r).UserID)
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleBookingTest(w http.ResponseWriter, r *http.Request) {
	res, err := s.booking.TestConnection(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBookingSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.booking.Sync(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBookingAccept(w http.ResponseWriter, r *http.Request) {
	if err := s.booking.AcceptRide(r.Context(), actor(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBookingReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &body, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.booking.RejectRide(r.Context(), actor(r), mux.Vars(r)["id"], body.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
