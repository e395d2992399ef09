package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
)

const dateLayout = "2006-01-02"

// parseDate accepts RFC 3339 or a bare date. A bare date_to covers the
// whole day.
func parseDate(v string, endOfDay bool) (*time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Microsecond)
	}
	return &t, nil
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Validation("%s must be a non-negative integer", name)
	}
	return n, nil
}

func rideFilter(q url.Values) (models.RideFilter, error) {
	var f models.RideFilter
	if v := q.Get("status"); v != "" {
		st, err := models.ParseRideStatus(v)
		if err != nil {
			return f, apperr.Validation("unknown status %q", v)
		}
		f.Status = st
	}
	var err error
	if v := q.Get("date_from"); v != "" {
		if f.DateFrom, err = parseDate(v, false); err != nil {
			return f, apperr.Validation("date_from must be RFC3339 or YYYY-MM-DD")
		}
	}
	if v := q.Get("date_to"); v != "" {
		if f.DateTo, err = parseDate(v, true); err != nil {
			return f, apperr.Validation("date_to must be RFC3339 or YYYY-MM-DD")
		}
	}
	f.DriverID = q.Get("driver_id")
	f.SourcePlatform = q.Get("source_platform")
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	f, err := rideFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rides, err := s.engine.List(r.Context(), actor(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rides == nil {
		rides = []*models.Ride{}
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Get(r.Context(), actor(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var ride models.Ride
	if err := decode(r, &ride, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride.ID = ""
	out, err := s.engine.Create(r.Context(), actor(r), &ride, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleUpdateRide(w http.ResponseWriter, r *http.Request) {
	var p models.RidePatch
	if err := decode(r, &p, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.engine.Update(r.Context(), actor(r), mux.Vars(r)["id"], p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if err := decode(r, &body, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.DriverID == "" {
		s.writeError(w, r, apperr.Validation("driver_id is required"))
		return
	}
	out, err := s.engine.Assign(r.Context(), actor(r), mux.Vars(r)["id"], body.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type rideAction func(ctx context.Context, by lifecycle.Actor, rideID string) (*models.Ride, error)

// driverAction adapts accept, start and complete, which take no body.
func (s *Server) driverAction(fn rideAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context(), actor(r), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	if err := decode(r, &body, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.engine.Cancel(r.Context(), actor(r), mux.Vars(r)["id"], body.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	unread := q.Get("unread") == "true"
	ns, err := s.engine.Notifications(r.Context(), actor(r), unread, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ns == nil {
		ns = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.MarkRead(r.Context(), actor(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
