package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/bookingcom"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/etg"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/offers"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/storage/storagetest"
)

type testServer struct {
	t       *testing.T
	srv     *httptest.Server
	db      *storage.DB
	ws      *dispatch.WSRegistry
	booking *bookingcom.Service
	admin   string
	driver  models.Driver
	other   models.Driver
	tokens  map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := storagetest.New(t)
	admin := storagetest.SeedUser(t, db, models.RoleAdmin)
	driver := storagetest.SeedDriver(t, db, "Fiat", "Tipo", 4, "diesel")
	other := storagetest.SeedDriver(t, db, "Fiat", "Panda", 4, "petrol")

	logger := logging.Discard()
	ws := dispatch.NewWSRegistry(logger)
	engine := lifecycle.New(db, dispatch.NewFanout(ws, logger), logger)
	table := pricing.Default()
	booking := bookingcom.NewService(db, engine, nil, table, logger)
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	s := NewServer(Deps{
		DB:      db,
		Engine:  engine,
		ETG:     etg.NewService(db, engine, offers.NewMemoryCache(10), table, logger),
		Booking: booking,
		Auth:    issuer,
		WS:      ws,
		ETGAuth: ETGCredentials{Username: "etg", Password: "pw", APIKey: "etg-key"},
		Logger:  logger,
	})
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	ts := &testServer{t: t, srv: srv, db: db, ws: ws, booking: booking, admin: admin.ID, driver: driver, other: other, tokens: map[string]string{}}
	for name, p := range map[string]auth.Principal{
		"admin":  {UserID: admin.ID, Role: models.RoleAdmin},
		"driver": {UserID: driver.ID, Role: models.RoleDriver},
		"other":  {UserID: other.ID, Role: models.RoleDriver},
	} {
		tok, err := issuer.Issue(p)
		if err != nil {
			t.Fatal(err)
		}
		ts.tokens[name] = tok
	}
	return ts
}

// call sends body as JSON. Header values of the form "Bearer <name>" are
// replaced by that test user's token.
func (ts *testServer) call(method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	ts.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			ts.t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	if err != nil {
		ts.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		ts.t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (ts *testServer) as(user, method, path string, body any) (*http.Response, []byte) {
	ts.t.Helper()
	return ts.call(method, path, body, map[string]string{"Authorization": "Bearer " + ts.tokens[user]})
}

func wantStatus(t *testing.T, resp *http.Response, body []byte, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var env struct {
		Error errorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("not an error envelope: %s", body)
	}
	return string(env.Error.Code)
}

func newRideBody(externalID string) map[string]any {
	return map[string]any{
		"external_id":     externalID,
		"pickup_address":  "Milano Centrale",
		"dropoff_address": "Linate",
		"scheduled_at":    time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"price":           "45.00",
		"driver_share":    "30.00",
		"distance_km":     "12.5",
	}
}

func (ts *testServer) createRide(externalID string) models.Ride {
	ts.t.Helper()
	resp, body := ts.as("admin", http.MethodPost, "/api/v1/rides", newRideBody(externalID))
	wantStatus(ts.t, resp, body, http.StatusCreated)
	var r models.Ride
	if err := json.Unmarshal(body, &r); err != nil {
		ts.t.Fatal(err)
	}
	return r
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.call(http.MethodGet, "/healthz", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	resp, body = ts.call(http.MethodGet, "/metrics", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	if !strings.Contains(string(body), "ride_dispatch_http_requests_total") {
		t.Fatal("metrics missing http counter")
	}
}

func TestRideAPIRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.call(http.MethodGet, "/api/v1/rides", nil, nil)
	wantStatus(t, resp, body, http.StatusUnauthorized)
	if errorCode(t, body) != "unauthenticated" {
		t.Fatalf("body = %s", body)
	}
	resp, body = ts.call(http.MethodGet, "/api/v1/rides", nil, map[string]string{"Authorization": "Bearer forged"})
	wantStatus(t, resp, body, http.StatusUnauthorized)
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.as("driver", http.MethodPost, "/api/v1/rides", newRideBody(""))
	wantStatus(t, resp, body, http.StatusForbidden)

	r := ts.createRide("")
	if r.Status != models.StatusToAssign {
		t.Fatalf("status = %s", r.Status)
	}
	base := "/api/v1/rides/" + r.ID

	resp, body = ts.as("admin", http.MethodPut, base+"/assign", map[string]string{"driver_id": ts.driver.ID})
	wantStatus(t, resp, body, http.StatusOK)
	resp, body = ts.as("other", http.MethodPut, base+"/accept", nil)
	wantStatus(t, resp, body, http.StatusForbidden)
	for _, step := range []string{"accept", "start", "complete"} {
		resp, body = ts.as("driver", http.MethodPut, base+"/"+step, nil)
		wantStatus(t, resp, body, http.StatusOK)
	}
	resp, body = ts.as("driver", http.MethodPut, base+"/complete", nil)
	wantStatus(t, resp, body, http.StatusBadRequest)
	if errorCode(t, body) != "invalid_state" {
		t.Fatalf("body = %s", body)
	}

	resp, body = ts.as("admin", http.MethodGet, base, nil)
	wantStatus(t, resp, body, http.StatusOK)
	var view struct {
		Status  models.RideStatus    `json:"status"`
		History []models.RideHistory `json:"history"`
	}
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatal(err)
	}
	if view.Status != models.StatusCompleted || len(view.History) != 4 {
		t.Fatalf("view = %+v", view)
	}

	d, _ := ts.db.GetDriver(context.Background(), ts.driver.ID)
	if d.TotalRides != 1 || d.TotalEarnings.String() != "30" {
		t.Fatalf("driver totals = %d %s", d.TotalRides, d.TotalEarnings)
	}
}

func TestDriverListVisibility(t *testing.T) {
	ts := newTestServer(t)
	mine := ts.createRide("")
	theirs := ts.createRide("")
	open := ts.createRide("")
	ts.as("admin", http.MethodPut, "/api/v1/rides/"+mine.ID+"/assign", map[string]string{"driver_id": ts.driver.ID})
	ts.as("admin", http.MethodPut, "/api/v1/rides/"+theirs.ID+"/assign", map[string]string{"driver_id": ts.other.ID})

	list := func() map[string]bool {
		t.Helper()
		resp, body := ts.as("driver", http.MethodGet, "/api/v1/rides", nil)
		wantStatus(t, resp, body, http.StatusOK)
		var rides []models.Ride
		if err := json.Unmarshal(body, &rides); err != nil {
			t.Fatal(err)
		}
		seen := map[string]bool{}
		for _, r := range rides {
			seen[r.ID] = true
		}
		return seen
	}

	// Assigned to another driver but not yet accepted: still to_assign.
	if seen := list(); len(seen) != 3 || !seen[mine.ID] || !seen[theirs.ID] || !seen[open.ID] {
		t.Fatalf("driver sees %v", seen)
	}
	resp, body := ts.as("driver", http.MethodGet, "/api/v1/rides/"+theirs.ID, nil)
	wantStatus(t, resp, body, http.StatusOK)

	resp, body = ts.as("other", http.MethodPut, "/api/v1/rides/"+theirs.ID+"/accept", nil)
	wantStatus(t, resp, body, http.StatusOK)
	if seen := list(); len(seen) != 2 || !seen[mine.ID] || !seen[open.ID] {
		t.Fatalf("driver sees %v after accept", seen)
	}
	resp, body = ts.as("driver", http.MethodGet, "/api/v1/rides/"+theirs.ID, nil)
	wantStatus(t, resp, body, http.StatusNotFound)
	resp, body = ts.as("admin", http.MethodGet, "/api/v1/rides?status=bogus", nil)
	wantStatus(t, resp, body, http.StatusUnprocessableEntity)
}

func TestNotificationsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	r := ts.createRide("")
	ts.as("admin", http.MethodPut, "/api/v1/rides/"+r.ID+"/assign", map[string]string{"driver_id": ts.driver.ID})

	resp, body := ts.as("driver", http.MethodGet, "/api/v1/notifications?unread=true", nil)
	wantStatus(t, resp, body, http.StatusOK)
	var ns []models.Notification
	if err := json.Unmarshal(body, &ns); err != nil {
		t.Fatal(err)
	}
	if len(ns) != 1 || ns[0].Type != models.NotifyRideAssigned {
		t.Fatalf("notifications = %+v", ns)
	}
	resp, body = ts.as("driver", http.MethodPut, "/api/v1/notifications/"+ns[0].ID+"/read", nil)
	wantStatus(t, resp, body, http.StatusNoContent)
	resp, body = ts.as("admin", http.MethodPut, "/api/v1/notifications/"+ns[0].ID+"/read", nil)
	wantStatus(t, resp, body, http.StatusNotFound)
}

func TestDirectBookingDuplicate(t *testing.T) {
	ts := newTestServer(t)
	payload := newRideBody("PARTNER-1")
	payload["source_platform"] = "partner"

	resp, body := ts.call(http.MethodPost, "/webhook/booking", payload, nil)
	wantStatus(t, resp, body, http.StatusCreated)
	resp, body = ts.call(http.MethodPost, "/webhook/booking", payload, nil)
	wantStatus(t, resp, body, http.StatusConflict)
	if errorCode(t, body) != "conflict" {
		t.Fatalf("body = %s", body)
	}
	rides, err := ts.db.ListRides(context.Background(), models.RideFilter{SourcePlatform: "partner", Limit: 10})
	if err != nil || len(rides) != 1 {
		t.Fatalf("rides = %d err=%v", len(rides), err)
	}
}

func TestETGEndpoints(t *testing.T) {
	ts := newTestServer(t)
	search := map[string]any{
		"start_point":     map[string]string{"type": "iata", "iata": "MXP"},
		"end_point":       map[string]string{"type": "coordinates", "coordinates": "45.46,9.19"},
		"start_date_time": time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		"passengers":      2,
	}

	resp, body := ts.call(http.MethodPost, "/etg/search", search, map[string]string{"X-API-Key": "wrong"})
	wantStatus(t, resp, body, http.StatusUnauthorized)

	resp, body = ts.call(http.MethodPost, "/etg/search", search, map[string]string{"X-API-Key": "etg-key"})
	wantStatus(t, resp, body, http.StatusOK)
	var sr etg.SearchResponse
	if err := json.Unmarshal(body, &sr); err != nil || len(sr.Offers) == 0 {
		t.Fatalf("search = %s err=%v", body, err)
	}

	creds := map[string]string{"Authorization": "Basic ZXRnOnB3"} // etg:pw
	book := map[string]any{"offer_id": sr.Offers[0].ID, "passengers": 2, "main_passenger": map[string]string{"first_name": "A", "last_name": "B"}}
	resp, body = ts.call(http.MethodPost, "/etg/book", book, creds)
	wantStatus(t, resp, body, http.StatusOK)
	var br etg.BookResponse
	if err := json.Unmarshal(body, &br); err != nil || br.OrderID == "" {
		t.Fatalf("book = %s", body)
	}

	resp, body = ts.call(http.MethodPost, "/etg/book", book, creds)
	wantStatus(t, resp, body, http.StatusBadRequest)

	resp, body = ts.call(http.MethodPost, "/etg/status", map[string]string{"order_id": br.OrderID}, creds)
	wantStatus(t, resp, body, http.StatusOK)
	if !strings.Contains(string(body), `"status":"active"`) {
		t.Fatalf("status = %s", body)
	}
	resp, body = ts.call(http.MethodPost, "/etg/cancel", map[string]string{"order_id": br.OrderID}, creds)
	wantStatus(t, resp, body, http.StatusOK)
	resp, body = ts.call(http.MethodPost, "/etg/cancel", map[string]string{"order_id": br.OrderID}, creds)
	wantStatus(t, resp, body, http.StatusBadRequest)
	resp, body = ts.call(http.MethodPost, "/etg/status", map[string]string{"order_id": "AVMISSING"}, creds)
	wantStatus(t, resp, body, http.StatusNotFound)
}

func TestBookingComWebhooks(t *testing.T) {
	ts := newTestServer(t)
	secret := "hook"
	if _, err := ts.booking.UpdateConfig(context.Background(), bookingcom.ConfigUpdate{WebhookSecret: &secret}); err != nil {
		t.Fatal(err)
	}
	booking := map[string]any{
		"bookingReference":  "BDC-1",
		"customerReference": "CUST-1",
		"leadPassenger":     map[string]string{"firstName": "Ada", "lastName": "Lovelace"},
	}

	resp, body := ts.call(http.MethodPost, "/webhook/booking-com/booking", booking, nil)
	wantStatus(t, resp, body, http.StatusUnauthorized)

	hdr := map[string]string{"Authorization": "Bearer hook"}
	for i := 0; i < 2; i++ {
		resp, body = ts.call(http.MethodPost, "/webhook/booking-com/booking", booking, hdr)
		wantStatus(t, resp, body, http.StatusNoContent)
	}
	rides, _ := ts.db.ListRides(context.Background(), models.RideFilter{SourcePlatform: models.SourceBookingCom, Limit: 10})
	if len(rides) != 1 {
		t.Fatalf("rides = %d", len(rides))
	}

	resp, body = ts.call(http.MethodPost, "/webhook/booking-com/search", map[string]any{"passengers": 3, "drivingDistanceInKm": 50}, hdr)
	wantStatus(t, resp, body, http.StatusOK)
	if !strings.Contains(string(body), `"salePriceMin":65`) {
		t.Fatalf("quote = %s", body)
	}

	resp, body = ts.call(http.MethodPatch, "/webhook/booking-com/booking/BDC-1", map[string]string{"action": "CANCELLATION"}, hdr)
	wantStatus(t, resp, body, http.StatusNoContent)
	resp, body = ts.call(http.MethodPatch, "/webhook/booking-com/booking/UNKNOWN", map[string]string{"action": "CANCELLATION"}, hdr)
	wantStatus(t, resp, body, http.StatusNoContent)
	resp, body = ts.call(http.MethodPost, "/webhook/booking-com/incident", map[string]string{"bookingReference": "BDC-1", "incidentType": "LATE"}, hdr)
	wantStatus(t, resp, body, http.StatusNoContent)
}

func TestBookingAdminRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.as("driver", http.MethodGet, "/api/v1/admin/booking-com/config", nil)
	wantStatus(t, resp, body, http.StatusForbidden)

	resp, body = ts.as("admin", http.MethodPut, "/api/v1/admin/booking-com/config", map[string]any{"client_secret": "abc", "environment": "production"})
	wantStatus(t, resp, body, http.StatusOK)
	var v bookingcom.ConfigView
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatal(err)
	}
	if !v.HasClientSecret || v.APIBaseURL != storage.BookingProductionURL || strings.Contains(string(body), "abc") {
		t.Fatalf("config view = %s", body)
	}

	resp, body = ts.as("admin", http.MethodPost, "/api/v1/admin/booking-com/sync", nil)
	wantStatus(t, resp, body, http.StatusOK)
	resp, body = ts.as("admin", http.MethodPost, "/api/v1/admin/booking-com/test", nil)
	wantStatus(t, resp, body, http.StatusOK)
	if !strings.Contains(string(body), `"success":false`) {
		t.Fatalf("test without client id = %s", body)
	}
}

func TestWebsocketReceivesNotifications(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/" + ts.driver.ID

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+ts.tokens["other"], nil); err == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign token accepted: err=%v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+ts.tokens["driver"], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for ts.ws.Connected(ts.driver.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r := ts.createRide("")
	resp, body := ts.as("admin", http.MethodPut, "/api/v1/rides/"+r.ID+"/assign", map[string]string{"driver_id": ts.driver.ID})
	wantStatus(t, resp, body, http.StatusOK)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var n models.Notification
	if err := conn.ReadJSON(&n); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n.Type != models.NotifyRideAssigned || n.RideID != r.ID {
		t.Fatalf("notification = %+v", n)
	}
}
