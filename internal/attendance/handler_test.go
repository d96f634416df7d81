package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salvemundi/attendance/internal/middleware"
	"github.com/salvemundi/attendance/pkg/qr"
)

type fakePolicy struct {
	allowEvents
	admins map[uuid.UUID]bool
}

func (p fakePolicy) IsAdmin(_ context.Context, id uuid.UUID) bool { return p.admins[id] }

func newAttendanceRouter(store SignupStore, policy fakePolicy, actor uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(NewService(store, policy, nil, nil), policy, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, actor)
		c.Next()
	})
	r.POST("/attendance/check-in", h.CheckIn)
	r.POST("/attendance/scan", h.Scan)
	r.GET("/attendance/authorized", h.Authorized)
	r.GET("/events/:id/attendance", RequireEventAccess(policy), h.EventAttendance)
	return r
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHandler_CheckInContract(t *testing.T) {
	store := newMemSignups(issued(1, 10, tokenA))
	r := newAttendanceRouter(store, fakePolicy{allowEvents: allowEvents{10: true}}, uuid.New())

	w := postJSON(r, "/attendance/check-in", `{"token":"`+tokenA+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, true, res["success"])
	assert.NotContains(t, res, "reason")
	signup := res["signup"].(map[string]any)
	assert.Equal(t, "P", signup["participant_name"])

	w = postJSON(r, "/attendance/check-in", `{"token":"`+tokenA+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"already_checked_in"`)
	assert.Contains(t, w.Body.String(), `"success":false`)

	w = postJSON(r, "/attendance/check-in", `{"token":"r-9-10-a-b"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":false,"reason":"not_found"}`, w.Body.String())
}

func TestHandler_CheckInErrors(t *testing.T) {
	store := newMemSignups(issued(1, 10, tokenA))
	r := newAttendanceRouter(store, fakePolicy{allowEvents: allowEvents{}}, uuid.New())

	assert.Equal(t, http.StatusBadRequest, postJSON(r, "/attendance/check-in", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(r, "/attendance/check-in", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(r, "/attendance/check-in", `{"token":"`+tokenA+`","event_id":"x"}`).Code)
	assert.Equal(t, http.StatusForbidden, postJSON(r, "/attendance/check-in", `{"token":"`+tokenA+`","event_id":10}`).Code)
	w := postJSON(r, "/attendance/check-in", `{"token":"`+tokenA+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":false,"reason":"not_found"}`, w.Body.String())

	store.err = assert.AnError
	r = newAttendanceRouter(store, fakePolicy{allowEvents: allowEvents{10: true}}, uuid.New())
	assert.Equal(t, http.StatusInternalServerError, postJSON(r, "/attendance/check-in", `{"token":"`+tokenA+`"}`).Code)
}

func TestHandler_Scan(t *testing.T) {
	store := newMemSignups(issued(1, 10, tokenA))
	r := newAttendanceRouter(store, fakePolicy{allowEvents: allowEvents{10: true}}, uuid.New())

	enc, err := qr.NewEncoder(qr.Options{Size: 320})
	require.NoError(t, err)
	png, err := enc.PNG(tokenA)
	require.NoError(t, err)

	upload := func(image []byte, eventID string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, _ := mw.CreateFormFile("image", "ticket.png")
		_, _ = fw.Write(image)
		if eventID != "" {
			_ = mw.WriteField("event_id", eventID)
		}
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/attendance/scan", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := upload(png, "10")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.True(t, store.byToken[tokenA].CheckedIn)

	assert.Equal(t, http.StatusBadRequest, upload([]byte("not an image"), "").Code)
	assert.Equal(t, http.StatusBadRequest, upload(png, "ten").Code)
}

func TestHandler_Authorized(t *testing.T) {
	admin, staff, other := uuid.New(), uuid.New(), uuid.New()
	policy := fakePolicy{allowEvents: allowEvents{10: true}, admins: map[uuid.UUID]bool{admin: true}}

	r := newAttendanceRouter(newMemSignups(), policy, staff)
	w := get(r, "/attendance/authorized?eventId=10")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"authorized":true}`, w.Body.String())

	w = get(r, "/attendance/authorized?eventId=11&userId="+staff.String())
	assert.JSONEq(t, `{"authorized":false}`, w.Body.String())

	assert.Equal(t, http.StatusForbidden, get(r, "/attendance/authorized?eventId=10&userId="+other.String()).Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/attendance/authorized").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/attendance/authorized?eventId=10&userId=nope").Code)

	r = newAttendanceRouter(newMemSignups(), policy, admin)
	w = get(r, "/attendance/authorized?eventId=10&userId="+other.String())
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"authorized":true}`, w.Body.String())
}

func TestHandler_EventAttendance(t *testing.T) {
	store := newMemSignups(issued(1, 10, tokenA), issued(2, 10, "r-2-10-x-y"))
	r := newAttendanceRouter(store, fakePolicy{allowEvents: allowEvents{10: true}}, uuid.New())

	w := get(r, "/events/10/attendance")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success bool            `json:"success"`
		Data    EventAttendance `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, Summary{Total: 2, CheckedIn: 0, NotCheckedIn: 2}, body.Data.Summary)

	assert.Equal(t, http.StatusForbidden, get(r, "/events/11/attendance").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/events/abc/attendance").Code)
}
