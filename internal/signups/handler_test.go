package signups

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salvemundi/attendance/internal/events"
	"github.com/salvemundi/attendance/internal/models"
	"github.com/salvemundi/attendance/internal/tokens"
	"github.com/salvemundi/attendance/pkg/qr"
)

type fakeEvents map[int64]*models.Event

func (f fakeEvents) GetByID(_ context.Context, id int64) (*models.Event, error) {
	if e, ok := f[id]; ok {
		return e, nil
	}
	return nil, events.ErrNotFound
}

type fakeArchive struct{ err error }

func (a fakeArchive) TicketURL(_ context.Context, key string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "https://tickets.example.com/" + key + "?sig=1", nil
}

func newTestRouter(t *testing.T, store *fakeStore, archive TicketArchive) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	enc, err := qr.NewEncoder(qr.Options{Size: 256})
	require.NoError(t, err)
	svc := NewService(store, tokens.NewGenerator(nil), nil, nil)
	h := NewHandler(svc, fakeEvents{1: {ID: 1, Kind: models.EventKindActivity, Name: "Borrel"}}, store, archive, enc, "https://api.example.com", nil)
	r := gin.New()
	r.POST("/events/:id/signups", h.Create)
	r.GET("/tickets/:token/qr.png", h.QRImage)
	return r
}

func postSignup(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateAndRender(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(t, store, nil)

	w := postSignup(r, "/events/1/signups", CreateRequest{Name: "Jan", Email: "jan@example.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	var body struct {
		Data CreateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.QRToken)
	assert.Equal(t, "https://api.example.com/tickets/"+body.Data.QRToken+"/qr.png", body.Data.QRURL)

	w = postSignup(r, "/events/1/signups", CreateRequest{Name: "Jan", Email: "jan@example.com"})
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/tickets/"+body.Data.QRToken+"/qr.png", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	decoded, err := qr.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, body.Data.QRToken, decoded)
}

func TestHandler_CreateErrors(t *testing.T) {
	r := newTestRouter(t, newFakeStore(), nil)

	assert.Equal(t, http.StatusNotFound, postSignup(r, "/events/99/signups", CreateRequest{Name: "A", Email: "a@example.com"}).Code)
	assert.Equal(t, http.StatusBadRequest, postSignup(r, "/events/abc/signups", CreateRequest{Name: "A", Email: "a@example.com"}).Code)
	assert.Equal(t, http.StatusBadRequest, postSignup(r, "/events/1/signups", CreateRequest{Name: "A", Email: "not-an-email"}).Code)
}

func TestHandler_QRImage_RedirectsToArchive(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(t, store, fakeArchive{})
	token := "r-1-1-abc-0123456789"
	key := "tickets/1/1.png"
	store.byID[1] = &models.Signup{ID: 1, EventID: 1, QRToken: &token, QRImageKey: &key}

	req := httptest.NewRequest(http.MethodGet, "/tickets/"+token+"/qr.png", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://tickets.example.com/tickets/1/1.png?sig=1", w.Header().Get("Location"))
}

func TestHandler_QRImage_ArchiveFailureRendersInline(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(t, store, fakeArchive{err: errors.New("no credentials")})
	token := "r-1-1-abc-0123456789"
	key := "tickets/1/1.png"
	store.byID[1] = &models.Signup{ID: 1, EventID: 1, QRToken: &token, QRImageKey: &key}

	req := httptest.NewRequest(http.MethodGet, "/tickets/"+token+"/qr.png", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func TestHandler_QRImage_UnknownToken(t *testing.T) {
	r := newTestRouter(t, newFakeStore(), nil)
	req := httptest.NewRequest(http.MethodGet, "/tickets/r-9-9-x-y/qr.png", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
