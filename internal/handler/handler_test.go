package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dan9191/bank-cards/internal/cardnumber"
	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type api struct {
	t      *testing.T
	store  *repository.MemoryStore
	router http.Handler
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log, _ := test.NewNullLogger()
	codec, err := cardnumber.NewCodec(cardnumber.AlgorithmGCM, []byte("0123456789abcdef"), []byte("hmac"), cardnumber.DefaultBIN)
	require.NoError(t, err)
	cfg := &config.Config{
		JWTSecret:             "test-secret",
		JWTIssuer:             "bank-cards",
		JWTTTL:                time.Hour,
		CardExpirationYears:   2,
		MaxTransferAmount:     decimal.NewFromInt(250000),
		TransferRetryAttempts: 3,
	}
	store := repository.NewMemoryStore()
	svc := service.NewService(store, codec, log, cfg)
	return &api{t: t, store: store, router: NewHandler(svc, log).Router()}
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *api) register(username string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/register", "", map[string]string{"username": username, "password": "pw-" + username})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp tokenResponse
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(a.t, resp.Token)
	return resp.Token
}

func (a *api) promote(username string) {
	a.t.Helper()
	ctx := context.Background()
	u, err := a.store.Users().FindByUsername(ctx, username)
	require.NoError(a.t, err)
	u.Role = models.RoleAdmin
	require.NoError(a.t, a.store.Users().Save(ctx, u))
}

func (a *api) userID(username string) int64 {
	a.t.Helper()
	u, err := a.store.Users().FindByUsername(context.Background(), username)
	require.NoError(a.t, err)
	return u.ID
}

func (a *api) createCard(adminToken string, ownerID int64, balance string) models.CardView {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/cards", adminToken, map[string]any{"owner_id": ownerID, "initial_balance": balance})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var card models.CardView
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &card))
	return card
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPI_CardAndTransferFlow(t *testing.T) {
	a := newAPI(t)
	alice := a.register("alice")
	root := a.register("root")
	a.promote("root")
	aliceID := a.userID("alice")

	rec := a.do(http.MethodPost, "/api/cards", alice, map[string]any{"owner_id": aliceID, "initial_balance": "1"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	from := a.createCard(root, aliceID, "1000")
	to := a.createCard(root, aliceID, "0")
	assert.True(t, strings.HasPrefix(from.Number, "**** **** **** "))
	assert.Equal(t, "alice", from.OwnerUsername)

	rec = a.do(http.MethodPost, "/api/transfers", alice, map[string]any{"from_card_id": from.ID, "to_card_id": to.ID, "amount": "400"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	transfer := decode[models.Transfer](t, rec)
	assert.Equal(t, models.TransferStatusCompleted, transfer.Status)
	assert.True(t, transfer.Amount.Equal(decimal.NewFromInt(400)))

	rec = a.do(http.MethodGet, fmt.Sprintf("/api/cards/%d/balance", from.ID), alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[balanceResponse](t, rec).Balance.Equal(decimal.NewFromInt(600)))

	rec = a.do(http.MethodPost, "/api/transfers", alice, map[string]any{"from_card_id": from.ID, "to_card_id": to.ID, "amount": "601"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient funds")

	rec = a.do(http.MethodGet, "/api/cards/my?size=1", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[models.Page[models.CardView]](t, rec)
	assert.Equal(t, int64(2), mine.Total)
	assert.Len(t, mine.Items, 1)

	rec = a.do(http.MethodGet, "/api/transfers/my", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[models.Page[models.Transfer]](t, rec).Total)

	rec = a.do(http.MethodGet, "/api/transfers/all", alice, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(http.MethodGet, "/api/transfers/all", root, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/api/cards/all?owner=alice&status=active", root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[models.Page[models.CardView]](t, rec).Total)

	rec = a.do(http.MethodPatch, fmt.Sprintf("/api/cards/%d/block", to.ID), root, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(http.MethodPatch, fmt.Sprintf("/api/cards/%d/block", to.ID), alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.CardStatusBlocked, decode[models.CardView](t, rec).Status)

	rec = a.do(http.MethodPost, "/api/transfers", alice, map[string]any{"from_card_id": from.ID, "to_card_id": to.ID, "amount": "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "recipient card is not active")

	rec = a.do(http.MethodPatch, fmt.Sprintf("/api/cards/%d", to.ID), root, map[string]any{"status": "ACTIVE"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "expiry_date is required")

	rec = a.do(http.MethodPatch, fmt.Sprintf("/api/cards/%d", to.ID), root,
		map[string]any{"status": "ACTIVE", "expiry_date": "2030-01-01T00:00:00Z"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.CardStatusActive, decode[models.CardView](t, rec).Status)

	rec = a.do(http.MethodDelete, fmt.Sprintf("/api/cards/%d", from.ID), root, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	spare := a.createCard(root, aliceID, "0")
	rec = a.do(http.MethodDelete, fmt.Sprintf("/api/cards/%d", spare.ID), root, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodGet, fmt.Sprintf("/api/cards/%d", spare.ID), root, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_AccessControl(t *testing.T) {
	a := newAPI(t)
	alice := a.register("alice")
	bob := a.register("bob")
	root := a.register("root")
	a.promote("root")
	card := a.createCard(root, a.userID("alice"), "10")
	path := fmt.Sprintf("/api/cards/%d", card.ID)

	require.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, path, "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, path, "garbage", nil).Code)
	require.Equal(t, http.StatusForbidden, a.do(http.MethodGet, path, bob, nil).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, path, alice, nil).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, path, root, nil).Code)
	require.Equal(t, http.StatusForbidden, a.do(http.MethodGet, path+"/balance", bob, nil).Code)

	rec := a.do(http.MethodPost, "/api/transfers", bob, map[string]any{"from_card_id": card.ID, "to_card_id": card.ID, "amount": "1"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_Auth(t *testing.T) {
	a := newAPI(t)
	a.register("alice")

	rec := a.do(http.MethodPost, "/api/auth/register", "", map[string]string{"username": "alice", "password": "x"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "pw-alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[tokenResponse](t, rec).Token

	rec = a.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodGet, "/api/users/my-info", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode[models.User](t, rec).Username)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = a.do(http.MethodPost, "/api/auth/login", "", `{"username":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_UserAdministration(t *testing.T) {
	a := newAPI(t)
	a.register("alice")
	bob := a.register("bob")
	root := a.register("root")
	a.promote("root")
	aliceID := a.userID("alice")
	path := fmt.Sprintf("/api/users/%d", aliceID)

	require.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/api/users", bob, nil).Code)

	rec := a.do(http.MethodGet, "/api/users?page=0&size=2", root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[models.Page[models.User]](t, rec)
	assert.Equal(t, int64(3), users.Total)
	assert.Len(t, users.Items, 2)

	require.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/users?size=lots", root, nil).Code)

	rec = a.do(http.MethodPatch, path, root, map[string]string{"username": "bob"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPatch, path, root, map[string]string{"role": "boss"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPatch, path, root, map[string]string{"role": "admin", "password": "fresh"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.RoleAdmin, decode[models.User](t, rec).Role)

	rec = a.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "fresh"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, a.do(http.MethodGet, path, root, nil).Code)
	require.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, path, root, nil).Code)
	require.Equal(t, http.StatusNotFound, a.do(http.MethodGet, path, root, nil).Code)
}

func TestAPI_FarPages(t *testing.T) {
	a := newAPI(t)
	alice := a.register("alice")
	root := a.register("root")
	a.promote("root")
	a.createCard(root, a.userID("alice"), "10")

	cases := []struct {
		path  string
		token string
		total int64
	}{
		{"/api/cards/my", alice, 1},
		{"/api/transfers/my", alice, 0},
		{"/api/cards/all", root, 1},
		{"/api/transfers/all", root, 0},
		{"/api/users", root, 2},
	}
	for _, tc := range cases {
		for _, query := range []string{"?page=9223372036854775807", "?page=9223372036854775807&size=100", "?page=2147483647&size=3"} {
			rec := a.do(http.MethodGet, tc.path+query, tc.token, nil)
			require.Equal(t, http.StatusOK, rec.Code, tc.path+query)
			page := decode[models.Page[json.RawMessage]](t, rec)
			assert.Empty(t, page.Items, tc.path+query)
			assert.Equal(t, tc.total, page.Total, tc.path+query)
		}
	}
}

func TestAPI_Health(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
