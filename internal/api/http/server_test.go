package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appAudit "github.com/swapshelf/swapshelf/internal/application/audit"
	appAuth "github.com/swapshelf/swapshelf/internal/application/auth"
	appCatalog "github.com/swapshelf/swapshelf/internal/application/catalog"
	appChat "github.com/swapshelf/swapshelf/internal/application/chat"
	appDirectory "github.com/swapshelf/swapshelf/internal/application/directory"
	appExchange "github.com/swapshelf/swapshelf/internal/application/exchange"
	"github.com/swapshelf/swapshelf/internal/application/ledger"
	appParticipant "github.com/swapshelf/swapshelf/internal/application/participant"
	"github.com/swapshelf/swapshelf/internal/infrastructure/memory"
	"github.com/swapshelf/swapshelf/internal/infrastructure/realtime"
	"github.com/swapshelf/swapshelf/internal/infrastructure/sse"
)

type testEnv struct {
	server *httptest.Server
	audit  *appAudit.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	st := memory.NewStore()
	participants := memory.NewParticipantRepository()
	sseHub := sse.NewHub(logger)
	auditSvc := appAudit.NewService(memory.NewAuditRepository(), logger, []byte("audit-key"))
	exchangeSvc := appExchange.NewService(st, st.Negotiations(), ledger.NewService(logger), sseHub, auditSvc, nil, nil, nil, logger)
	authSvc := appAuth.NewService(participants, appAuth.TokenConfig{Secret: "0123456789abcdef0123", Issuer: "swapshelf-test", TTL: time.Hour}, "", logger)

	srv := NewServer(Deps{
		Auth:         authSvc,
		Participants: appParticipant.NewService(participants, logger),
		Catalog:      appCatalog.NewService(st, st.Items(), exchangeSvc, logger),
		Exchange:     exchangeSvc,
		Directory: appDirectory.NewService(appDirectory.Source{
			Negotiations: st.Negotiations(),
			Items:        st.Items(),
			Participants: participants,
		}, nil, nil, logger),
		Chat:         appChat.NewService(memory.NewMessageRepository(), realtime.NewHub(logger), exchangeSvc, nil, nil, logger),
		Audit:        auditSvc,
		SSEHub:       sseHub,
		PingInterval: time.Second,
		Logger:       logger,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		sseHub.Stop()
		auditSvc.Wait()
	})
	return &testEnv{server: ts, audit: auditSvc}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

type account struct {
	id    string
	token string
}

func (e *testEnv) register(t *testing.T, username string) account {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "paperback-42",
	})
	require.Equal(t, http.StatusCreated, status, body)
	p := body["participant"].(map[string]interface{})
	return account{id: p["id"].(string), token: body["token"].(string)}
}

func (e *testEnv) createItem(t *testing.T, owner account, title string) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/v1/items", owner.token, map[string]string{
		"title":     title,
		"author":    "Ursula K. Le Guin",
		"condition": "Used",
	})
	require.Equal(t, http.StatusCreated, status, body)
	return body["id"].(string)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body["status"])
}

func TestRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["error"])
	assert.Equal(t, "never", body["retry"])

	status, _ = env.do(t, http.MethodGet, "/v1/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLoginAndProfile(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	status, body := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "paperback-42",
	})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["token"])

	status, body = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = env.do(t, http.MethodPatch, "/v1/me", alice.token, map[string]string{"bio": "reads on trains"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "reads on trains", body["bio"])

	status, body = env.do(t, http.MethodPatch, "/v1/me", alice.token, map[string]string{"bio": strings.Repeat("x", 201)})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])

	bob := env.register(t, "bobby")
	status, body = env.do(t, http.MethodGet, "/v1/participants/"+alice.id, bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body["username"])
	_, hasEmail := body["email"]
	assert.False(t, hasEmail)
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	status, body := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "paperback-42",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", body["error"])
}

func TestItemValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	status, body := env.do(t, http.MethodPost, "/v1/items", alice.token, map[string]string{"author": "Anon", "condition": "New"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])
	details := body["details"].(map[string]interface{})
	assert.Equal(t, "is required", details["title"])

	status, body = env.do(t, http.MethodPost, "/v1/items", alice.token, map[string]string{"title": "T", "author": "A", "condition": "Mint"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodGet, "/v1/items/not-a-uuid", alice.token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPairedSwapOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bobby")
	aliceBook := env.createItem(t, alice, "The Dispossessed")
	bobBook := env.createItem(t, bob, "Solaris")

	status, body := env.do(t, http.MethodPost, "/v1/negotiations", bob.token, map[string]string{
		"requestedItemId": aliceBook,
		"offeredItemId":   bobBook,
	})
	require.Equal(t, http.StatusCreated, status, body)
	negotiationID := body["id"].(string)
	assert.Equal(t, "PENDING", body["status"])
	env.audit.Wait()
	assert.Equal(t, "PAIRED", body["kind"])

	status, body = env.do(t, http.MethodPost, "/v1/negotiations", bob.token, map[string]string{
		"requestedItemId": aliceBook,
		"kind":            "one-way",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_RESERVED", body["error"])
	assert.Equal(t, "refetch", body["retry"])

	status, body = env.do(t, http.MethodGet, "/v1/negotiations/incoming", alice.token, nil)
	require.Equal(t, http.StatusOK, status)
	list := body["negotiations"].([]interface{})
	require.Len(t, list, 1)
	entry := list[0].(map[string]interface{})
	assert.Equal(t, negotiationID, entry["id"])
	assert.Equal(t, "The Dispossessed", entry["requestedItem"].(map[string]interface{})["title"])
	assert.Equal(t, "bobby", entry["counterparty"].(map[string]interface{})["username"])

	status, body = env.do(t, http.MethodPost, "/v1/negotiations/"+negotiationID+"/accept", bob.token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["error"])

	status, body = env.do(t, http.MethodPost, "/v1/negotiations/"+negotiationID+"/accept", alice.token, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "ACCEPTED", body["status"])

	status, body = env.do(t, http.MethodPost, "/v1/negotiations/"+negotiationID+"/accept", alice.token, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_STATE", body["error"])

	status, body = env.do(t, http.MethodGet, "/v1/items/"+aliceBook, alice.token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, bob.id, body["ownerId"])
	assert.Equal(t, "AVAILABLE", body["availability"])

	status, body = env.do(t, http.MethodGet, "/v1/items/"+bobBook, alice.token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, alice.id, body["ownerId"])

	status, body = env.do(t, http.MethodGet, "/v1/negotiations/outgoing?status=ACCEPTED", bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["negotiations"], 1)

	status, body = env.do(t, http.MethodGet, "/v1/negotiations/outgoing?status=bogus", bob.token, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	env.audit.Wait()
	status, body = env.do(t, http.MethodGet, "/v1/negotiations/"+negotiationID+"/audit", alice.token, nil)
	require.Equal(t, http.StatusOK, status)
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 2)
	assert.Equal(t, "NEGOTIATION_CREATED", entries[0].(map[string]interface{})["action"])
	assert.Equal(t, "NEGOTIATION_ACCEPTED", entries[1].(map[string]interface{})["action"])
	assert.Equal(t, true, entries[1].(map[string]interface{})["verified"])
}

func TestSelfDealingRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	book := env.createItem(t, alice, "Kindred")

	status, body := env.do(t, http.MethodPost, "/v1/negotiations", alice.token, map[string]string{
		"requestedItemId": book,
		"kind":            "ONE_WAY",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "SELF_DEALING", body["error"])
}

func TestDeleteItemCancelsPendingNegotiation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bobby")
	book := env.createItem(t, alice, "Piranesi")

	status, body := env.do(t, http.MethodPost, "/v1/negotiations", bob.token, map[string]string{
		"requestedItemId": book,
		"kind":            "ONE_WAY",
	})
	require.Equal(t, http.StatusCreated, status, body)
	negotiationID := body["id"].(string)

	status, _ = env.do(t, http.MethodDelete, "/v1/items/"+book, bob.token, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = env.do(t, http.MethodDelete, "/v1/items/"+book, alice.token, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, []interface{}{negotiationID}, body["cancelledNegotiationIds"])

	status, body = env.do(t, http.MethodGet, "/v1/negotiations/"+negotiationID, bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "REJECTED", body["status"])

	status, _ = env.do(t, http.MethodGet, "/v1/items/"+book, alice.token, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMessagesOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bobby")
	carol := env.register(t, "carol")
	book := env.createItem(t, alice, "Middlemarch")

	status, body := env.do(t, http.MethodPost, "/v1/negotiations", bob.token, map[string]string{
		"requestedItemId": book,
		"kind":            "ONE_WAY",
	})
	require.Equal(t, http.StatusCreated, status, body)
	path := "/v1/negotiations/" + body["id"].(string) + "/messages"

	for _, text := range []string{"hi", "library at noon?", "works"} {
		status, body = env.do(t, http.MethodPost, path, bob.token, map[string]string{"body": text})
		require.Equal(t, http.StatusCreated, status, body)
	}

	status, body = env.do(t, http.MethodPost, path, carol.token, map[string]string{"body": "let me in"})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = env.do(t, http.MethodGet, path+"?afterSeq=1", alice.token, nil)
	require.Equal(t, http.StatusOK, status)
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, float64(2), msgs[0].(map[string]interface{})["seq"])
	assert.Equal(t, "works", msgs[1].(map[string]interface{})["body"])
}
