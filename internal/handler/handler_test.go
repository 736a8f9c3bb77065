package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"cashqueue/internal/memstore"
	"cashqueue/internal/middleware"
	"cashqueue/internal/model"
	"cashqueue/internal/settlement"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminKey = "test-admin-key"

type recordingNotifier struct {
	mu       sync.Mutex
	outcomes []*settlement.Outcome
}

func (n *recordingNotifier) NotifySettled(_ context.Context, out *settlement.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, out)
}

type testServer struct {
	router   *gin.Engine
	notifier *recordingNotifier
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := settlement.New(memstore.New(), zap.NewNop(), settlement.Options{
		FallbackContacts: map[model.Method]string{model.MethodZelle: "payments@example.com"},
	})
	notifier := &recordingNotifier{}
	h := NewHandler(engine, zap.NewNop(), notifier)

	router := gin.New()
	v1 := router.Group("/api/v1", middleware.Privilege(adminKey))
	h.RegisterRoutes(v1)
	return &testServer{router: router, notifier: notifier}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, privileged bool) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if privileged {
		req.Header.Set(middleware.APIKeyHeader, adminKey)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestSubmitWithdrawal(t *testing.T) {
	s := setupTestServer(t)
	body := model.SubmitWithdrawalRequest{
		PayeeName:   "alice",
		Method:      "Zelle",
		Destination: "5551234567",
		Amount:      "100",
	}

	code, resp := s.do(t, http.MethodPost, "/api/v1/withdrawals", body, false)
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, resp.Success)

	code, resp = s.do(t, http.MethodPost, "/api/v1/withdrawals", body, true)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	w := decode[model.WithdrawalRequest](t, resp.Data)
	assert.Equal(t, model.MethodZelle, w.Method)
	assert.Equal(t, DefaultOrigin, w.OriginContext)
	assert.Equal(t, model.WithdrawalNotStarted, w.Status)

	body.Destination = "555-123"
	code, _ = s.do(t, http.MethodPost, "/api/v1/withdrawals", body, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/withdrawals", map[string]string{"payee_name": "x"}, true)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDepositConfirmFlow(t *testing.T) {
	s := setupTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/withdrawals", model.SubmitWithdrawalRequest{
		PayeeName: "bob", Method: "venmo", Destination: "@bob", Amount: "80", OriginContext: "chat-7",
	}, true)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	w := decode[model.WithdrawalRequest](t, resp.Data)

	// depositors do not need the key
	code, resp = s.do(t, http.MethodPost, "/api/v1/deposits", model.SubmitDepositRequest{
		DepositorName: "carol", Method: "venmo", Amount: "30",
	}, false)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	receipt := decode[settlement.DepositReceipt](t, resp.Data)
	require.NotNil(t, receipt.Preview)
	assert.True(t, receipt.Preview.Plan.Matched())

	confirmPath := "/api/v1/deposits/" + itoa(receipt.Deposit.ID) + "/confirm"
	code, _ = s.do(t, http.MethodPost, confirmPath, nil, false)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = s.do(t, http.MethodPost, confirmPath, nil, true)
	require.Equal(t, http.StatusOK, code, resp.Error)
	out := decode[settlement.Outcome](t, resp.Data)
	assert.Equal(t, settlement.OutcomeSettled, out.Kind)
	require.Len(t, out.Applied, 1)
	assert.Equal(t, w.ID, out.Applied[0].Withdrawal.ID)
	assert.Equal(t, "50", out.Applied[0].Withdrawal.RemainingAmount.String())

	require.Len(t, s.notifier.outcomes, 1)
	assert.Equal(t, "chat-7", s.notifier.outcomes[0].Applied[0].Withdrawal.OriginContext)

	code, _ = s.do(t, http.MethodPost, confirmPath, nil, true)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, http.MethodGet, "/api/v1/deposits/"+itoa(receipt.Deposit.ID)+"/preview", nil, false)
	assert.Equal(t, http.StatusConflict, code)

	code, resp = s.do(t, http.MethodGet, "/api/v1/settlements", nil, false)
	require.Equal(t, http.StatusOK, code)
	history := decode[model.SettlementHistory](t, resp.Data)
	assert.Equal(t, 1, history.Total)
}

func TestConfirmUnmatchedReturnsFallback(t *testing.T) {
	s := setupTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/deposits", model.SubmitDepositRequest{
		DepositorName: "dave", Method: "zelle", Amount: "10",
	}, false)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	receipt := decode[settlement.DepositReceipt](t, resp.Data)

	code, resp = s.do(t, http.MethodPost, "/api/v1/deposits/"+itoa(receipt.Deposit.ID)+"/confirm", nil, true)
	require.Equal(t, http.StatusOK, code, resp.Error)
	out := decode[settlement.Outcome](t, resp.Data)
	assert.Equal(t, settlement.OutcomeUnmatched, out.Kind)
	assert.Equal(t, "payments@example.com", out.Fallback)
	assert.Empty(t, s.notifier.outcomes)
}

func TestAdjustments(t *testing.T) {
	s := setupTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/withdrawals", model.SubmitWithdrawalRequest{
		PayeeName: "erin", Method: "cashapp", Destination: "$erin", Amount: "40", OriginContext: "chat-1",
	}, true)
	require.Equal(t, http.StatusCreated, code, resp.Error)

	code, resp = s.do(t, http.MethodPost, "/api/v1/withdrawals/subtract",
		model.AdjustWithdrawalRequest{OriginContext: "chat-1", Amount: "15"}, true)
	require.Equal(t, http.StatusOK, code, resp.Error)
	w := decode[model.WithdrawalRequest](t, resp.Data)
	assert.Equal(t, "25", w.RemainingAmount.String())

	code, resp = s.do(t, http.MethodGet, "/api/v1/withdrawals/active?origin=chat-1", nil, false)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, w.ID, decode[model.WithdrawalRequest](t, resp.Data).ID)

	code, _ = s.do(t, http.MethodPost, "/api/v1/withdrawals/add",
		model.AdjustWithdrawalRequest{OriginContext: "chat-404", Amount: "5"}, true)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/withdrawals/add",
		model.AdjustWithdrawalRequest{WithdrawalID: w.ID, Amount: "-5"}, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(t, http.MethodPost, "/api/v1/withdrawals/filled", nil, true)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, model.WithdrawalCompleted, decode[model.WithdrawalRequest](t, resp.Data).Status)

	code, _ = s.do(t, http.MethodPost, "/api/v1/withdrawals/filled", nil, true)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodDelete, "/api/v1/withdrawals/"+itoa(w.ID), nil, true)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodDelete, "/api/v1/withdrawals/"+itoa(w.ID), nil, true)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodDelete, "/api/v1/withdrawals/abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListingsAndSummary(t *testing.T) {
	s := setupTestServer(t)

	for _, amount := range []string{"10", "20"} {
		code, resp := s.do(t, http.MethodPost, "/api/v1/withdrawals", model.SubmitWithdrawalRequest{
			PayeeName: "fay", Method: "crypto", Destination: "0xabc", Amount: amount,
		}, true)
		require.Equal(t, http.StatusCreated, code, resp.Error)
	}
	code, resp := s.do(t, http.MethodPost, "/api/v1/deposits", model.SubmitDepositRequest{
		DepositorName: "gus", Method: "crypto", Amount: "5",
	}, false)
	require.Equal(t, http.StatusCreated, code, resp.Error)

	code, resp = s.do(t, http.MethodGet, "/api/v1/withdrawals?method=crypto&open=true", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]model.WithdrawalRequest](t, resp.Data), 2)

	code, _ = s.do(t, http.MethodGet, "/api/v1/withdrawals?method=paypal", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(t, http.MethodGet, "/api/v1/withdrawals?open=yes", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid open flag", resp.Error)

	code, _ = s.do(t, http.MethodGet, "/api/v1/settlements?page=1844674407370955157", nil, false)
	assert.Equal(t, http.StatusOK, code)

	code, resp = s.do(t, http.MethodGet, "/api/v1/deposits?status=pending", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]model.DepositRecord](t, resp.Data), 1)

	code, _ = s.do(t, http.MethodGet, "/api/v1/deposits?status=lost", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(t, http.MethodGet, "/api/v1/summary", nil, false)
	require.Equal(t, http.StatusOK, code)
	sum := decode[settlement.Summary](t, resp.Data)
	assert.Equal(t, "30", sum.Outstanding.String())
	assert.Equal(t, "5", sum.Pending.String())

	code, resp = s.do(t, http.MethodPost, "/api/v1/deposits/complete", nil, true)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, "gus", decode[model.DepositRecord](t, resp.Data).DepositorName)

	code, _ = s.do(t, http.MethodPost, "/api/v1/deposits/complete", nil, true)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = s.do(t, http.MethodGet, "/api/v1/methods", nil, false)
	require.Equal(t, http.StatusOK, code)
	methods := decode[[]methodInfo](t, resp.Data)
	require.Len(t, methods, len(model.Methods))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(model.ErrInvalidAmount))
	assert.Equal(t, http.StatusForbidden, statusFor(model.ErrUnauthorized))
	assert.Equal(t, http.StatusNotFound, statusFor(model.ErrEmptyQueue))
	assert.Equal(t, http.StatusConflict, statusFor(model.ErrConflict))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
