package claims

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmorrow/claimcore/internal/fraud"
	"github.com/tmorrow/claimcore/internal/receipts"
	"github.com/tmorrow/claimcore/internal/rules"
)

func newTestRouter(t *testing.T) (*gin.Engine, *testEnv) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := newTestEnv(t)
	receiptStore := receipts.NewMemoryStore()

	// Rebuild the service with the shared receipt store so downloads work.
	evaluator := rules.NewEvaluator(env.catalog, rules.NewMemoryEvaluationStore())
	scorer := fraud.NewScorer(fraud.NewStaticProvider(), env.store, env.catalog, fraud.NewMemoryStore(), fraud.Options{})
	env.service = NewService(env.store, receiptStore, evaluator, scorer).
		WithAuditLogger(env.auditLog).
		WithAggregator(env.agg)

	r := gin.New()
	h := NewHandler(env.service, env.auditLog, receiptStore)
	h.RegisterRoutes(r.Group("/v1"))
	return r, env
}

func submitForm(t *testing.T, r *gin.Engine, policyID, username, amount string, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("policyId", policyID))
	require.NoError(t, w.WriteField("username", username))
	require.NoError(t, w.WriteField("claimedAmt", amount))
	for name, content := range files {
		fw, err := w.CreateFormFile("billReceipts", name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/userform", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSubmitClaim_Multipart(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := submitForm(t, r, "pol_1", "jane", "444.44", map[string][]byte{
		"bill.pdf": []byte("itemized bill"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, StatusApproved, out.Claim.Status)
	assert.Len(t, out.Claim.ReceiptIDs, 1)
	require.NotNil(t, out.Evaluation)
	assert.Equal(t, rules.RecommendApprove, out.Evaluation.Recommendation)
}

func TestSubmitClaim_ValidationError(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := submitForm(t, r, "pol_1", "jane", "-10", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_error")
}

func TestSubmitClaim_RejectsMissingReceipts(t *testing.T) {
	r, env := newTestRouter(t)

	rec := submitForm(t, r, "pol_1", "jane", "444.44", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "billReceipts")

	counts, err := env.store.CountByStatus(t.Context())
	require.NoError(t, err)
	assert.Zero(t, counts.Total())
}

func TestUpdateStatus_Flow(t *testing.T) {
	r, env := newTestRouter(t)

	rec := submitForm(t, r, "pol_1", "jane", "12500.75", map[string][]byte{
		"bill.pdf": []byte("itemized bill"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var out SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, StatusPending, out.Claim.Status)

	body, _ := json.Marshal(gin.H{
		"id":          out.Claim.ID,
		"claimStatus": "approved",
		"actor":       "adj_7",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/userform/update-status", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusOK, rec2.Code, rec2.Body.String())

	// Second decision hits the terminal guard.
	rec3 := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/userform/update-status", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec3, req)
	assert.Equal(t, http.StatusConflict, rec3.Code)
	assert.Contains(t, rec3.Body.String(), "illegal_transition")

	// The decision is attributed in the audit trail.
	entries := env.auditLog.Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, "decide", last.Operation)
	assert.Equal(t, "adj_7", last.ActorID)
}

func TestUpdateStatus_VersionConflict(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := submitForm(t, r, "pol_1", "jane", "12500.75", map[string][]byte{
		"bill.pdf": []byte("itemized bill"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var out SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	body, _ := json.Marshal(gin.H{
		"id":          out.Claim.ID,
		"claimStatus": "approved",
		"version":     out.Claim.Version + 10,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/userform/update-status", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusConflict, rec2.Code)
	assert.Contains(t, rec2.Body.String(), "version_conflict")
}

func TestStatusCounts_Endpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	bill := map[string][]byte{"bill.pdf": []byte("itemized bill")}
	require.Equal(t, http.StatusCreated, submitForm(t, r, "pol_1", "jane", "444.44", bill).Code)
	require.Equal(t, http.StatusCreated, submitForm(t, r, "pol_2", "john", "60000.50", bill).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/userform/status/count", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Counts StatusCounts `json:"counts"`
		Total  int64        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, int64(1), out.Counts.Approved)
	assert.Equal(t, int64(1), out.Counts.Rejected)
	assert.Equal(t, int64(2), out.Total)
}

func TestGetClaim_CarriesRiskAnnotation(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := submitForm(t, r, "pol_1", "jane", "444.44", map[string][]byte{
		"bill.pdf": []byte("itemized bill"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var submitted SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotNil(t, submitted.Assessment)

	req := httptest.NewRequest(http.MethodGet, "/v1/userform/"+submitted.Claim.ID, nil)
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusOK, rec2.Code)

	var out struct {
		Claim Claim `json:"claim"`
	}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &out))
	require.NotNil(t, out.Claim.Risk)
	assert.Equal(t, submitted.Assessment.Score, out.Claim.Risk.Score)
	assert.Equal(t, submitted.Assessment.Level, out.Claim.Risk.Level)
}

func TestGetClaim_NotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/userform/clm_missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadReceipt(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := submitForm(t, r, "pol_1", "jane", "444.44", map[string][]byte{
		"bill.pdf": []byte("itemized bill"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var out SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Claim.ReceiptIDs, 1)

	url := "/v1/userform/" + out.Claim.ID + "/receipts/" + out.Claim.ReceiptIDs[0]
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "itemized bill", rec2.Body.String())

	// A receipt ID under the wrong claim is invisible.
	req = httptest.NewRequest(http.MethodGet, "/v1/userform/clm_other/receipts/"+out.Claim.ReceiptIDs[0], nil)
	rec3 := httptest.NewRecorder()
	r.ServeHTTP(rec3, req)
	assert.Equal(t, http.StatusNotFound, rec3.Code)
}
