package api

import (
	"bytes"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

func newTestEcho() *echo.Echo {
	e := echo.New()
	NewServer(nil).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

func TestHealthz(t *testing.T) {
	rec := doJSON(t, newTestEcho(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestLayerNormForwardEndpoint(t *testing.T) {
	body := `{
		"input": {"dtype": "float32", "shape": [4], "data": [1, 2, 3, 4]},
		"normalized_shape": [4],
		"epsilon": 1e-5
	}`
	rec := doJSON(t, newTestEcho(), http.MethodPost, "/v1/layernorm/forward", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[ForwardResponse](t, rec)
	if resp.RequestID == "" {
		t.Fatal("missing request_id")
	}
	if resp.Mean == nil || resp.InvStd == nil || resp.Output == nil {
		t.Fatal("missing output tensors")
	}
	if math.Abs(resp.Mean.Data[0]-2.5) > 1e-4 {
		t.Fatalf("mean = %v, want 2.5", resp.Mean.Data[0])
	}
	if math.Abs(resp.Output.Data[0]+1.3416) > 1e-3 {
		t.Fatalf("output[0] = %v, want -1.3416", resp.Output.Data[0])
	}
}

func TestRMSNormRoundTripEndpoints(t *testing.T) {
	e := newTestEcho()
	fwdBody := `{
		"input": {"dtype": "float32", "shape": [2, 4], "data": [1, 2, 3, 4, 4, 3, 2, 1]},
		"normalized_shape": [4],
		"gamma": {"dtype": "float32", "shape": [4], "data": [1, 1, 1, 1]},
		"epsilon": 1e-5
	}`
	rec := doJSON(t, e, http.MethodPost, "/v1/rmsnorm/forward", fwdBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("forward status = %d, body: %s", rec.Code, rec.Body.String())
	}
	fwd := decodeBody[ForwardResponse](t, rec)
	if fwd.InvRMS == nil || len(fwd.InvRMS.Data) != 2 {
		t.Fatalf("invrms = %+v, want 2 rows", fwd.InvRMS)
	}

	bwdReq := BackwardRequest{
		GradOutput:      &TensorDTO{DType: "float32", Shape: []int{2, 4}, Data: []float64{1, 0, 0, 0, 0, 0, 0, 1}},
		InvRMS:          fwd.InvRMS,
		Input:           &TensorDTO{DType: "float32", Shape: []int{2, 4}, Data: []float64{1, 2, 3, 4, 4, 3, 2, 1}},
		NormalizedShape: []int{4},
		Gamma:           &TensorDTO{DType: "float32", Shape: []int{4}, Data: []float64{1, 1, 1, 1}},
		Epsilon:         1e-5,
	}
	raw, err := json.Marshal(bwdReq)
	if err != nil {
		t.Fatal(err)
	}
	rec = doJSON(t, e, http.MethodPost, "/v1/rmsnorm/backward", string(raw))
	if rec.Code != http.StatusOK {
		t.Fatalf("backward status = %d, body: %s", rec.Code, rec.Body.String())
	}
	bwd := decodeBody[BackwardResponse](t, rec)
	if bwd.GradInput == nil || len(bwd.GradInput.Data) != 8 {
		t.Fatalf("grad_input = %+v, want 8 values", bwd.GradInput)
	}
	if bwd.GradGamma == nil || len(bwd.GradGamma.Data) != 4 {
		t.Fatalf("grad_gamma = %+v, want 4 values", bwd.GradGamma)
	}
}

func TestShapeErrorMapsToBadRequest(t *testing.T) {
	body := `{
		"input": {"dtype": "float32", "shape": [4], "data": [1, 2, 3, 4]},
		"normalized_shape": [5],
		"epsilon": 1e-5
	}`
	rec := doJSON(t, newTestEcho(), http.MethodPost, "/v1/layernorm/forward", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body: %s)", rec.Code, rec.Body.String())
	}
	envelope := decodeBody[struct {
		Error ErrorBody `json:"error"`
	}](t, rec)
	if envelope.Error.Type != "shape_error" {
		t.Fatalf("error type = %q, want shape_error", envelope.Error.Type)
	}
}

func TestNgramBlockEndpoint(t *testing.T) {
	req := NgramRequest{
		Tokens:    []int64{1, 2, 3, 1, 2, 0},
		Lprobs:    []float32{-1, -1, -1, -1, -1, -1, -1, -1},
		Bsz:       1,
		Step:      4,
		BeamSize:  1,
		NgramSize: 3,
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, newTestEcho(), http.MethodPost, "/v1/ngram/block", string(raw))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[NgramResponse](t, rec)
	if len(resp.Banned) != 1 || len(resp.Banned[0]) != 1 || resp.Banned[0][0] != 3 {
		t.Fatalf("banned = %v, want [[3]]", resp.Banned)
	}
}

func TestMalformedBody(t *testing.T) {
	rec := doJSON(t, newTestEcho(), http.MethodPost, "/v1/layernorm/forward", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
