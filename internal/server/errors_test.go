package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"freightaudit/internal/audit"
	"freightaudit/internal/freight"
)

// helper to parse standardized error
type stdError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) stdError {
	t.Helper()
	var e stdError
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
		t.Fatalf("unmarshal error: %v; body=%s", err, rr.Body.String())
	}
	return e
}

func TestInvalidRunID_ErrorJSON(t *testing.T) {
	rr := serve(New(&fakeService{}, nil, nil), http.MethodGet, "/audits/not-a-uuid/summary", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d; body=%s", rr.Code, rr.Body.String())
	}
	if e := decodeError(t, rr); e.Error.Code != "invalid_request" {
		t.Fatalf("unexpected error code: %s", e.Error.Code)
	}
}

func TestInvalidTariffIDs_ErrorJSON(t *testing.T) {
	rr := serve(New(&fakeService{}, nil, nil), http.MethodPost, "/audits/"+uuid.NewString()+"/rerate?tariff_ids=nope", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if e := decodeError(t, rr); e.Error.Code != "invalid_request" {
		t.Fatalf("unexpected error code: %s", e.Error.Code)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		method string
		path   string
		status int
		code   string
	}{
		{"run not found", fmt.Errorf("load shipments: %w", freight.ErrRunNotFound), http.MethodPost, "/rerate", http.StatusNotFound, "resource_not_found"},
		{"invalid tariff", &freight.ValidationError{Carrier: "ACME", Origin: "SCARB", Reason: "no lanes"}, http.MethodPost, "/rerate", http.StatusUnprocessableEntity, "invalid_tariff"},
		{"unknown exception type", audit.UnknownExceptionError("bogus"), http.MethodGet, "/exceptions?type=bogus", http.StatusBadRequest, "invalid_request"},
		{"store failure", errors.New("connection reset"), http.MethodGet, "/summary", http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(&fakeService{err: tc.err}, nil, nil)
			rr := serve(h, tc.method, "/audits/"+uuid.NewString()+tc.path, "")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d; body=%s", tc.status, rr.Code, rr.Body.String())
			}
			if e := decodeError(t, rr); e.Error.Code != tc.code {
				t.Fatalf("unexpected error code: %s", e.Error.Code)
			}
		})
	}
}

func TestQuote_MissingOrigin_ErrorJSON(t *testing.T) {
	rr := serve(New(&fakeService{}, nil, nil), http.MethodGet, "/rates/quote?dest_city=OTTAWA&weight=10", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if e := decodeError(t, rr); e.Error.Code != "invalid_request" {
		t.Fatalf("unexpected error code: %s", e.Error.Code)
	}
}

func TestQuote_InvalidTariffs_ErrorJSON(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("build snapshot: %w", freight.ErrInvalidTariff)}
	rr := serve(New(svc, nil, nil), http.MethodGet, "/rates/quote?origin_dc=SCARB&weight=10", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestCreateRun_BadPayloads_ErrorJSON(t *testing.T) {
	h := New(&fakeService{}, &fakeRuns{}, nil)
	for _, tc := range []struct{ body, code string }{
		{`{"shipments":`, "invalid_json"},
		{`{"shipments":[]}`, "invalid_request"},
		{`{"shipments":[{"dest_city":"OTTAWA"}]}`, "invalid_shipment"},
		{`{"shipments":[{"origin_dc":"SCARB","weight":"heavy"}]}`, "invalid_shipment"},
	} {
		body, code := tc.body, tc.code
		rr := serve(h, http.MethodPost, "/audits", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rr.Code)
		}
		if e := decodeError(t, rr); e.Error.Code != code {
			t.Fatalf("%s: expected %s, got %s", body, code, e.Error.Code)
		}
	}
}
