// protocol_test.go — Tests for JSON-RPC envelope (un)marshaling.
package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestRequestHasIDVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		body          string
		wantHasID     bool
		wantInvalidID bool
	}{
		{"numeric id", `{"jsonrpc":"2.0","id":1,"method":"navigate"}`, true, false},
		{"string id", `{"jsonrpc":"2.0","id":"a1","method":"navigate"}`, true, false},
		{"notification: no id field", `{"jsonrpc":"2.0","method":"navigate"}`, false, false},
		{"explicit null id", `{"jsonrpc":"2.0","id":null,"method":"navigate"}`, false, true},
		{"invalid id type", `{"jsonrpc":"2.0","id":[1],"method":"navigate"}`, false, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var req Request
			if err := json.Unmarshal([]byte(tc.body), &req); err != nil {
				t.Fatalf("Unmarshal error = %v", err)
			}
			if got := req.HasID(); got != tc.wantHasID {
				t.Errorf("HasID() = %v, want %v", got, tc.wantHasID)
			}
			if got := req.HasInvalidID(); got != tc.wantInvalidID {
				t.Errorf("HasInvalidID() = %v, want %v", got, tc.wantInvalidID)
			}
		})
	}
}

func TestNewResultMarshalsValue(t *testing.T) {
	t.Parallel()
	resp, err := NewResult(float64(1), map[string]string{"title": "Example Domain"})
	if err != nil {
		t.Fatalf("NewResult error = %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("expected no error, got %+v", resp.Error)
	}
	var decoded map[string]string
	if err := json.Unmarshal(resp.Result, &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if decoded["title"] != "Example Domain" {
		t.Errorf("title = %q, want %q", decoded["title"], "Example Domain")
	}
}

func TestNewErrorCarriesCode(t *testing.T) {
	t.Parallel()
	resp := NewError(float64(4), -32601, "method not found")
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("unexpected error response: %+v", resp)
	}
	if resp.Result != nil {
		t.Errorf("expected nil result on error response")
	}
}

func TestBatchRequestRoundTrip(t *testing.T) {
	t.Parallel()
	body := `{"requests":[{"method":"getTitle","params":{"tabId":"tab0"}},{"method":"getTitle","params":{"tabId":"missing"}}]}`
	var batch BatchRequest
	if err := json.Unmarshal([]byte(body), &batch); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if len(batch.Requests) != 2 {
		t.Fatalf("len(Requests) = %d, want 2", len(batch.Requests))
	}
	if batch.Requests[0].Method != "getTitle" {
		t.Errorf("Requests[0].Method = %q, want getTitle", batch.Requests[0].Method)
	}
}
