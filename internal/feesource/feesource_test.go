package feesource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/djkazic/wizards-wallet/internal/jsonrpc"
)

func TestFeeForSize(t *testing.T) {
	tests := []struct {
		rate FeeRate
		size int
		want int64
	}{
		{4424, 226, 1000},
		{1000, 226, 226},
		{1, 1, 1},
		{1001, 1000, 1001},
		{0, 500, 0},
		{5000, 0, 0},
	}
	for _, tt := range tests {
		if got := tt.rate.FeeForSize(tt.size); got != tt.want {
			t.Errorf("FeeRate(%d).FeeForSize(%d) = %d, want %d", tt.rate, tt.size, got, tt.want)
		}
	}
}

func TestStaticAndMock(t *testing.T) {
	ctx := context.Background()
	if r, _ := Static(2000).CurrentFeeRate(ctx); r != 2000 {
		t.Errorf("static rate = %d", r)
	}

	m := NewMock(1500)
	if r, err := m.CurrentFeeRate(ctx); err != nil || r != 1500 {
		t.Errorf("mock = %d, %v", r, err)
	}
	m.Err = fmt.Errorf("connection refused")
	if _, err := m.CurrentFeeRate(ctx); err == nil {
		t.Error("expected mock error")
	}
	if m.Calls != 2 {
		t.Errorf("calls = %d, want 2", m.Calls)
	}
}

func bitcoind(t *testing.T, result string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Method != "estimatesmartfee" {
			t.Errorf("method = %s", req.Method)
		}
		w.Write([]byte(`{"id":1,"result":` + result + `,"error":null}`))
	}))
}

func TestBitcoindSource(t *testing.T) {
	srv := bitcoind(t, `{"feerate":0.00012345,"blocks":6}`)
	defer srv.Close()

	src := NewBitcoindSource(jsonrpc.NewClient(srv.URL, "", ""), 6, 1000)
	rate, err := src.CurrentFeeRate(context.Background())
	if err != nil {
		t.Fatalf("CurrentFeeRate: %v", err)
	}
	if rate != 12345 {
		t.Errorf("rate = %d, want 12345", rate)
	}
}

func TestBitcoindSource_Floor(t *testing.T) {
	srv := bitcoind(t, `{"feerate":0.00000100,"blocks":2}`)
	defer srv.Close()

	rate, err := NewBitcoindSource(jsonrpc.NewClient(srv.URL, "", ""), 2, 1000).CurrentFeeRate(context.Background())
	if err != nil || rate != 1000 {
		t.Errorf("rate = %d, %v; want floor 1000", rate, err)
	}
}

func TestBitcoindSource_NoEstimate(t *testing.T) {
	srv := bitcoind(t, `{"errors":["Insufficient data or no feerate found"],"blocks":0}`)
	defer srv.Close()

	_, err := NewBitcoindSource(jsonrpc.NewClient(srv.URL, "", ""), 6, 0).CurrentFeeRate(context.Background())
	if !errors.Is(err, ErrNoEstimate) {
		t.Errorf("got %v, want ErrNoEstimate", err)
	}
}
