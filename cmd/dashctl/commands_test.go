package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/subcommands"
)

func fakeService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/prices", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"disconnected","prices":[
			{"symbol":"BTCUSDT","lastPrice":"60000","priceChangePercent":"3.2","high24h":null,"low24h":null,"volume24h":"1200.5","eventTime":1}
		]}`)
	})
	mux.HandleFunc("GET /api/prices/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("symbol") != "ETHUSDT" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"symbol_not_found","message":"Symbol not in snapshot"}`)
			return
		}
		io.WriteString(w, `{"symbol":"ETHUSDT","lastPrice":"3000","priceChangePercent":"-1.5"}`)
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"connected"}`)
	})
	mux.HandleFunc("POST /api/valuation", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Positions []map[string]any `json:"positions"`
			Currency  string           `json:"currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Positions) != 2 || req.Currency != "EUR" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"validation_failed","message":"bad request"}`)
			return
		}
		io.WriteString(w, `{"quote":"USDT","positions":[
			{"symbol":"BTC","amount":"0.5","price":"60000","value":"30000","allocation":"0.967741935483871","change24hPercent":"3.2"},
			{"symbol":"USDT","amount":"1000","price":"1","value":"1000","allocation":"0.032258064516129","change24hPercent":"0"}
		],"total":"31000","change24h":"930","change24hPercent":"3.09","best":{"symbol":"BTC","percent":"3.2"},"worst":{"symbol":"BTC","percent":"3.2"},
		"display":{"currency":"EUR","amount":"27900","formatted":"€27,900.00"}}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, cmd subcommands.Command) subcommands.ExitStatus {
	t.Helper()
	return cmd.Execute(context.Background(), flag.NewFlagSet(cmd.Name(), flag.ContinueOnError))
}

func TestPricesCmd(t *testing.T) {
	srv := fakeService(t)
	var out bytes.Buffer

	if status := execute(t, &pricesCmd{out: &out, addr: srv.URL}); status != subcommands.ExitSuccess {
		t.Fatalf("exit = %v", status)
	}

	got := out.String()
	for _, want := range []string{"connection disconnected", "BTCUSDT", "60000.00", "3.20", "1200.50"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(got, " -") {
		t.Errorf("unknown high/low not rendered as '-':\n%s", got)
	}
}

func TestPricesCmd_Symbol(t *testing.T) {
	srv := fakeService(t)
	var out bytes.Buffer

	if status := execute(t, &pricesCmd{out: &out, addr: srv.URL, symbol: "ethusdt"}); status != subcommands.ExitSuccess {
		t.Fatalf("exit = %v", status)
	}
	if !strings.Contains(out.String(), "ETHUSDT") || !strings.Contains(out.String(), "-1.50") {
		t.Errorf("output = %s", out.String())
	}

	if status := execute(t, &pricesCmd{out: &out, addr: srv.URL, symbol: "DOGEUSDT"}); status != subcommands.ExitFailure {
		t.Errorf("unknown symbol exit = %v, want failure", status)
	}
}

func TestStatusCmd(t *testing.T) {
	srv := fakeService(t)
	var out bytes.Buffer

	if status := execute(t, &statusCmd{out: &out, addr: srv.URL}); status != subcommands.ExitSuccess {
		t.Fatalf("exit = %v", status)
	}
	if strings.TrimSpace(out.String()) != "connected" {
		t.Errorf("output = %q", out.String())
	}
}

func TestStatusCmd_UnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"open"}`)
	}))
	defer srv.Close()

	var out bytes.Buffer
	if status := execute(t, &statusCmd{out: &out, addr: srv.URL}); status != subcommands.ExitFailure {
		t.Errorf("exit = %v, want failure", status)
	}
	if out.Len() != 0 {
		t.Errorf("unknown status printed: %q", out.String())
	}
}

func TestValueCmd(t *testing.T) {
	srv := fakeService(t)
	dir := t.TempDir()

	files := map[string]string{
		"list.json":   `[{"symbol":"BTC","amount":"0.5"},{"symbol":"USDT","amount":1000}]`,
		"wallet.json": `{"positions":[{"symbol":"BTC","amount":"0.5"},{"symbol":"USDT","amount":"1000"}]}`,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := &valueCmd{out: &out, addr: srv.URL, file: path, currency: "EUR"}
			if status := execute(t, cmd); status != subcommands.ExitSuccess {
				t.Fatalf("exit = %v", status)
			}

			got := out.String()
			for _, want := range []string{"96.77", "total (USDT): 31000.00", "best:  BTC 3.20%", "display: €27,900.00"} {
				if !strings.Contains(got, want) {
					t.Errorf("output missing %q:\n%s", want, got)
				}
			}
		})
	}
}

func TestValueCmd_Errors(t *testing.T) {
	srv := fakeService(t)

	if status := execute(t, &valueCmd{out: io.Discard, addr: srv.URL}); status != subcommands.ExitUsageError {
		t.Errorf("missing -file exit = %v, want usage error", status)
	}

	path := filepath.Join(t.TempDir(), "one.json")
	os.WriteFile(path, []byte(`[{"symbol":"BTC","amount":"1"}]`), 0o600)
	if status := execute(t, &valueCmd{out: io.Discard, addr: srv.URL, file: path, currency: "EUR"}); status != subcommands.ExitFailure {
		t.Errorf("rejected request exit = %v, want failure", status)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := fakeService(t)

	var out any
	err := newClient(srv.URL).get(context.Background(), "/api/prices/NOPE", &out)
	apiErr, ok := err.(*apiError)
	if !ok || apiErr.Code != "symbol_not_found" {
		t.Errorf("error = %v, want symbol_not_found apiError", err)
	}
}
