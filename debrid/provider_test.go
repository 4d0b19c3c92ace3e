package debrid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"onedl/internal"
)

const testHash = "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"

func testConfig() *internal.Config {
	cfg := internal.DefaultConfig()
	cfg.RealDebridToken = "rd-token"
	cfg.AllDebridToken = "ad-token"
	cfg.PremiumizeToken = "pm-token"
	cfg.TorBoxToken = "tb-token"
	cfg.APIRatePerSecond = 0
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func magnetLink() internal.Link {
	return internal.Link{
		Raw:      "magnet:?xt=urn:btih:" + testHash,
		Kind:     internal.KindMagnet,
		InfoHash: testHash,
	}
}

func hosterLink() internal.Link {
	return internal.Link{Raw: "https://1fichier.com/?abc", Kind: internal.KindHoster, Host: "1fichier.com"}
}

func TestNewProviders(t *testing.T) {
	cfg := testConfig()
	cfg.ProviderPriority = []internal.ProviderName{internal.TorBox, internal.RealDebrid}
	cfg.AllDebridToken = ""

	providers := NewProviders(cfg)
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers))
	}
	if providers[0].Name() != internal.TorBox || providers[1].Name() != internal.RealDebrid {
		t.Errorf("order = %s, %s", providers[0].Name(), providers[1].Name())
	}

	if New(internal.AllDebrid, cfg).Configured() {
		t.Error("AllDebrid without a token should not be configured")
	}
	if New("nope", cfg) != nil {
		t.Error("unknown provider should return nil")
	}
}

func TestSupportsMatrix(t *testing.T) {
	cfg := testConfig()
	kinds := []internal.LinkKind{
		internal.KindMagnet, internal.KindHoster, internal.KindTorrentContainer,
		internal.KindNZBContainer, internal.KindDirect, internal.KindMegaFolder,
	}
	want := map[internal.ProviderName][]bool{
		internal.RealDebrid: {true, true, true, false, false, false},
		internal.AllDebrid:  {true, true, true, false, false, false},
		internal.Premiumize: {true, true, true, true, false, false},
		internal.TorBox:     {true, true, true, true, false, false},
	}
	for name, expected := range want {
		p := New(name, cfg)
		for i, kind := range kinds {
			if got := p.Supports(internal.Link{Kind: kind}); got != expected[i] {
				t.Errorf("%s.Supports(%s) = %v, want %v", name, kind, got, expected[i])
			}
		}
	}
}

func TestAPIClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   internal.ProviderErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, internal.ProviderAuth},
		{"forbidden", http.StatusForbidden, internal.ProviderAuth},
		{"payment", http.StatusPaymentRequired, internal.ProviderQuota},
		{"rate_limited", http.StatusTooManyRequests, internal.ProviderQuota},
		{"server_error", http.StatusBadGateway, internal.ProviderTransient},
		{"not_found", http.StatusNotFound, internal.ProviderUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]string{"error": "boom"})
			}))
			defer server.Close()

			client := newAPIClient(internal.RealDebrid, server.URL, testConfig(), nil)
			err := client.get(context.Background(), "anything", nil, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := internal.ProviderKindOf(err); got != tt.kind {
				t.Errorf("kind = %v, want %v (%v)", got, tt.kind, err)
			}
		})
	}
}

func TestAPIClient_TransportFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newAPIClient(internal.TorBox, url, testConfig(), nil)
	err := client.get(context.Background(), "x", nil, nil)
	if !internal.IsRetryable(err) {
		t.Errorf("closed server should give a transient error, got %v", err)
	}
}

func TestAPIClient_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := newAPIClient(internal.TorBox, server.URL, testConfig(), nil)
	if err := client.get(ctx, "slow", nil, nil); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestAPIClient_LoadContainer(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "show.nzb")
		if err := os.WriteFile(path, []byte("<nzb/>"), 0644); err != nil {
			t.Fatal(err)
		}
		client := newAPIClient(internal.TorBox, "http://unused", testConfig(), nil)
		name, data, err := client.loadContainer(context.Background(), internal.Link{Kind: internal.KindNZBContainer, Path: path})
		if err != nil {
			t.Fatal(err)
		}
		if name != "show.nzb" || string(data) != "<nzb/>" {
			t.Errorf("got %q %q", name, data)
		}
	})

	t.Run("remote", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("d8:announce0:e"))
		}))
		defer server.Close()

		client := newAPIClient(internal.TorBox, "http://unused", testConfig(), nil)
		link := internal.Link{Raw: server.URL + "/files/linux.torrent", Kind: internal.KindTorrentContainer}
		name, data, err := client.loadContainer(context.Background(), link)
		if err != nil {
			t.Fatal(err)
		}
		if name != "linux.torrent" || len(data) == 0 {
			t.Errorf("got %q %d bytes", name, len(data))
		}
	})

	t.Run("missing", func(t *testing.T) {
		client := newAPIClient(internal.TorBox, "http://unused", testConfig(), nil)
		_, _, err := client.loadContainer(context.Background(), internal.Link{Kind: internal.KindNZBContainer, Path: "/nope.nzb"})
		if internal.ProviderKindOf(err) != internal.ProviderUnsupported {
			t.Errorf("expected unsupported error, got %v", err)
		}
	})
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"detail":"token expired"}`, "token expired"},
		{`{"message":"bad link"}`, "bad link"},
		{`{"error":"bad_token"}`, "bad_token"},
		{`{"error":{"code":"X","message":"nested"}}`, "nested"},
		{`plain text`, "plain text"},
		{``, "empty response"},
	}
	for _, tt := range tests {
		if got := errorMessage([]byte(tt.body)); got != tt.want {
			t.Errorf("errorMessage(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestDecodeOneOrMany(t *testing.T) {
	var v struct {
		ID int `json:"id"`
	}

	found, err := decodeOneOrMany(json.RawMessage(`{"id":1}`), &v)
	if err != nil || !found || v.ID != 1 {
		t.Errorf("object: found=%v id=%d err=%v", found, v.ID, err)
	}

	found, err = decodeOneOrMany(json.RawMessage(`[{"id":2},{"id":3}]`), &v)
	if err != nil || !found || v.ID != 2 {
		t.Errorf("list: found=%v id=%d err=%v", found, v.ID, err)
	}

	for _, raw := range []string{`[]`, `null`, ``} {
		found, err = decodeOneOrMany(json.RawMessage(raw), &v)
		if err != nil || found {
			t.Errorf("%q: found=%v err=%v", raw, found, err)
		}
	}
}

func TestListFilesBeforeReady(t *testing.T) {
	cfg := testConfig()
	job := internal.NewRemoteJob(internal.RealDebrid, internal.JobKindTorrent, "1", magnetLink())
	job.Advance(internal.JobDownloadingRemote)

	for _, p := range NewProviders(cfg) {
		_, err := p.ListFiles(context.Background(), job)
		if !internal.IsErrorType(err, internal.ErrNotReady) {
			t.Errorf("%s: expected NotReady, got %v", p.Name(), err)
		}
	}

	_, err := NewTorBox(cfg).ListFiles(context.Background(), nil)
	if !internal.IsErrorType(err, internal.ErrNotReady) {
		t.Errorf("nil job: expected NotReady, got %v", err)
	}
}
