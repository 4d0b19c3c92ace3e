package debrid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"onedl/internal"
)

func TestRealDebrid_MagnetLifecycle(t *testing.T) {
	var infoCalls, selectCalls atomic.Int32
	statuses := []string{"magnet_conversion", "waiting_files_selection", "waiting_files_selection", "downloading", "downloaded"}

	mux := http.NewServeMux()
	mux.HandleFunc("/torrents/addMagnet", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer rd-token" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad_token"})
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("magnet") == "" {
			t.Errorf("magnet form value missing")
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": "T1", "uri": "x"})
	})
	mux.HandleFunc("/torrents/info/T1", func(w http.ResponseWriter, r *http.Request) {
		n := int(infoCalls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":       "T1",
			"status":   statuses[n],
			"progress": float64(n * 25),
			"speed":    1024,
			"seeders":  7,
			"files":    []map[string]interface{}{{"id": 1, "path": "/a.mkv", "bytes": 10}, {"id": 2, "path": "/b.nfo", "bytes": 1}},
			"links":    []string{"https://real-debrid.com/d/AAA", "https://real-debrid.com/d/BBB"},
		})
	})
	mux.HandleFunc("/torrents/selectFiles/T1", func(w http.ResponseWriter, r *http.Request) {
		selectCalls.Add(1)
		r.ParseForm()
		if got := r.PostForm.Get("files"); got != "1,2" {
			t.Errorf("files = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/unrestrict/link", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		link := r.PostForm.Get("link")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":       "U",
			"filename": link[len(link)-3:] + ".mkv",
			"filesize": 100,
			"download": "https://cdn.example/" + link[len(link)-3:],
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	rd := NewRealDebrid(testConfig(), WithBaseURL(server.URL))
	ctx := context.Background()

	job, err := rd.Submit(ctx, magnetLink())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.RemoteID != "T1" || job.Status != internal.JobSubmitted || job.Kind != internal.JobKindTorrent {
		t.Fatalf("unexpected job %+v", job)
	}

	want := []internal.JobStatus{
		internal.JobQueued, internal.JobQueued, internal.JobQueued,
		internal.JobDownloadingRemote, internal.JobReady,
	}
	for i, w := range want {
		snap, err := rd.Poll(ctx, job)
		if err != nil {
			t.Fatalf("Poll %d: %v", i, err)
		}
		if snap.Status != w {
			t.Errorf("poll %d status = %s, want %s", i, snap.Status, w)
		}
		job.Advance(snap.Status)
	}
	if selectCalls.Load() != 1 {
		t.Errorf("selectFiles called %d times, want 1", selectCalls.Load())
	}

	files, err := rd.ListFiles(ctx, job)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].Index != 1 || files[0].Name != "AAA.mkv" || files[0].DirectURL != "https://cdn.example/AAA" {
		t.Errorf("file 0 = %+v", files[0])
	}
	if files[1].Index != 2 || files[1].Size != 100 {
		t.Errorf("file 1 = %+v", files[1])
	}
}

func TestRealDebrid_HosterIsSynchronous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/unrestrict/link" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": "H1", "filename": "movie.mkv", "filesize": 42, "download": "https://cdn.example/movie.mkv",
		})
	}))
	defer server.Close()

	rd := NewRealDebrid(testConfig(), WithBaseURL(server.URL))
	job, err := rd.Submit(context.Background(), hosterLink())
	if err != nil {
		t.Fatal(err)
	}
	if !job.Ready() {
		t.Fatalf("hoster job should be ready, status %s", job.Status)
	}
	files, err := rd.ListFiles(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name != "movie.mkv" || files[0].Size != 42 || files[0].Index != 1 {
		t.Errorf("files = %+v", files)
	}
}

func TestRealDebrid_SubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   internal.ProviderErrorKind
	}{
		{"bad_token", http.StatusUnauthorized, internal.ProviderAuth},
		{"not_premium", http.StatusForbidden, internal.ProviderAuth},
		{"unavailable", http.StatusServiceUnavailable, internal.ProviderTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]interface{}{"error": tt.name, "error_code": 8})
			}))
			defer server.Close()

			_, err := NewRealDebrid(testConfig(), WithBaseURL(server.URL)).Submit(context.Background(), magnetLink())
			if got := internal.ProviderKindOf(err); got != tt.kind {
				t.Errorf("kind = %v, want %v", got, tt.kind)
			}
		})
	}

	_, err := NewRealDebrid(testConfig()).Submit(context.Background(), internal.Link{Kind: internal.KindNZBContainer})
	if internal.ProviderKindOf(err) != internal.ProviderUnsupported {
		t.Errorf("nzb should be unsupported, got %v", err)
	}
}

func TestRealDebrid_PollStatuses(t *testing.T) {
	tests := []struct {
		status string
		want   internal.JobStatus
	}{
		{"magnet_conversion", internal.JobQueued},
		{"queued", internal.JobQueued},
		{"downloading", internal.JobDownloadingRemote},
		{"uploading", internal.JobDownloadingRemote},
		{"downloaded", internal.JobReady},
		{"magnet_error", internal.JobError},
		{"virus", internal.JobError},
		{"dead", internal.JobExpired},
	}
	for _, tt := range tests {
		if got := rdStatus(tt.status); got != tt.want {
			t.Errorf("rdStatus(%q) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestRealDebrid_PollErrorStatuses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		expired bool
	}{
		{"missing_torrent_expires", http.StatusNotFound, true},
		{"bad_request_is_an_error", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]string{"error": "unknown_ressource"})
			}))
			defer server.Close()

			rd := NewRealDebrid(testConfig(), WithBaseURL(server.URL))
			job := internal.NewRemoteJob(internal.RealDebrid, internal.JobKindTorrent, "gone", magnetLink())
			snap, err := rd.Poll(context.Background(), job)
			if !tt.expired {
				if err == nil || !internal.IsErrorType(err, internal.ErrProvider) {
					t.Fatalf("snap = %+v, err = %v, want provider error", snap, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if snap.Status != internal.JobExpired {
				t.Errorf("status = %s, want expired", snap.Status)
			}
		})
	}
}

func TestRealDebrid_CheckCached(t *testing.T) {
	tests := []struct {
		name string
		body string
		want internal.CacheStatus
	}{
		{"cached", `{"` + testHash + `":{"rd":[{"1":{"filename":"a","filesize":1}}]}}`, internal.CacheCached},
		{"uppercase_key", `{"` + "C12FE1C06BBA254A9DC9F519B335AA7C1367A88A" + `":{"rd":[{}]}}`, internal.CacheCached},
		{"not_cached", `{"` + testHash + `":{"rd":[]}}`, internal.CacheNotCached},
		{"empty_array_entry", `{"` + testHash + `":[]}`, internal.CacheNotCached},
		{"no_entry", `{}`, internal.CacheUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			got, err := NewRealDebrid(testConfig(), WithBaseURL(server.URL)).CheckCached(context.Background(), magnetLink())
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("CheckCached = %s, want %s", got, tt.want)
			}
		})
	}

	t.Run("hoster", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"host": "1fichier.com", "supported": 1})
		}))
		defer server.Close()

		got, err := NewRealDebrid(testConfig(), WithBaseURL(server.URL)).CheckCached(context.Background(), hosterLink())
		if err != nil || got != internal.CacheCached {
			t.Errorf("hoster CheckCached = %s, %v", got, err)
		}
	})
}
