package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"onedl/internal"
)

const torBoxURL = "https://api.torbox.app/v1/api"

// TorBox adapts the TorBox API. Torrents, usenet downloads and web downloads
// live in three parallel endpoint families.
type TorBox struct {
	client      *apiClient
	cloudSignal string
}

type tbResponse[T any] struct {
	Success bool        `json:"success"`
	Error   interface{} `json:"error"`
	Detail  string      `json:"detail"`
	Data    *T          `json:"data"`
}

// errorCode extracts the code; TorBox sends it as a string or an object
func (r *tbResponse[T]) errorCode() string {
	switch v := r.Error.(type) {
	case string:
		return v
	case map[string]interface{}:
		if code, ok := v["code"].(string); ok {
			return code
		}
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return ""
}

type tbCreated struct {
	TorrentID int64  `json:"torrent_id"`
	UsenetID  int64  `json:"usenetdownload_id"`
	WebID     int64  `json:"webdownload_id"`
	Hash      string `json:"hash"`
	AuthID    string `json:"auth_id"`
}

type tbFile struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	ShortName    string `json:"short_name"`
	AbsolutePath string `json:"absolute_path"`
}

type tbItem struct {
	ID               int64    `json:"id"`
	Hash             string   `json:"hash"`
	Name             string   `json:"name"`
	Size             int64    `json:"size"`
	DownloadState    string   `json:"download_state"`
	Progress         float64  `json:"progress"`
	DownloadSpeed    int64    `json:"download_speed"`
	Seeds            int      `json:"seeds"`
	DownloadFinished bool     `json:"download_finished"`
	DownloadPresent  bool     `json:"download_present"`
	Cached           bool     `json:"cached"`
	Files            []tbFile `json:"files"`
}

// family holds the path segment and id parameter of one endpoint family
type family struct {
	path    string
	idParam string
}

var tbFamilies = map[internal.JobKind]family{
	internal.JobKindTorrent: {path: "torrents", idParam: "torrent_id"},
	internal.JobKindUsenet:  {path: "usenet", idParam: "usenet_id"},
	internal.JobKindWebDL:   {path: "webdl", idParam: "web_id"},
}

// NewTorBox creates the TorBox adapter
func NewTorBox(cfg *internal.Config, opts ...Option) *TorBox {
	client := newAPIClient(internal.TorBox, torBoxURL, cfg, opts)
	client.headers["Authorization"] = "Bearer " + client.token
	signal := cfg.TorBoxCloudSignal
	if signal == "" {
		signal = internal.CloudSignalDownloadPresent
	}
	return &TorBox{client: client, cloudSignal: signal}
}

func (t *TorBox) Name() internal.ProviderName { return internal.TorBox }

func (t *TorBox) Configured() bool { return t.client.token != "" }

// Supports accepts magnets, hoster links and both container kinds
func (t *TorBox) Supports(link internal.Link) bool {
	switch link.Kind {
	case internal.KindMagnet, internal.KindHoster, internal.KindTorrentContainer, internal.KindNZBContainer:
		return true
	}
	return false
}

func (t *TorBox) codeError(code, detail string) error {
	kind := internal.ProviderUnsupported
	switch {
	case code == "BAD_TOKEN", code == "NO_AUTH", code == "AUTH_ERROR":
		kind = internal.ProviderAuth
	case strings.Contains(code, "LIMIT"), code == "PLAN_RESTRICTED_FEATURE", code == "DOWNLOAD_TOO_LARGE":
		kind = internal.ProviderQuota
	case code == "SERVER_ERROR", code == "UNKNOWN_ERROR":
		kind = internal.ProviderTransient
	}
	msg := detail
	if msg == "" {
		msg = code
	}
	return internal.NewProviderError(internal.TorBox, kind, msg).WithContext("code", code)
}

// CheckCached asks torrents/checkcached by infohash. Hoster and usenet
// links have no lookup and stay unknown.
func (t *TorBox) CheckCached(ctx context.Context, link internal.Link) (internal.CacheStatus, error) {
	if link.InfoHash == "" {
		return internal.CacheUnknown, nil
	}
	var res tbResponse[map[string]struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
		Hash string `json:"hash"`
	}]
	q := url.Values{"hash": {link.InfoHash}, "format": {"object"}}
	if err := t.client.get(ctx, "torrents/checkcached", q, &res); err != nil {
		return internal.CacheUnknown, err
	}
	if !res.Success && res.Error != nil {
		return internal.CacheUnknown, t.codeError(res.errorCode(), res.Detail)
	}
	if res.Data == nil {
		return internal.CacheNotCached, nil
	}
	for h, entry := range *res.Data {
		if strings.EqualFold(h, link.InfoHash) && entry.Size > 0 {
			return internal.CacheCached, nil
		}
	}
	return internal.CacheNotCached, nil
}

// Submit creates a torrent, usenet or web download. NZB jobs need the
// secondary cloud stage before their files can be listed.
func (t *TorBox) Submit(ctx context.Context, link internal.Link) (*internal.RemoteJob, error) {
	var (
		kind  internal.JobKind
		path  string
		parts []formPart
	)

	switch link.Kind {
	case internal.KindMagnet:
		kind, path = internal.JobKindTorrent, "torrents/createtorrent"
		parts = []formPart{{field: "magnet", value: link.Raw}}

	case internal.KindTorrentContainer:
		name, data, err := t.client.loadContainer(ctx, link)
		if err != nil {
			return nil, err
		}
		kind, path = internal.JobKindTorrent, "torrents/createtorrent"
		parts = []formPart{{field: "file", filename: name, data: data}}

	case internal.KindNZBContainer:
		kind, path = internal.JobKindUsenet, "usenet/createusenetdownload"
		if link.IsRemote() {
			parts = []formPart{{field: "link", value: link.Raw}}
		} else {
			name, data, err := t.client.loadContainer(ctx, link)
			if err != nil {
				return nil, err
			}
			parts = []formPart{{field: "file", filename: name, data: data}}
		}

	case internal.KindHoster:
		kind, path = internal.JobKindWebDL, "webdl/createwebdownload"
		parts = []formPart{{field: "link", value: link.Raw}}

	default:
		return nil, unsupportedLink(internal.TorBox, link)
	}

	var res tbResponse[tbCreated]
	if err := t.client.postMultipart(ctx, path, nil, parts, &res); err != nil {
		return nil, err
	}
	if !res.Success || res.Data == nil {
		return nil, t.codeError(res.errorCode(), res.Detail)
	}

	var id int64
	switch kind {
	case internal.JobKindTorrent:
		id = res.Data.TorrentID
	case internal.JobKindUsenet:
		id = res.Data.UsenetID
	case internal.JobKindWebDL:
		id = res.Data.WebID
	}
	if id == 0 {
		return nil, internal.NewProviderError(internal.TorBox, internal.ProviderTransient, "download was not created")
	}

	job := internal.NewRemoteJob(internal.TorBox, kind, strconv.FormatInt(id, 10), link)
	job.NeedsSecondaryStage = kind == internal.JobKindUsenet
	return job, nil
}

// Poll reads the job from its family's mylist endpoint
func (t *TorBox) Poll(ctx context.Context, job *internal.RemoteJob) (*internal.JobSnapshot, error) {
	item, err := t.item(ctx, job)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return &internal.JobSnapshot{Status: internal.JobExpired, Message: "download no longer listed"}, nil
	}

	snap := &internal.JobSnapshot{
		Status:   tbStatus(item.DownloadState, item.DownloadFinished),
		Progress: item.Progress * 100,
		Speed:    item.DownloadSpeed,
		Seeders:  item.Seeds,
		Message:  item.DownloadState,
	}
	if snap.Status == internal.JobReady {
		snap.Progress = 100
		snap.SecondaryDone = t.cloudReady(item)
	}
	return snap, nil
}

// cloudReady reports the configured secondary stage signal
func (t *TorBox) cloudReady(item *tbItem) bool {
	if t.cloudSignal == internal.CloudSignalFiles {
		return len(item.Files) > 0
	}
	return item.DownloadPresent
}

var (
	tbQueued = map[string]bool{
		"queued": true, "queuedDL": true, "metaDL": true, "checkingDL": true,
		"checkingResumeData": true, "allocating": true, "paused": true, "pausedDL": true,
	}
	tbFailed = map[string]bool{
		"error": true, "failed": true, "stalled (no seeds)": true, "missingFiles": true,
	}
)

// tbStatus maps download_state. Unknown states count as in progress since
// usenet and webdl report post-processing steps under many names.
func tbStatus(state string, finished bool) internal.JobStatus {
	lower := strings.ToLower(state)
	switch {
	case finished:
		return internal.JobReady
	case tbFailed[state], strings.HasPrefix(lower, "failed"), strings.HasPrefix(lower, "error"):
		return internal.JobError
	case lower == "expired" || lower == "deleted":
		return internal.JobExpired
	case tbQueued[state]:
		return internal.JobQueued
	default:
		return internal.JobDownloadingRemote
	}
}

func (t *TorBox) item(ctx context.Context, job *internal.RemoteJob) (*tbItem, error) {
	fam, ok := tbFamilies[job.Kind]
	if !ok {
		return nil, internal.NewProviderError(internal.TorBox, internal.ProviderUnsupported,
			fmt.Sprintf("unknown job kind %q", job.Kind))
	}

	var res tbResponse[json.RawMessage]
	q := url.Values{"id": {job.RemoteID}, "bypass_cache": {"true"}}
	if err := t.client.get(ctx, fam.path+"/mylist", q, &res); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !res.Success && res.Error != nil {
		if code := res.errorCode(); code == "DATABASE_ERROR" || code == "ITEM_NOT_FOUND" {
			return nil, nil
		}
		return nil, t.codeError(res.errorCode(), res.Detail)
	}
	if res.Data == nil {
		return nil, nil
	}

	var item tbItem
	found, err := decodeOneOrMany(*res.Data, &item)
	if err != nil {
		return nil, internal.NewProviderError(internal.TorBox, internal.ProviderTransient, "unexpected list response").WithCause(err)
	}
	if !found {
		return nil, nil
	}
	return &item, nil
}

// ListFiles requests a download link for every file of a ready job
func (t *TorBox) ListFiles(ctx context.Context, job *internal.RemoteJob) ([]internal.ResolvedFile, error) {
	if err := requireReady(job); err != nil {
		return nil, err
	}
	item, err := t.item(ctx, job)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, internal.NewRemoteJobExpiredError(job, "download disappeared before its files were listed")
	}

	fam := tbFamilies[job.Kind]
	files := make([]internal.ResolvedFile, 0, len(item.Files))
	for _, f := range item.Files {
		q := url.Values{
			"token":     {t.client.token},
			fam.idParam: {job.RemoteID},
			"file_id":   {strconv.FormatInt(f.ID, 10)},
			"redirect":  {"false"},
		}
		var res tbResponse[string]
		if err := t.client.get(ctx, fam.path+"/requestdl", q, &res); err != nil {
			return nil, err
		}
		if res.Data == nil || *res.Data == "" {
			return nil, t.codeError(res.errorCode(), res.Detail)
		}
		name := f.Name
		if name == "" {
			name = f.ShortName
		}
		files = append(files, internal.ResolvedFile{Name: name, Size: f.Size, DirectURL: *res.Data})
	}
	return internal.Reindex(files), nil
}
