package debrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"onedl/internal"
	"onedl/utils"
)

const realDebridURL = "https://api.real-debrid.com/rest/1.0"

// RealDebrid adapts the Real-Debrid REST API
type RealDebrid struct {
	client *apiClient

	// torrents whose file selection has been sent, keyed by remote id
	selected *xsync.Map[string, struct{}]
}

type rdAddResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type rdFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

type rdTorrentInfo struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Hash     string   `json:"hash"`
	Bytes    int64    `json:"bytes"`
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Speed    int64    `json:"speed"`
	Seeders  int      `json:"seeders"`
	Links    []string `json:"links"`
	Files    []rdFile `json:"files"`
}

type rdUnrestrict struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Link     string `json:"link"`
	Host     string `json:"host"`
	Download string `json:"download"`
}

type rdCheck struct {
	Host      string `json:"host"`
	Link      string `json:"link"`
	Filename  string `json:"filename"`
	Filesize  int64  `json:"filesize"`
	Supported int    `json:"supported"`
}

// NewRealDebrid creates the Real-Debrid adapter
func NewRealDebrid(cfg *internal.Config, opts ...Option) *RealDebrid {
	client := newAPIClient(internal.RealDebrid, realDebridURL, cfg, opts)
	client.headers["Authorization"] = "Bearer " + client.token
	return &RealDebrid{
		client:   client,
		selected: xsync.NewMap[string, struct{}](),
	}
}

func (r *RealDebrid) Name() internal.ProviderName { return internal.RealDebrid }

func (r *RealDebrid) Configured() bool { return r.client.token != "" }

// Supports accepts magnets, hoster links and .torrent files
func (r *RealDebrid) Supports(link internal.Link) bool {
	switch link.Kind {
	case internal.KindMagnet, internal.KindHoster, internal.KindTorrentContainer:
		return true
	}
	return false
}

// CheckCached asks instantAvailability for torrents and unrestrict/check for hoster links
func (r *RealDebrid) CheckCached(ctx context.Context, link internal.Link) (internal.CacheStatus, error) {
	switch {
	case link.Kind == internal.KindHoster:
		var check rdCheck
		err := r.client.postForm(ctx, "unrestrict/check", nil, url.Values{"link": {link.Raw}}, &check)
		if err != nil {
			if internal.ProviderKindOf(err) == internal.ProviderUnsupported {
				return internal.CacheNotCached, nil
			}
			return internal.CacheUnknown, err
		}
		if check.Supported == 1 {
			return internal.CacheCached, nil
		}
		return internal.CacheNotCached, nil

	case link.InfoHash != "":
		var availability map[string]json.RawMessage
		if err := r.client.get(ctx, "torrents/instantAvailability/"+link.InfoHash, nil, &availability); err != nil {
			return internal.CacheUnknown, err
		}
		return rdAvailability(availability, link.InfoHash), nil
	}
	return internal.CacheUnknown, nil
}

// rdAvailability reads {"<hash>": {"rd": [...]}}; an empty answer means the
// endpoint gave no information
func rdAvailability(availability map[string]json.RawMessage, hash string) internal.CacheStatus {
	var entry json.RawMessage
	for k, v := range availability {
		if strings.EqualFold(k, hash) {
			entry = v
			break
		}
	}
	if entry == nil {
		return internal.CacheUnknown
	}
	var hosts map[string][]json.RawMessage
	if err := json.Unmarshal(entry, &hosts); err != nil {
		return internal.CacheNotCached
	}
	if len(hosts["rd"]) > 0 {
		return internal.CacheCached
	}
	return internal.CacheNotCached
}

// Submit adds a torrent or unrestricts a hoster link. Hoster links are
// unlocked synchronously so the returned job is already ready.
func (r *RealDebrid) Submit(ctx context.Context, link internal.Link) (*internal.RemoteJob, error) {
	switch link.Kind {
	case internal.KindMagnet:
		var added rdAddResponse
		if err := r.client.postForm(ctx, "torrents/addMagnet", nil, url.Values{"magnet": {link.Raw}}, &added); err != nil {
			return nil, err
		}
		return r.torrentJob(added, link)

	case internal.KindTorrentContainer:
		_, data, err := r.client.loadContainer(ctx, link)
		if err != nil {
			return nil, err
		}
		var added rdAddResponse
		err = r.client.callJSON(ctx, request{
			method:      http.MethodPut,
			path:        "torrents/addTorrent",
			body:        bytes.NewReader(data),
			contentType: "application/x-bittorrent",
		}, &added)
		if err != nil {
			return nil, err
		}
		return r.torrentJob(added, link)

	case internal.KindHoster:
		file, id, err := r.unrestrict(ctx, link.Raw)
		if err != nil {
			return nil, err
		}
		return readyJob(internal.RealDebrid, internal.JobKindUnlock, id, link, []internal.ResolvedFile{file}), nil
	}
	return nil, unsupportedLink(internal.RealDebrid, link)
}

func (r *RealDebrid) torrentJob(added rdAddResponse, link internal.Link) (*internal.RemoteJob, error) {
	if added.ID == "" {
		return nil, internal.NewProviderError(internal.RealDebrid, internal.ProviderTransient, "torrent was not added")
	}
	internal.LogDebug("Real-Debrid accepted torrent %s", added.ID)
	return internal.NewRemoteJob(internal.RealDebrid, internal.JobKindTorrent, added.ID, link), nil
}

// Poll reads torrents/info once. A torrent waiting for file selection gets
// every file selected the first time it is seen.
func (r *RealDebrid) Poll(ctx context.Context, job *internal.RemoteJob) (*internal.JobSnapshot, error) {
	if job.Kind == internal.JobKindUnlock {
		return &internal.JobSnapshot{Status: internal.JobReady, Progress: 100}, nil
	}

	info, err := r.info(ctx, job.RemoteID)
	if err != nil {
		if isNotFound(err) {
			return &internal.JobSnapshot{Status: internal.JobExpired, Message: err.Error()}, nil
		}
		return nil, err
	}

	snap := &internal.JobSnapshot{
		Status:   rdStatus(info.Status),
		Progress: info.Progress,
		Speed:    info.Speed,
		Seeders:  info.Seeders,
		Message:  info.Status,
	}

	if info.Status == "waiting_files_selection" || info.Status == "waiting_files" {
		if _, sent := r.selected.LoadOrStore(job.RemoteID, struct{}{}); !sent {
			if err := r.selectFiles(ctx, job.RemoteID, info.Files); err != nil {
				r.selected.Delete(job.RemoteID)
				return nil, err
			}
		}
	}
	return snap, nil
}

func rdStatus(status string) internal.JobStatus {
	switch status {
	case "magnet_conversion", "queued", "waiting_files_selection", "waiting_files":
		return internal.JobQueued
	case "downloading", "compressing", "uploading":
		return internal.JobDownloadingRemote
	case "downloaded":
		return internal.JobReady
	case "dead":
		return internal.JobExpired
	default:
		// magnet_error, error, virus
		return internal.JobError
	}
}

func (r *RealDebrid) selectFiles(ctx context.Context, id string, files []rdFile) error {
	selection := "all"
	if len(files) > 0 {
		ids := make([]string, 0, len(files))
		for _, f := range files {
			ids = append(ids, fmt.Sprint(f.ID))
		}
		selection = strings.Join(ids, ",")
	}
	internal.LogDebug("Selecting %d files on Real-Debrid torrent %s", len(files), id)
	return r.client.postForm(ctx, "torrents/selectFiles/"+id, nil, url.Values{"files": {selection}}, nil)
}

// ListFiles unrestricts every link of a downloaded torrent
func (r *RealDebrid) ListFiles(ctx context.Context, job *internal.RemoteJob) ([]internal.ResolvedFile, error) {
	if err := requireReady(job); err != nil {
		return nil, err
	}
	if job.Kind == internal.JobKindUnlock {
		return job.Files, nil
	}

	info, err := r.info(ctx, job.RemoteID)
	if err != nil {
		return nil, err
	}
	files := make([]internal.ResolvedFile, 0, len(info.Links))
	for _, l := range info.Links {
		file, _, err := r.unrestrict(ctx, l)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return internal.Reindex(files), nil
}

func (r *RealDebrid) info(ctx context.Context, id string) (*rdTorrentInfo, error) {
	var info rdTorrentInfo
	if err := r.client.get(ctx, "torrents/info/"+id, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *RealDebrid) unrestrict(ctx context.Context, link string) (internal.ResolvedFile, string, error) {
	var u rdUnrestrict
	if err := r.client.postForm(ctx, "unrestrict/link", nil, url.Values{"link": {link}}, &u); err != nil {
		return internal.ResolvedFile{}, "", err
	}
	if u.Download == "" {
		return internal.ResolvedFile{}, "", internal.NewProviderError(internal.RealDebrid, internal.ProviderUnsupported,
			"unrestrict returned no download link").WithURL(link)
	}
	name := u.Filename
	if name == "" {
		name = utils.FileNameFromURL(u.Download, "download")
	}
	return internal.ResolvedFile{Name: name, Size: u.Filesize, DirectURL: u.Download}, u.ID, nil
}
