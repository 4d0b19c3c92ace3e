package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"onedl/internal"
)

const (
	allDebridURL   = "https://api.alldebrid.com/v4"
	allDebridAgent = "onedl"
)

// AllDebrid adapts the AllDebrid v4 API. Authentication travels as the
// agent and apikey query parameters.
type AllDebrid struct {
	client      *apiClient
	selected    *xsync.Map[string, struct{}]
	delayedWait time.Duration // between link/delayed checks inside ListFiles
}

type adEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *adError        `json:"error"`
}

type adError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type adUploaded struct {
	ID    int64    `json:"id"`
	Hash  string   `json:"hash"`
	Name  string   `json:"name"`
	Ready bool     `json:"ready"`
	Error *adError `json:"error"`
}

type adLink struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type adFile struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type adMagnet struct {
	ID            int64    `json:"id"`
	Filename      string   `json:"filename"`
	Size          int64    `json:"size"`
	Status        string   `json:"status"`
	StatusCode    int      `json:"statusCode"`
	Downloaded    int64    `json:"downloaded"`
	DownloadSpeed int64    `json:"downloadSpeed"`
	Seeders       int      `json:"seeders"`
	Links         []adLink `json:"links"`
	Files         []adFile `json:"files"`
}

type adUnlock struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Delayed  int64  `json:"delayed"`
}

type adDelayed struct {
	Status   int    `json:"status"`
	Link     string `json:"link"`
	TimeLeft int    `json:"time_left"`
}

// NewAllDebrid creates the AllDebrid adapter
func NewAllDebrid(cfg *internal.Config, opts ...Option) *AllDebrid {
	return &AllDebrid{
		client:   newAPIClient(internal.AllDebrid, allDebridURL, cfg, opts),
		selected:    xsync.NewMap[string, struct{}](),
		delayedWait: cfg.PollInterval,
	}
}

func (a *AllDebrid) Name() internal.ProviderName { return internal.AllDebrid }

func (a *AllDebrid) Configured() bool { return a.client.token != "" }

// Supports accepts magnets, hoster links and .torrent files
func (a *AllDebrid) Supports(link internal.Link) bool {
	switch link.Kind {
	case internal.KindMagnet, internal.KindHoster, internal.KindTorrentContainer:
		return true
	}
	return false
}

func (a *AllDebrid) query(extra url.Values) url.Values {
	q := url.Values{"agent": {allDebridAgent}, "apikey": {a.client.token}}
	for k, v := range extra {
		q[k] = v
	}
	return q
}

// do performs a GET and unwraps the {status, data, error} envelope
func (a *AllDebrid) do(ctx context.Context, path string, params url.Values, out interface{}) error {
	var env adEnvelope
	if err := a.client.get(ctx, path, a.query(params), &env); err != nil {
		return err
	}
	return a.unwrap(env, out)
}

func (a *AllDebrid) unwrap(env adEnvelope, out interface{}) error {
	if env.Status != "success" {
		if env.Error == nil {
			env.Error = &adError{Code: "UNKNOWN", Message: "request failed"}
		}
		return a.codeError(env.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return internal.NewProviderError(internal.AllDebrid, internal.ProviderTransient, "malformed response").WithCause(err)
	}
	return nil
}

// codeError maps AllDebrid error codes onto provider error kinds
func (a *AllDebrid) codeError(e *adError) error {
	kind := internal.ProviderUnsupported
	switch {
	case strings.HasPrefix(e.Code, "AUTH_"):
		kind = internal.ProviderAuth
	case strings.Contains(e.Code, "PREMIUM"), strings.Contains(e.Code, "LIMIT"), strings.Contains(e.Code, "QUOTA"):
		kind = internal.ProviderQuota
	case e.Code == "MAINTENANCE", strings.HasSuffix(e.Code, "_PROCESSING"), strings.Contains(e.Code, "TEMPORARY"):
		kind = internal.ProviderTransient
	}
	return internal.NewProviderError(internal.AllDebrid, kind, e.Message).WithContext("code", e.Code)
}

// CheckCached uses magnet/instant for torrents and link/infos for hoster links
func (a *AllDebrid) CheckCached(ctx context.Context, link internal.Link) (internal.CacheStatus, error) {
	switch {
	case link.Kind == internal.KindMagnet || link.InfoHash != "":
		item := link.InfoHash
		if item == "" {
			item = link.Raw
		}
		var data struct {
			Magnets []struct {
				Magnet  string `json:"magnet"`
				Hash    string `json:"hash"`
				Instant bool   `json:"instant"`
			} `json:"magnets"`
		}
		if err := a.do(ctx, "magnet/instant", url.Values{"magnets[]": {item}}, &data); err != nil {
			return internal.CacheUnknown, err
		}
		if len(data.Magnets) == 0 {
			return internal.CacheUnknown, nil
		}
		if data.Magnets[0].Instant {
			return internal.CacheCached, nil
		}
		return internal.CacheNotCached, nil

	case link.Kind == internal.KindHoster:
		var data struct {
			Infos []struct {
				Link     string   `json:"link"`
				Filename string   `json:"filename"`
				Error    *adError `json:"error"`
			} `json:"infos"`
		}
		if err := a.do(ctx, "link/infos", url.Values{"link[]": {link.Raw}}, &data); err != nil {
			if internal.ProviderKindOf(err) == internal.ProviderUnsupported {
				return internal.CacheNotCached, nil
			}
			return internal.CacheUnknown, err
		}
		if len(data.Infos) > 0 && data.Infos[0].Error == nil {
			return internal.CacheCached, nil
		}
		return internal.CacheNotCached, nil
	}
	return internal.CacheUnknown, nil
}

// Submit uploads a magnet or torrent file, or unlocks a hoster link.
// Unlocks that AllDebrid delays become a pollable job.
func (a *AllDebrid) Submit(ctx context.Context, link internal.Link) (*internal.RemoteJob, error) {
	switch link.Kind {
	case internal.KindMagnet:
		var data struct {
			Magnets []adUploaded `json:"magnets"`
		}
		if err := a.do(ctx, "magnet/upload", url.Values{"magnets[]": {link.Raw}}, &data); err != nil {
			return nil, err
		}
		if len(data.Magnets) == 0 {
			return nil, internal.NewProviderError(internal.AllDebrid, internal.ProviderTransient, "magnet was not added")
		}
		return a.magnetJob(data.Magnets[0], link)

	case internal.KindTorrentContainer:
		name, raw, err := a.client.loadContainer(ctx, link)
		if err != nil {
			return nil, err
		}
		var env adEnvelope
		err = a.client.postMultipart(ctx, "magnet/upload/file", a.query(nil),
			[]formPart{{field: "files[0]", filename: name, data: raw}}, &env)
		if err != nil {
			return nil, err
		}
		var data struct {
			Files []adUploaded `json:"files"`
		}
		if err := a.unwrap(env, &data); err != nil {
			return nil, err
		}
		if len(data.Files) == 0 {
			return nil, internal.NewProviderError(internal.AllDebrid, internal.ProviderTransient, "torrent was not added")
		}
		return a.magnetJob(data.Files[0], link)

	case internal.KindHoster:
		unlock, err := a.unlock(ctx, link.Raw)
		if err != nil {
			return nil, err
		}
		if unlock.Link == "" && unlock.Delayed > 0 {
			job := internal.NewRemoteJob(internal.AllDebrid, internal.JobKindUnlock, strconv.FormatInt(unlock.Delayed, 10), link)
			job.Files = []internal.ResolvedFile{{Index: 1, Name: unlock.Filename, Size: unlock.Filesize}}
			return job, nil
		}
		file := internal.ResolvedFile{Name: unlock.Filename, Size: unlock.Filesize, DirectURL: unlock.Link}
		return readyJob(internal.AllDebrid, internal.JobKindUnlock, "", link, []internal.ResolvedFile{file}), nil
	}
	return nil, unsupportedLink(internal.AllDebrid, link)
}

func (a *AllDebrid) magnetJob(m adUploaded, link internal.Link) (*internal.RemoteJob, error) {
	if m.Error != nil {
		return nil, a.codeError(m.Error)
	}
	if m.ID == 0 {
		return nil, internal.NewProviderError(internal.AllDebrid, internal.ProviderTransient, "magnet was not added")
	}
	return internal.NewRemoteJob(internal.AllDebrid, internal.JobKindTorrent, strconv.FormatInt(m.ID, 10), link), nil
}

// Poll reads magnet/status, or link/delayed for delayed unlocks
func (a *AllDebrid) Poll(ctx context.Context, job *internal.RemoteJob) (*internal.JobSnapshot, error) {
	if job.Kind == internal.JobKindUnlock {
		if job.RemoteID == "" {
			return &internal.JobSnapshot{Status: internal.JobReady, Progress: 100}, nil
		}
		var d adDelayed
		if err := a.do(ctx, "link/delayed", url.Values{"id": {job.RemoteID}}, &d); err != nil {
			return nil, err
		}
		switch d.Status {
		case 2:
			return &internal.JobSnapshot{Status: internal.JobReady, Progress: 100}, nil
		case 3:
			return &internal.JobSnapshot{Status: internal.JobError, Message: "delayed unlock failed"}, nil
		default:
			return &internal.JobSnapshot{Status: internal.JobDownloadingRemote, Message: fmt.Sprintf("%ds left", d.TimeLeft)}, nil
		}
	}

	m, err := a.status(ctx, job.RemoteID)
	if err != nil {
		return nil, err
	}
	snap := &internal.JobSnapshot{
		Status:  adStatus(m.StatusCode, m.Status),
		Speed:   m.DownloadSpeed,
		Seeders: m.Seeders,
		Message: m.Status,
	}
	if m.Size > 0 {
		snap.Progress = float64(m.Downloaded) * 100 / float64(m.Size)
	}
	if snap.Status == internal.JobReady {
		snap.Progress = 100
	}

	if strings.EqualFold(m.Status, "waiting_files") {
		if _, sent := a.selected.LoadOrStore(job.RemoteID, struct{}{}); !sent {
			if err := a.selectAll(ctx, job.RemoteID, m.Files); err != nil {
				a.selected.Delete(job.RemoteID)
				return nil, err
			}
		}
	}
	return snap, nil
}

// adStatus maps statusCode: 0 queued, 1-3 in progress, 4 ready, 7/10/15
// aged out, every other code an error
func adStatus(code int, status string) internal.JobStatus {
	switch {
	case strings.EqualFold(status, "waiting_files"):
		return internal.JobQueued
	case code == 0:
		return internal.JobQueued
	case code >= 1 && code <= 3:
		return internal.JobDownloadingRemote
	case code == 4:
		return internal.JobReady
	case code == 7 || code == 10 || code == 15:
		return internal.JobExpired
	default:
		return internal.JobError
	}
}

func (a *AllDebrid) selectAll(ctx context.Context, id string, files []adFile) error {
	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, strconv.FormatInt(f.ID, 10))
	}
	return a.do(ctx, "magnet/selectFiles", url.Values{"id": {id}, "files": {strings.Join(ids, ",")}}, nil)
}

func (a *AllDebrid) status(ctx context.Context, id string) (*adMagnet, error) {
	var data struct {
		Magnets json.RawMessage `json:"magnets"`
	}
	if err := a.do(ctx, "magnet/status", url.Values{"id": {id}}, &data); err != nil {
		return nil, err
	}
	var m adMagnet
	found, err := decodeOneOrMany(data.Magnets, &m)
	if err != nil {
		return nil, internal.NewProviderError(internal.AllDebrid, internal.ProviderTransient, "unexpected magnet response").WithCause(err)
	}
	if !found {
		return nil, internal.NewProviderError(internal.AllDebrid, internal.ProviderUnsupported, "magnet not found").
			WithContext("magnet_id", id)
	}
	return &m, nil
}

// ListFiles unlocks every link of a ready magnet
func (a *AllDebrid) ListFiles(ctx context.Context, job *internal.RemoteJob) ([]internal.ResolvedFile, error) {
	if err := requireReady(job); err != nil {
		return nil, err
	}
	if job.Kind == internal.JobKindUnlock {
		if len(job.Files) == 1 && job.Files[0].DirectURL == "" {
			link, err := a.waitDelayed(ctx, job, job.RemoteID)
			if err != nil {
				return nil, err
			}
			file := job.Files[0]
			file.DirectURL = link
			return []internal.ResolvedFile{file}, nil
		}
		return job.Files, nil
	}

	m, err := a.status(ctx, job.RemoteID)
	if err != nil {
		return nil, err
	}
	files := make([]internal.ResolvedFile, 0, len(m.Links))
	for _, l := range m.Links {
		unlock, err := a.unlock(ctx, l.Link)
		if err != nil {
			return nil, err
		}
		direct := unlock.Link
		if direct == "" {
			if direct, err = a.waitDelayed(ctx, job, strconv.FormatInt(unlock.Delayed, 10)); err != nil {
				return nil, err
			}
		}
		name := unlock.Filename
		if name == "" {
			name = l.Filename
		}
		size := unlock.Filesize
		if size == 0 {
			size = l.Size
		}
		files = append(files, internal.ResolvedFile{Name: name, Size: size, DirectURL: direct})
	}
	return internal.Reindex(files), nil
}

// waitDelayed polls link/delayed until the generated link is available.
// Status 3 fails the job; ctx bounds the wait.
func (a *AllDebrid) waitDelayed(ctx context.Context, job *internal.RemoteJob, id string) (string, error) {
	for {
		var d adDelayed
		if err := a.do(ctx, "link/delayed", url.Values{"id": {id}}, &d); err != nil {
			return "", err
		}
		switch d.Status {
		case 2:
			if d.Link == "" {
				return "", internal.NewProviderError(internal.AllDebrid, internal.ProviderTransient, "delayed unlock finished without a link").
					WithContext("delayed_id", id)
			}
			return d.Link, nil
		case 3:
			return "", internal.NewRemoteJobFailedError(job, "delayed unlock failed").WithContext("delayed_id", id)
		}

		internal.LogDebug("AllDebrid delayed link %s not ready, %ds left", id, d.TimeLeft)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(a.delayedWait):
		}
	}
}

func (a *AllDebrid) unlock(ctx context.Context, link string) (*adUnlock, error) {
	var u adUnlock
	if err := a.do(ctx, "link/unlock", url.Values{"link": {link}}, &u); err != nil {
		return nil, err
	}
	if u.Link == "" && u.Delayed == 0 {
		return nil, internal.NewProviderError(internal.AllDebrid, internal.ProviderUnsupported, "unlock returned no link").WithURL(link)
	}
	return &u, nil
}
