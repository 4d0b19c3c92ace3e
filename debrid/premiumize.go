package debrid

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"onedl/internal"
	"onedl/utils"
)

const premiumizeURL = "https://www.premiumize.me/api"

// Premiumize adapts the Premiumize.me API
type Premiumize struct {
	client *apiClient
}

type pmStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type pmTransfer struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	Progress *float64 `json:"progress"`
	Message  string   `json:"message"`
	FolderID string   `json:"folder_id"`
	FileID   string   `json:"file_id"`
	Src      string   `json:"src"`
}

type pmItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Link string `json:"link"`
}

type pmDirectContent struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Link string `json:"link"`
}

// NewPremiumize creates the Premiumize adapter
func NewPremiumize(cfg *internal.Config, opts ...Option) *Premiumize {
	return &Premiumize{client: newAPIClient(internal.Premiumize, premiumizeURL, cfg, opts)}
}

func (p *Premiumize) Name() internal.ProviderName { return internal.Premiumize }

func (p *Premiumize) Configured() bool { return p.client.token != "" }

// Supports accepts magnets, hoster links and both container kinds
func (p *Premiumize) Supports(link internal.Link) bool {
	switch link.Kind {
	case internal.KindMagnet, internal.KindHoster, internal.KindTorrentContainer, internal.KindNZBContainer:
		return true
	}
	return false
}

func (p *Premiumize) query(extra url.Values) url.Values {
	q := url.Values{"apikey": {p.client.token}}
	for k, v := range extra {
		q[k] = v
	}
	return q
}

// check turns a {"status":"error"} body into a provider error
func (p *Premiumize) check(s pmStatus) error {
	if s.Status == "" || s.Status == "success" {
		return nil
	}
	msg := strings.ToLower(s.Message)
	kind := internal.ProviderUnsupported
	switch {
	case strings.Contains(msg, "apikey"), strings.Contains(msg, "not logged in"), strings.Contains(msg, "auth"):
		kind = internal.ProviderAuth
	case strings.Contains(msg, "premium"), strings.Contains(msg, "limit"), strings.Contains(msg, "fair use"), strings.Contains(msg, "space"):
		kind = internal.ProviderQuota
	case strings.Contains(msg, "try again"), strings.Contains(msg, "temporar"):
		kind = internal.ProviderTransient
	}
	return internal.NewProviderError(internal.Premiumize, kind, s.Message)
}

// CheckCached uses cache/check for torrents and the services list for hoster links
func (p *Premiumize) CheckCached(ctx context.Context, link internal.Link) (internal.CacheStatus, error) {
	switch {
	case link.Kind == internal.KindMagnet || link.InfoHash != "":
		item := link.InfoHash
		if item == "" {
			item = link.Raw
		}
		var res struct {
			pmStatus
			Response []bool `json:"response"`
		}
		if err := p.client.get(ctx, "cache/check", p.query(url.Values{"items[]": {item}}), &res); err != nil {
			return internal.CacheUnknown, err
		}
		if err := p.check(res.pmStatus); err != nil {
			return internal.CacheUnknown, err
		}
		if len(res.Response) == 0 {
			return internal.CacheUnknown, nil
		}
		if res.Response[0] {
			return internal.CacheCached, nil
		}
		return internal.CacheNotCached, nil

	case link.Kind == internal.KindHoster:
		var res struct {
			pmStatus
			DirectDL []string `json:"directdl"`
		}
		if err := p.client.get(ctx, "services/list", p.query(nil), &res); err != nil {
			return internal.CacheUnknown, err
		}
		if err := p.check(res.pmStatus); err != nil {
			return internal.CacheUnknown, err
		}
		for _, domain := range res.DirectDL {
			if link.Host == domain || strings.HasSuffix(link.Host, "."+domain) || strings.HasPrefix(link.Host, domain+".") {
				return internal.CacheCached, nil
			}
		}
		return internal.CacheNotCached, nil
	}
	return internal.CacheUnknown, nil
}

// Submit creates a transfer for torrents and NZBs. Hoster links go through
// directdl and complete synchronously.
func (p *Premiumize) Submit(ctx context.Context, link internal.Link) (*internal.RemoteJob, error) {
	var created struct {
		pmStatus
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}

	switch link.Kind {
	case internal.KindMagnet:
		if err := p.client.postForm(ctx, "transfer/create", p.query(nil), url.Values{"src": {link.Raw}}, &created); err != nil {
			return nil, err
		}

	case internal.KindTorrentContainer, internal.KindNZBContainer:
		name, data, err := p.client.loadContainer(ctx, link)
		if err != nil {
			return nil, err
		}
		if err := p.client.postMultipart(ctx, "transfer/create", p.query(nil),
			[]formPart{{field: "file", filename: name, data: data}}, &created); err != nil {
			return nil, err
		}

	case internal.KindHoster:
		files, err := p.directDL(ctx, link.Raw)
		if err != nil {
			return nil, err
		}
		return readyJob(internal.Premiumize, internal.JobKindUnlock, "", link, files), nil

	default:
		return nil, unsupportedLink(internal.Premiumize, link)
	}

	if err := p.check(created.pmStatus); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, internal.NewProviderError(internal.Premiumize, internal.ProviderTransient, "transfer was not created")
	}
	return internal.NewRemoteJob(internal.Premiumize, internal.JobKindTransfer, created.ID, link), nil
}

// directDL unlocks a hoster link. The answer is either a single location or
// a container whose content entries are files or links to unlock in turn.
func (p *Premiumize) directDL(ctx context.Context, src string) ([]internal.ResolvedFile, error) {
	var res struct {
		pmStatus
		Location string            `json:"location"`
		Filename string            `json:"filename"`
		Filesize int64             `json:"filesize"`
		Type     string            `json:"type"`
		Content  []json.RawMessage `json:"content"`
	}
	if err := p.client.postForm(ctx, "transfer/directdl", p.query(nil), url.Values{"src": {src}}, &res); err != nil {
		return nil, err
	}
	if err := p.check(res.pmStatus); err != nil {
		return nil, err
	}

	if res.Location != "" && len(res.Content) == 0 {
		name := res.Filename
		if name == "" {
			name = utils.FileNameFromURL(res.Location, "download")
		}
		return []internal.ResolvedFile{{Name: name, Size: res.Filesize, DirectURL: res.Location}}, nil
	}

	var files []internal.ResolvedFile
	for _, raw := range res.Content {
		var entry pmDirectContent
		if json.Unmarshal(raw, &entry) == nil && entry.Link != "" {
			files = append(files, internal.ResolvedFile{
				Name:      strings.TrimLeft(entry.Path, "/"),
				Size:      entry.Size,
				DirectURL: entry.Link,
			})
			continue
		}
		var nested string
		if json.Unmarshal(raw, &nested) == nil && nested != "" && nested != src {
			more, err := p.directDL(ctx, nested)
			if err != nil {
				internal.LogWarn("Premiumize could not unlock %s: %v", nested, err)
				continue
			}
			files = append(files, more...)
		}
	}
	if len(files) == 0 {
		return nil, internal.NewProviderError(internal.Premiumize, internal.ProviderUnsupported, "directdl returned no files").WithURL(src)
	}
	return files, nil
}

var (
	pmSpeedPattern = regexp.MustCompile(`([\d.]+)\s*(KB|MB|GB|B)/s`)
	pmPeerPattern  = regexp.MustCompile(`from (\d+) peer`)
)

// Poll looks the transfer up in transfer/list
func (p *Premiumize) Poll(ctx context.Context, job *internal.RemoteJob) (*internal.JobSnapshot, error) {
	if job.Kind == internal.JobKindUnlock {
		return &internal.JobSnapshot{Status: internal.JobReady, Progress: 100}, nil
	}

	t, err := p.transfer(ctx, job.RemoteID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return &internal.JobSnapshot{Status: internal.JobExpired, Message: "transfer no longer listed"}, nil
	}

	snap := &internal.JobSnapshot{Status: pmTransferStatus(t.Status), Message: t.Message}
	switch {
	case t.Progress != nil:
		snap.Progress = *t.Progress * 100
	case snap.Status == internal.JobReady:
		snap.Progress = 100
	}
	snap.Speed, snap.Seeders = parseTransferMessage(t.Message)
	return snap, nil
}

func pmTransferStatus(status string) internal.JobStatus {
	switch status {
	case "waiting", "queued":
		return internal.JobQueued
	case "running":
		return internal.JobDownloadingRemote
	case "finished", "seeding":
		return internal.JobReady
	case "deleted", "timeout":
		return internal.JobExpired
	default:
		// error, banned
		return internal.JobError
	}
}

// parseTransferMessage reads speed and peers out of messages such as
// "1.2 MB/s from 14 peers"
func parseTransferMessage(msg string) (int64, int) {
	var speed int64
	if m := pmSpeedPattern.FindStringSubmatch(msg); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		switch m[2] {
		case "GB":
			v *= 1 << 30
		case "MB":
			v *= 1 << 20
		case "KB":
			v *= 1 << 10
		}
		speed = int64(v)
	}
	var peers int
	if m := pmPeerPattern.FindStringSubmatch(msg); m != nil {
		peers, _ = strconv.Atoi(m[1])
	}
	return speed, peers
}

func (p *Premiumize) transfer(ctx context.Context, id string) (*pmTransfer, error) {
	var res struct {
		pmStatus
		Transfers []pmTransfer `json:"transfers"`
	}
	if err := p.client.get(ctx, "transfer/list", p.query(nil), &res); err != nil {
		return nil, err
	}
	if err := p.check(res.pmStatus); err != nil {
		return nil, err
	}
	for i := range res.Transfers {
		if res.Transfers[i].ID == id {
			return &res.Transfers[i], nil
		}
	}
	return nil, nil
}

// ListFiles walks the transfer's folder, or returns its single file
func (p *Premiumize) ListFiles(ctx context.Context, job *internal.RemoteJob) ([]internal.ResolvedFile, error) {
	if err := requireReady(job); err != nil {
		return nil, err
	}
	if job.Kind == internal.JobKindUnlock {
		return job.Files, nil
	}

	t, err := p.transfer(ctx, job.RemoteID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, internal.NewRemoteJobExpiredError(job, "transfer disappeared before its files were listed")
	}

	if t.FolderID == "" && t.FileID != "" {
		var item struct {
			pmStatus
			pmItem
		}
		if err := p.client.get(ctx, "item/details", p.query(url.Values{"id": {t.FileID}}), &item); err != nil {
			return nil, err
		}
		if err := p.check(item.pmStatus); err != nil {
			return nil, err
		}
		return internal.Reindex([]internal.ResolvedFile{{Name: item.Name, Size: item.Size, DirectURL: item.Link}}), nil
	}

	var files []internal.ResolvedFile
	if err := p.walkFolder(ctx, t.FolderID, "", &files); err != nil {
		return nil, err
	}
	return internal.Reindex(files), nil
}

func (p *Premiumize) walkFolder(ctx context.Context, folderID, prefix string, files *[]internal.ResolvedFile) error {
	var res struct {
		pmStatus
		Content []pmItem `json:"content"`
	}
	if err := p.client.get(ctx, "folder/list", p.query(url.Values{"id": {folderID}}), &res); err != nil {
		return err
	}
	if err := p.check(res.pmStatus); err != nil {
		return err
	}
	for _, item := range res.Content {
		name := prefix + item.Name
		switch item.Type {
		case "folder":
			if err := p.walkFolder(ctx, item.ID, name+"/", files); err != nil {
				return err
			}
		case "file":
			if item.Link != "" {
				*files = append(*files, internal.ResolvedFile{Name: name, Size: item.Size, DirectURL: item.Link})
			}
		}
	}
	return nil
}
