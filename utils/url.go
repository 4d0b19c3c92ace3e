package utils

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"onedl/internal"
)

var megaDomains = []string{"mega.nz", "mega.co.nz", "mega.io"}

// LinkClassifier decides which kind of link a raw input is. It never touches the network.
type LinkClassifier struct {
	hosters []string
}

// NewLinkClassifier creates a classifier that treats hosters (and their subdomains) as hoster links
func NewLinkClassifier(hosters []string) *LinkClassifier {
	normalized := make([]string, 0, len(hosters))
	for _, h := range hosters {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, "www.")
		if h != "" {
			normalized = append(normalized, h)
		}
	}
	return &LinkClassifier{hosters: normalized}
}

// Classify turns raw user input into a typed Link
func (c *LinkClassifier) Classify(raw string) (internal.Link, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return internal.Link{}, internal.NewClassificationError(raw, "empty input")
	}

	lower := strings.ToLower(trimmed)

	if strings.HasPrefix(lower, "magnet:") {
		return c.classifyMagnet(trimmed)
	}

	if !strings.Contains(trimmed, "://") {
		if kind, ok := containerKind(lower); ok {
			return c.classifyLocalContainer(trimmed, kind), nil
		}
		return internal.Link{}, internal.NewClassificationError(trimmed, "not a URL, magnet or .torrent/.nzb path")
	}

	parsedURL, err := url.Parse(trimmed)
	if err != nil {
		return internal.Link{}, internal.NewClassificationError(trimmed, fmt.Sprintf("invalid URL: %v", err))
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return internal.Link{}, internal.NewClassificationError(trimmed, fmt.Sprintf("unsupported scheme %q", parsedURL.Scheme))
	}

	host := strings.TrimPrefix(strings.ToLower(parsedURL.Hostname()), "www.")
	if host == "" {
		return internal.Link{}, internal.NewClassificationError(trimmed, "missing host")
	}

	link := internal.Link{Raw: trimmed, Host: host}

	if matchesDomain(host, megaDomains) {
		kind, err := megaKind(parsedURL)
		if err != nil {
			return internal.Link{}, internal.NewClassificationError(trimmed, err.Error())
		}
		link.Kind = kind
		return link, nil
	}

	if kind, ok := containerKind(strings.ToLower(parsedURL.Path)); ok {
		link.Kind = kind
		return link, nil
	}

	if matchesDomain(host, c.hosters) {
		link.Kind = internal.KindHoster
		return link, nil
	}

	link.Kind = internal.KindDirect
	return link, nil
}

// classifyMagnet accepts v1 (btih), v2 (btmh) and hybrid magnets. InfoHash
// is the v1 hash and stays empty for v2-only magnets.
func (c *LinkClassifier) classifyMagnet(raw string) (internal.Link, error) {
	m, err := metainfo.ParseMagnetV2Uri(raw)
	if err != nil {
		return internal.Link{}, internal.NewClassificationError(raw, fmt.Sprintf("invalid magnet: %v", err))
	}
	if !m.InfoHash.Ok && !m.V2InfoHash.Ok {
		return internal.Link{}, internal.NewClassificationError(raw, "invalid magnet: no btih or btmh infohash")
	}
	link := internal.Link{Raw: raw, Kind: internal.KindMagnet}
	if m.InfoHash.Ok {
		link.InfoHash = strings.ToLower(m.InfoHash.Value.HexString())
	}
	return link, nil
}

func (c *LinkClassifier) classifyLocalContainer(raw string, kind internal.LinkKind) internal.Link {
	link := internal.Link{Raw: raw, Kind: kind, Path: raw}
	if kind != internal.KindTorrentContainer {
		return link
	}
	// best effort: a missing or broken file still classifies
	if _, err := os.Stat(raw); err == nil {
		if mi, err := metainfo.LoadFromFile(raw); err == nil {
			link.InfoHash = strings.ToLower(mi.HashInfoBytes().HexString())
		} else {
			internal.LogDebug("Could not read torrent metadata from %s: %v", raw, err)
		}
	}
	return link
}

func containerKind(p string) (internal.LinkKind, bool) {
	switch strings.ToLower(path.Ext(p)) {
	case ".torrent":
		return internal.KindTorrentContainer, true
	case ".nzb":
		return internal.KindNZBContainer, true
	default:
		return 0, false
	}
}

// megaKind distinguishes folder and file shares across current and legacy URL shapes
func megaKind(u *url.URL) (internal.LinkKind, error) {
	p := strings.TrimSuffix(u.Path, "/")
	switch {
	case strings.HasPrefix(p, "/folder/"):
		return internal.KindMegaFolder, nil
	case strings.HasPrefix(p, "/file/"):
		return internal.KindMegaFile, nil
	case strings.HasPrefix(u.Fragment, "F!"):
		return internal.KindMegaFolder, nil
	case strings.HasPrefix(u.Fragment, "!"):
		return internal.KindMegaFile, nil
	default:
		return 0, fmt.Errorf("MEGA URL is neither a file nor a folder share")
	}
}

func matchesDomain(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// FileNameFromURL returns the last path segment of rawURL, or fallback
func FileNameFromURL(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "" || name == "." || name == "/" {
		return fallback
	}
	return name
}
