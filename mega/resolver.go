// Package mega lists the files behind public MEGA links by talking to the
// MEGA API directly.
package mega

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"onedl/internal"
	"onedl/utils"
)

const defaultAPIURL = "https://g.api.mega.co.nz"

// API error codes that matter here
const (
	codeAgain    = -3
	codeNotFound = -9
	codeAccess   = -11
	codeBlocked  = -16
	codeExpired  = -8
)

// Resolver turns MEGA folder and file links into ResolvedFiles
type Resolver struct {
	apiURL  string
	client  *utils.HTTPClient
	seq     atomic.Int64
	retries int
	backoff time.Duration
}

// NewResolver creates a resolver using client for API calls
func NewResolver(client *utils.HTTPClient) *Resolver {
	r := &Resolver{
		apiURL:  defaultAPIURL,
		client:  client,
		retries: 3,
		backoff: time.Second,
	}
	r.seq.Store(rand.Int63n(1 << 30))
	return r
}

// WithAPIURL points the resolver at another API host
func (r *Resolver) WithAPIURL(u string) *Resolver {
	r.apiURL = strings.TrimRight(u, "/")
	return r
}

// shareLink is a parsed public link
type shareLink struct {
	folder bool
	handle string
	key    []byte
	// optional node inside a folder share
	subNode   string
	subFolder bool
}

// parseLink understands /folder/h#k, /file/h#k, their /file/<node> and
// /folder/<node> suffixes, and the legacy #F!h!k and #!h!k forms
func parseLink(raw string) (*shareLink, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	fragment := u.Fragment
	if fragment == "" {
		if i := strings.Index(raw, "#"); i >= 0 {
			fragment = raw[i+1:]
		}
	}

	link := &shareLink{}
	var keyPart string
	switch {
	case strings.HasPrefix(fragment, "F!"):
		parts := strings.Split(fragment[2:], "!")
		if len(parts) < 2 {
			return nil, fmt.Errorf("incomplete legacy folder link")
		}
		link.folder, link.handle, keyPart = true, parts[0], parts[1]
		if len(parts) > 2 && parts[2] != "" {
			link.subNode = parts[2]
		}
	case strings.HasPrefix(fragment, "!"):
		parts := strings.Split(fragment[1:], "!")
		if len(parts) < 2 {
			return nil, fmt.Errorf("incomplete legacy file link")
		}
		link.handle, keyPart = parts[0], parts[1]
	case strings.HasPrefix(u.Path, "/folder/"), strings.HasPrefix(u.Path, "/file/"):
		link.folder = strings.HasPrefix(u.Path, "/folder/")
		link.handle = path.Base(u.Path)
		segments := strings.Split(fragment, "/")
		keyPart = segments[0]
		if len(segments) >= 3 {
			link.subFolder = segments[1] == "folder"
			link.subNode = segments[2]
		}
	default:
		return nil, fmt.Errorf("unrecognized MEGA link shape")
	}

	if link.handle == "" || keyPart == "" {
		return nil, fmt.Errorf("missing handle or key")
	}
	link.key, err = decodeBase64(keyPart)
	if err != nil {
		return nil, fmt.Errorf("undecodable key: %w", err)
	}
	if (link.folder && len(link.key) != 16) || (!link.folder && len(link.key) != 32) {
		return nil, fmt.Errorf("key has %d bytes", len(link.key))
	}
	return link, nil
}

// Resolve lists the files behind a mega_folder or mega_file link
func (r *Resolver) Resolve(ctx context.Context, link internal.Link) ([]internal.ResolvedFile, error) {
	if !link.Kind.IsMega() {
		return nil, internal.NewUnsupportedLinkError(link, "not a MEGA link")
	}
	share, err := parseLink(link.Raw)
	if err != nil {
		return nil, internal.NewResolveError(internal.ErrResolution, "invalid MEGA link").
			WithURL(link.Raw).
			WithCause(err)
	}

	var files []internal.ResolvedFile
	if share.folder {
		files, err = r.resolveFolder(ctx, share)
	} else {
		var f internal.ResolvedFile
		f, err = r.resolveFile(ctx, share)
		files = []internal.ResolvedFile{f}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, internal.NewResolveError(internal.ErrResolution, "MEGA share could not be resolved").
			WithURL(link.Raw).
			WithCause(err)
	}
	if len(files) == 0 {
		return nil, internal.NewResolveError(internal.ErrResolution, "MEGA share contains no files").WithURL(link.Raw)
	}
	internal.LogDebug("MEGA share %s resolved to %d files", share.handle, len(files))
	return internal.Reindex(files), nil
}

// apiError is a negative MEGA status code
type apiError int

func (e apiError) Error() string {
	switch int(e) {
	case codeNotFound:
		return "share not found (ENOENT)"
	case codeAccess, codeBlocked:
		return fmt.Sprintf("share not accessible (%d)", int(e))
	case codeExpired:
		return "share expired (EEXPIRED)"
	default:
		return fmt.Sprintf("MEGA API error %d", int(e))
	}
}

// call sends one command and decodes its single result into out.
// EAGAIN answers are retried with backoff.
func (r *Resolver) call(ctx context.Context, folder string, cmd map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal([]interface{}{cmd})
	if err != nil {
		return err
	}

	delay := r.backoff
	for attempt := 0; ; attempt++ {
		err := r.callOnce(ctx, folder, payload, out)
		if ae, ok := err.(apiError); ok && int(ae) == codeAgain && attempt < r.retries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			continue
		}
		return err
	}
}

func (r *Resolver) callOnce(ctx context.Context, folder string, payload []byte, out interface{}) error {
	q := url.Values{"id": {strconv.FormatInt(r.seq.Add(1), 10)}}
	if folder != "" {
		q.Set("n", folder)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiURL+"/cs?"+q.Encode(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("MEGA API returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return err
	}

	// whole-request failures are a bare number
	var code int
	if json.Unmarshal(body, &code) == nil {
		return apiError(code)
	}
	var results []json.RawMessage
	if err := json.Unmarshal(body, &results); err != nil {
		return fmt.Errorf("malformed MEGA response: %w", err)
	}
	if len(results) == 0 {
		return fmt.Errorf("empty MEGA response")
	}
	if json.Unmarshal(results[0], &code) == nil {
		return apiError(code)
	}
	return json.Unmarshal(results[0], out)
}

type downloadInfo struct {
	Size int64  `json:"s"`
	Attr string `json:"at"`
	URL  string `json:"g"`
}

func (r *Resolver) resolveFile(ctx context.Context, share *shareLink) (internal.ResolvedFile, error) {
	var info downloadInfo
	if err := r.call(ctx, "", map[string]interface{}{"a": "g", "g": 1, "p": share.handle}, &info); err != nil {
		return internal.ResolvedFile{}, err
	}
	key, _, err := foldKey(share.key)
	if err != nil {
		return internal.ResolvedFile{}, err
	}
	name, err := decryptAttributes(key, info.Attr)
	if err != nil {
		return internal.ResolvedFile{}, fmt.Errorf("cannot decrypt file name: %w", err)
	}
	if info.URL == "" {
		return internal.ResolvedFile{}, fmt.Errorf("no download URL for %s", share.handle)
	}
	return internal.ResolvedFile{
		Name:      name,
		Size:      info.Size,
		DirectURL: info.URL,
		Key:       hex.EncodeToString(share.key),
	}, nil
}

type node struct {
	Handle string `json:"h"`
	Parent string `json:"p"`
	Type   int    `json:"t"`
	Attr   string `json:"a"`
	Key    string `json:"k"`
	Size   int64  `json:"s"`

	name string
	key  []byte
}

const (
	nodeFile   = 0
	nodeFolder = 1
)

func (r *Resolver) resolveFolder(ctx context.Context, share *shareLink) ([]internal.ResolvedFile, error) {
	var listing struct {
		Nodes []node `json:"f"`
	}
	cmd := map[string]interface{}{"a": "f", "c": 1, "ca": 1, "r": 1}
	if err := r.call(ctx, share.handle, cmd, &listing); err != nil {
		return nil, err
	}

	nodes := make(map[string]*node, len(listing.Nodes))
	for i := range listing.Nodes {
		n := &listing.Nodes[i]
		if err := n.decrypt(share.key); err != nil {
			internal.LogWarn("Skipping MEGA node %s: %v", n.Handle, err)
			continue
		}
		nodes[n.Handle] = n
	}

	root := share.handle
	if _, ok := nodes[root]; !ok {
		root = findRoot(nodes)
	}

	var wanted []*node
	for _, n := range nodes {
		if n.Type != nodeFile {
			continue
		}
		switch {
		case share.subNode == "":
			wanted = append(wanted, n)
		case share.subFolder && isUnder(nodes, n, share.subNode):
			wanted = append(wanted, n)
		case !share.subFolder && n.Handle == share.subNode:
			wanted = append(wanted, n)
		}
	}
	if share.subNode != "" && len(wanted) == 0 {
		return nil, apiError(codeNotFound)
	}

	paths := make(map[*node]string, len(wanted))
	for _, n := range wanted {
		paths[n] = relativePath(nodes, n, root)
	}
	sort.Slice(wanted, func(i, j int) bool {
		a, b := wanted[i], wanted[j]
		if paths[a] != paths[b] {
			return paths[a] < paths[b]
		}
		return a.Handle < b.Handle
	})

	files := make([]internal.ResolvedFile, 0, len(wanted))
	seen := make(map[string]int, len(wanted))
	for _, n := range wanted {
		name := paths[n]
		if seen[name]++; seen[name] > 1 {
			name = numbered(name, seen[name])
		}

		var info downloadInfo
		err := r.call(ctx, share.handle, map[string]interface{}{"a": "g", "g": 1, "n": n.Handle}, &info)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if info.URL == "" {
			return nil, fmt.Errorf("no download URL for %s", name)
		}
		size := n.Size
		if info.Size > 0 {
			size = info.Size
		}
		files = append(files, internal.ResolvedFile{
			Name:      name,
			Size:      size,
			DirectURL: info.URL,
			Key:       hex.EncodeToString(n.key),
		})
	}
	return files, nil
}

// numbered turns "dir/a.txt" into "dir/a (2).txt" for the nth node sharing a path
func numbered(name string, n int) string {
	ext := path.Ext(name)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
}

// decrypt recovers the node key with the share key and then the node name
func (n *node) decrypt(shareKey []byte) error {
	encrypted := n.Key
	if i := strings.Index(encrypted, "/"); i >= 0 {
		encrypted = encrypted[:i]
	}
	if i := strings.Index(encrypted, ":"); i >= 0 {
		encrypted = encrypted[i+1:]
	}
	raw, err := decodeBase64(encrypted)
	if err != nil {
		return err
	}
	n.key, err = decryptECB(shareKey, raw)
	if err != nil {
		return err
	}

	attrKey := n.key
	if n.Type == nodeFile {
		if attrKey, _, err = foldKey(n.key); err != nil {
			return err
		}
	}
	n.name, err = decryptAttributes(attrKey, n.Attr)
	return err
}

// findRoot picks the node whose parent is outside the listing
func findRoot(nodes map[string]*node) string {
	for h, n := range nodes {
		if _, ok := nodes[n.Parent]; !ok && n.Type == nodeFolder {
			return h
		}
	}
	return ""
}

func isUnder(nodes map[string]*node, n *node, ancestor string) bool {
	for p := n.Parent; p != ""; {
		if p == ancestor {
			return true
		}
		parent, ok := nodes[p]
		if !ok {
			return false
		}
		p = parent.Parent
	}
	return false
}

// relativePath joins names from below root down to n
func relativePath(nodes map[string]*node, n *node, root string) string {
	parts := []string{n.name}
	for p := n.Parent; p != "" && p != root; {
		parent, ok := nodes[p]
		if !ok {
			break
		}
		parts = append(parts, parent.name)
		p = parent.Parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}
