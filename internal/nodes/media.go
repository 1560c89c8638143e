package nodes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/aretw0/menuflow/pkg/domain"
)

// MaxMediaSize bounds downloads made by media nodes. Larger files fail the node
// and are never cached.
var MaxMediaSize int64 = 50 << 20

var mediaExtensions = map[string]string{
	"image/webp":      ".webp",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"audio/mp4":       ".m4a",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"application/pdf": ".pdf",
}

// MediaCache remembers uploaded media references by source URL for the life of the process.
type MediaCache struct {
	entries sync.Map // url -> mediaEntry
}

type mediaEntry struct {
	ref  string
	info domain.MediaInfo
}

// NewMediaCache creates an empty cache.
func NewMediaCache() *MediaCache {
	return &MediaCache{}
}

func (c *MediaCache) get(url string) (mediaEntry, bool) {
	v, ok := c.entries.Load(url)
	if !ok {
		return mediaEntry{}, false
	}
	return v.(mediaEntry), true
}

func (c *MediaCache) put(url string, e mediaEntry) {
	c.entries.Store(url, e)
}

// Len returns the number of cached references.
func (c *MediaCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

type mediaConfig struct {
	MessageType string           `mapstructure:"message_type"`
	Text        string           `mapstructure:"text"`
	URL         string           `mapstructure:"url"`
	Info        domain.MediaInfo `mapstructure:"info"`
}

// Media downloads a file, uploads it through the transport and sends it.
type Media struct {
	header
	cfg mediaConfig
}

func newMedia(def *domain.NodeDefinition, env *Env) (Node, error) {
	var cfg mediaConfig
	if err := decode(def, &cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("media needs url")
	}
	switch cfg.MessageType {
	case "":
		cfg.MessageType = domain.MsgImage
	case domain.MsgImage, domain.MsgVideo, domain.MsgAudio, domain.MsgFile:
	default:
		return nil, fmt.Errorf("unsupported message_type %q", cfg.MessageType)
	}
	return &Media{header: header{def: def, env: env}, cfg: cfg}, nil
}

func (m *Media) Execute(ctx context.Context, req *Request) (Outcome, error) {
	logger := m.log(req)
	url := m.renderOrLiteral(req, "url", m.cfg.URL)

	entry, ok := m.env.Media.get(url)
	if !ok {
		var err error
		entry, err = m.load(ctx, req, url)
		if err != nil {
			logger.Error("media not loaded, nothing sent", "url", url, "err", err)
			return advance(domain.OutcomeDefault, nil), nil
		}
		m.env.Media.put(url, entry)
	}

	info := entry.info
	body := m.renderOrLiteral(req, "text", m.cfg.Text)
	if body == "" {
		body = filename(m.cfg.MessageType, info.MimeType)
	}
	content := domain.Content{
		MsgType: m.cfg.MessageType,
		Body:    body,
		URL:     entry.ref,
		Info:    &info,
	}
	if err := m.send(ctx, req, content); err != nil {
		return Outcome{}, err
	}
	return advance(domain.OutcomeDefault, nil), nil
}

func (m *Media) load(ctx context.Context, req *Request, url string) (mediaEntry, error) {
	if m.env.Transport == nil {
		return mediaEntry{}, fmt.Errorf("no transport configured")
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return mediaEntry{}, err
	}
	resp, err := m.env.HTTP.Do(hreq)
	if err != nil {
		return mediaEntry{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return mediaEntry{}, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaSize+1))
	if err != nil {
		return mediaEntry{}, err
	}
	if int64(len(data)) > MaxMediaSize {
		return mediaEntry{}, fmt.Errorf("%w: media exceeds %d bytes", ErrTooLarge, MaxMediaSize)
	}

	info := m.info(req)
	if info.MimeType == "" {
		info.MimeType = resp.Header.Get("Content-Type")
	}
	if info.MimeType == "" || info.MimeType == "application/octet-stream" {
		info.MimeType = http.DetectContentType(data)
	}
	info.MimeType = strings.TrimSpace(strings.SplitN(info.MimeType, ";", 2)[0])
	if info.Size == 0 {
		info.Size = len(data)
	}

	ref, err := m.env.Transport.UploadMedia(ctx, data, info.MimeType, filename(m.cfg.MessageType, info.MimeType))
	if err != nil {
		return mediaEntry{}, fmt.Errorf("upload: %w", err)
	}
	return mediaEntry{ref: ref, info: info}, nil
}

// info renders the declared media info; numeric fields that fail to render stay zero.
func (m *Media) info(req *Request) domain.MediaInfo {
	info := m.cfg.Info
	info.MimeType = m.renderOrLiteral(req, "info.mimetype", info.MimeType)
	return info
}

// filename builds the upload name from the message type and the mimetype.
func filename(msgType, mimeType string) string {
	name := strings.TrimPrefix(msgType, "m.")
	if ext, ok := mediaExtensions[mimeType]; ok {
		return name + ext
	}
	if sub := path.Base(mimeType); sub != "" && sub != "." && sub != "/" && strings.Contains(mimeType, "/") {
		return name + "." + sub
	}
	return name
}
