// Package loader fetches the raw bytes behind a source link. Sub packages
// implement the filesystem, S3 and web schemes; Router picks one per link.
package loader

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Document is the raw payload of a link. Data is never modified by the
// pipeline; its hash identifies the content.
type Document struct {
	Link        string
	Name        string
	ContentType string
	Data        []byte
}

// Loader reads the document behind link.
type Loader interface {
	Load(ctx context.Context, link string) (Document, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, link string) (Document, error)

func (f LoaderFunc) Load(ctx context.Context, link string) (Document, error) {
	return f(ctx, link)
}

// Router dispatches links by URL scheme. Links without a scheme are handed
// to the "file" loader.
type Router struct {
	loaders map[string]Loader
}

func NewRouter() *Router {
	return &Router{loaders: map[string]Loader{}}
}

// Register binds l to scheme, e.g. "file", "s3" or "https".
func (r *Router) Register(scheme string, l Loader) *Router {
	r.loaders[strings.ToLower(scheme)] = l
	return r
}

func (r *Router) Load(ctx context.Context, link string) (Document, error) {
	scheme := Scheme(link)
	l, ok := r.loaders[scheme]
	if !ok {
		return Document{}, fmt.Errorf("no loader for scheme %q", scheme)
	}
	doc, err := l.Load(ctx, link)
	if err != nil {
		return Document{}, err
	}
	if doc.Link == "" {
		doc.Link = link
	}
	if doc.Name == "" {
		doc.Name = NameOf(link)
	}
	if doc.ContentType == "" {
		doc.ContentType = ContentTypeOf(doc.Name)
	}
	return doc, nil
}

// Scheme returns the lower case scheme of link, "file" for plain paths.
func Scheme(link string) string {
	u, err := url.Parse(link)
	if err != nil || len(u.Scheme) < 2 {
		// a single letter is a windows drive
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

// NameOf returns the last path element of link.
func NameOf(link string) string {
	p := link
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(strings.TrimRight(p, "/"))
	if name == "." || name == "/" {
		return link
	}
	return name
}

// ContentTypeOf guesses a MIME type from the file extension of name.
func ContentTypeOf(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt", "":
		return "text/plain"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Cached wraps a Loader so each link is fetched once per process.
type Cached struct {
	next Loader

	cache   map[string]Document
	cacheMu sync.RWMutex
	group   singleflight.Group
}

func NewCached(next Loader) *Cached {
	return &Cached{
		next:  next,
		cache: make(map[string]Document),
	}
}

func (c *Cached) Load(ctx context.Context, link string) (Document, error) {
	c.cacheMu.RLock()
	if cached, ok := c.cache[link]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	result, err, _ := c.group.Do(link, func() (any, error) {
		doc, err := c.next.Load(ctx, link)
		if err != nil {
			return Document{}, err
		}
		c.cacheMu.Lock()
		c.cache[link] = doc
		c.cacheMu.Unlock()
		return doc, nil
	})
	if err != nil {
		return Document{}, err
	}
	return result.(Document), nil
}

// Forget drops link from the cache so the next Load fetches it again.
func (c *Cached) Forget(link string) {
	c.cacheMu.Lock()
	delete(c.cache, link)
	c.cacheMu.Unlock()
	c.group.Forget(link)
}
