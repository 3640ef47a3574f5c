package io

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/kgraph/pkg/loader"
)

// FileLoader reads file:// links and plain paths from the local filesystem.
// With a Root set, paths are resolved below it and may not leave it.
type FileLoader struct {
	root string
}

func NewFileLoader(root string) *FileLoader {
	return &FileLoader{root: root}
}

func (l *FileLoader) Load(ctx context.Context, link string) (loader.Document, error) {
	if err := ctx.Err(); err != nil {
		return loader.Document{}, err
	}
	p, err := l.resolve(link)
	if err != nil {
		return loader.Document{}, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return loader.Document{}, fmt.Errorf("failed to read %s: %w", p, err)
	}
	name := filepath.Base(p)
	return loader.Document{
		Link:        link,
		Name:        name,
		ContentType: loader.ContentTypeOf(name),
		Data:        data,
	}, nil
}

func (l *FileLoader) resolve(link string) (string, error) {
	p := link
	if strings.HasPrefix(link, "file://") {
		u, err := url.Parse(link)
		if err != nil {
			return "", fmt.Errorf("invalid file link %q: %w", link, err)
		}
		p = u.Host + u.Path
	}
	if l.root == "" {
		return filepath.Clean(p), nil
	}

	full := filepath.Join(l.root, filepath.Clean("/"+p))
	rel, err := filepath.Rel(l.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes %s", link, l.root)
	}
	return full, nil
}
