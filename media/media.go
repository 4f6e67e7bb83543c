// Package media 保存生成的图片和视频，返回可直接访问的地址。
package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store 媒体存储
type Store interface {
	Put(ctx context.Context, prefix, contentType string, data []byte) (string, error)
}

// ObjectName 生成 <prefix>/<uuid><ext>
func ObjectName(prefix, contentType string, data []byte) string {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return path.Join(strings.Trim(prefix, "/"), uuid.NewString()+extension(contentType))
}

func extension(contentType string) string {
	base, _, _ := mime.ParseMediaType(contentType)
	switch base {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// LocalStore 写入本地目录，通过 PublicPath 静态路由访问
type LocalStore struct {
	Dir        string
	PublicPath string
}

func NewLocalStore(dir, publicPath string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("media: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create %s: %w", dir, err)
	}
	if publicPath == "" {
		publicPath = "/media"
	}
	return &LocalStore{Dir: dir, PublicPath: "/" + strings.Trim(publicPath, "/")}, nil
}

func (s *LocalStore) Put(ctx context.Context, prefix, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("media: empty payload")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := ObjectName(prefix, contentType, data)
	full := filepath.Join(s.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("media: create dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("media: write %s: %w", name, err)
	}
	return s.PublicPath + "/" + name, nil
}
