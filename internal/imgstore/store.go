// Package imgstore хранит изображения планов этажей и отдаёт их
// метаданные (ссылка, URL, размеры в пикселях).
package imgstore

import (
	"bytes"
	"context"
	"errors"
	"image"
	"path"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var ErrBadImage = errors.New("undecodable image")

// Stored — результат сохранения: ссылка для хранилища и публичный URL.
type Stored struct {
	Ref string
	URL string
}

type Store interface {
	Put(ctx context.Context, filename string, data []byte, contentType string) (Stored, error)
	Delete(ctx context.Context, ref string) error
}

// Probe возвращает пиксельные размеры изображения без полного декодирования.
func Probe(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, ErrBadImage
	}
	return cfg.Width, cfg.Height, nil
}

// ext подбирает расширение файла по имени или content-type.
func ext(filename, contentType string) string {
	if e := strings.ToLower(path.Ext(filename)); e != "" {
		return e
	}
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	}
	return ".img"
}
