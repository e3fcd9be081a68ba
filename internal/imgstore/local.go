package imgstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Local пишет файлы на диск; отдаются они роутером под baseURL
// (по умолчанию /media/floorplans/).
type Local struct {
	dir     string
	baseURL string
}

func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (l *Local) Put(_ context.Context, filename string, data []byte, contentType string) (Stored, error) {
	if _, _, err := Probe(data); err != nil {
		return Stored{}, err
	}
	name := uuid.NewString() + ext(filename, contentType)
	if err := os.WriteFile(filepath.Join(l.dir, name), data, 0o644); err != nil {
		return Stored{}, fmt.Errorf("write image: %w", err)
	}
	return Stored{Ref: name, URL: l.baseURL + "/" + name}, nil
}

func (l *Local) Delete(_ context.Context, ref string) error {
	// ref приходит из нашей же БД, но на всякий случай не даём выйти из dir
	if ref == "" || strings.ContainsAny(ref, "/\\") {
		return fmt.Errorf("invalid image ref: %q", ref)
	}
	err := os.Remove(filepath.Join(l.dir, ref))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Dir — каталог с файлами (для регистрации файлового сервера).
func (l *Local) Dir() string { return l.dir }
