package tuning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"
)

// Fetch resolves a tuning source to a local file. Plain paths to existing
// files are used in place; anything else (http(s)://, s3::, git::, ...) is
// downloaded into dir by go-getter.
func Fetch(ctx context.Context, src, dir string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", nil
	}
	if !strings.Contains(src, "::") && !strings.Contains(src, "://") {
		if st, err := os.Stat(src); err == nil && !st.IsDir() {
			return src, nil
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	pwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, "tuning.yaml")
	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Pwd:  pwd,
		Mode: getter.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return "", fmt.Errorf("fetch tuning %s: %w", src, err)
	}
	return dst, nil
}

// LoadFrom fetches src (if remote) and loads it.
func LoadFrom(ctx context.Context, src, dir string) (Tuning, error) {
	path, err := Fetch(ctx, src, dir)
	if err != nil {
		return Defaults(), err
	}
	return Load(path)
}
