// pkg/scratch/scratch.go
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/feichai0017/paperless-mistral/pkg/logger"
)

// Dir 管理一次运行的临时文件目录
type Dir struct {
	root string
	log  logger.Logger
}

// New creates the scratch directory if it does not exist yet
func New(root string, log logger.Logger) (*Dir, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Dir{root: root, log: log.Named("scratch")}, nil
}

// Root returns the directory path
func (d *Dir) Root() string {
	return d.root
}

// Path 返回目录内某文件的完整路径
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, name)
}

// Remove 删除单个临时文件,失败只记日志
func (d *Dir) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.log.Warn("failed to remove scratch file",
			logger.String("path", path),
			logger.Error(err))
	}
}

// Sweep 清理修改时间早于阈值的常规文件,返回清理数量
func (d *Dir) Sweep(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	entries, err := os.ReadDir(d.root)
	if err != nil {
		d.log.Warn("failed to read scratch directory",
			logger.String("dir", d.root),
			logger.Error(err))
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(d.Path(e.Name())); err != nil {
				d.log.Warn("failed to remove scratch file",
					logger.String("path", d.Path(e.Name())),
					logger.Error(err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		d.log.Info("swept stale scratch files",
			logger.Int("removed", removed),
			logger.Duration("older_than", olderThan))
	}
	return removed
}

// RemoveAll 运行结束时整体删除目录
func (d *Dir) RemoveAll() {
	if err := os.RemoveAll(d.root); err != nil {
		d.log.Error("failed to remove scratch directory",
			logger.String("dir", d.root),
			logger.Error(err))
	}
}
