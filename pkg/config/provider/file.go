// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettleDelay is how long a file must stay quiet after a write
// before a change is reported.
const DefaultSettleDelay = 150 * time.Millisecond

// ErrProviderClosed is returned by Watch after Close.
var ErrProviderClosed = errors.New("provider is closed")

// FileProvider reads tonetuner.yaml (or .toml) from disk. Watch reports a
// change only when the file content differs from what Load last returned,
// so saves that rewrite identical bytes do not trigger a reload.
type FileProvider struct {
	path   string
	settle time.Duration

	mu      sync.Mutex
	digest  [sha256.Size]byte
	loaded  bool
	watcher *fsnotify.Watcher
	closed  bool
}

// FileOption configures a FileProvider.
type FileOption func(*FileProvider)

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) FileOption {
	return func(p *FileProvider) {
		p.settle = d
	}
}

// NewFileProvider creates a provider for the config file at path.
func NewFileProvider(path string, opts ...FileOption) (*FileProvider, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	p := &FileProvider{path: abs, settle: DefaultSettleDelay}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Type returns TypeFile.
func (p *FileProvider) Type() Type {
	return TypeFile
}

// Path returns the absolute path of the config file.
func (p *FileProvider) Path() string {
	return p.path
}

// Load reads the file and remembers its digest.
func (p *FileProvider) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.digest = sha256.Sum256(data)
	p.loaded = true
	p.mu.Unlock()
	return data, nil
}

// changed reports whether the file on disk differs from the last Load. A
// file that cannot be read is not a change; it is usually mid-rewrite.
func (p *FileProvider) changed() bool {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.loaded || sha256.Sum256(data) != p.digest
}

// Watch watches the directory holding the file, which also catches
// editors that replace the file instead of writing it in place.
func (p *FileProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProviderClosed
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(p.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	p.watcher = w

	ch := make(chan struct{}, 1)
	go p.loop(ctx, w, ch)

	slog.Info("Watching config file", "path", p.path)
	return ch, nil
}

func (p *FileProvider) loop(ctx context.Context, w *fsnotify.Watcher, ch chan<- struct{}) {
	defer close(ch)
	defer w.Close()

	name := filepath.Base(p.path)
	settle := time.NewTimer(p.settle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				settle.Reset(p.settle)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				slog.Warn("Config file removed, keeping the current settings", "path", p.path)
			}

		case <-settle.C:
			if !p.changed() {
				slog.Debug("Config file rewritten without changes", "path", p.path)
				continue
			}
			select {
			case ch <- struct{}{}:
				slog.Debug("Config file changed", "path", p.path)
			default:
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Error("Config file watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}

var _ Provider = (*FileProvider)(nil)
