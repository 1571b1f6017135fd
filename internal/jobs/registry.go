// Package jobs はジョブの多重起動を防ぐインプロセスのレジストリを提供する。
package jobs

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyRunning は同名のジョブが既に実行中の場合に返される。
var ErrAlreadyRunning = errors.New("ジョブは既に実行中です")

// Registry は実行中ジョブを追跡するレジストリ。
// 取得はノンブロッキングで、実行中なら待たずに即座に失敗する。
type Registry struct {
	mu      sync.Mutex
	running map[string]time.Time
}

// NewRegistry は空のレジストリを作成する。
func NewRegistry() *Registry {
	return &Registry{
		running: make(map[string]time.Time),
	}
}

// TryAcquire はジョブの実行権を取得する。
// 同名のジョブが実行中の場合はErrAlreadyRunningを返し、待機しない。
func (r *Registry) TryAcquire(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.running[name]; ok {
		return ErrAlreadyRunning
	}
	r.running[name] = time.Now()
	return nil
}

// Release はジョブの実行権を解放する。
// 成否にかかわらずジョブ終了時に必ず呼ぶこと(通常はdeferで)。
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.running, name)
}

// IsRunning は指定ジョブが実行中かどうかを返す。
func (r *Registry) IsRunning(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.running[name]
	return ok
}

// Running は実行中の全ジョブとその開始時刻を返す。
func (r *Registry) Running() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]time.Time, len(r.running))
	for name, startedAt := range r.running {
		snapshot[name] = startedAt
	}
	return snapshot
}
