package jobs

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRegistry_TryAcquire(t *testing.T) {
	registry := NewRegistry()

	if err := registry.TryAcquire("reports-sync"); err != nil {
		t.Fatalf("初回の取得に失敗しました: %v", err)
	}

	// 同名ジョブの二重取得は即座に失敗すること
	if err := registry.TryAcquire("reports-sync"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("二重取得はErrAlreadyRunningを返すべきです: got %v", err)
	}

	// 別名ジョブは取得できること
	if err := registry.TryAcquire("catalog-sync"); err != nil {
		t.Errorf("別名ジョブの取得に失敗しました: %v", err)
	}
}

func TestRegistry_Release(t *testing.T) {
	registry := NewRegistry()

	if err := registry.TryAcquire("reports-sync"); err != nil {
		t.Fatalf("取得に失敗しました: %v", err)
	}

	registry.Release("reports-sync")

	if registry.IsRunning("reports-sync") {
		t.Error("解放後は実行中でないべきです")
	}

	// 解放後は再取得できること
	if err := registry.TryAcquire("reports-sync"); err != nil {
		t.Errorf("解放後の再取得に失敗しました: %v", err)
	}
}

func TestRegistry_Release_NotAcquired(t *testing.T) {
	registry := NewRegistry()

	// 未取得のジョブを解放してもパニックしないこと
	registry.Release("unknown-job")
}

func TestRegistry_Running(t *testing.T) {
	registry := NewRegistry()

	if err := registry.TryAcquire("reports-sync"); err != nil {
		t.Fatalf("取得に失敗しました: %v", err)
	}

	running := registry.Running()
	if len(running) != 1 {
		t.Fatalf("実行中ジョブ数が期待値と異なります: got %d, want 1", len(running))
	}
	if _, ok := running["reports-sync"]; !ok {
		t.Error("reports-syncが実行中一覧に含まれるべきです")
	}

	// 返却されたマップの変更が内部状態に影響しないこと
	delete(running, "reports-sync")
	if !registry.IsRunning("reports-sync") {
		t.Error("スナップショットの変更が内部状態に影響しています")
	}
}

func TestRegistry_ConcurrentAcquire(t *testing.T) {
	registry := NewRegistry()

	const goroutines = 50
	var acquired atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := registry.TryAcquire("catalog-sync"); err == nil {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := acquired.Load(); got != 1 {
		t.Errorf("同時取得で成功するのは1件のみであるべきです: got %d", got)
	}
}
