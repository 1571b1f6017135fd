package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// tailDefaultCapacity はTailBufferのデフォルト保持行数。
const tailDefaultCapacity = 200

// TailBuffer は直近のログ行を固定数だけ保持するslog.Handler。
// 手動トリガーの同期実行で、レスポンスに含める出力テールの収集に使う。
// 容量を超えた古い行は自動的に破棄される。
type TailBuffer struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	dropped  int
}

// NewTailBuffer は指定容量のTailBufferを作成する。
// capacityが0以下の場合はデフォルト値を使用する。
func NewTailBuffer(capacity int) *TailBuffer {
	if capacity <= 0 {
		capacity = tailDefaultCapacity
	}
	return &TailBuffer{capacity: capacity}
}

// Enabled は全レベルのログを受け付ける。
func (b *TailBuffer) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// Handle はログレコードを1行のテキストに整形してバッファに追加する。
func (b *TailBuffer) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Level.String())
	sb.WriteString(" ")
	sb.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		sb.WriteString(" ")
		sb.WriteString(a.Key)
		sb.WriteString("=")
		sb.WriteString(fmt.Sprint(a.Value.Any()))
		return true
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, sb.String())
	if len(b.lines) > b.capacity {
		over := len(b.lines) - b.capacity
		b.lines = b.lines[over:]
		b.dropped += over
	}
	return nil
}

// WithAttrs は属性付きハンドラーを返す。バッファは共有される。
func (b *TailBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &attrHandler{buffer: b, attrs: attrs}
}

// WithGroup はグループ化をサポートしない。そのまま返す。
func (b *TailBuffer) WithGroup(_ string) slog.Handler {
	return b
}

// Lines は保持中のログ行のスナップショットを返す。
// 容量超過で破棄が発生した場合は先頭に省略行を付す。
func (b *TailBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	lines := make([]string, 0, len(b.lines)+1)
	if b.dropped > 0 {
		lines = append(lines, fmt.Sprintf("... (%d行省略)", b.dropped))
	}
	lines = append(lines, b.lines...)
	return lines
}

// attrHandler はWithAttrsで付与された属性をレコードに合成して親バッファへ渡す。
type attrHandler struct {
	buffer *TailBuffer
	attrs  []slog.Attr
}

func (h *attrHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.buffer.Enabled(ctx, level)
}

func (h *attrHandler) Handle(ctx context.Context, r slog.Record) error {
	clone := r.Clone()
	clone.AddAttrs(h.attrs...)
	return h.buffer.Handle(ctx, clone)
}

func (h *attrHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &attrHandler{buffer: h.buffer, attrs: merged}
}

func (h *attrHandler) WithGroup(_ string) slog.Handler {
	return h
}

// teeHandler は2つのslog.Handlerへ同一レコードを配信する。
// 手動トリガー実行時に、通常のJSONログと出力テールの両方へ書くために使う。
type teeHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

// NewTeeLogger はprimaryのハンドラーとtailの両方へ出力するロガーを返す。
func NewTeeLogger(primary *slog.Logger, tail *TailBuffer) *slog.Logger {
	return slog.New(&teeHandler{primary: primary.Handler(), secondary: tail})
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return h.secondary.Handle(ctx, r)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}
