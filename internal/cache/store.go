// Package cache はカタログバックフィル用のディスクキャッシュストアを提供する。
// badgerを組み込みキーバリューストアとして使用し、取得済み詳細レコードを
// 外部プロダクトコードで索引する。数時間規模のバックフィルを中断しても、
// 取得済みレコードを上流に再問い合わせせずに再開できる。
// 変更検出用のフィンガープリントもここに保持され、データベース接続なしで
// 安価なプローブのファストパスが動作する。
package cache

import (
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// キー空間のプレフィックス。
const (
	detailPrefix    = "detail/"
	metaFingerprint = "meta/fingerprint"
	metaListing     = "meta/listing"
)

// Store はbadgerバックエンドのディスクキャッシュストア。
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open は指定ディレクトリのキャッシュストアを開く。存在しなければ作成される。
func Open(dir string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	// badger自身のログはアプリケーションのJSONログと混ざるため抑制する
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("キャッシュストアのオープンに失敗しました: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close はキャッシュストアを閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC はbadgerのバリューログガベージコレクションを実行する。
// 回収対象がなくなるまで繰り返し、回収したファイル数を返す。
func (s *Store) RunGC() (int, error) {
	reclaimed := 0
	for {
		err := s.db.RunValueLogGC(0.5)
		if err == badger.ErrNoRewrite {
			return reclaimed, nil
		}
		if err != nil {
			return reclaimed, fmt.Errorf("キャッシュストアのGCに失敗しました: %w", err)
		}
		reclaimed++
	}
}

// PutDetail は1製品の詳細レコードの生JSONを保存する。
func (s *Store) PutDetail(code string, raw []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(detailPrefix+code), raw)
	})
	if err != nil {
		return fmt.Errorf("詳細レコードのキャッシュ保存に失敗しました (code=%s): %w", code, err)
	}
	return nil
}

// LoadDetails はキャッシュ済みの全詳細レコードをプロダクトコードで索引した
// マップとして読み込む。バックフィル再開時に取得済みレコードの
// スキップ判定に使用される。
func (s *Store) LoadDetails() (map[string][]byte, error) {
	details := make(map[string][]byte)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(detailPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			code := strings.TrimPrefix(string(item.Key()), detailPrefix)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			details[code] = value
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("キャッシュ済み詳細レコードの読み込みに失敗しました: %w", err)
	}

	s.logger.Info("キャッシュ済み詳細レコードを読み込みました",
		slog.Int("count", len(details)),
	)

	return details, nil
}

// Fingerprint は保存済みのカタログフィンガープリントを返す。未保存の場合は空文字列。
func (s *Store) Fingerprint() (string, error) {
	var fingerprint string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaFingerprint))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			fingerprint = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("フィンガープリントの読み込みに失敗しました: %w", err)
	}

	return fingerprint, nil
}

// SetFingerprint はカタログフィンガープリントを保存する。
func (s *Store) SetFingerprint(fingerprint string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaFingerprint), []byte(fingerprint))
	})
	if err != nil {
		return fmt.Errorf("フィンガープリントの保存に失敗しました: %w", err)
	}
	return nil
}

// PutListing はカタログ一括リスティングの生スナップショットを保存する。
func (s *Store) PutListing(raw []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaListing), raw)
	})
	if err != nil {
		return fmt.Errorf("リスティングスナップショットの保存に失敗しました: %w", err)
	}
	return nil
}

// Listing は保存済みのリスティングスナップショットを返す。未保存の場合はnil。
func (s *Store) Listing() ([]byte, error) {
	var listing []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaListing))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		listing, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("リスティングスナップショットの読み込みに失敗しました: %w", err)
	}

	return listing, nil
}
