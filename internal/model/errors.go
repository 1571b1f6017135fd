// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は管理APIの統一エラーフォーマットを表す。
// 原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, sync, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeUnknownJob        = "UNKNOWN_JOB"
	ErrCodeJobAlreadyRunning = "JOB_ALREADY_RUNNING"
)

// NewUnauthorizedError は認証失敗エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "Authorizationヘッダーに正しい共有シークレットを指定してください。",
	}
}

// NewInvalidRequestError は不正リクエストエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストボディの形式を確認してください。",
	}
}

// NewUnknownJobError は未知のジョブ名エラーを生成する。
func NewUnknownJobError(job string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownJob,
		Message:  fmt.Sprintf("指定されたジョブは存在しません: %s", job),
		Category: "validation",
		Action:   "GET /admin/sync で利用可能なジョブ名を確認してください。",
	}
}

// NewJobAlreadyRunningError はジョブ重複実行エラーを生成する。
func NewJobAlreadyRunningError(job string) *APIError {
	return &APIError{
		Code:     ErrCodeJobAlreadyRunning,
		Message:  fmt.Sprintf("ジョブは既に実行中です: %s", job),
		Category: "sync",
		Action:   "実行中のジョブが完了するのを待ってから再度トリガーしてください。",
	}
}
