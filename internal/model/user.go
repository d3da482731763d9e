// Package model はドメインモデルを定義する。
package model

import "time"

// User は外部IDプロバイダが発行するユーザーを表す。
// 本サービスはユーザーを所有せず、Bearerトークン検証の結果として読み取るのみ。
type User struct {
	ID    string
	Email string
}

// Device はユーザーが登録したプッシュ通知エンドポイントを表す。
// ブラウザ拡張・モバイルアプリが承認依頼の通知を受け取るために登録する。
type Device struct {
	ID           string
	UserID       string
	PushEndpoint string
	CreatedAt    time.Time
}
