// Package model はドメインモデルを定義する。
package model

import "time"

// Plant はユーザーが所有する植物レコードを表す。
// 所有者（UserID）は作成時に確定し、以後変更されない。
type Plant struct {
	ID             int64
	UserID         int64
	Name           string
	ScientificName string
	ImageURL       string
	Habitat        string
	CareTips       string
	CreatedAt      time.Time
}

// PlantFields は植物レコード作成時に呼び出し元が決定するフィールド。
// ID、所有者、作成日時はストア側で割り当てる。
type PlantFields struct {
	Name           string
	ScientificName string
	ImageURL       string
	Habitat        string
	CareTips       string
}

// Identification は植物識別APIの結果を正規化したもの。
type Identification struct {
	Name           string
	ScientificName string
	Habitat        string
	CareTips       string
	// Probability は上位候補の確信度。ログ用途のみで、判定には使用しない。
	Probability float64
}
