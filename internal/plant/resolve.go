package plant

import (
	"strings"

	"github.com/hitoshi/plantdex/internal/model"
)

// 入力が欠けている場合に使う既定値。
const (
	PlaceholderName           = "Unknown Plant"
	PlaceholderScientificName = "Plantus Unknownus"
	PlaceholderHabitat        = "Various habitats"
	PlaceholderCareTips       = "Water regularly, provide adequate sunlight"
	PlaceholderImageURL       = "https://placehold.co/400x300"
)

// Resolution は投稿内容から保存フィールドを決定した経路を表す。
type Resolution string

const (
	// ResolutionManual は埋め込み画像がなく、入力値をそのまま使う経路。
	ResolutionManual Resolution = "manual"
	// ResolutionIdentified は識別結果を使い、入力テキストを破棄する経路。
	ResolutionIdentified Resolution = "identified"
	// ResolutionFallback は識別に失敗したが、入力の名前と学名で登録する経路。
	ResolutionFallback Resolution = "fallback"
	// ResolutionRejected は識別に失敗し、入力も不足しているため登録しない経路。
	ResolutionRejected Resolution = "rejected"
)

// decisionKey は解決規則の入力。
type decisionKey struct {
	embedded   bool // 画像フィールドが埋め込み画像
	identified bool // 識別が成功した
	sufficient bool // 入力に名前と学名の両方がある
}

// decisionTable は解決規則の全行。埋め込み画像がない場合は識別を行わないため
// identifiedは常にfalseとなる。
var decisionTable = map[decisionKey]Resolution{
	{embedded: false, identified: false, sufficient: false}: ResolutionManual,
	{embedded: false, identified: false, sufficient: true}:  ResolutionManual,
	{embedded: true, identified: true, sufficient: false}:   ResolutionIdentified,
	{embedded: true, identified: true, sufficient: true}:    ResolutionIdentified,
	{embedded: true, identified: false, sufficient: true}:   ResolutionFallback,
	{embedded: true, identified: false, sufficient: false}:  ResolutionRejected,
}

// decide は解決規則を引く。表にない組み合わせは登録しない。
func decide(key decisionKey) Resolution {
	if r, ok := decisionTable[key]; ok {
		return r
	}
	return ResolutionRejected
}

// Submission は植物登録の入力。各フィールドは省略可能で、
// 空文字列と空白のみの値は未入力として扱う。入力された値は加工せずに保存する。
type Submission struct {
	Name           string
	ScientificName string
	Habitat        string
	CareTips       string
	ImageURL       string
}

// sufficient は識別失敗時に入力値で登録できるかを判定する。
func (s Submission) sufficient() bool {
	return !isBlank(s.Name) && !isBlank(s.ScientificName)
}

// buildFields は決定した経路に従って保存するフィールドを組み立てる。
// 画像は常に入力値（なければ既定画像）を使い、識別結果で置き換えない。
// ResolutionRejectedでは呼び出さない。
func buildFields(r Resolution, sub Submission, ident *model.Identification) model.PlantFields {
	fields := model.PlantFields{
		ImageURL: orDefault(sub.ImageURL, PlaceholderImageURL),
	}

	switch r {
	case ResolutionIdentified:
		fields.Name = orDefault(ident.Name, PlaceholderName)
		fields.ScientificName = orDefault(ident.ScientificName, PlaceholderScientificName)
		fields.Habitat = orDefault(ident.Habitat, PlaceholderHabitat)
		fields.CareTips = orDefault(ident.CareTips, PlaceholderCareTips)
	default:
		fields.Name = orDefault(sub.Name, PlaceholderName)
		fields.ScientificName = orDefault(sub.ScientificName, PlaceholderScientificName)
		fields.Habitat = orDefault(sub.Habitat, PlaceholderHabitat)
		fields.CareTips = orDefault(sub.CareTips, PlaceholderCareTips)
	}

	return fields
}

func orDefault(v, def string) string {
	if isBlank(v) {
		return def
	}
	return v
}

func isBlank(v string) bool {
	return strings.TrimSpace(v) == ""
}
