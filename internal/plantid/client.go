// Package plantid は外部の植物識別API（plant.id v2）との連携を提供する。
// 埋め込み画像を1回だけ送信し、最上位の候補を植物レコードの形に正規化する。
package plantid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/plantdex/internal/metrics"
	"github.com/hitoshi/plantdex/internal/model"
	"github.com/hitoshi/plantdex/internal/security"
)

const (
	// DefaultEndpoint はplant.id識別APIのエンドポイント。
	DefaultEndpoint = "https://api.plant.id/v2/identify"
	// DefaultTimeout は1回の識別呼び出しの上限時間。
	DefaultTimeout = 30 * time.Second
	// DefaultMaxResponseSize はレスポンスボディの最大読み取りサイズ。
	DefaultMaxResponseSize int64 = 5 * 1024 * 1024

	// maxErrorBodySize はエラーレスポンスからメッセージを取り出す際の読み取り上限。
	maxErrorBodySize = 4 * 1024
)

// plantDetails は識別APIに要求する詳細項目。
var plantDetails = []string{"common_names", "taxonomy", "url", "wiki_description"}

var (
	// ErrIdentificationFailed は識別が失敗した場合のエラー。
	// 上流のエラーステータス、候補なし、不正なレスポンスなどはすべてこれにラップされる。
	ErrIdentificationFailed = errors.New("plant identification failed")
	// ErrIdentificationTimeout は識別呼び出しが時間内に完了しなかった場合のエラー。
	ErrIdentificationTimeout = errors.New("plant identification timed out")
	// ErrNoSuggestions は識別APIが候補を1件も返さなかった場合のエラー。
	ErrNoSuggestions = fmt.Errorf("%w: no plant matches found", ErrIdentificationFailed)
	// ErrMissingAPIKey はAPIキーが未設定の場合のエラー。
	ErrMissingAPIKey = fmt.Errorf("%w: api key is not configured", ErrIdentificationFailed)
)

// UpstreamError は識別APIが2xx以外を返した場合のエラー。
// Messageには上流が返したメッセージ（なければステータステキスト）が入る。
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("plant.id API error: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap によりerrors.Is(err, ErrIdentificationFailed)が成立する。
func (e *UpstreamError) Unwrap() error {
	return ErrIdentificationFailed
}

// Identifier は埋め込み画像から植物を識別するインターフェース。
// 植物サービスはこのインターフェース経由で識別クライアントを利用する。
type Identifier interface {
	Identify(ctx context.Context, image string) (*model.Identification, error)
}

// Config は識別クライアントの設定。ゼロ値の項目は既定値が使われる。
type Config struct {
	Endpoint        string
	APIKey          string
	Timeout         time.Duration
	MaxResponseSize int64
}

// Client はplant.id APIのクライアント。
type Client struct {
	httpClient      *http.Client
	logger          *slog.Logger
	metrics         metrics.MetricsCollector
	sanitizer       *security.TextSanitizer
	endpoint        string // テスト用にエンドポイントを差し替え可能
	apiKey          string
	timeout         time.Duration
	maxResponseSize int64
}

// NewClient はClientの新しいインスタンスを生成する。
// collectorはnilでもよい。
func NewClient(httpClient *http.Client, cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) *Client {
	c := &Client{
		httpClient:      httpClient,
		logger:          logger,
		metrics:         collector,
		sanitizer:       security.NewTextSanitizer(),
		endpoint:        cfg.Endpoint,
		apiKey:          cfg.APIKey,
		timeout:         cfg.Timeout,
		maxResponseSize: cfg.MaxResponseSize,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxResponseSize <= 0 {
		c.maxResponseSize = DefaultMaxResponseSize
	}
	return c
}

// identifyRequest は識別APIへのリクエストボディ。
type identifyRequest struct {
	Images       []string `json:"images"`
	PlantDetails []string `json:"plant_details"`
}

// identifyResponse は識別APIのレスポンスのうち使用する部分。
type identifyResponse struct {
	Suggestions []suggestion `json:"suggestions"`
}

type suggestion struct {
	PlantName    string  `json:"plant_name"`
	Probability  float64 `json:"probability"`
	PlantDetails struct {
		ScientificName  string   `json:"scientific_name"`
		CommonNames     []string `json:"common_names"`
		WikiDescription *struct {
			Value string `json:"value"`
		} `json:"wiki_description"`
		Taxonomy *struct {
			Class string `json:"class"`
		} `json:"taxonomy"`
	} `json:"plant_details"`
}

// Identify は埋め込み画像（data URI）を識別APIに送信し、最上位候補を返す。
// リクエストは1回のみでリトライしない。呼び出しは設定されたタイムアウトで打ち切られ、
// 親コンテキストのキャンセルも伝搬する。
func (c *Client) Identify(ctx context.Context, image string) (*model.Identification, error) {
	if c.apiKey == "" {
		c.recordFailure("no_api_key")
		return nil, ErrMissingAPIKey
	}

	payload, err := StripDataURIPrefix(image)
	if err != nil {
		c.recordFailure("invalid_image")
		return nil, fmt.Errorf("%w: %w", ErrIdentificationFailed, err)
	}

	body, err := json.Marshal(identifyRequest{
		Images:       []string{payload},
		PlantDetails: plantDetails,
	})
	if err != nil {
		return nil, fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("User-Agent", "PlantDex/1.0")

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordIdentificationLatency(time.Since(start))
		}
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, callCtx, "植物識別APIの呼び出しに失敗しました", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upstreamErr := &UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    c.upstreamMessage(resp),
		}
		c.logger.Error("植物識別APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("upstream_message", upstreamErr.Message),
		)
		c.recordFailure("upstream_status")
		return nil, upstreamErr
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		return nil, c.transportError(ctx, callCtx, "レスポンスボディの読み取りに失敗しました", err)
	}
	if int64(len(respBody)) > c.maxResponseSize {
		c.logger.Error("植物識別APIのレスポンスが上限を超えました",
			slog.Int64("max_size", c.maxResponseSize),
		)
		c.recordFailure("response_too_large")
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrIdentificationFailed, c.maxResponseSize)
	}

	var result identifyResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		c.logger.Error("植物識別APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		c.recordFailure("decode")
		return nil, fmt.Errorf("%w: invalid response JSON: %w", ErrIdentificationFailed, err)
	}

	if len(result.Suggestions) == 0 {
		c.logger.Warn("植物識別APIが候補を返しませんでした")
		c.recordFailure("no_suggestions")
		return nil, ErrNoSuggestions
	}

	ident := c.normalize(result.Suggestions[0])
	c.logger.Info("植物を識別しました",
		slog.String("name", ident.Name),
		slog.String("scientific_name", ident.ScientificName),
		slog.Float64("probability", ident.Probability),
	)
	if c.metrics != nil {
		c.metrics.RecordIdentificationSuccess()
	}
	return ident, nil
}

// normalize は最上位候補を植物レコードの形に変換する。
// 生息地は分類の綱から合成し、世話のヒントは説明文の先頭2文から生成する。
func (c *Client) normalize(s suggestion) *model.Identification {
	ident := &model.Identification{
		Name:           c.sanitizer.Sanitize(s.PlantName),
		ScientificName: c.sanitizer.Sanitize(s.PlantDetails.ScientificName),
		Probability:    s.Probability,
	}
	if ident.Name == "" && len(s.PlantDetails.CommonNames) > 0 {
		ident.Name = c.sanitizer.Sanitize(s.PlantDetails.CommonNames[0])
	}
	if s.PlantDetails.Taxonomy != nil {
		if class := c.sanitizer.Sanitize(s.PlantDetails.Taxonomy.Class); class != "" {
			ident.Habitat = habitatFromClass(class)
		}
	}
	if s.PlantDetails.WikiDescription != nil {
		ident.CareTips = GenerateCareTips(c.sanitizer.Sanitize(s.PlantDetails.WikiDescription.Value))
	}
	return ident
}

// habitatFromClass は分類の綱から生息地の説明文を合成する。
func habitatFromClass(class string) string {
	return fmt.Sprintf("Native to regions where %s plants typically grow", class)
}

// GenerateCareTips は説明文を ". " で分割し、先頭2文を句点付きで連結する。
// 末尾がすでにピリオドの場合は重ねない。空の説明文には空文字列を返す。
func GenerateCareTips(description string) string {
	description = strings.TrimSpace(description)
	if description == "" {
		return ""
	}
	sentences := strings.Split(description, ". ")
	if len(sentences) > 2 {
		sentences = sentences[:2]
	}
	tips := strings.Join(sentences, ". ")
	if !strings.HasSuffix(tips, ".") {
		tips += "."
	}
	return tips
}

// transportError は送信・受信時のエラーをタイムアウトとそれ以外に分類する。
// 親コンテキストがキャンセルされた場合（クライアント切断）はタイムアウト扱いにしない。
func (c *Client) transportError(parent, callCtx context.Context, msg string, err error) error {
	if parent.Err() == nil && (errors.Is(callCtx.Err(), context.DeadlineExceeded) || isTimeout(err)) {
		c.logger.Error("植物識別APIの呼び出しがタイムアウトしました",
			slog.Duration("timeout", c.timeout),
		)
		c.recordFailure("timeout")
		return fmt.Errorf("%w after %s", ErrIdentificationTimeout, c.timeout)
	}

	c.logger.Error(msg, slog.String("error", err.Error()))
	if parent.Err() != nil {
		c.recordFailure("canceled")
	} else {
		c.recordFailure("transport")
	}
	return fmt.Errorf("%w: %w", ErrIdentificationFailed, err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// upstreamMessage はエラーレスポンスからメッセージを取り出す。
// JSON文字列、{"error"}/{"message"}オブジェクト、プレーンテキストの順に解釈し、
// 取り出せない場合はステータステキストを返す。
func (c *Client) upstreamMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	text := strings.TrimSpace(string(raw))

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		text = str
	} else {
		var obj struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil {
			text = obj.Message
			if text == "" {
				text = obj.Error
			}
		}
	}

	if msg := c.sanitizer.Sanitize(text); msg != "" {
		return msg
	}
	if st := http.StatusText(resp.StatusCode); st != "" {
		return st
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}

func (c *Client) recordFailure(reason string) {
	if c.metrics != nil {
		c.metrics.RecordIdentificationFailure(reason)
	}
}

// compile-time interface check
var _ Identifier = (*Client)(nil)
