package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"signal_bot/internal/exchange"
	"signal_bot/internal/modules/config"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://www.okx.com"

// коды OKX, которые имеет смысл повторить
var transientCodes = map[string]bool{
	"50001": true, // service temporarily unavailable
	"50004": true, // endpoint request timeout
	"50011": true, // rate limit
	"50013": true, // system busy
	"50026": true, // system error
}

// Client REST-адаптер OKX USDT-SWAP под exchange.Exchange.
// Позиции в режиме long/short, маржа cross.
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	passph    string
	simulated bool
	quote     string
	log       *zap.Logger

	mu   sync.RWMutex
	meta map[string]instMeta // instId -> контрактные параметры
}

func NewClient(cfg config.OKX, quote string, log *zap.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if quote == "" {
		quote = "USDT"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:      &http.Client{Timeout: 10 * time.Second},
		baseURL:   base,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		passph:    cfg.Passphrase,
		simulated: cfg.Simulated,
		quote:     strings.ToUpper(quote),
		log:       log,
		meta:      make(map[string]instMeta),
	}
}

var _ exchange.Exchange = (*Client)(nil)

// InstID BTCUSDT -> BTC-USDT-SWAP.
func (c *Client) InstID(symbol string) string {
	s := strings.ToUpper(strings.NewReplacer("/", "", "-", "", "_", "").Replace(symbol))
	s = strings.TrimSuffix(s, "SWAP")
	if base, ok := strings.CutSuffix(s, c.quote); ok && base != "" {
		return base + "-" + c.quote + "-SWAP"
	}
	return s
}

// Symbol BTC-USDT-SWAP -> BTCUSDT.
func Symbol(instID string) string {
	return strings.ReplaceAll(strings.TrimSuffix(instID, "-SWAP"), "-", "")
}

func (c *Client) sign(ts, method, requestPath, body string) string {
	msg := ts + strings.ToUpper(method) + requestPath + body
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func apiError(op, code, msg string) *exchange.Error {
	if transientCodes[code] {
		return exchange.Transient(op, code, msg)
	}
	return exchange.Permanent(op, code, msg)
}

type okxItem struct {
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

// do подписанный запрос. Тело ответа декодируется в out даже при code != 0,
// чтобы вызывающий мог разобрать sCode по элементам.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = sonic.Marshal(body); err != nil {
			return exchange.Permanent(op, "marshal", err.Error())
		}
	}
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return exchange.Permanent(op, "request", err.Error())
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	req.Header.Set("Content-Type", "application/json")
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return exchange.Transient(op, strconv.Itoa(resp.StatusCode), string(data))
	}

	var head struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := sonic.Unmarshal(data, &head); err != nil {
		return exchange.Permanent(op, strconv.Itoa(resp.StatusCode), "decode: "+string(data))
	}
	if out != nil {
		if err := sonic.Unmarshal(data, out); err != nil {
			return exchange.Permanent(op, head.Code, "decode: "+err.Error())
		}
	}
	if resp.StatusCode/100 != 2 || head.Code != "0" {
		code := head.Code
		if code == "" {
			code = strconv.Itoa(resp.StatusCode)
		}
		return apiError(op, code, head.Msg)
	}
	return nil
}

// itemErr ошибка первого элемента ответа важнее общего кода.
func itemErr(op string, items []okxItem, err error) error {
	if len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
		return apiError(op, items[0].SCode, items[0].SMsg)
	}
	return err
}

func isCode(err error, codes ...string) bool {
	var ee *exchange.Error
	if !errors.As(err, &ee) {
		return false
	}
	for _, c := range codes {
		if ee.Code == c {
			return true
		}
	}
	return false
}
