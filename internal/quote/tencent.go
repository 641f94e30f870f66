package quote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

const tencentBaseURL = "http://qt.gtimg.cn"

// TencentProvider fetches quotes from the Tencent stock quote endpoint.
// The response is a javascript assignment with tilde-separated fields.
type TencentProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewTencentProvider returns a provider backed by qt.gtimg.cn.
func NewTencentProvider() *TencentProvider {
	return &TencentProvider{
		baseURL:    tencentBaseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *TencentProvider) Name() string { return "tencent" }

func (p *TencentProvider) Fetch(ctx context.Context, code string) (domain.Quote, error) {
	symbol, err := splitCode(code)
	if err != nil {
		return domain.Quote{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/q="+symbol, nil)
	if err != nil {
		return domain.Quote{}, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("tencent quote for %s: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Quote{}, fmt.Errorf("tencent quote for %s: %s", code, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return domain.Quote{}, err
	}
	return parseTencent(string(data), code)
}

// parseTencent decodes a payload like
//
//	v_sh113050="1~南银转债~113050~112.50~111.80~111.90~...";
//
// Field 3 is the last price, 4 the previous close, 5 the open, 6 the traded
// volume in lots of 100, 33 and 34 the day's high and low.
func parseTencent(payload, code string) (domain.Quote, error) {
	start := strings.Index(payload, `"`)
	end := strings.LastIndex(payload, `"`)
	if start < 0 || end <= start {
		return domain.Quote{}, fmt.Errorf("malformed tencent payload for %s", code)
	}

	fields := strings.Split(payload[start+1:end], "~")
	if len(fields) < 7 {
		return domain.Quote{}, fmt.Errorf("tencent payload for %s has %d fields", code, len(fields))
	}

	var q domain.Quote
	q.LastPrice = parseFloat(fields[3])
	q.PrevClose = parseFloat(fields[4])
	q.Open = parseFloat(fields[5])
	q.Volume = parseFloat(fields[6]) * 100
	if len(fields) > 34 {
		q.High = parseFloat(fields[33])
		q.Low = parseFloat(fields[34])
	}
	if len(fields) > 37 {
		// Turnover is reported in units of ten thousand yuan.
		q.Amount = parseFloat(fields[37]) * 10000
	}
	return q, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
