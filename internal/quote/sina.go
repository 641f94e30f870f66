package quote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

const sinaBaseURL = "http://hq.sinajs.cn"

// SinaProvider fetches quotes from the Sina quote endpoint. Sina rejects
// requests without a finance-site Referer header.
type SinaProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewSinaProvider returns a provider backed by hq.sinajs.cn.
func NewSinaProvider() *SinaProvider {
	return &SinaProvider{
		baseURL:    sinaBaseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *SinaProvider) Name() string { return "sina" }

func (p *SinaProvider) Fetch(ctx context.Context, code string) (domain.Quote, error) {
	symbol, err := splitCode(code)
	if err != nil {
		return domain.Quote{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/list="+symbol, nil)
	if err != nil {
		return domain.Quote{}, err
	}
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("sina quote for %s: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Quote{}, fmt.Errorf("sina quote for %s: %s", code, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return domain.Quote{}, err
	}
	return parseSina(string(data), code)
}

// parseSina decodes a payload like
//
//	var hq_str_sh113050="南银转债,111.90,111.80,112.50,113.00,111.50,...";
//
// Field 1 is the open, 2 the previous close, 3 the last price, 4 and 5 the
// day's high and low, 8 the traded volume, 9 the turnover.
func parseSina(payload, code string) (domain.Quote, error) {
	start := strings.Index(payload, `"`)
	end := strings.LastIndex(payload, `"`)
	if start < 0 || end <= start {
		return domain.Quote{}, fmt.Errorf("malformed sina payload for %s", code)
	}

	fields := strings.Split(payload[start+1:end], ",")
	if len(fields) < 10 {
		return domain.Quote{}, fmt.Errorf("sina payload for %s has %d fields", code, len(fields))
	}

	var q domain.Quote
	q.Open = parseFloat(fields[1])
	q.PrevClose = parseFloat(fields[2])
	q.LastPrice = parseFloat(fields[3])
	q.High = parseFloat(fields[4])
	q.Low = parseFloat(fields[5])
	q.Volume = parseFloat(fields[8])
	q.Amount = parseFloat(fields[9])
	return q, nil
}
