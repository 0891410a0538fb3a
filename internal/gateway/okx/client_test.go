package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		SecretKey:  "test-secret",
		Passphrase: "test-pass",
		Simulated:  true,
		PublicRPS:  100,
	})
}

func writeEnvelope(w http.ResponseWriter, code, msg, data string) {
	fmt.Fprintf(w, `{"code":%q,"msg":%q,"data":%s}`, code, msg, data)
}

func TestPrivateRequestSignedHeaders(t *testing.T) {
	var gotHeader http.Header
	var gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotPath = r.URL.RequestURI()
		writeEnvelope(w, "0", "", `[{"totalEq":"1200.5","details":[{"ccy":"USDT","eq":"1100","availEq":"1000.5"}]}]`)
	}))
	fixed := time.Date(2026, 3, 1, 4, 30, 45, 123_000_000, time.UTC)
	c.now = func() time.Time { return fixed }

	bal, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1200.5, bal.TotalEq, 1e-9)
	assert.InDelta(t, 1000.5, bal.AvailEq, 1e-9)

	ts := isoTimestamp(fixed)
	assert.Equal(t, "/api/v5/account/balance?ccy=USDT", gotPath)
	assert.Equal(t, "test-key", gotHeader.Get("OK-ACCESS-KEY"))
	assert.Equal(t, ts, gotHeader.Get("OK-ACCESS-TIMESTAMP"))
	assert.Equal(t, "test-pass", gotHeader.Get("OK-ACCESS-PASSPHRASE"))
	assert.Equal(t, "1", gotHeader.Get("x-simulated-trading"), "模拟盘必须带标识头")
	wantSign := signRequest("test-secret", ts, "GET", "/api/v5/account/balance?ccy=USDT", "")
	assert.Equal(t, wantSign, gotHeader.Get("OK-ACCESS-SIGN"))
}

func TestBalanceFallsBackToEq(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "0", "", `[{"totalEq":"1200","details":[{"ccy":"USDT","eq":"1100","availEq":""}]}]`)
	}))
	bal, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1100, bal.AvailEq, 1e-9, "availEq 缺失时退回 eq")
}

func TestPublicRequestUnsigned(t *testing.T) {
	var gotHeader http.Header
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		writeEnvelope(w, "0", "", `[{"instId":"ETH-USDT-SWAP","last":"3335.5","bidPx":"3335.4","askPx":"3335.6","high24h":"3360","low24h":"3280","vol24h":"987654","volCcy24h":"3290000000","ts":"1756000000000"}]`)
	}))

	tick, err := c.Ticker(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.Empty(t, gotHeader.Get("OK-ACCESS-KEY"), "公共接口不签名")
	assert.Equal(t, "ETH-USDT-SWAP", tick.InstID)
	assert.InDelta(t, 3335.5, tick.Last, 1e-9)
	assert.InDelta(t, 3335.4, tick.Bid, 1e-9)
	assert.InDelta(t, 3335.6, tick.Ask, 1e-9)
	assert.InDelta(t, 3360, tick.High24h, 1e-9)
	assert.Equal(t, int64(1756000000000), tick.Ts)
}

func TestTickerEmptyData(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "0", "", `[]`)
	}))
	_, err := c.Ticker(context.Background(), "ETH-USDT-SWAP")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "返回空数据")
}

func TestBusinessErrorToAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "51000", "参数错误", `[]`)
	}))
	_, err := c.Funding(context.Background(), "ETH-USDT-SWAP")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "51000", apiErr.Code)
	assert.False(t, IsTransient(err), "业务错误不应重试")
}

func TestHTTPStatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "upstream down")
	}))
	_, err := c.Ticker(context.Background(), "ETH-USDT-SWAP")
	require.Error(t, err)

	var statusErr *httpStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
	assert.True(t, statusErr.Retryable())
	assert.True(t, IsTransient(err))
}

func TestHTTPStatusRetryable(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{400, false},
		{404, false},
	}
	for _, tc := range cases {
		e := &httpStatusError{Status: tc.status}
		assert.Equal(t, tc.retryable, e.Retryable(), "status=%d", tc.status)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"无错误", nil, false},
		{"上下文取消", context.Canceled, false},
		{"包裹的超时", fmt.Errorf("请求 OKX 失败: %w", context.DeadlineExceeded), false},
		{"业务错误", &APIError{Code: "51008"}, false},
		{"包裹的业务错误", fmt.Errorf("下单失败: %w", &APIError{Code: "51008"}), false},
		{"5xx", &httpStatusError{Status: 503}, true},
		{"404", &httpStatusError{Status: 404}, false},
		{"传输层错误", errors.New("connection reset by peer"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestCandlesReversedToAscending(t *testing.T) {
	var gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		// OKX 返回最新在前，并混入一行脏数据。
		writeEnvelope(w, "0", "", `[
			["1756090800000","3340","3352","3336","3350","98"],
			["bad"],
			["1756087200000","3330","3344","3328","3340","120"]
		]`)
	}))

	candles, err := c.Candles(context.Background(), "ETH-USDT-SWAP", "1h", 3)
	require.NoError(t, err)
	assert.Equal(t, "/api/v5/market/candles?instId=ETH-USDT-SWAP&bar=1H&limit=3", gotPath)

	require.Len(t, candles, 2, "字段不全的行应跳过")
	assert.Equal(t, int64(1756087200000), candles[0].OpenTime, "输出必须时间升序")
	assert.Equal(t, int64(1756087200000+3_600_000-1), candles[0].CloseTime)
	assert.InDelta(t, 3340, candles[0].Close, 1e-9)
	assert.Equal(t, int64(1756090800000), candles[1].OpenTime)
	assert.InDelta(t, 98, candles[1].Volume, 1e-9)
}

func TestNormalizeBar(t *testing.T) {
	cases := map[string]string{
		"1h":  "1H",
		"4h":  "4H",
		"1d":  "1D",
		"5m":  "5m",
		"15m": "15m",
		"":    "5m",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeBar(in), "in=%q", in)
	}
}

func TestBarMillis(t *testing.T) {
	assert.Equal(t, int64(300_000), barMillis("5m"))
	assert.Equal(t, int64(900_000), barMillis("15m"))
	assert.Equal(t, int64(3_600_000), barMillis("1h"))
	assert.Equal(t, int64(14_400_000), barMillis("4h"))
	assert.Equal(t, int64(86_400_000), barMillis("1d"))
	assert.Equal(t, int64(60_000), barMillis("abc"), "无法识别的周期按 1m 兜底")
}

func TestPlaceOrderSuccess(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		writeEnvelope(w, "0", "", `[{"ordId":"o-1","clOrdId":"pp1","sCode":"0"}]`)
	}))

	res, err := c.PlaceOrder(context.Background(), OrderRequest{
		InstID: "ETH-USDT-SWAP", TdMode: "cross", Side: "buy", PosSide: "long", Sz: "0.03",
	})
	require.NoError(t, err)
	assert.Equal(t, "o-1", res.OrdID)
	assert.Equal(t, "market", gotBody["ordType"], "缺省委托类型为市价")
	assert.Equal(t, "0.03", gotBody["sz"])
}

func TestPlaceOrderPerOrderReject(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "0", "", `[{"ordId":"","sCode":"51119","sMsg":"下单失败"}]`)
	}))
	_, err := c.PlaceOrder(context.Background(), OrderRequest{InstID: "ETH-USDT-SWAP"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "51119", apiErr.Code)
}

func TestPlaceOrderEnvelopeRejectEnriched(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "1", "All operations failed", `[{"ordId":"","sCode":"51008","sMsg":"保证金不足"}]`)
	}))
	_, err := c.PlaceOrder(context.Background(), OrderRequest{InstID: "ETH-USDT-SWAP"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "51008", apiErr.Code, "应提升逐单 sCode 为错误主体")
	assert.Equal(t, "保证金不足", apiErr.Msg)
}

func TestEnrichOrderReject(t *testing.T) {
	plain := errors.New("network down")
	assert.Equal(t, plain, enrichOrderReject(plain), "非业务错误原样返回")

	noData := &APIError{Code: "1", Msg: "failed"}
	assert.Equal(t, error(noData), enrichOrderReject(noData))

	garbage := &APIError{Code: "1", Data: json.RawMessage(`{not json`)}
	assert.Equal(t, error(garbage), enrichOrderReject(garbage))

	enriched := enrichOrderReject(&APIError{
		Code: "1", Msg: "All operations failed",
		Data: json.RawMessage(`[{"sCode":"51008","sMsg":"Insufficient margin"}]`),
	})
	var apiErr *APIError
	require.ErrorAs(t, enriched, &apiErr)
	assert.Equal(t, "51008", apiErr.Code)
}

func TestInstrumentCached(t *testing.T) {
	hits := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		writeEnvelope(w, "0", "", `[{"instId":"ETH-USDT-SWAP","ctVal":"0.1","lotSz":"0.01","minSz":"0.01","tickSz":"0.01"}]`)
	}))

	first, err := c.Instrument(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	second, err := c.Instrument(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, hits, "合约元数据应走进程内缓存")
	assert.Equal(t, "0.1", first.CtVal)
}

func TestPositionsFiltersFlat(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "0", "", `[
			{"instId":"ETH-USDT-SWAP","posSide":"long","pos":"2","avgPx":"3300","upl":"1.5","cTime":"1756000000000"},
			{"instId":"ETH-USDT-SWAP","posSide":"long","pos":"0","avgPx":"0"},
			{"instId":"ETH-USDT-SWAP","posSide":"","pos":"-3","avgPx":"3400"}
		]`)
	}))

	positions, err := c.Positions(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	require.Len(t, positions, 2, "pos=0 的行应被过滤")
	assert.Equal(t, "long", positions[0].Side())
	assert.InDelta(t, 3300, positions[0].AvgPx, 1e-9)
	assert.Equal(t, int64(1756000000000), positions[0].CTime)
	assert.Equal(t, "short", positions[1].Side(), "单向持仓按张数符号判方向")
}

func TestPositionSide(t *testing.T) {
	assert.Equal(t, "long", Position{PosSide: "LONG"}.Side())
	assert.Equal(t, "short", Position{PosSide: "short"}.Side())
	assert.Equal(t, "long", Position{PosSide: "net", Pos: 1}.Side())
	assert.Equal(t, "short", Position{PosSide: "", Pos: -1}.Side())
}

func TestClosePositionBody(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		writeEnvelope(w, "0", "", `[]`)
	}))

	require.NoError(t, c.ClosePosition(context.Background(), "ETH-USDT-SWAP", "cross", "long"))
	assert.Equal(t, "ETH-USDT-SWAP", gotBody["instId"])
	assert.Equal(t, "cross", gotBody["mgnMode"])
	assert.Equal(t, "long", gotBody["posSide"])
	assert.Equal(t, true, gotBody["autoCxl"], "平仓需顺带撤掉条件委托")
}

func TestSetLeverageBody(t *testing.T) {
	var gotBody map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		writeEnvelope(w, "0", "", `[]`)
	}))

	require.NoError(t, c.SetLeverage(context.Background(), "ETH-USDT-SWAP", 100, "cross"))
	assert.Equal(t, "100", gotBody["lever"])
	assert.Equal(t, "cross", gotBody["mgnMode"])
}

func TestPendingAlgosQuery(t *testing.T) {
	var gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		writeEnvelope(w, "0", "", `[{"algoId":"a-1","instId":"ETH-USDT-SWAP","ordType":"oco","slTriggerPx":"3250","tpTriggerPx":"3380"}]`)
	}))

	algos, err := c.PendingAlgos(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, "/api/v5/trade/orders-algo-pending?ordType=oco&instId=ETH-USDT-SWAP", gotPath)
	require.Len(t, algos, 1)
	assert.Equal(t, "a-1", algos[0].AlgoID)
	assert.Equal(t, "3250", algos[0].SlTriggerPx)
}

func TestFundingAndOI(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v5/public/funding-rate":
			writeEnvelope(w, "0", "", `[{"fundingRate":"0.0001"}]`)
		case "/api/v5/public/open-interest":
			writeEnvelope(w, "0", "", `[{"oi":"1234567","oiCcy":"123456.7"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	funding, err := c.Funding(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.InDelta(t, 0.0001, funding, 1e-12)

	oi, err := c.OI(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.InDelta(t, 123456.7, oi, 1e-6, "未平仓量取币本位口径")
}
