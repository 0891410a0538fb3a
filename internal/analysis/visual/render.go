package visual

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	talib "github.com/markcheno/go-talib"

	"perpilot/internal/market"
	"perpilot/internal/pkg/format"
)

// Renderer 把 K 线窗口渲染成自包含的 HTML 图表，供视觉模型截图使用。
type Renderer struct {
	OutDir string
	Bars   int
}

func NewRenderer(outDir string, bars int) *Renderer {
	if bars <= 0 {
		bars = 48
	}
	return &Renderer{OutDir: outDir, Bars: bars}
}

// RenderKline 渲染快照的 K 线与成交量，返回生成的 HTML 路径。
func (r *Renderer) RenderKline(snap *market.Snapshot) (string, error) {
	if snap == nil || len(snap.Candles) == 0 {
		return "", fmt.Errorf("快照缺少 K 线，无法渲染")
	}
	candles := snap.Candles.Tail(r.Bars)

	x := make([]string, 0, len(candles))
	klineData := make([]opts.KlineData, 0, len(candles))
	volumeData := make([]opts.BarData, 0, len(candles))
	extremes := make([]float64, 0, len(candles)*2)
	for _, c := range candles {
		x = append(x, c.TimeString())
		// echarts K 线数据顺序为 开/收/低/高
		klineData = append(klineData, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
		volumeData = append(volumeData, opts.BarData{Value: c.Volume})
		extremes = append(extremes, c.Low, c.High)
	}

	lo, hi := format.RangeSummary(extremes)
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "980px", Height: "460px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s 最近 %d 根 K 线", snap.InstID, len(candles)),
			Subtitle: fmt.Sprintf("最新价 %.2f · 区间 %.2f-%.2f · 生成于 %s", snap.LastPrice, lo, hi, time.Now().UTC().Format("2006-01-02 15:04 UTC")),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside", Start: 0, End: 100}),
	)
	kline.SetXAxis(x).AddSeries("kline", klineData)

	// 收盘价足够时叠加 EMA20，帮助视觉模型识别趋势。
	if closes := snap.PriceSeries(); len(closes) >= 20 {
		ema := talib.Ema(closes, 20)
		ema = ema[len(ema)-len(candles):]
		emaData := make([]opts.LineData, 0, len(ema))
		for _, v := range ema {
			emaData = append(emaData, opts.LineData{Value: v})
		}
		emaLine := charts.NewLine()
		emaLine.SetXAxis(x).AddSeries("EMA20", emaData,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
		kline.Overlap(emaLine)
	}

	volume := charts.NewBar()
	volume.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "980px", Height: "180px"}),
		charts.WithTitleOpts(opts.Title{Title: "成交量"}),
	)
	volume.SetXAxis(x).AddSeries("volume", volumeData)

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(kline, volume)

	if err := os.MkdirAll(r.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("创建图表目录失败: %w", err)
	}
	name := fmt.Sprintf("%s-%s.html",
		strings.ToLower(strings.ReplaceAll(snap.InstID, "-", "")),
		time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(r.OutDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("创建图表文件失败: %w", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return "", fmt.Errorf("渲染图表失败: %w", err)
	}
	return path, nil
}
