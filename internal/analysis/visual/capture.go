package visual

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"perpilot/internal/gateway/provider"
	"perpilot/internal/logger"
	"perpilot/internal/market"
)

// Capturer 用无头浏览器把渲染好的图表截成 PNG。
type Capturer struct {
	Timeout time.Duration
}

func NewCapturer(timeout time.Duration) *Capturer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Capturer{Timeout: timeout}
}

// Capture 打开本地 HTML，等待图表画布出现后整页截图，返回 base64 data URI。
func (c *Capturer) Capture(ctx context.Context, htmlPath string) (string, error) {
	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return "", fmt.Errorf("图表路径无效: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1024, 720),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancelRun := context.WithTimeout(browserCtx, c.Timeout)
	defer cancelRun()

	var buf []byte
	err = chromedp.Run(runCtx,
		chromedp.Navigate("file://"+abs),
		chromedp.WaitReady("canvas", chromedp.ByQuery),
		chromedp.Sleep(800*time.Millisecond),
		chromedp.FullScreenshot(&buf, 90),
	)
	if err != nil {
		return "", fmt.Errorf("截图失败: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf), nil
}

// Service 组合渲染与截图，产出视觉模型可用的图片载荷。
type Service struct {
	renderer *Renderer
	capturer *Capturer
	enabled  bool
}

func NewService(renderer *Renderer, capturer *Capturer, enabled bool) *Service {
	return &Service{renderer: renderer, capturer: capturer, enabled: enabled}
}

// Payloads 渲染并截图快照。视觉分析是增强能力，任何失败都只告警不阻断循环。
func (s *Service) Payloads(ctx context.Context, snap *market.Snapshot) []provider.ImagePayload {
	if s == nil || !s.enabled || snap == nil {
		return nil
	}
	htmlPath, err := s.renderer.RenderKline(snap)
	if err != nil {
		logger.Warnf("⚠ 图表渲染失败: %v", err)
		return nil
	}
	dataURI, err := s.capturer.Capture(ctx, htmlPath)
	if err != nil {
		logger.Warnf("⚠ 图表截图失败: %v", err)
		return nil
	}
	desc := fmt.Sprintf("%s K线图（最近 %d 根）", snap.InstID, len(snap.Candles))
	return []provider.ImagePayload{{DataURI: dataURI, Description: desc}}
}
