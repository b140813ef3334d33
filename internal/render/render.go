// Package render selects the capture.Renderer implementation for a process.
package render

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/config"
	"github.com/JakeFAU/compliance-archiver/internal/render/browser"
	"github.com/JakeFAU/compliance-archiver/internal/render/mock"
	"github.com/JakeFAU/compliance-archiver/internal/render/synth"
)

// Strategy names accepted by renderer.strategy.
const (
	StrategyAuto    = "auto"
	StrategyBrowser = "browser"
	StrategyHTTP    = "http"
	StrategyMock    = "mock"
)

// locate is swapped in tests.
var locate = browser.Locate

// Select builds the renderer named by cfg.Renderer.Strategy. In auto mode a
// local Chrome wins; otherwise offline deployments get the mock and the rest
// fall back to HTTP synthesis.
func Select(cfg config.Config, logger *zap.Logger) (capture.Renderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	strategy := cfg.Renderer.Strategy
	if strategy == "" {
		strategy = StrategyAuto
	}

	switch strategy {
	case StrategyBrowser:
		path, ok := locate(cfg.Renderer.ChromePath)
		if !ok {
			return nil, fmt.Errorf("renderer.strategy is browser but no chrome executable was found")
		}
		return newBrowser(cfg, path, logger)
	case StrategyHTTP:
		return newSynth(cfg, logger), nil
	case StrategyMock:
		logger.Warn("using mock renderer; captures will not reflect page content")
		return mock.New(), nil
	case StrategyAuto:
		if path, ok := locate(cfg.Renderer.ChromePath); ok {
			logger.Info("chrome detected; using browser renderer", zap.String("exec_path", path))
			return newBrowser(cfg, path, logger)
		}
		if cfg.Renderer.Offline {
			logger.Warn("chrome not found and offline mode set; using mock renderer")
			return mock.New(), nil
		}
		logger.Info("chrome not found; using http synthesis renderer")
		return newSynth(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown renderer strategy %q", strategy)
	}
}

func newBrowser(cfg config.Config, path string, logger *zap.Logger) (capture.Renderer, error) {
	r, err := browser.New(browser.Config{
		ExecPath:    path,
		NoSandbox:   cfg.Renderer.NoSandbox,
		UserAgent:   cfg.Renderer.UserAgent,
		NavTimeout:  cfg.NavTimeout(),
		Settle:      cfg.SettleDelay(),
		MaxParallel: cfg.Worker.Concurrency,
	}, logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("create browser renderer: %w", err)
	}
	return r, nil
}

func newSynth(cfg config.Config, logger *zap.Logger) capture.Renderer {
	return synth.New(synth.Config{
		UserAgent: cfg.Renderer.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	}, logger.Named("synth"))
}
