package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"marketwarehouse/internal/validator"
)

// AlpacaProvider implements Provider for OHLCV history only. Alpaca's
// market data API has no dividends/splits/earnings/options endpoints, so
// this provider intentionally does not implement any of the enrichment
// interfaces; Client.Fetch{Dividends,Splits,Earnings,OptionsChainSnapshot}
// skip straight past it to whichever provider does.
type AlpacaProvider struct {
	client *marketdata.Client
	config ProviderConfig
}

// NewAlpacaProvider creates a new Alpaca Market Data provider.
func NewAlpacaProvider(config ProviderConfig) (*AlpacaProvider, error) {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    config.APIKey,
		APISecret: config.APISecret,
	})

	return &AlpacaProvider{
		client: client,
		config: config,
	}, nil
}

// Name returns the provider name.
func (p *AlpacaProvider) Name() string {
	return string(ProviderAlpaca)
}

func timeframeToAlpaca(timeframe Timeframe) (marketdata.TimeFrame, error) {
	switch timeframe {
	case Timeframe5Min:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case Timeframe15Min:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case Timeframe30Min:
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case Timeframe1Hour:
		return marketdata.NewTimeFrame(1, marketdata.Hour), nil
	case Timeframe4Hour:
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case Timeframe1Day:
		return marketdata.NewTimeFrame(1, marketdata.Day), nil
	case Timeframe1Week:
		return marketdata.NewTimeFrame(1, marketdata.Week), nil
	default:
		return marketdata.TimeFrame{}, ErrInvalidTimeframe
	}
}

func (p *AlpacaProvider) fetchBars(symbol string, timeframe Timeframe, start, end time.Time, adjustment marketdata.Adjustment) ([]validator.RawCandle, error) {
	tf, err := timeframeToAlpaca(timeframe)
	if err != nil {
		return nil, err
	}

	bars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  tf,
		Start:      start,
		End:        end,
		Adjustment: adjustment,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamTransient, err)
	}

	candles := make([]validator.RawCandle, 0, len(bars))
	for _, bar := range bars {
		candles = append(candles, validator.RawCandle{
			Symbol:    symbol,
			Timestamp: bar.Timestamp,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    int64(bar.Volume),
			Source:    p.Name(),
		})
	}
	return candles, nil
}

// FetchCandles returns raw (unadjusted) OHLCV candles for the window.
func (p *AlpacaProvider) FetchCandles(ctx context.Context, symbol string, assetClass AssetClass, timeframe Timeframe, start, end time.Time) ([]validator.RawCandle, error) {
	return p.fetchBars(symbol, timeframe, start, end, marketdata.Raw)
}

// FetchAdjustedCandles returns split/dividend-adjusted OHLCV candles.
func (p *AlpacaProvider) FetchAdjustedCandles(ctx context.Context, symbol string, timeframe Timeframe, start, end time.Time) ([]validator.RawCandle, error) {
	return p.fetchBars(symbol, timeframe, start, end, marketdata.SplitAndDividend)
}

// HealthCheck verifies the provider is reachable by fetching the last five
// days of SPY daily candles.
func (p *AlpacaProvider) HealthCheck(ctx context.Context) error {
	end := time.Now()
	start := end.AddDate(0, 0, -5)
	_, err := p.FetchCandles(ctx, "SPY", AssetETF, Timeframe1Day, start, end)
	return err
}
