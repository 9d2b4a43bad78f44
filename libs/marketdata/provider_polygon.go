package marketdata

import (
	"fmt"
	"time"

	"context"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"marketwarehouse/internal/validator"
)

// PolygonProvider implements Provider plus every enrichment interface
// (DividendsProvider, SplitsProvider, EarningsProvider, OptionsProvider)
// against Polygon.io's reference and snapshot APIs.
type PolygonProvider struct {
	client *polygon.Client
	config ProviderConfig
}

// NewPolygonProvider creates a new Polygon.io provider.
func NewPolygonProvider(config ProviderConfig) (*PolygonProvider, error) {
	return &PolygonProvider{
		client: polygon.New(config.APIKey),
		config: config,
	}, nil
}

// Name returns the provider name.
func (p *PolygonProvider) Name() string {
	return string(ProviderPolygon)
}

func timeframeToPolygon(timeframe Timeframe) (int, models.Timespan, error) {
	switch timeframe {
	case Timeframe5Min:
		return 5, models.Minute, nil
	case Timeframe15Min:
		return 15, models.Minute, nil
	case Timeframe30Min:
		return 30, models.Minute, nil
	case Timeframe1Hour:
		return 1, models.Hour, nil
	case Timeframe4Hour:
		return 4, models.Hour, nil
	case Timeframe1Day:
		return 1, models.Day, nil
	case Timeframe1Week:
		return 1, models.Week, nil
	default:
		return 0, "", ErrInvalidTimeframe
	}
}

func (p *PolygonProvider) fetchAggs(ctx context.Context, symbol string, timeframe Timeframe, start, end time.Time, adjusted bool) ([]validator.RawCandle, error) {
	multiplier, timespan, err := timeframeToPolygon(timeframe)
	if err != nil {
		return nil, err
	}

	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: multiplier,
		Timespan:   timespan,
		From:       models.Millis(start),
		To:         models.Millis(end),
	}.WithAdjusted(adjusted).WithSort(models.Asc)

	iter := p.client.ListAggs(ctx, params)

	candles := make([]validator.RawCandle, 0)
	for iter.Next() {
		agg := iter.Item()
		candles = append(candles, validator.RawCandle{
			Symbol:    symbol,
			Timestamp: time.Time(agg.Timestamp),
			Open:      agg.Open,
			High:      agg.High,
			Low:       agg.Low,
			Close:     agg.Close,
			Volume:    int64(agg.Volume),
			Source:    p.Name(),
		})
	}

	if iter.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamTransient, iter.Err())
	}

	return candles, nil
}

// FetchCandles returns raw (unadjusted) OHLCV candles for the window.
func (p *PolygonProvider) FetchCandles(ctx context.Context, symbol string, assetClass AssetClass, timeframe Timeframe, start, end time.Time) ([]validator.RawCandle, error) {
	return p.fetchAggs(ctx, symbol, timeframe, start, end, false)
}

// FetchAdjustedCandles returns split/dividend-adjusted OHLCV candles.
func (p *PolygonProvider) FetchAdjustedCandles(ctx context.Context, symbol string, timeframe Timeframe, start, end time.Time) ([]validator.RawCandle, error) {
	return p.fetchAggs(ctx, symbol, timeframe, start, end, true)
}

// FetchDividends returns declared cash dividend events in [start, end].
func (p *PolygonProvider) FetchDividends(ctx context.Context, symbol string, start, end time.Time) ([]Dividend, error) {
	params := models.ListDividendsParams{
		Ticker: models.EQ(symbol),
	}.WithExDividendDate(models.GTE, models.Date(start)).
		WithExDividendDate(models.LTE, models.Date(end))

	iter := p.client.ListDividends(ctx, params)

	dividends := make([]Dividend, 0)
	for iter.Next() {
		d := iter.Item()
		dividends = append(dividends, Dividend{
			Symbol:     symbol,
			ExDate:     time.Time(d.ExDividendDate),
			PayDate:    time.Time(d.PayDate),
			RecordDate: time.Time(d.RecordDate),
			CashAmount: d.CashAmount,
			Currency:   d.Currency,
			Frequency:  d.Frequency,
		})
	}
	if iter.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamTransient, iter.Err())
	}
	return dividends, nil
}

// FetchSplits returns declared stock split events in [start, end].
func (p *PolygonProvider) FetchSplits(ctx context.Context, symbol string, start, end time.Time) ([]Split, error) {
	params := models.ListSplitsParams{
		Ticker: models.EQ(symbol),
	}.WithExecutionDate(models.GTE, models.Date(start)).
		WithExecutionDate(models.LTE, models.Date(end))

	iter := p.client.ListSplits(ctx, params)

	splits := make([]Split, 0)
	for iter.Next() {
		s := iter.Item()
		splits = append(splits, Split{
			Symbol:     symbol,
			ExDate:     time.Time(s.ExecutionDate),
			FromFactor: s.SplitFrom,
			ToFactor:   s.SplitTo,
		})
	}
	if iter.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamTransient, iter.Err())
	}
	return splits, nil
}

// FetchEarnings returns reported financials for the window, mapped onto
// the warehouse's Earnings shape. Polygon does not expose a dedicated
// earnings-calendar endpoint on this tier; quarterly financials stand in
// for EPS/revenue figures.
func (p *PolygonProvider) FetchEarnings(ctx context.Context, symbol string, start, end time.Time) ([]Earnings, error) {
	params := models.ListStockFinancialsParams{
		Ticker: &symbol,
	}.WithTimeframe(models.Quarterly).
		WithPeriodOfReportDate(models.GTE, models.Date(start)).
		WithPeriodOfReportDate(models.LTE, models.Date(end))

	iter := p.client.VXListStockFinancials(ctx, params)

	earnings := make([]Earnings, 0)
	for iter.Next() {
		f := iter.Item()
		earnings = append(earnings, Earnings{
			Symbol:        symbol,
			FiscalQuarter: f.FiscalPeriod,
			FiscalYear:    parseYear(f.FiscalYear),
			ReportDate:    time.Time(f.EndDate),
			EPS:           f.Financials.IncomeStatement.BasicEarningsPerShare.Value,
			Revenue:       f.Financials.IncomeStatement.Revenues.Value,
		})
	}
	if iter.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamTransient, iter.Err())
	}
	return earnings, nil
}

// FetchOptionsChainSnapshot returns a point-in-time options chain snapshot
// for symbol as of asOf.
func (p *PolygonProvider) FetchOptionsChainSnapshot(ctx context.Context, symbol string, asOf time.Time) (*OptionsSnapshot, error) {
	params := &models.ListSnapshotOptionsChainParams{
		UnderlyingAsset: symbol,
	}

	iter := p.client.ListSnapshotOptionsChain(ctx, params)

	snapshot := &OptionsSnapshot{Symbol: symbol, AsOf: asOf}
	for iter.Next() {
		c := iter.Item()
		kind := "call"
		if c.Details.ContractType == "put" {
			kind = "put"
		}
		snapshot.Contracts = append(snapshot.Contracts, OptionsContract{
			ContractSymbol: c.Details.Ticker,
			Strike:         c.Details.StrikePrice,
			Expiration:     time.Time(c.Details.ExpirationDate),
			Kind:           kind,
			Bid:            c.LastQuote.Bid,
			Ask:            c.LastQuote.Ask,
			LastPrice:      c.LastTrade.Price,
			OpenInterest:   int64(c.OpenInterest),
			ImpliedVol:     c.ImpliedVolatility,
		})
	}
	if iter.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamTransient, iter.Err())
	}
	return snapshot, nil
}

// HealthCheck verifies the provider is reachable by fetching the last five
// days of SPY daily candles.
func (p *PolygonProvider) HealthCheck(ctx context.Context) error {
	end := time.Now()
	start := end.AddDate(0, 0, -5)
	_, err := p.FetchCandles(ctx, "SPY", AssetETF, Timeframe1Day, start, end)
	return err
}

func parseYear(s string) int {
	var year int
	fmt.Sscanf(s, "%d", &year)
	return year
}
