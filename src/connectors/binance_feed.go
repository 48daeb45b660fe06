package connectors

import (
	"context"
	"net/http"
	"strings"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// BinanceFeed reads last traded prices from Binance public market data via
// goex. One feed instance serves both spot and futures positions; triggers
// only need a last price, not a mark price.
type BinanceFeed struct {
	exchange goex.API
}

func NewBinanceFeed(httpClient *http.Client) *BinanceFeed {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	apiConfig := &goex.APIConfig{
		HttpClient: httpClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}

	return &BinanceFeed{
		exchange: binance.NewWithConfig(apiConfig),
	}
}

// toCurrencyPair converts an exchange symbol like BTCUSDT into the goex pair
// notation BTC_USDT.
func toCurrencyPair(symbol string) goex.CurrencyPair {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, quote := range []string{"USDT", "USDC", "BUSD", "USD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return goex.NewCurrencyPair2(strings.TrimSuffix(s, quote) + "_" + quote)
		}
	}
	return goex.NewCurrencyPair2(s)
}

// GetPrice returns the last traded price for the symbol. A feed miss is
// reported as ErrPriceUnavailable so the caller can isolate it per symbol.
func (f *BinanceFeed) GetPrice(ctx context.Context, symbol, marketType string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	ticker, err := f.exchange.GetTicker(toCurrencyPair(symbol))
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component":   "BinanceFeed",
			"symbol":      symbol,
			"market_type": marketType,
		}).WithError(err).Warn("ticker fetch failed")

		return decimal.Zero, ErrPriceUnavailable
	}

	if ticker == nil || ticker.Last <= 0 {
		return decimal.Zero, ErrPriceUnavailable
	}

	return decimal.NewFromFloat(ticker.Last), nil
}
