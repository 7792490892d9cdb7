package source

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	maxMarketCoins    = 20
	maxGenericEntries = 25
)

// ParseJSON handles the market and prediction APIs used as sources: Yahoo
// Finance chart, CoinGecko simple price and markets, and generic lists such
// as Polymarket. Price snapshots are dated at parse time.
func (n *Normalizer) ParseJSON(body []byte, sourceURL string) ([]Item, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("parse json %s: %w", sourceURL, err)
	}

	now := n.now().UTC()

	switch v := data.(type) {
	case map[string]any:
		if chart, ok := v["chart"].(map[string]any); ok {
			if _, ok := chart["result"]; ok {
				return yahooChart(chart, sourceURL, now), nil
			}
		}
		if _, ok := v["bitcoin"]; ok {
			return coinGeckoSimple(v, sourceURL, now), nil
		}
		if _, ok := v["ethereum"]; ok {
			return coinGeckoSimple(v, sourceURL, now), nil
		}
		return []Item{}, nil
	case []any:
		if len(v) == 0 {
			return []Item{}, nil
		}
		if first, ok := v[0].(map[string]any); ok {
			if _, ok := first["current_price"]; ok {
				return coinGeckoMarkets(v, sourceURL, now), nil
			}
		}
		return genericList(v, sourceURL, now), nil
	}
	return []Item{}, nil
}

func yahooChart(chart map[string]any, sourceURL string, now time.Time) []Item {
	results, _ := chart["result"].([]any)
	if len(results) == 0 {
		return []Item{}
	}
	first, _ := results[0].(map[string]any)
	meta, _ := first["meta"].(map[string]any)

	symbol := stringField(meta, "symbol")
	if symbol == "" {
		symbol = "Unknown"
	}
	price := numberField(meta, "regularMarketPrice")
	change := numberField(meta, "regularMarketChangePercent")

	return []Item{{
		ID:          ItemID(sourceURL, symbol),
		Title:       fmt.Sprintf("%s: $%.2f (%+.2f%%)", symbol, price, change),
		Link:        "https://finance.yahoo.com/quote/" + symbol,
		Description: "Market price for " + symbol,
		Source:      SourceName(sourceURL),
		SourceURL:   sourceURL,
		Published:   &now,
		RawPayload:  map[string]any{"symbol": symbol, "price": price, "change": change},
	}}
}

func coinGeckoSimple(data map[string]any, sourceURL string, now time.Time) []Item {
	coins := make([]string, 0, len(data))
	for coin := range data {
		coins = append(coins, coin)
	}
	sort.Strings(coins)

	items := make([]Item, 0, len(coins))
	for _, coin := range coins {
		info, ok := data[coin].(map[string]any)
		if !ok {
			continue
		}
		if _, ok := info["usd"]; !ok {
			continue
		}
		price := numberField(info, "usd")
		change := numberField(info, "usd_24h_change")

		items = append(items, Item{
			ID:          ItemID(sourceURL, coin),
			Title:       fmt.Sprintf("%s: $%s (%+.2f%%)", titleCase(coin), money(price), change),
			Link:        "https://coingecko.com/en/coins/" + coin,
			Description: "24h price for " + coin,
			Source:      "CoinGecko",
			SourceURL:   sourceURL,
			Published:   &now,
			RawPayload:  map[string]any{"coin": coin, "price": price, "change": change},
		})
	}
	return items
}

func coinGeckoMarkets(list []any, sourceURL string, now time.Time) []Item {
	items := make([]Item, 0, min(len(list), maxMarketCoins))
	for i, entry := range list {
		if i >= maxMarketCoins {
			break
		}
		coin, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name := stringField(coin, "name")
		if name == "" {
			name = "Unknown"
		}
		symbol := strings.ToUpper(stringField(coin, "symbol"))
		if symbol == "" {
			symbol = "???"
		}
		price := numberField(coin, "current_price")
		change := numberField(coin, "price_change_percentage_24h")

		items = append(items, Item{
			ID:          ItemID(sourceURL, symbol),
			Title:       fmt.Sprintf("%s: $%s (%+.2f%%)", name, money(price), change),
			Link:        "https://coingecko.com/en/coins/" + stringField(coin, "id"),
			Description: fmt.Sprintf("24h price for %s (%s)", name, symbol),
			Source:      "CoinGecko",
			SourceURL:   sourceURL,
			Published:   &now,
			RawPayload:  map[string]any{"symbol": symbol, "price": price, "change": change},
		})
	}
	return items
}

func genericList(list []any, sourceURL string, now time.Time) []Item {
	name := SourceName(sourceURL)
	items := make([]Item, 0, min(len(list), maxGenericEntries))
	for i, entry := range list {
		if i >= maxGenericEntries {
			break
		}
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		title := firstString(obj, "question", "title", "name")
		if title == "" {
			continue
		}
		link := firstString(obj, "url", "link")
		if link == "" {
			link = sourceURL
		}

		items = append(items, Item{
			ID:          ItemID(link, title),
			Title:       title,
			Link:        link,
			Description: truncate(stringField(obj, "description"), maxDescriptionLen),
			Source:      name,
			SourceURL:   sourceURL,
			Published:   &now,
			RawPayload:  obj,
		})
	}
	return items
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return ""
}

// numberField reads a JSON number, treating null and missing as zero.
func numberField(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}

func money(f float64) string {
	return humanize.FormatFloat("#,###.##", f)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
