// Package extractor applies per-store declarative rules to parsed HTML,
// producing candidate product records and locating the next page link.
package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"storewatcher/config"
	"storewatcher/internal/models"
)

var (
	jpyPattern = regexp.MustCompile(`[\d,]+`)
	eurPattern = regexp.MustCompile(`[\d.,]+`)
)

// Items extracts candidate products from a parsed page. An item is kept
// only when it has a name, a resolvable absolute URL and at least one
// parsed price; anything else is dropped without error.
func Items(doc *goquery.Document, rules config.ExtractRules) []models.Candidate {
	var items []models.Candidate

	doc.Find(rules.ItemContainer).Each(func(_ int, s *goquery.Selection) {
		archived := false
		if rules.SoldOut != "" {
			if s.Is(rules.SoldOut) || s.Find(rules.SoldOut).Length() > 0 {
				archived = true
			}
		}

		name := strings.TrimSpace(s.Find(rules.Name).First().Text())

		link, _ := s.Find(rules.Link).First().Attr("href")
		productURL := resolveURL(strings.TrimSpace(link), rules.SiteRootURL)

		imageURL := ""
		if rules.Image != "" {
			if src, ok := s.Find(rules.Image).First().Attr("src"); ok {
				imageURL = resolveURL(strings.TrimSpace(src), rules.SiteRootURL)
			}
		}

		priceScope := s
		if rules.PriceContainer != "" {
			if scoped := s.Find(rules.PriceContainer).First(); scoped.Length() > 0 {
				priceScope = scoped
			}
		}

		prices := map[string]float64{}
		for _, rule := range rules.Prices {
			priceSel := priceScope.Find(rule.Selector).First()
			if priceSel.Length() == 0 {
				continue
			}
			if value, ok := ParsePrice(rule.Currency, priceSel.Text()); ok {
				prices[rule.Currency] = value
			}
		}

		if name == "" || productURL == "" || len(prices) == 0 {
			return
		}

		items = append(items, models.Candidate{
			Name:       name,
			ProductURL: productURL,
			ImageURL:   imageURL,
			Prices:     prices,
			Archived:   archived,
		})
	})

	return items
}

// NextPageURL locates the pagination target: candidates matching the
// next-page query are filtered to those whose visible text contains the
// configured marker (case-insensitive), and the last match wins. Returns
// "" when pagination is exhausted.
func NextPageURL(doc *goquery.Document, rules config.ExtractRules) string {
	nextRule := rules.NextPage
	if nextRule.Selector == "" {
		return ""
	}

	marker := strings.ToLower(nextRule.Text)
	var last *goquery.Selection
	doc.Find(nextRule.Selector).Each(func(_ int, s *goquery.Selection) {
		if strings.Contains(strings.ToLower(strings.TrimSpace(s.Text())), marker) {
			last = s
		}
	})
	if last == nil {
		return ""
	}

	attr := nextRule.Attribute
	if attr == "" {
		attr = "href"
	}
	target, ok := last.Attr(attr)
	if !ok {
		return ""
	}

	return resolveURL(strings.TrimSpace(target), rules.SiteRootURL)
}

// ParsePrice parses a price string under the per-currency contract: JPY is
// digits with thousands separators stripped to an integer-valued float; EUR
// is digits with all separators stripped, then divided by 100 (the matched
// text encodes cents).
func ParsePrice(currency, text string) (float64, bool) {
	switch currency {
	case "JPY":
		match := jpyPattern.FindString(text)
		cleaned := strings.ReplaceAll(match, ",", "")
		if cleaned == "" {
			return 0, false
		}
		value, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return value, true
	case "EUR":
		match := eurPattern.FindString(text)
		cleaned := strings.ReplaceAll(strings.ReplaceAll(match, ",", ""), ".", "")
		if cleaned == "" {
			return 0, false
		}
		cents, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return cents / 100, true
	default:
		return 0, false
	}
}

// resolveURL rewrites a relative link to absolute against the site root.
func resolveURL(link, siteRoot string) string {
	if link == "" || strings.HasPrefix(link, "http") {
		return link
	}
	return siteRoot + link
}
