package scoring

import (
	"strings"
	"unicode"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

// categoryKeywords is checked in order; the first bucket with a hit wins.
// Sports goes first: team and event names often contain country names.
var categoryKeywords = []struct {
	category domain.Category
	words    []string
}{
	{domain.CategorySports, []string{
		"sports", "nba", "nfl", "mlb", "nhl", "ufc", "fifa", "uefa", "premier league",
		"champions league", "world cup", "super bowl", "tennis", "golf", "f1",
		"grand prix", "match", "vs", "game", "playoffs", "championship", "olympic",
	}},
	{domain.CategoryGeopolitical, []string{
		"geopolitics", "war", "ceasefire", "invasion", "invade", "military", "missile",
		"nato", "nuclear", "sanction", "sanctions", "troops", "strike on", "conflict", "israel",
		"iran", "ukraine", "russia", "china", "taiwan", "gaza", "north korea",
	}},
	{domain.CategoryEconomic, []string{
		"economy", "economics", "fed", "federal reserve", "interest rate", "rate cut",
		"rate hike", "inflation", "cpi", "gdp", "recession", "unemployment", "tariff",
		"oil price", "s&p", "nasdaq", "dow jones", "treasury", "yield",
	}},
	{domain.CategoryCrypto, []string{
		"crypto", "bitcoin", "btc", "ethereum", "eth", "solana", "etf", "stablecoin",
	}},
	{domain.CategoryPolitics, []string{
		"politics", "election", "president", "senate", "congress", "governor",
		"prime minister", "parliament", "vote", "poll", "nominee",
	}},
}

// Categorize assigns a topic bucket from tags first, then the question text.
func Categorize(m domain.Market) domain.Category {
	if len(m.Tags) > 0 {
		if c, ok := match(normalize(strings.Join(m.Tags, " "))); ok {
			return c
		}
	}
	if c, ok := match(normalize(m.Question)); ok {
		return c
	}
	return domain.CategoryOther
}

// normalize lowercases text and turns punctuation into single spaces.
func normalize(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&' {
			sb.WriteRune(r)
		} else {
			sb.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// match looks for whole-word keyword hits ("award" is not "war").
func match(text string) (domain.Category, bool) {
	text = " " + text + " "
	for _, bucket := range categoryKeywords {
		for _, w := range bucket.words {
			if strings.Contains(text, " "+w+" ") {
				return bucket.category, true
			}
		}
	}
	return "", false
}
