package extractor

import (
	"net/mail"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"gitlab.com/yelinaung/finmail/internal/models"
)

const numberPattern = `([0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]+)?|[0-9]+(?:\.[0-9]+)?)`

// currencySymbols maps prefixes seen in mail bodies to ISO codes.
// Multi-character symbols come first so the alternation prefers them.
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"US$", "USD"},
	{"NZ$", "NZD"},
	{"HK$", "HKD"},
	{"NT$", "TWD"},
	{"MX$", "MXN"},
	{"C$", "CAD"},
	{"A$", "AUD"},
	{"S$", "SGD"},
	{"R$", "BRL"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
	{"₩", "KRW"},
	{"₽", "RUB"},
	{"₱", "PHP"},
	{"₫", "VND"},
	{"฿", "THB"},
}

var currencyAliases = map[string]string{
	"RMB": "CNY",
}

var (
	symbolAmountRe   *regexp.Regexp
	codePrefixRe     *regexp.Regexp
	codeSuffixRe     *regexp.Regexp
	labeledAmountRe  *regexp.Regexp
	simpleDollarRe   = regexp.MustCompile(`\$\s*([0-9,]+(?:\.[0-9]{2})?)`)
	labeledPartyRe   = regexp.MustCompile(`(?im)^\s*(?:vendor|merchant|seller|supplier|billed\s+by|from)\s*:\s*([^\r\n<]{2,80})`)
	subjectPartyRe   = regexp.MustCompile(`(?i)\b(?:from|by)\s+([A-Za-z][A-Za-z0-9&.,' ]{1,80})`)
	partyTerminators = []string{" - ", " | ", ":", "(", "[", " for ", " on ", " dated ", " has ", " is ", " was "}
)

func init() {
	symbols := make([]string, 0, len(currencySymbols))
	for _, s := range currencySymbols {
		symbols = append(symbols, regexp.QuoteMeta(s.symbol))
	}
	codes := make([]string, 0, len(models.SupportedCurrencies)+len(currencyAliases))
	for code := range models.SupportedCurrencies {
		codes = append(codes, code)
	}
	for alias := range currencyAliases {
		codes = append(codes, alias)
	}
	sort.Strings(codes)

	symbolAlt := strings.Join(symbols, "|")
	codeAlt := strings.Join(codes, "|")

	symbolAmountRe = regexp.MustCompile(`(` + symbolAlt + `)\s?` + numberPattern)
	codePrefixRe = regexp.MustCompile(`\b(` + codeAlt + `)\s?` + numberPattern)
	codeSuffixRe = regexp.MustCompile(numberPattern + `\s?(` + codeAlt + `)\b`)
	labeledAmountRe = regexp.MustCompile(`(?i)\b(?:total|amount|balance|grand\s+total)(?:\s+(?:due|paid|payable|charged))?\s*[:=]?\s*` +
		`(` + symbolAlt + `|` + codeAlt + `)?\s?` + numberPattern + `(?:\s?(` + codeAlt + `)\b)?`)
}

func symbolCode(symbol string) string {
	for _, s := range currencySymbols {
		if strings.EqualFold(s.symbol, symbol) {
			return s.code
		}
	}
	code := strings.ToUpper(symbol)
	if alias, ok := currencyAliases[code]; ok {
		return alias
	}
	return code
}

func parseNumber(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

type amountMatch struct {
	amount   decimal.Decimal
	currency string
}

// findAmount locates the document amount. A labeled total or amount that
// carries a currency wins; otherwise the leftmost currency-adjacent number;
// otherwise a labeled number without currency.
func findAmount(text string) (amountMatch, bool) {
	var unlabeledCurrency *amountMatch
	for _, m := range labeledAmountRe.FindAllStringSubmatch(text, -1) {
		amount, ok := parseNumber(m[2])
		if !ok {
			continue
		}
		cur := m[1]
		if cur == "" {
			cur = m[3]
		}
		if cur != "" {
			return amountMatch{amount: amount, currency: symbolCode(cur)}, true
		}
		if unlabeledCurrency == nil {
			unlabeledCurrency = &amountMatch{amount: amount}
		}
	}

	best := -1
	var found amountMatch
	for _, c := range []struct {
		re       *regexp.Regexp
		curIdx   int
		valueIdx int
	}{
		{symbolAmountRe, 1, 2},
		{codePrefixRe, 1, 2},
		{codeSuffixRe, 2, 1},
	} {
		loc := c.re.FindStringSubmatchIndex(text)
		if loc == nil || (best >= 0 && loc[0] >= best) {
			continue
		}
		amount, ok := parseNumber(text[loc[2*c.valueIdx]:loc[2*c.valueIdx+1]])
		if !ok {
			continue
		}
		best = loc[0]
		found = amountMatch{amount: amount, currency: symbolCode(text[loc[2*c.curIdx]:loc[2*c.curIdx+1]])}
	}
	if best >= 0 {
		return found, true
	}

	if unlabeledCurrency != nil {
		return *unlabeledCurrency, true
	}
	return amountMatch{}, false
}

// NormalizeCurrencyToken maps a symbol, alias or code to an ISO code.
// It returns "" when the token is neither a known symbol nor three letters.
func NormalizeCurrencyToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	for _, s := range currencySymbols {
		if token == s.symbol {
			return s.code
		}
	}
	code := models.NormalizeCurrency(token)
	if alias, ok := currencyAliases[code]; ok {
		return alias
	}
	if len(code) != 3 {
		return ""
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return code
}

var statusPhrases = []struct {
	status  models.Status
	phrases []string
}{
	{models.StatusPaymentReceived, []string{"payment received", "paid in full", "payment completed"}},
	{models.StatusPaymentDue, []string{"payment due", "please pay", "amount due"}},
	{models.StatusPaymentCompleted, []string{"make payment", "pay now", "payment required"}},
}

func detectStatus(text string) (models.Status, bool) {
	lower := strings.ToLower(text)
	for _, set := range statusPhrases {
		for _, phrase := range set.phrases {
			if strings.Contains(lower, phrase) {
				return set.status, true
			}
		}
	}
	return models.StatusOther, false
}

var documentKeywords = []struct {
	docType  models.DocumentType
	keywords []string
}{
	{models.DocumentInvoice, []string{"invoice", "bill"}},
	{models.DocumentOrder, []string{"order", "purchase"}},
	{models.DocumentStatement, []string{"statement"}},
	{models.DocumentPayment, []string{"payment", "remittance"}},
	{models.DocumentReceipt, []string{"receipt"}},
}

// classifySubject infers the document type from subject keywords.
func classifySubject(subject string) (models.DocumentType, bool) {
	lower := strings.ToLower(subject)
	for _, k := range documentKeywords {
		for _, kw := range k.keywords {
			if strings.Contains(lower, kw) {
				return k.docType, true
			}
		}
	}
	return models.DocumentUnknown, false
}

var freemailDomains = map[string]bool{
	"gmail": true, "googlemail": true, "outlook": true, "hotmail": true,
	"yahoo": true, "icloud": true, "live": true, "proton": true, "protonmail": true,
}

// findCounterparty tries a labeled body line, the subject, the sender display
// name, then the sender domain.
func findCounterparty(subject, body, from string) string {
	if m := labeledPartyRe.FindStringSubmatch(body); m != nil {
		if p := trimParty(m[1]); p != "" {
			return p
		}
	}
	if p := counterpartyFromSubject(subject); p != "" {
		return p
	}
	return counterpartyFromSender(from)
}

func counterpartyFromSubject(subject string) string {
	if m := subjectPartyRe.FindStringSubmatch(subject); m != nil {
		return trimParty(m[1])
	}
	return ""
}

func counterpartyFromSender(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return ""
	}
	if name := strings.TrimSpace(addr.Name); name != "" {
		return name
	}
	at := strings.LastIndex(addr.Address, "@")
	if at < 0 {
		return ""
	}
	labels := strings.Split(strings.ToLower(addr.Address[at+1:]), ".")
	if len(labels) < 2 {
		return ""
	}
	org := labels[len(labels)-2]
	if len(labels) >= 3 && len(org) <= 3 {
		// example.co.uk
		org = labels[len(labels)-3]
	}
	if org == "" || freemailDomains[org] {
		return ""
	}
	return strings.ToUpper(org[:1]) + org[1:]
}

func trimParty(s string) string {
	for _, t := range partyTerminators {
		if i := strings.Index(s, t); i >= 0 {
			s = s[:i]
		}
	}
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), ".,"))
	if len([]rune(s)) > 80 {
		s = string([]rune(s)[:80])
	}
	return s
}
