package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// UnknownBuyer is used when no buyer rule matches
const UnknownBuyer = "Unknown Buyer"

const heuristicLineLimit = 10

// Item is one (quantity, card name) line extracted from an email
type Item struct {
	Quantity int    `json:"quantity"`
	CardName string `json:"card_name"`
}

// Result is the structured content of one order email
type Result struct {
	BuyerName  string     `json:"buyer_name"`
	Items      []Item     `json:"items"`
	MessageID  string     `json:"message_id"`
	SourceDate *time.Time `json:"source_date,omitempty"`
}

// BuyerRule extracts the buyer name from either the subject or the body.
// The first capture group is the name.
type BuyerRule struct {
	Name      string
	OnSubject bool
	Pattern   *regexp.Regexp
}

func (r BuyerRule) find(subject, body string) (string, bool) {
	text := body
	if r.OnSubject {
		text = subject
	}
	m := r.Pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	return name, name != ""
}

// ItemRule extracts (quantity, raw name) pairs from the body.
// QtyGroup and NameGroup are capture indexes into Pattern.
type ItemRule struct {
	Name      string
	Pattern   *regexp.Regexp
	QtyGroup  int
	NameGroup int
}

// DefaultBuyerRules are tried in order before the line heuristic
var DefaultBuyerRules = []BuyerRule{
	{Name: "subject-de", OnSubject: true, Pattern: regexp.MustCompile(`(?:^|\s)für\s+([^:\n]+?)\s*:\s*Bitte versenden`)},
	{Name: "subject-en", OnSubject: true, Pattern: regexp.MustCompile(`(?i)(?:^|\s)for\s+([^:\n]+?)\s*:\s*Please ship`)},
	{Name: "body-hat-bestellung", Pattern: regexp.MustCompile(`(?m)(?:^|[^\p{L}\p{N}_-])([\p{L}\p{N}_-]+)[ \t]+hat[ \t]+Bestellung`)},
	{Name: "body-has-paid", Pattern: regexp.MustCompile(`(?m)(?:^|[^\p{L}\p{N}_-])([\p{L}\p{N}_-]+)[ \t]+has[ \t]+paid[ \t]+for[ \t]+shipment`)},
	{Name: "label-kaeufer", Pattern: regexp.MustCompile(`[Kk]äufer:[ \t]*([^\n]+)`)},
	{Name: "label-buyer", Pattern: regexp.MustCompile(`[Bb]uyer:[ \t]*([^\n]+)`)},
	{Name: "label-bestellung-von", Pattern: regexp.MustCompile(`[Bb]estellung\s+von:[ \t]*([^\n]+)`)},
	{Name: "label-order-from", Pattern: regexp.MustCompile(`[Oo]rder\s+from:[ \t]*([^\n]+)`)},
}

// DefaultItemRules run in sequence over the whole body
var DefaultItemRules = []ItemRule{
	{Name: "qty-x-name", Pattern: regexp.MustCompile(`(\d+)[ \t]*[xX×][ \t]*([^\n]+)`), QtyGroup: 1, NameGroup: 2},
	{Name: "qty-stueck-name", Pattern: regexp.MustCompile(`(\d+)[ \t]+[Ss]tück[ \t]+([^\n]+)`), QtyGroup: 1, NameGroup: 2},
	{Name: "name-x-qty", Pattern: regexp.MustCompile(`(?m)^[ \t]*(\p{L}[^\n]*?)[ \t]*[xX×][ \t]*(\d+)[ \t]*\r?$`), QtyGroup: 2, NameGroup: 1},
}

var (
	nameShapeRe     = regexp.MustCompile(`^[A-Za-zÄÖÜäöüß\s\-]+$`)
	headerPrefixes  = []string{"from:", "to:", "subject:", "date:"}
	signatureBlocks = map[string]bool{
		"das cardmarket-team":           true,
		"the cardmarket team":           true,
		"cardmarket":                    true,
		"vielen dank":                   true,
		"danke":                         true,
		"hallo":                         true,
		"hello":                         true,
		"hi":                            true,
		"guten tag":                     true,
		"sehr geehrte damen und herren": true,
		"thank you":                     true,
		"thanks":                        true,
		"best regards":                  true,
		"kind regards":                  true,
		"regards":                       true,
		"mit freundlichen grüßen":       true,
		"viele grüße":                   true,
		"liebe grüße":                   true,
	}
)

// Parser turns notification emails into Results
type Parser struct {
	buyerRules []BuyerRule
	itemRules  []ItemRule
}

// New creates a parser with the given rules
func New(buyerRules []BuyerRule, itemRules []ItemRule) *Parser {
	return &Parser{
		buyerRules: buyerRules,
		itemRules:  itemRules,
	}
}

// NewDefault creates a parser with the German/English marketplace rules
func NewDefault() *Parser {
	return New(DefaultBuyerRules, DefaultItemRules)
}

// Parse extracts the buyer and items. It never fails; a message without
// recognisable items yields an empty Items slice.
func (p *Parser) Parse(body, messageID, subject string, sourceDate *time.Time) Result {
	return Result{
		BuyerName:  p.buyerName(subject, body),
		Items:      p.items(body),
		MessageID:  messageID,
		SourceDate: sourceDate,
	}
}

func (p *Parser) buyerName(subject, body string) string {
	for _, rule := range p.buyerRules {
		if name, ok := rule.find(subject, body); ok {
			return name
		}
	}
	if name, ok := heuristicBuyer(body); ok {
		return name
	}
	return UnknownBuyer
}

func heuristicBuyer(body string) (string, bool) {
	lines := strings.Split(body, "\n")
	if len(lines) > heuristicLineLimit {
		lines = lines[:heuristicLineLimit]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if hasHeaderPrefix(lower) {
			continue
		}
		n := utf8.RuneCountInString(line)
		if n < 3 || n > 50 || !nameShapeRe.MatchString(line) {
			continue
		}
		if signatureBlocks[lower] {
			continue
		}
		return line, true
	}
	return "", false
}

func hasHeaderPrefix(lower string) bool {
	for _, prefix := range headerPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func (p *Parser) items(body string) []Item {
	items := []Item{}
	seen := make(map[string]bool)

	for _, rule := range p.itemRules {
		for _, m := range rule.Pattern.FindAllStringSubmatch(body, -1) {
			name := CleanName(m[rule.NameGroup])
			if utf8.RuneCountInString(name) < 3 || !hasLetter(name) {
				continue
			}
			key := strings.ToLower(name)
			if seen[key] {
				continue
			}
			qty, err := strconv.Atoi(m[rule.QtyGroup])
			if err != nil || qty <= 0 {
				continue
			}
			seen[key] = true
			items = append(items, Item{Quantity: qty, CardName: name})
		}
	}
	return items
}

var defaultParser = NewDefault()

// Parse runs the default parser
func Parse(body, messageID, subject string, sourceDate *time.Time) Result {
	return defaultParser.Parse(body, messageID, subject, sourceDate)
}
