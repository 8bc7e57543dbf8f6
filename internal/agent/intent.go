package agent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jogardn/pizza-shack/pkg/models"
)

type Action string

const (
	ActionGetMenu        Action = "get_menu"
	ActionCalculateTotal Action = "calculate_total"
	ActionPlaceOrder     Action = "place_order"
	ActionRecommend      Action = "recommend"
	ActionGeneral        Action = "general"
)

// ItemMention is a pizza named in a chat message.
type ItemMention struct {
	Name     string
	Quantity int
	Size     string
}

type Intent struct {
	Action       Action
	Filter       models.MenuFilter
	Items        []ItemMention
	DiscountCode string
}

// pizzaAliases maps what people type to the menu item name.
var pizzaAliases = map[string]string{
	"tandoori chicken":          "Tandoori Chicken",
	"tandoori chicken supreme":  "Tandoori Chicken",
	"tandoori":                  "Tandoori Chicken",
	"spicy jaffna crab":         "Spicy Jaffna Crab",
	"spicy jaffna crab pizza":   "Spicy Jaffna Crab",
	"jaffna crab":               "Spicy Jaffna Crab",
	"crab":                      "Spicy Jaffna Crab",
	"curry chicken & cashew":    "Curry Chicken & Cashew",
	"curry chicken and cashew":  "Curry Chicken & Cashew",
	"curry chicken cashew":      "Curry Chicken & Cashew",
	"curry chicken":             "Curry Chicken & Cashew",
	"spicy paneer veggie":       "Spicy Paneer Veggie",
	"spicy paneer veggie pizza": "Spicy Paneer Veggie",
	"spicy paneer":              "Spicy Paneer Veggie",
	"paneer veggie":             "Spicy Paneer Veggie",
	"paneer":                    "Spicy Paneer Veggie",
	"margherita classic":        "Margherita Classic",
	"margherita":                "Margherita Classic",
	"four cheese fusion":        "Four Cheese Fusion",
	"four cheese":               "Four Cheese Fusion",
	"cheese":                    "Four Cheese Fusion",
	"hot butter prawn":          "Hot Butter Prawn",
	"hot butter prawn pizza":    "Hot Butter Prawn",
	"butter prawn":              "Hot Butter Prawn",
	"prawn":                     "Hot Butter Prawn",
	"masala potato & pea":       "Masala Potato & Pea",
	"masala potato and pea":     "Masala Potato & Pea",
	"masala potato pea":         "Masala Potato & Pea",
	"masala potato":             "Masala Potato & Pea",
	"potato pea":                "Masala Potato & Pea",
	"potato":                    "Masala Potato & Pea",
}

var sortedAliases = func() []string {
	keys := make([]string, 0, len(pizzaAliases))
	for k := range pizzaAliases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

var (
	leadingQuantity = regexp.MustCompile(`^(\d+)x?$`)
	numberWords     = map[string]int{
		"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	}
	discountCodes   = []string{"PIZZA10", "WELCOME", "STUDENT", "FAMILY"}
)

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// AnalyzeIntent classifies a chat message. Order keywords win unless the
// message reads as a menu question.
func AnalyzeIntent(message string) Intent {
	lower := strings.ToLower(message)
	intent := Intent{Action: ActionGeneral, DiscountCode: findDiscountCode(message)}

	isMenuQuery := containsAny(lower, "menu", "options", "available", "what do you have", "show me", "do you have")

	switch {
	case !isMenuQuery && containsAny(lower, "order", "buy", "want", "need", "get me", "i'll take", "place order"):
		intent.Action = ActionPlaceOrder
		intent.Items = ExtractItems(message)
	case containsAny(lower, "total", "cost", "price", "how much", "calculate"):
		intent.Action = ActionCalculateTotal
		intent.Items = ExtractItems(message)
	case containsAny(lower, "recommend", "suggest", "what should i", "surprise me"):
		intent.Action = ActionRecommend
	case containsAny(lower, "menu", "pizza", "what do you have", "options", "available"):
		intent.Action = ActionGetMenu
		intent.Filter = menuFilter(lower)
	}
	return intent
}

func menuFilter(lower string) models.MenuFilter {
	var filter models.MenuFilter
	switch {
	case containsAny(lower, "veg", "vegetarian", "veggie", "plant-based", "no meat"):
		filter.Category = "vegetarian"
	case containsAny(lower, "classic", "traditional", "margherita"):
		filter.Category = "classic"
	case containsAny(lower, "premium", "cheese"):
		filter.Category = "premium"
	case containsAny(lower, "specialty", "special", "tandoori", "crab", "curry", "sri lankan", "prawn"):
		filter.Category = "specialty"
	}

	switch {
	case containsAny(lower, "cheap", "budget", "affordable", "under"):
		filter.PriceRange = models.PriceRangeBudget
	case containsAny(lower, "expensive", "premium price", "over"):
		filter.PriceRange = models.PriceRangePremium
	case containsAny(lower, "mid range", "mid-range", "medium price", "average"):
		filter.PriceRange = models.PriceRangeMidRange
	}
	return filter
}

// ExtractItems finds pizza names, matching longer aliases first. The
// quantity is the number word right before the name (size words skipped)
// and the size a size word within a few characters of it. A pizza named twice is kept once.
func ExtractItems(message string) []ItemMention {
	lower := strings.ToLower(message)
	claimed := make([]bool, len(lower))

	type found struct {
		at      int
		mention ItemMention
	}
	var matches []found

	for _, alias := range sortedAliases {
		offset := 0
		for {
			idx := strings.Index(lower[offset:], alias)
			if idx < 0 {
				break
			}
			start := offset + idx
			end := start + len(alias)
			offset = end

			if !wordBoundary(lower, start, end) || overlaps(claimed, start, end) {
				continue
			}
			for i := start; i < end; i++ {
				claimed[i] = true
			}

			matches = append(matches, found{
				at: start,
				mention: ItemMention{
					Name:     pizzaAliases[alias],
					Quantity: quantityBefore(lower[:start]),
					Size:     sizeAround(lower, start, end),
				},
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].at < matches[j].at })

	seen := map[string]bool{}
	items := []ItemMention{}
	for _, m := range matches {
		if seen[m.mention.Name] {
			continue
		}
		seen[m.mention.Name] = true
		items = append(items, m.mention)
	}
	return items
}

func wordBoundary(s string, start, end int) bool {
	isLetter := func(b byte) bool { return b >= 'a' && b <= 'z' }
	if start > 0 && isLetter(s[start-1]) {
		return false
	}
	// allow plurals such as "margheritas"
	if end < len(s) && isLetter(s[end]) && !(s[end] == 's' && (end+1 == len(s) || !isLetter(s[end+1]))) {
		return false
	}
	return true
}

func overlaps(claimed []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if claimed[i] {
			return true
		}
	}
	return false
}

func quantityBefore(prefix string) int {
	fields := strings.Fields(prefix)
	for len(fields) > 0 && isSize(fields[len(fields)-1]) {
		fields = fields[:len(fields)-1]
	}
	if len(fields) == 0 {
		return 1
	}

	last := fields[len(fields)-1]
	if m := leadingQuantity.FindStringSubmatch(last); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	if n, ok := numberWords[last]; ok {
		return n
	}
	return 1
}

func isSize(word string) bool {
	return word == "large" || word == "medium" || word == "small"
}

func sizeAround(s string, start, end int) string {
	pre := s[max(0, start-10):start]
	post := s[end:min(len(s), end+10)]
	for _, size := range []string{"large", "medium", "small"} {
		if strings.Contains(post, size) || strings.Contains(pre, size) {
			return size
		}
	}
	return ""
}

// findDiscountCode only accepts codes typed in capitals, so "family" in a
// sentence is not taken as a code.
func findDiscountCode(message string) string {
	for _, field := range strings.FieldsFunc(message, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) {
		for _, code := range discountCodes {
			if field == code {
				return code
			}
		}
	}
	return ""
}
