package agent

import (
	"fmt"
	"strings"

	"github.com/jogardn/pizza-shack/pkg/models"
)

var categoryOrder = []string{"specialty", "vegetarian", "classic", "premium"}

var categoryTitles = map[string]string{
	"specialty":  "### Specialty Pizzas",
	"vegetarian": "### Vegetarian Pizzas",
	"classic":    "### Classic Pizza",
	"premium":    "### Premium Pizza",
}

// FormatMenu lists every item, grouped by category. Items in categories
// without a title are listed last so nothing the API returned is dropped.
func FormatMenu(items []models.MenuItem) string {
	if len(items) == 0 {
		return "I couldn't find any pizzas matching your criteria."
	}

	grouped := map[string][]models.MenuItem{}
	var extra []string
	for _, item := range items {
		category := strings.ToLower(item.Category)
		if _, known := categoryTitles[category]; !known && len(grouped[category]) == 0 {
			extra = append(extra, category)
		}
		grouped[category] = append(grouped[category], item)
	}

	var b strings.Builder
	b.WriteString("Here's our delicious pizza menu! 🍕 Let me know if you'd like recommendations or need help ordering.\n\n")

	for _, category := range append(append([]string{}, categoryOrder...), extra...) {
		list := grouped[category]
		if len(list) == 0 {
			continue
		}
		title, ok := categoryTitles[category]
		if !ok {
			title = "### Other Pizzas"
		}
		b.WriteString(title + "\n")
		for i, item := range list {
			fmt.Fprintf(&b, "%d. %s\n", i+1, item.Name)
			if item.Description != "" {
				fmt.Fprintf(&b, "Description: %s\n", item.Description)
			}
			fmt.Fprintf(&b, "Price: $%.2f\n", item.Price)
			if item.ImageURL != "" {
				fmt.Fprintf(&b, "![%s](%s)\n", item.Name, item.ImageURL)
			}
			b.WriteString("\n")
		}
		b.WriteString("---\n\n")
	}

	b.WriteString("What would you like to order? Just let me know! 😊")
	return b.String()
}

func FormatQuote(q *Quote) string {
	var b strings.Builder
	b.WriteString("💰 **Order Total** 💰\n\n")
	for _, item := range q.Items {
		fmt.Fprintf(&b, "%dx %s (%s) - $%.2f\n", item.Quantity, item.Name, item.Size, item.TotalPrice)
	}
	fmt.Fprintf(&b, "\nSubtotal: $%.2f\n", q.Subtotal)
	if q.Discount != nil {
		fmt.Fprintf(&b, "Discount (%s): -$%.2f\n", q.Discount.Code, q.Discount.Amount)
	} else if q.DiscountNote != "" {
		fmt.Fprintf(&b, "Note: %s\n", q.DiscountNote)
	}
	fmt.Fprintf(&b, "Tax (8%%): $%.2f\n", q.Tax)
	fmt.Fprintf(&b, "Delivery: $%.2f\n", q.DeliveryFee)
	fmt.Fprintf(&b, "\n**Total: $%.2f**\n\n", q.Total)
	b.WriteString("Would you like to place this order? 🛒")
	return b.String()
}

func FormatOrder(order *models.Order) string {
	var b strings.Builder
	b.WriteString("🎉 **Order Confirmed!** 🎉\n\n")
	fmt.Fprintf(&b, "📋 **Order ID**: %s\n\n", order.OrderID)
	b.WriteString("🍕 **Your Order**:\n")
	for _, item := range order.Items {
		fmt.Fprintf(&b, "  • %dx %s (%s)\n", item.Quantity, item.Name, item.Size)
		if item.SpecialInstructions != "" {
			fmt.Fprintf(&b, "    📝 Special: %s\n", item.SpecialInstructions)
		}
	}
	fmt.Fprintf(&b, "\n💰 **Total**: $%.2f\n", order.TotalAmount)
	fmt.Fprintf(&b, "📦 **Status**: %s\n\n", order.Status)
	b.WriteString("🚚 Your delicious pizza is being prepared and will be delivered hot and fresh!")
	return b.String()
}

func FormatRecommendations(items []models.MenuItem, personalized bool) string {
	if len(items) == 0 {
		return "I don't have any recommendations right now, but our full menu is just a message away."
	}

	var b strings.Builder
	if personalized {
		b.WriteString("Based on your previous orders, you might enjoy:\n\n")
	} else {
		b.WriteString("Here are some of our most popular pizzas:\n\n")
	}
	for _, item := range items {
		fmt.Fprintf(&b, "• %s ($%.2f)\n", item.Name, item.Price)
	}
	b.WriteString("\nWant me to order one of these for you?")
	return b.String()
}

// FormatStatus is pushed when an order changes status after it was placed.
func FormatStatus(orderID string, status models.OrderStatus) string {
	label := strings.ReplaceAll(string(status), "_", " ")
	return fmt.Sprintf("📦 Update on order %s: it is now **%s**.", orderID, label)
}

func GeneralResponse(message string) string {
	lower := strings.ToLower(strings.TrimSpace(message))

	if greeting(lower) {
		return "Hello! 🍕 Welcome to Pizza Shack! I'm your AI assistant. I can help you with:\n\n" +
			"• View our pizza menu\n• Calculate order totals\n• Place pizza orders\n\nWhat would you like to do today?"
	}
	if lower == "small" || lower == "medium" || lower == "large" {
		return "Thanks! Just let me know which pizza you'd like to order. " +
			"For example: 'I'll take a Tandoori Chicken' or 'Order 2 large Margherita Classic'."
	}
	return "I'm here to help you with our delicious pizza menu and orders! You can ask me about:\n\n" +
		"🍕 Our pizza menu and ingredients\n💰 Price calculations\n🛒 Placing orders\n\nWhat would you like to know?"
}

func greeting(lower string) bool {
	if containsAny(lower, "good morning", "good afternoon", "good evening") {
		return true
	}
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool { return r < 'a' || r > 'z' }) {
		switch word {
		case "hello", "hi", "hey":
			return true
		}
	}
	return false
}
