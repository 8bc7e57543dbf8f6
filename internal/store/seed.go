package store

import "github.com/jogardn/pizza-shack/pkg/models"

// DefaultMenu is inserted into an empty menu_items table on startup.
func DefaultMenu() []models.MenuItem {
	return []models.MenuItem{
		{
			Name:        "Tandoori Chicken",
			Description: "Classic supreme tender tandoori chicken, crisp bell peppers, onions, spiced tomato sauce",
			Price:       14.99,
			Category:    "specialty",
			ImageURL:    "/images/tandoori_chicken.jpeg",
			Ingredients: []string{"Tandoori chicken", "Bell peppers", "Red onions", "Mozzarella cheese", "Spiced tomato sauce", "Indian herbs"},
			SizeOptions: []string{"Small ($12.99)", "Medium ($14.99)", "Large ($16.99)"},
			Available:   true,
		},
		{
			Name:        "Spicy Jaffna Crab",
			Description: "Rich Jaffna-style crab curry, mozzarella, onions, fiery spice. An exotic coastal delight!",
			Price:       16.50,
			Category:    "specialty",
			ImageURL:    "/images/spicy_jaffna_crab.jpeg",
			Ingredients: []string{"Jaffna crab curry", "Mozzarella cheese", "Red onions", "Chili flakes", "Curry leaves", "Coconut milk base"},
			SizeOptions: []string{"Small ($14.50)", "Medium ($16.50)", "Large ($18.50)"},
			Available:   true,
		},
		{
			Name:        "Curry Chicken & Cashew",
			Description: "Sri Lankan chicken curry, roasted cashews, mozzarella. Unique flavor profile!",
			Price:       13.99,
			Category:    "specialty",
			ImageURL:    "/images/curry_chicken_cashew.jpeg",
			Ingredients: []string{"Sri Lankan chicken curry", "Roasted cashews", "Mozzarella cheese", "Curry sauce", "Fresh coriander"},
			SizeOptions: []string{"Small ($11.99)", "Medium ($13.99)", "Large ($15.99)"},
			Available:   true,
		},
		{
			Name:        "Spicy Paneer Veggie",
			Description: "Vegetarian kick! Marinated paneer, fresh vegetables, zesty spiced tomato base, mozzarella",
			Price:       13.50,
			Category:    "vegetarian",
			ImageURL:    "/images/spicy_paneer_veggie.jpeg",
			Ingredients: []string{"Marinated paneer", "Bell peppers", "Red onions", "Tomatoes", "Mozzarella cheese", "Spiced tomato base"},
			SizeOptions: []string{"Small ($11.50)", "Medium ($13.50)", "Large ($15.50)"},
			Available:   true,
		},
		{
			Name:        "Margherita Classic",
			Description: "Timeless classic with vibrant San Marzano tomato sauce, fresh mozzarella, and whole basil leaves",
			Price:       12.50,
			Category:    "classic",
			ImageURL:    "/images/margherita_classic.jpeg",
			Ingredients: []string{"Fresh mozzarella", "San Marzano tomato sauce", "Whole basil leaves", "Extra virgin olive oil", "Sea salt"},
			SizeOptions: []string{"Small ($10.50)", "Medium ($12.50)", "Large ($14.50)"},
			Available:   true,
		},
		{
			Name:        "Four Cheese Fusion",
			Description: "A cheese lover's dream with mozzarella, sharp cheddar, Parmesan, and creamy ricotta.",
			Price:       13.25,
			Category:    "premium",
			ImageURL:    "/images/four_cheese_fusion.jpeg",
			Ingredients: []string{"Mozzarella", "Sharp cheddar", "Parmesan", "Creamy ricotta", "Artisan crust", "Olive oil"},
			SizeOptions: []string{"Small ($11.25)", "Medium ($13.25)", "Large ($15.25)"},
			Available:   true,
		},
		{
			Name:        "Hot Butter Prawn",
			Description: "Juicy prawns in signature hot butter sauce with mozzarella and spring onions.",
			Price:       15.50,
			Category:    "specialty",
			ImageURL:    "/images/hot_butter_prawn.jpeg",
			Ingredients: []string{"Juicy prawns", "Hot butter sauce", "Mozzarella cheese", "Spring onions", "Garlic", "Chili flakes"},
			SizeOptions: []string{"Small ($13.50)", "Medium ($15.50)", "Large ($17.50)"},
			Available:   true,
		},
		{
			Name:        "Masala Potato & Pea",
			Description: "Comforting vegetarian choice! Spiced potatoes, green peas, Indian spices, mozzarella",
			Price:       12.99,
			Category:    "vegetarian",
			ImageURL:    "/images/masala_potato_pea.jpeg",
			Ingredients: []string{"Spiced potatoes", "Green peas", "Mozzarella cheese", "Masala spices", "Fresh coriander", "Cumin"},
			SizeOptions: []string{"Small ($10.99)", "Medium ($12.99)", "Large ($14.99)"},
			Available:   true,
		},
	}
}
