package cdp

import (
	"sort"
	"strings"

	"github.com/jogardn/pizza-shack/pkg/models"
)

// Recommend ranks available menu items for a profile: favourites first,
// then items in preferred categories, then the rest in menu order. A nil
// profile yields the first n available items.
func Recommend(profile *Profile, menu []models.MenuItem, n int) []models.MenuItem {
	type scored struct {
		item  models.MenuItem
		score int
		index int
	}

	favorites := map[string]bool{}
	categories := map[string]int{}
	if profile != nil {
		for _, name := range profile.FavoriteItems {
			favorites[strings.ToLower(name)] = true
		}
		for i, category := range profile.PreferredCategories {
			// earlier categories weigh more
			categories[strings.ToLower(category)] = len(profile.PreferredCategories) - i
		}
	}

	candidates := make([]scored, 0, len(menu))
	for i, item := range menu {
		if !item.Available {
			continue
		}
		score := categories[strings.ToLower(item.Category)]
		if favorites[strings.ToLower(item.Name)] {
			score += 100
		}
		candidates = append(candidates, scored{item: item, score: score, index: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].index < candidates[j].index
	})

	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}
	result := make([]models.MenuItem, 0, n)
	for _, c := range candidates[:n] {
		result = append(result, c.item)
	}
	return result
}
