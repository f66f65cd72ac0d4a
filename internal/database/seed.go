package database

import (
	"fmt"

	"agri-price/internal/models"

	"gorm.io/gorm"
)

type seedCommodity struct {
	name     string
	hindi    string
	category string
	icon     string
}

var defaultCommodities = []seedCommodity{
	{"Tomato", "टमाटर", "vegetable", "🍅"},
	{"Potato", "आलू", "vegetable", "🥔"},
	{"Onion", "प्याज", "vegetable", "🧅"},
	{"Rice", "चावल", "grain", "🍚"},
	{"Wheat", "गेहूं", "grain", "🌾"},
	{"Apple", "सेब", "fruit", "🍎"},
	{"Banana", "केला", "fruit", "🍌"},
	{"Mango", "आम", "fruit", "🥭"},
	{"Cabbage", "पत्ता गोभी", "vegetable", "🥬"},
	{"Carrot", "गाजर", "vegetable", "🥕"},
	{"Cauliflower", "फूलगोभी", "vegetable", "🥦"},
	{"Green Chili", "हरी मिर्च", "vegetable", "🌶️"},
}

// SeedCommodities inserts the default commodity catalogue into an empty
// table and reports how many rows were written.
func SeedCommodities(db *gorm.DB) (int, error) {
	var count int64
	if err := db.Model(&models.Commodity{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count commodities: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	rows := make([]models.Commodity, 0, len(defaultCommodities))
	for _, c := range defaultCommodities {
		hindi, icon := c.hindi, c.icon
		rows = append(rows, models.Commodity{
			Name:     c.name,
			NameHi:   &hindi,
			Unit:     "kg",
			Icon:     &icon,
			Category: c.category,
		})
	}
	if err := db.Create(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to seed commodities: %w", err)
	}
	return len(rows), nil
}
