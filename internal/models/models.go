package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Alert directions
const (
	AlertAbove = "above"
	AlertBelow = "below"
)

// Chat roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Commodity is a tradable crop. Rows are only changed by admin paths.
type Commodity struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name" gorm:"uniqueIndex;not null"`
	NameHi    *string   `json:"name_hi"`
	NameTa    *string   `json:"name_ta"`
	NameTe    *string   `json:"name_te"`
	Unit      string    `json:"unit" gorm:"not null;default:'kg'"`
	Icon      *string   `json:"icon"`
	Category  string    `json:"category" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (Commodity) TableName() string { return "commodities" }

// PricePoint is one observed mandi price. Append-only.
type PricePoint struct {
	ID            uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	CommodityID   uuid.UUID  `json:"commodity_id" gorm:"type:char(36);not null;index:idx_price_data_commodity_recorded,priority:1"`
	Commodity     *Commodity `json:"commodity,omitempty" gorm:"foreignKey:CommodityID"`
	Price         float64    `json:"price" gorm:"not null"`
	MandiName     string     `json:"mandi_name" gorm:"not null"`
	MandiLocation *string    `json:"mandi_location"`
	State         *string    `json:"state"`
	Source        *string    `json:"source"` // data_gov_in, simulated_fallback
	RecordedAt    time.Time  `json:"recorded_at" gorm:"not null;index:idx_price_data_commodity_recorded,priority:2"`
}

func (PricePoint) TableName() string { return "price_data" }

// Prediction is a model forecast. A commodity's set is replaced as a batch.
type Prediction struct {
	ID                uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	CommodityID       uuid.UUID  `json:"commodity_id" gorm:"type:char(36);not null;index"`
	Commodity         *Commodity `json:"commodity,omitempty" gorm:"foreignKey:CommodityID"`
	PredictedPrice    float64    `json:"predicted_price" gorm:"not null"`
	PredictionDate    time.Time  `json:"prediction_date" gorm:"type:date;not null;index"`
	ConfidenceScore   *float64   `json:"confidence_score"` // 0..1
	ModelVersion      *string    `json:"model_version"`
	PredictionHorizon *string    `json:"prediction_horizon"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (Prediction) TableName() string { return "predictions" }

// MarketplaceListing is a seller offer; removed by flipping IsAvailable.
type MarketplaceListing struct {
	ID           uuid.UUID                   `json:"id" gorm:"type:char(36);primaryKey"`
	CommodityID  uuid.UUID                   `json:"commodity_id" gorm:"type:char(36);not null;index"`
	Commodity    *Commodity                  `json:"commodity,omitempty" gorm:"foreignKey:CommodityID"`
	SellerID     uuid.UUID                   `json:"seller_id" gorm:"type:char(36);not null;index"`
	Quantity     float64                     `json:"quantity" gorm:"not null"`
	PricePerUnit float64                     `json:"price_per_unit" gorm:"not null"`
	Location     string                      `json:"location" gorm:"not null"`
	QualityGrade *string                     `json:"quality_grade"`
	Description  *string                     `json:"description"`
	HarvestDate  *time.Time                  `json:"harvest_date" gorm:"type:date"`
	Images       datatypes.JSONSlice[string] `json:"images"`
	IsAvailable  bool                        `json:"is_available" gorm:"default:true;index"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

func (MarketplaceListing) TableName() string { return "marketplace_listings" }

// PriceAlert fires once when the latest price crosses ThresholdPrice.
type PriceAlert struct {
	ID             uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	UserID         uuid.UUID  `json:"user_id" gorm:"type:char(36);not null;index"`
	CommodityID    uuid.UUID  `json:"commodity_id" gorm:"type:char(36);not null;index"`
	Commodity      *Commodity `json:"commodity,omitempty" gorm:"foreignKey:CommodityID"`
	AlertType      string     `json:"alert_type" gorm:"not null"` // above, below
	ThresholdPrice float64    `json:"threshold_price" gorm:"not null"`
	IsActive       bool       `json:"is_active" gorm:"default:true"`
	TriggeredAt    *time.Time `json:"triggered_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (PriceAlert) TableName() string { return "price_alerts" }

// Crossed reports whether price satisfies the alert condition.
func (a *PriceAlert) Crossed(price float64) bool {
	switch a.AlertType {
	case AlertAbove:
		return price >= a.ThresholdPrice
	case AlertBelow:
		return price <= a.ThresholdPrice
	}
	return false
}

type MarketNews struct {
	ID          uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Title       string    `json:"title" gorm:"not null"`
	Content     string    `json:"content" gorm:"type:text;not null"`
	Category    *string   `json:"category"`
	Source      *string   `json:"source"`
	ImageURL    *string   `json:"image_url"`
	PublishedAt time.Time `json:"published_at" gorm:"not null;index"`
	CreatedAt   time.Time `json:"created_at"`
}

func (MarketNews) TableName() string { return "market_news" }

type ChatConversation struct {
	ID        uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	UserID    *uuid.UUID `json:"user_id" gorm:"type:char(36);index"`
	Title     *string    `json:"title"`
	Language  *string    `json:"language"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (ChatConversation) TableName() string { return "chat_conversations" }

// ChatMessage is append-only.
type ChatMessage struct {
	ID             uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	ConversationID uuid.UUID `json:"conversation_id" gorm:"type:char(36);not null;index"`
	Role           string    `json:"role" gorm:"not null"` // user, assistant
	Content        string    `json:"content" gorm:"type:text;not null"`
	AudioURL       *string   `json:"audio_url"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

type Profile struct {
	ID                uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	UserID            uuid.UUID `json:"user_id" gorm:"type:char(36);uniqueIndex;not null"`
	FullName          *string   `json:"full_name"`
	Phone             *string   `json:"phone"`
	Location          *string   `json:"location"`
	AvatarURL         *string   `json:"avatar_url"`
	PreferredLanguage *string   `json:"preferred_language"`
	Role              *string   `json:"role"` // farmer, trader, buyer
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

// MandiArbitrage is a price gap between two mandis for one commodity.
type MandiArbitrage struct {
	ID                    uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	CommodityID           uuid.UUID  `json:"commodity_id" gorm:"type:char(36);not null;index"`
	Commodity             *Commodity `json:"commodity,omitempty" gorm:"foreignKey:CommodityID"`
	SourceMandi           string     `json:"source_mandi" gorm:"not null"`
	DestinationMandi      string     `json:"destination_mandi" gorm:"not null"`
	SourcePrice           float64    `json:"source_price"`
	DestinationPrice      float64    `json:"destination_price"`
	PriceDifference       float64    `json:"price_difference"`
	DistanceKm            *float64   `json:"distance_km"`
	TransportCostEstimate *float64   `json:"transport_cost_estimate"`
	ProfitPotential       *float64   `json:"profit_potential"`
	CalculatedAt          time.Time  `json:"calculated_at" gorm:"index"`
}

func (MandiArbitrage) TableName() string { return "mandi_arbitrage" }

// All lists every model for migrations.
func All() []interface{} {
	return []interface{}{
		&Commodity{},
		&PricePoint{},
		&Prediction{},
		&MarketplaceListing{},
		&PriceAlert{},
		&MarketNews{},
		&ChatConversation{},
		&ChatMessage{},
		&Profile{},
		&MandiArbitrage{},
	}
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (m *Commodity) BeforeCreate(*gorm.DB) error          { ensureID(&m.ID); return nil }
func (m *PricePoint) BeforeCreate(*gorm.DB) error         { ensureID(&m.ID); return nil }
func (m *Prediction) BeforeCreate(*gorm.DB) error         { ensureID(&m.ID); return nil }
func (m *MarketplaceListing) BeforeCreate(*gorm.DB) error { ensureID(&m.ID); return nil }
func (m *PriceAlert) BeforeCreate(*gorm.DB) error         { ensureID(&m.ID); return nil }
func (m *MarketNews) BeforeCreate(*gorm.DB) error         { ensureID(&m.ID); return nil }
func (m *ChatConversation) BeforeCreate(*gorm.DB) error   { ensureID(&m.ID); return nil }
func (m *ChatMessage) BeforeCreate(*gorm.DB) error        { ensureID(&m.ID); return nil }
func (m *Profile) BeforeCreate(*gorm.DB) error            { ensureID(&m.ID); return nil }
func (m *MandiArbitrage) BeforeCreate(*gorm.DB) error     { ensureID(&m.ID); return nil }
