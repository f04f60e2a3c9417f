package types

import "time"

type ClickData struct {
	ShortCode string    `json:"short_code" db:"short_code"`
	IP        string    `json:"ip" db:"ip"`
	UserAgent string    `json:"user_agent" db:"user_agent"`
	Referer   string    `json:"referer" db:"referer"`
	ClickedAt time.Time `json:"clicked_at" db:"clicked_at"`
}

type Analytic struct {
	ShortCode string    `json:"short_code" db:"short_code"`
	Country   string    `json:"country" db:"country"`
	City      string    `json:"city" db:"city"`
	UserAgent string    `json:"user_agent" db:"user_agent"`
	Referer   string    `json:"referer" db:"referer"`
	ClickedAt time.Time `json:"clicked_at" db:"clicked_at"`
}
