package model

type OAuthToken struct {
	Name         string  `gorm:"column:name;type:text;primaryKey"`
	AccessToken  string  `gorm:"column:access_token;type:text;not null"`
	RefreshToken *string `gorm:"column:refresh_token;type:text"`
	ExpiresAt    int64   `gorm:"column:expires_at;not null"`
	// RetainUntil is when the row (and its refresh token) stops being usable.
	RetainUntil int64  `gorm:"column:retain_until;not null;index"`
	UpdatedAt   string `gorm:"column:updated_at;type:text;not null"`
}

func (OAuthToken) TableName() string {
	return "oauth_tokens"
}
