package model

type User struct {
	BaseModel
	Email        string `gorm:"uniqueIndex;size:100;not null" json:"email"`
	FirstName    string `gorm:"size:100" json:"firstName"`
	LastName     string `gorm:"size:100" json:"lastName"`
	PasswordHash string `gorm:"not null" json:"-"`
}
