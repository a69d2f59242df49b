package user

// User is the directory's view of an identity-provider account. The
// messaging core only references users by their opaque ID; ownership of
// credentials and roles stays with the identity provider.
type User struct {
	ID        string `gorm:"primaryKey"`
	UserName  string `gorm:"uniqueIndex;not null"`
	Name      string
	LastName  string
	Email     string
	IsDeleted bool
}
