package repository

import (
	"time"
)

type Book struct {
	ID           int64     `db:"id"`
	Title        string    `db:"title"`
	Author       string    `db:"author"`
	CategoryID   int64     `db:"category_id"`
	CategoryName string    `db:"category_name"`
	Description  string    `db:"description"`
	PictureURL   string    `db:"picture_url"`
	Quantity     int       `db:"quantity"`
	Version      int64     `db:"version"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type Category struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

type User struct {
	ID           int64     `db:"id"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         int       `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

type Order struct {
	ID         int64     `db:"id"`
	BookID     int64     `db:"book_id"`
	UserID     int64     `db:"user_id"`
	Quantity   int       `db:"quantity"`
	Status     string    `db:"status"`
	OrderDate  time.Time `db:"order_date"`
	ReturnDate time.Time `db:"return_date"`
	Version    int64     `db:"version"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type HistoryEntry struct {
	ID        int64     `db:"id"`
	OrderID   int64     `db:"order_id"`
	Status    string    `db:"status"`
	ChangedAt time.Time `db:"changed_at"`
}

// BookFilter narrows and orders a catalog listing. Empty strings disable the
// corresponding filter; Limit 0 means no limit.
type BookFilter struct {
	Title     string
	Author    string
	Category  string
	SortOrder string
	Limit     int
	Offset    int
}
