package models

import "time"

type User struct {
	ID                 string
	Email              string
	PasswordHash       []byte
	Role               string
	Active             bool
	MustChangePassword bool
	CreatedBy          *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
