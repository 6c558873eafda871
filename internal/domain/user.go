package domain

type Role string

const (
	RoleClient    Role = "client"
	RoleExpeditor Role = "expeditor"
	RoleAdmin     Role = "admin"
	RoleEditor    Role = "editor"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}
