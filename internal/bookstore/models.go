package bookstore

import "time"

// UserRequest is the credential pair every account endpoint accepts.
type UserRequest struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

// Book mirrors a book document as embedded in a user's collection.
type Book struct {
	ISBN        string `json:"isbn"`
	Title       string `json:"title"`
	SubTitle    string `json:"subTitle"`
	Author      string `json:"author"`
	PublishDate string `json:"publish_date"`
	Publisher   string `json:"publisher"`
	Pages       int    `json:"pages"`
	Description string `json:"description"`
	Website     string `json:"website"`
}

// UserResponse is returned by a successful user creation.
type UserResponse struct {
	UserID   string `json:"userID"`
	Username string `json:"username"`
	Books    []Book `json:"books"`
}

// TokenResponse is returned by GenerateToken. Token and Expires are nil when
// the service rejects the credentials.
type TokenResponse struct {
	Token   *string    `json:"token"`
	Expires *time.Time `json:"expires"`
	Status  string     `json:"status"`
	Result  string     `json:"result"`
}

// ErrorResponse is the body the service returns for rejected requests.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	TokenStatusSuccess = "Success"

	TokenResultAuthorized = "User authorized successfully."
)
