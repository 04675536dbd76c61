package model

// User 当前会话的用户身份，用于归属校验与提及匹配
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}
