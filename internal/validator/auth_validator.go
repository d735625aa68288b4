package validator

import (
	"context"
	"net/http"
	"net/mail"
	"strings"

	"storefront/internal/repository"
	"storefront/internal/usecase"
)

const minPasswordLen = 8

// よくある弱いパスワード
var weakPasswords = map[string]struct{}{
	"password":    {},
	"password123": {},
	"12345678":    {},
	"123456789":   {},
	"1234567890":  {},
	"qwerty123":   {},
	"qwertyuiop":  {},
	"letmein1":    {},
	"admin123":    {},
}

type authValidator struct {
	users repository.UserRepository
}

// Usecaseは interface を依存注入
func NewAuthValidator(users repository.UserRepository) usecase.AuthValidator {
	return &authValidator{users: users}
}

// サインアップの入力を検証
func (v *authValidator) ValidateRegister(ctx context.Context, name string, email string, password string) error {
	if strings.TrimSpace(name) == "" || len(name) > 255 {
		return invalid("name is required")
	}
	if !isEmailLike(email) {
		return invalid("invalid email")
	}
	if len(password) < minPasswordLen {
		return invalid("password must be at least 8 characters")
	}
	if _, weak := weakPasswords[strings.ToLower(password)]; weak {
		return invalid("password is too weak")
	}

	// 先に重複を見る（最終的にはunique制約で弾く）
	u, err := v.users.FindByEmail(ctx, email)
	if err == nil && u != nil {
		return usecase.NewHTTPError(http.StatusConflict, usecase.CodeConflict, "email already used")
	}
	return nil
}

// ログインの入力を検証
func (v *authValidator) ValidateLogin(ctx context.Context, email string, password string) error {
	if email == "" || password == "" {
		return invalid("email and password are required")
	}
	if !isEmailLike(email) {
		return invalid("invalid email")
	}
	return nil
}

func invalid(msg string) error {
	return usecase.NewHTTPError(http.StatusBadRequest, usecase.CodeValidation, msg)
}

// 表示名付きのアドレスは受け付けない
func isEmailLike(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 255 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return strings.Contains(s[at+1:], ".")
}
