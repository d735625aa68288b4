package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront/internal/config"
	"storefront/internal/usecase"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	CtxUserIDKey   = "user_id"   // int64
	CtxUserRoleKey = "user_role" // model.Role
)

// 中身の理由は返さない
const credentialMessage = "invalid or missing credential"

// bearerAuth用のJWT検証ミドルウェア。DBには触らない。
func AuthJWT(cfg config.Config) echo.MiddlewareFunc {
	return authJWT([]byte(cfg.JWTSecret), time.Now)
}

func authJWT(secret []byte, now func() time.Time) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authz := strings.TrimSpace(c.Request().Header.Get("Authorization"))
			if authz == "" {
				return deny(c, http.StatusUnauthorized, usecase.CodeUnauthenticated, credentialMessage)
			}

			//Bearer形式か確認してtokenを抜く
			parts := strings.SplitN(authz, " ", 2)
			if !strings.EqualFold(parts[0], "Bearer") {
				return deny(c, http.StatusUnauthorized, usecase.CodeInvalidCredential, credentialMessage)
			}
			if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
				return deny(c, http.StatusUnauthorized, usecase.CodeUnauthenticated, credentialMessage)
			}
			rawToken := strings.TrimSpace(parts[1])

			userID, err := verifyToken(rawToken, secret, now())
			if err != nil {
				c.Logger().Debugf("credential rejected: %v", err)
				return deny(c, http.StatusUnauthorized, usecase.CodeInvalidCredential, credentialMessage)
			}

			c.Set(CtxUserIDKey, userID)
			return next(c)
		}
	}
}

// 署名・アルゴリズム・exp・nbf・subを確認してuser_idを返す
func verifyToken(raw string, secret []byte, now time.Time) (int64, error) {
	parser := jwt.Parser{SkipClaimsValidation: true}
	token, err := parser.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return 0, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid claims")
	}
	// expは必須
	if !claims.VerifyExpiresAt(now.Unix(), true) {
		return 0, errors.New("token expired or exp missing")
	}
	// nbfは任意。あれば守る
	if !claims.VerifyNotBefore(now.Unix(), false) {
		return 0, errors.New("token not valid yet")
	}

	userID, err := parseUserID(claims["sub"])
	if err != nil || userID <= 0 {
		return 0, errors.New("invalid sub")
	}
	return userID, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func deny(c echo.Context, status int, code string, msg string) error {
	return c.JSON(status, errorResponse{Error: msg, Code: code})
}

// subをint64に変換する
func parseUserID(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		if t != float64(int64(t)) {
			return 0, errors.New("invalid sub")
		}
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, errors.New("invalid sub")
	}
}
