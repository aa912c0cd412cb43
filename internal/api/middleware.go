package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/annel0/voxelgen/internal/auth"
)

// authMiddleware проверяет JWT токен в заголовке Authorization.
// Если авторизация не настроена (секрет пуст), запрос пропускается.
func (rs *RestServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondError(c, http.StatusUnauthorized, codeUnauthorized, "Отсутствует токен авторизации")
			c.Abort()
			return
		}

		// Формат "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			respondError(c, http.StatusUnauthorized, codeUnauthorized, "Неверный формат токена")
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			respondError(c, http.StatusUnauthorized, codeUnauthorized, "Недействительный токен")
			c.Abort()
			return
		}

		c.Set("client_id", claims.ClientID)
		c.Set("is_admin", claims.IsAdmin)

		c.Next()
	}
}

// adminMiddleware пропускает только администраторов.
// Работает поверх authMiddleware, без настроенной авторизации не ограничивает.
func (rs *RestServer) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.Enabled() {
			c.Next()
			return
		}

		isAdmin, exists := c.Get("is_admin")
		if !exists {
			respondError(c, http.StatusInternalServerError, codeInternal, "Отсутствует информация о пользователе")
			c.Abort()
			return
		}

		if !isAdmin.(bool) {
			respondError(c, http.StatusForbidden, codeUnauthorized, "Недостаточно прав доступа")
			c.Abort()
			return
		}

		c.Next()
	}
}
