package httputil

import "github.com/gin-gonic/gin"

// RespondError отправляет сообщение об ошибке в едином формате и прекращает обработку запроса.
// Используем AbortWithStatusJSON, чтобы последующие обработчики не выполнялись, даже если забыли вернуть управление.
func RespondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// RespondErrorWith добавляет к ошибке дополнительные поля ответа.
func RespondErrorWith(c *gin.Context, status int, msg string, fields gin.H) {
	body := gin.H{"error": msg}
	for k, v := range fields {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}
