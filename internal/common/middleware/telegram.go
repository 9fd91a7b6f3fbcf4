package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"ipproof-backend/internal/common/errors"
	"ipproof-backend/internal/common/logger"
)

const (
	InitDataHeader  = "X-Telegram-Init-Data"
	telegramUserKey = "telegram_user"
)

// TelegramInitData validates Mini App init data when the header is present.
// Requests without the header pass through untouched; with an empty bot
// token the middleware is a no-op.
func TelegramInitData(botToken string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(InitDataHeader)
		if raw == "" || botToken == "" {
			c.Next()
			return
		}

		if err := initdata.Validate(raw, botToken, ttl); err != nil {
			logger.Debug().Err(err).Str("request_id", GetRequestID(c)).Msg("Init data rejected")
			_ = c.Error(errors.NewUnauthorizedError("invalid Telegram init data"))
			c.Abort()
			return
		}

		parsed, err := initdata.Parse(raw)
		if err != nil {
			_ = c.Error(errors.NewUnauthorizedError("malformed Telegram init data"))
			c.Abort()
			return
		}

		c.Set(telegramUserKey, parsed.User)
		c.Next()
	}
}

// TelegramUserID returns the id of the user authenticated by TelegramInitData.
func TelegramUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(telegramUserKey)
	if !ok {
		return 0, false
	}
	user, ok := v.(initdata.User)
	if !ok || user.ID == 0 {
		return 0, false
	}
	return user.ID, true
}
