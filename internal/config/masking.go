package config

import "strings"

// maskSecret маскирует секрет, оставляя только первые 4 и последние 4 символа
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 8 {
		return "***"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// MaskedTelegramToken returns the alert bot token safe for logs: the bot id
// stays visible, the secret part is masked.
func (c *Config) MaskedTelegramToken() string {
	token := c.Alerts.Telegram.Token
	botID, secret, ok := strings.Cut(token, ":")
	if !ok {
		return maskSecret(token)
	}
	return botID + ":" + maskSecret(secret)
}
