package service

import (
	"fmt"
	"html"
	"strings"
	"time"
)

func verificationNotification(email string, link string) Notification {
	return Notification{
		To:      email,
		Subject: "Verify your email",
		HTML:    fmt.Sprintf("<p>Click to verify your email:</p><p><a href=\"%s\">Verify Email</a></p>", html.EscapeString(link)),
		Text:    fmt.Sprintf("Verify your email: %s", link),
	}
}

func suspendedNotification(email string, reason string, expiresAt *time.Time) Notification {
	until := "until further notice"
	if expiresAt != nil {
		until = "until " + expiresAt.UTC().Format(time.RFC1123)
	}
	text := fmt.Sprintf("Your account has been suspended %s. Reason: %s", until, reason)
	return Notification{To: email, Subject: "Your account has been suspended", HTML: paragraph(text), Text: text}
}

func unsuspendedNotification(email string) Notification {
	text := "Your account suspension has been lifted. You can sign in again."
	return Notification{To: email, Subject: "Your account has been reinstated", HTML: paragraph(text), Text: text}
}

func bannedNotification(email string, reason string) Notification {
	text := fmt.Sprintf("Your account has been banned. Reason: %s", reason)
	return Notification{To: email, Subject: "Your account has been banned", HTML: paragraph(text), Text: text}
}

func unbannedNotification(email string) Notification {
	text := "Your account ban has been lifted. You can sign in again."
	return Notification{To: email, Subject: "Your account has been unbanned", HTML: paragraph(text), Text: text}
}

func twoFactorDisabledNotification(email string, ip string) Notification {
	text := "Two-factor authentication was disabled on your account."
	if strings.TrimSpace(ip) != "" {
		text += " Request origin: " + ip + "."
	}
	text += " If this was not you, contact an administrator immediately."
	return Notification{To: email, Subject: "Two-factor authentication disabled", HTML: paragraph(text), Text: text}
}

func paragraph(text string) string {
	return "<p>" + html.EscapeString(text) + "</p>"
}
