package clientinfo

import "strings"

// Agent is what can be read from a User-Agent header without a device
// database.
type Agent struct {
	Browser      string `json:"browser"`
	OS           string `json:"os"`
	Device       string `json:"device"`
	IsBot        bool   `json:"isBot"`
	IsSuspicious bool   `json:"isSuspicious"`
}

var botMarkers = []string{
	"bot", "crawler", "spider", "scraper", "slurp",
	"curl/", "wget/", "python-requests", "python-urllib", "aiohttp",
	"go-http-client", "okhttp", "java/", "libwww-perl", "httpclient",
	"postmanruntime", "insomnia", "headlesschrome", "phantomjs",
}

var attackToolMarkers = []string{
	"sqlmap", "nikto", "nmap", "masscan", "zgrab", "nuclei", "dirbuster",
	"gobuster", "hydra", "wpscan", "acunetix", "burp",
}

// ParseUserAgent classifies a raw User-Agent string.
func ParseUserAgent(raw string) Agent {
	ua := strings.ToLower(strings.TrimSpace(raw))
	agent := Agent{
		Browser: detectBrowser(ua),
		OS:      detectOS(ua),
		Device:  detectDevice(ua),
	}
	agent.IsBot = containsAny(ua, botMarkers)
	agent.IsSuspicious = isSuspicious(ua)
	if agent.IsBot {
		agent.Device = "bot"
	}
	return agent
}

func isSuspicious(ua string) bool {
	if len(ua) < 10 {
		return true
	}
	if containsAny(ua, attackToolMarkers) {
		return true
	}
	return strings.ContainsAny(ua, "<>{}") || strings.Contains(ua, "${")
}

func detectBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "edg/"):
		return "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "firefox/"):
		return "Firefox"
	case strings.Contains(ua, "chrome/") || strings.Contains(ua, "crios/"):
		return "Chrome"
	case strings.Contains(ua, "safari/"):
		return "Safari"
	}
	return "Unknown"
}

func detectOS(ua string) string {
	switch {
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		return "iOS"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh"):
		return "macOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	}
	return "Unknown"
}

func detectDevice(ua string) string {
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		return "mobile"
	}
	return "desktop"
}

func containsAny(value string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(value, marker) {
			return true
		}
	}
	return false
}
