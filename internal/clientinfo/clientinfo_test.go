package clientinfo

import "testing"

func TestParseUserAgentBrowser(t *testing.T) {
	agent := ParseUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	if agent.IsBot || agent.IsSuspicious {
		t.Fatalf("expected a regular browser, got %+v", agent)
	}
	if agent.Browser != "Chrome" || agent.OS != "Windows" || agent.Device != "desktop" {
		t.Fatalf("unexpected classification %+v", agent)
	}
}

func TestParseUserAgentBots(t *testing.T) {
	for _, ua := range []string{"curl/8.4.0", "python-requests/2.31", "Googlebot/2.1 (+http://www.google.com/bot.html)"} {
		if !ParseUserAgent(ua).IsBot {
			t.Fatalf("expected %q to be a bot", ua)
		}
	}
}

func TestParseUserAgentSuspicious(t *testing.T) {
	for _, ua := range []string{"", "x", "sqlmap/1.7 (https://sqlmap.org)", "Mozilla/5.0 ${jndi:ldap://x}"} {
		if !ParseUserAgent(ua).IsSuspicious {
			t.Fatalf("expected %q to be suspicious", ua)
		}
	}
}

func TestNetworkLocator(t *testing.T) {
	locator := NetworkLocator{}

	public := locator.Locate("203.0.113.9")
	if public.Scope != ScopePublic || public.NetworkPrefix != "203.0.113.0/24" {
		t.Fatalf("unexpected public location %+v", public)
	}
	if got := locator.Locate("10.1.2.3").Scope; got != ScopePrivate {
		t.Fatalf("expected private scope, got %s", got)
	}
	if got := locator.Locate("::1").Scope; got != ScopeLoopback {
		t.Fatalf("expected loopback scope, got %s", got)
	}
	if got := locator.Locate("2001:db8::1").NetworkPrefix; got != "2001:db8::/64" {
		t.Fatalf("expected /64 prefix, got %s", got)
	}
	if got := locator.Locate("not-an-ip").Scope; got != ScopeInvalid {
		t.Fatalf("expected invalid scope, got %s", got)
	}
}
