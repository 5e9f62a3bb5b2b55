package obstruction

// Type classifies what is standing between the agent and the page content.
type Type string

const (
	TypeCloudflareTurnstile Type = "cloudflare_turnstile"
	TypeCloudflareJS        Type = "cloudflare_js"
	TypeCloudflareWAF       Type = "cloudflare_waf"
	TypeRecaptchaV3         Type = "recaptcha_v3"
	TypeRecaptchaV2         Type = "recaptcha_v2"
	TypeHCaptcha            Type = "hcaptcha"
	TypeImageCaptcha        Type = "image_captcha"
	TypeIPBanned            Type = "ip_banned"
	TypeRateLimited         Type = "rate_limited"
	TypeBotDetected         Type = "bot_detected"
	TypeGeoBlock            Type = "geo_block"
	TypeAgeBlock            Type = "age_block"
	TypeSSLError            Type = "ssl_error"
	TypeTimeout             Type = "timeout"
	TypePageCrash           Type = "page_crash"
	TypeSessionExpired      Type = "session_expired"
	TypeTwoFactorRequired   Type = "two_factor_required"
	TypeLoginWall           Type = "login_wall"
	TypePaywall             Type = "paywall"
	TypeCookieConsent       Type = "cookie_consent"
	TypeNewsletterPopup     Type = "newsletter_popup"
	TypePopupBlocker        Type = "popup_blocker"
	TypeModalOverlay        Type = "modal_overlay"
	TypeMaintenance         Type = "maintenance"
	TypeUnknown             Type = "unknown"
)

// indicatorEntry binds one obstruction type to the literal page strings that
// betray it. Matching is case-insensitive substring search.
type indicatorEntry struct {
	Type       Type
	Indicators []string
}

// indicatorTable is scanned top to bottom; the first entry with at least one
// matched indicator classifies the page. Hard challenges and blocks sit above
// the soft overlays so a Cloudflare interstitial that happens to mention
// cookies is never mistaken for a consent banner.
var indicatorTable = []indicatorEntry{
	{TypeCloudflareTurnstile, []string{
		"cf-turnstile",
		"challenges.cloudflare.com/turnstile",
		"turnstile.render",
	}},
	{TypeCloudflareJS, []string{
		"checking your browser before accessing",
		"just a moment...",
		"cf-browser-verification",
		"cf_chl_opt",
		"ddos protection by cloudflare",
	}},
	{TypeCloudflareWAF, []string{
		"attention required! | cloudflare",
		"cloudflare ray id",
		"sorry, you have been blocked",
		"cf-error-details",
	}},
	{TypeRecaptchaV3, []string{
		"recaptcha/api.js?render=",
		"grecaptcha.execute",
	}},
	{TypeRecaptchaV2, []string{
		"g-recaptcha",
		"i'm not a robot",
		"recaptcha/api2",
	}},
	{TypeHCaptcha, []string{
		"h-captcha",
		"hcaptcha.com",
	}},
	{TypeImageCaptcha, []string{
		"select all images",
		"select all squares",
		"type the characters you see",
		"enter the characters shown",
	}},
	{TypeIPBanned, []string{
		"your ip has been banned",
		"your ip address has been blocked",
		"access denied for your ip",
	}},
	{TypeRateLimited, []string{
		"too many requests",
		"rate limit exceeded",
		"you have been rate limited",
		"please slow down",
		"error 429",
	}},
	{TypeBotDetected, []string{
		"bot detected",
		"automated traffic",
		"unusual traffic from your",
		"pardon our interruption",
		"are you a human",
		"suspicious activity detected",
	}},
	{TypeGeoBlock, []string{
		"not available in your country",
		"not available in your region",
		"unavailable in your location",
		"vpn or proxy detected",
	}},
	{TypeAgeBlock, []string{
		"you must be 18",
		"age verification",
		"confirm your age",
		"are you over 18",
	}},
	{TypeSSLError, []string{
		"err_ssl",
		"ssl_error",
		"your connection is not private",
		"certificate has expired",
	}},
	{TypeTimeout, []string{
		"err_timed_out",
		"connection timed out",
		"took too long to respond",
		"gateway time-out",
	}},
	{TypePageCrash, []string{
		"aw, snap",
		"page crashed",
		"this page isn't working",
		"err_connection_reset",
	}},
	{TypeSessionExpired, []string{
		"session expired",
		"your session has expired",
		"session has timed out",
		"please log in again",
	}},
	{TypeTwoFactorRequired, []string{
		"two-factor authentication",
		"2-step verification",
		"enter the code we sent",
		"authenticator app",
	}},
	{TypeLoginWall, []string{
		"sign in to continue",
		"log in to continue",
		"login required",
		"please sign in",
		"create an account to continue",
	}},
	{TypePaywall, []string{
		"subscribe to continue reading",
		"subscription required",
		"free articles remaining",
		"become a member to read",
	}},
	{TypeCookieConsent, []string{
		"we use cookies",
		"this website uses cookies",
		"accept cookies",
		"cookie settings",
		"manage cookie preferences",
	}},
	{TypeNewsletterPopup, []string{
		"subscribe to our newsletter",
		"join our mailing list",
		"sign up for our newsletter",
		"get 10% off your first",
	}},
	{TypePopupBlocker, []string{
		"popup blocked",
		"pop-up blocked",
		"disable your popup blocker",
		"allow popups for this site",
	}},
	{TypeModalOverlay, []string{
		"modal-backdrop",
		"modal-overlay",
		"dialog-open",
		"overlay-active",
	}},
	{TypeMaintenance, []string{
		"under maintenance",
		"scheduled maintenance",
		"down for maintenance",
		"we'll be back soon",
	}},
}
