package common

// Built-in operator profiles. The portals change their markup without notice,
// so every field can be overridden from [operators.<code>] in urbix.toml.

const (
	xpathAcceptCookies = `(//button[contains(normalize-space(.), "Accept Cookies")])[1]`
	xpathLoginTrigger  = `(//button[contains(normalize-space(.), "Log In")] | //a[contains(normalize-space(.), "Log In")] | //*[contains(@class, "mui-10pnwxb")])[1]`
	xpathSendOTP       = `(//button[contains(normalize-space(.), "Send OTP")] | //button[contains(normalize-space(.), "Get OTP")] | //*[contains(@class, "mui-1twuwjc")])[1]`
	xpathOTPError      = `(//*[not(self::script) and not(self::style)][contains(translate(text(), "EROINVALDWG", "eroinvaldwg"), "error") or contains(translate(text(), "EROINVALDWG", "eroinvaldwg"), "invalid") or contains(translate(text(), "EROINVALDWG", "eroinvaldwg"), "wrong")])[1]`
	xpathConfirmOTP    = `(//button[contains(normalize-space(.), "Confirm OTP") and not(@disabled)])[1]`
	xpathBalanceMarker = `(//*[contains(normalize-space(text()), "Balance")])[1]`
	xpathBalanceTaka   = `(//span[contains(@class, "MuiTypography-kohinoorBangla") and contains(., "৳")]/..)[1]`
)

// DefaultOperators returns the built-in profiles for the five supported operators
func DefaultOperators() map[string]OperatorConfig {
	base := OperatorConfig{
		ConsentButton:   xpathAcceptCookies,
		LoginTrigger:    xpathLoginTrigger,
		PhoneInput:      `input[type="tel"]`,
		SendOTPButton:   xpathSendOTP,
		OTPRequestError: xpathOTPError,
		OTPInput:        `#otp-0`,
		OTPBoxes:        `input[id^="otp-"]`,
		ConfirmButton:   xpathConfirmOTP,
		ConfirmText:     "Confirm",
		DashboardMarker: xpathBalanceMarker,
		BalancePrimary:  `p.MuiTypography-root.MuiTypography-body1.mui-v247a6`,
		BalanceFallback: xpathBalanceTaka,
	}

	profile := func(name, url string) OperatorConfig {
		p := base
		p.Name = name
		p.LoginURL = url
		return p
	}

	robi := profile("Robi", "https://www.robi.com.bd/en/personal/my-robi")
	robi.PhoneInput = `input[name="robiNumber"]`

	return map[string]OperatorConfig{
		"gp":       profile("Grameenphone", "https://www.grameenphone.com/personal/login"),
		"robi":     robi,
		"airtel":   profile("Airtel", "https://www.airtel.bd/en/login"),
		"bl":       profile("Banglalink", "https://www.banglalink.net/en/login"),
		"teletalk": profile("Teletalk", "https://www.teletalk.com.bd/login"),
	}
}

// mergeOperators overlays non-empty fields from overrides onto defaults.
// Operators that only exist in overrides are taken as-is.
func mergeOperators(defaults, overrides map[string]OperatorConfig) map[string]OperatorConfig {
	merged := make(map[string]OperatorConfig, len(defaults))
	for code, p := range defaults {
		merged[code] = p
	}

	for code, o := range overrides {
		p, ok := merged[code]
		if !ok {
			merged[code] = o
			continue
		}
		overlay(&p.Name, o.Name)
		overlay(&p.LoginURL, o.LoginURL)
		overlay(&p.ConsentButton, o.ConsentButton)
		overlay(&p.LoginTrigger, o.LoginTrigger)
		overlay(&p.PhoneInput, o.PhoneInput)
		overlay(&p.SendOTPButton, o.SendOTPButton)
		overlay(&p.OTPRequestError, o.OTPRequestError)
		overlay(&p.OTPInput, o.OTPInput)
		overlay(&p.OTPBoxes, o.OTPBoxes)
		overlay(&p.ConfirmButton, o.ConfirmButton)
		overlay(&p.ConfirmText, o.ConfirmText)
		overlay(&p.DashboardMarker, o.DashboardMarker)
		overlay(&p.BalancePrimary, o.BalancePrimary)
		overlay(&p.BalanceFallback, o.BalanceFallback)
		merged[code] = p
	}

	return merged
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
