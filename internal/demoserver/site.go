package demoserver

// pagePaths is the synthetic site tree every accessed host exposes. Query
// strings, fragments and the off-site link are there on purpose so crawl
// filtering has something to strip.
var pagePaths = []string{
	"/login",
	"/search?q=test",
	"/about#team",
	"/admin",
	"/upload",
	"/contact?ref=footer",
	"/profile",
	"/login",
}

const externalLink = "https://cdn.external.test/lib.js"

func siteTree(root string) []string {
	out := make([]string, 0, len(pagePaths)+1)
	for _, p := range pagePaths {
		out = append(out, root+p)
	}
	return append(out, externalLink)
}

// catalog lists the findings an active scan of root produces. The set
// covers every category of the alert classifier plus one that falls
// through to "other".
func catalog(root string) []Alert {
	return []Alert{
		{
			Alert:       "Cross Site Scripting (Reflected)",
			Risk:        "High",
			Confidence:  "Medium",
			URL:         root + "/search",
			Param:       "q",
			Evidence:    "<script>alert(1);</script>",
			Description: "Cross-site Scripting (XSS) is an attack technique that involves echoing attacker-supplied code into a user's browser instance.",
			Solution:    "Validate all input and encode output.",
			CWEID:       "79",
			PluginID:    "40012",
		},
		{
			Alert:       "SQL Injection",
			Risk:        "High",
			Confidence:  "Low",
			URL:         root + "/login",
			Param:       "username",
			Evidence:    "' OR '1'='1",
			Description: "SQL injection may be possible.",
			Solution:    "Use prepared statements.",
			CWEID:       "89",
			PluginID:    "40018",
		},
		{
			Alert:       "Absence of Anti-CSRF Tokens",
			Risk:        "Medium",
			Confidence:  "Low",
			URL:         root + "/login",
			Evidence:    "<form action=\"/login\" method=\"POST\">",
			Description: "No Anti-CSRF tokens were found in a HTML submission form.",
			Solution:    "Use a vetted library or framework that prevents CSRF.",
			CWEID:       "352",
			PluginID:    "10202",
		},
		{
			Alert:       "Missing Anti-clickjacking Header",
			Risk:        "Medium",
			Confidence:  "Medium",
			URL:         root + "/",
			Param:       "x-frame-options",
			Description: "The response does not protect against ClickJacking attacks.",
			Solution:    "Set Content-Security-Policy frame-ancestors or X-Frame-Options.",
			CWEID:       "1021",
			PluginID:    "10020",
		},
		{
			Alert:       "Strict-Transport-Security Header Not Set",
			Risk:        "Low",
			Confidence:  "High",
			URL:         root + "/admin",
			Description: "HTTP Strict Transport Security is not enforced.",
			Solution:    "Enable HSTS on the web server.",
			CWEID:       "319",
			PluginID:    "10035",
		},
		{
			Alert:       "Cookie No HttpOnly Flag",
			Risk:        "Low",
			Confidence:  "Medium",
			URL:         root + "/profile",
			Param:       "session",
			Evidence:    "Set-Cookie: session",
			Description: "A cookie has been set without the HttpOnly flag.",
			Solution:    "Ensure that the HttpOnly flag is set for all cookies.",
			CWEID:       "1004",
			PluginID:    "10010",
		},
		{
			Alert:       "Timestamp Disclosure - Unix",
			Risk:        "Informational",
			Confidence:  "Low",
			URL:         root + "/about",
			Evidence:    "1700000000",
			Description: "A timestamp was disclosed by the application.",
			CWEID:       "200",
			PluginID:    "10096",
		},
	}
}
