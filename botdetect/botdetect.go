package botdetect

import "strings"

// Pattern catalogs checked against a lowercased user-agent string.
// Grouped by what kind of automated client they identify.
var (
	crawlerPatterns = []string{
		"googlebot",
		"bingbot",
		"slurp", // Yahoo
		"duckduckbot",
		"baiduspider",
		"yandexbot",
		"sogou",
		"exabot",
		"facebookexternalhit",
		"facebot",
		"ia_archiver", // Alexa/Wayback
		"applebot",
		"twitterbot",
		"linkedinbot",
		"whatsapp",
		"telegrambot",
		"discordbot",
		"slackbot",
	}

	seoToolPatterns = []string{
		"ahrefsbot",
		"semrushbot",
		"mj12bot",
		"dotbot",
		"rogerbot",
		"screaming frog",
		"seokicks",
		"sistrix",
		"blexbot",
		"serpstatbot",
	}

	automationPatterns = []string{
		"bot",
		"crawler",
		"spider",
		"scraper",
		"curl",
		"wget",
		"python-requests",
		"python-urllib",
		"go-http-client",
		"okhttp",
		"java/",
		"apache-httpclient",
		"axios",
		"node-fetch",
		"libwww-perl",
		"httpie",
		"aiohttp",
		"guzzlehttp",
	}

	monitorPatterns = []string{
		"pingdom",
		"uptimerobot",
		"statuscake",
		"site24x7",
		"newrelicpinger",
		"freshping",
		"checkly",
	}

	scannerPatterns = []string{
		"nmap",
		"masscan",
		"zgrab",
		"nuclei",
		"nikto",
		"sqlmap",
		"wpscan",
		"gobuster",
		"dirbuster",
	}

	headlessPatterns = []string{
		"headlesschrome",
		"phantomjs",
		"slimerjs",
		"selenium",
		"webdriver",
		"puppeteer",
		"playwright",
		"electron",
	}

	genericPatterns = []string{
		"preview",
		"validator",
		"scanner",
		"monitor",
		"fetch",
		"archive",
	}
)

// cloudPrefixes are address prefixes of major cloud/hosting providers and
// search-engine fetchers. Real browsers rarely originate from these ranges.
var cloudPrefixes = []string{
	"66.249.",  // Google crawl
	"64.233.",  // Google
	"72.14.",   // Google
	"203.208.", // Google (Asia)
	"3.",       // AWS
	"13.",      // AWS
	"18.",      // AWS
	"52.",      // AWS
	"54.",      // AWS
	"34.",      // GCP
	"35.",      // GCP
	"104.154.", // GCP
	"130.211.", // GCP
	"20.",      // Azure
	"40.",      // Azure
	"104.40.",  // Azure
	"137.117.", // Azure
	"159.89.",  // DigitalOcean
	"167.99.",  // DigitalOcean
	"138.68.",  // DigitalOcean
	"46.101.",  // DigitalOcean
	"51.",      // OVH
	"135.181.", // Hetzner
	"95.216.",  // Hetzner
	"65.21.",   // Hetzner
}

const (
	minUserAgentLen = 10
	maxUserAgentLen = 500
)

// IsBot reports whether the request looks automated. Rules are applied in
// order and short-circuit on the first match: empty user-agent, catalog
// pattern match, implausible user-agent length, then known cloud/hosting
// address prefix. Pure function, safe for concurrent use.
func IsBot(userAgent, address string) bool {
	if userAgent == "" {
		return true
	}

	ua := strings.ToLower(userAgent)
	for _, catalog := range [][]string{
		crawlerPatterns,
		seoToolPatterns,
		automationPatterns,
		monitorPatterns,
		scannerPatterns,
		headlessPatterns,
		genericPatterns,
	} {
		for _, p := range catalog {
			if strings.Contains(ua, p) {
				return true
			}
		}
	}

	if len(userAgent) < minUserAgentLen || len(userAgent) > maxUserAgentLen {
		return true
	}

	for _, prefix := range cloudPrefixes {
		if strings.HasPrefix(address, prefix) {
			return true
		}
	}

	return false
}
